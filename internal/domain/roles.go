package domain

import "strings"

// Role описывает роль бота, от имени которой генерируется ответ.
type Role string

const (
	RoleTech     Role = "TECH"
	RoleFriend   Role = "FRIEND"
	RoleAdvisor  Role = "ADVISOR"
	RoleAgitator Role = "AGITATOR"
	RoleOperator Role = "OPERATOR"
)

// RoleRule связывает роль с ключевыми словами и температурой генерации.
type RoleRule struct {
	Role        Role
	Temperature float64
	Keywords    []string
}

// RoleTable — упорядоченный набор правил классификации.
// Порядок правил — контракт: побеждает первое совпадение,
// последняя роль без ключевых слов является ролью по умолчанию.
type RoleTable struct {
	rules []RoleRule
}

// DefaultRoleTable возвращает таблицу ролей с температурами по умолчанию.
func DefaultRoleTable() RoleTable {
	return RoleTable{rules: []RoleRule{
		{Role: RoleTech, Temperature: 0.1, Keywords: []string{"help", "error", "bug", "code", "technical"}},
		{Role: RoleFriend, Temperature: 0.9, Keywords: []string{"feel", "sad", "happy", "friend"}},
		{Role: RoleAdvisor, Temperature: 0.4, Keywords: []string{"advice", "suggest", "recommend", "should"}},
		{Role: RoleAgitator, Temperature: 0.5, Keywords: []string{"boring", "nothing", "quiet"}},
		{Role: RoleOperator, Temperature: 0.3},
	}}
}

// WithTemperature возвращает копию таблицы с переопределённой температурой роли.
func (t RoleTable) WithTemperature(role Role, temperature float64) RoleTable {
	rules := make([]RoleRule, len(t.rules))
	copy(rules, t.rules)
	for i := range rules {
		if rules[i].Role == role {
			rules[i].Temperature = temperature
		}
	}
	return RoleTable{rules: rules}
}

// Classify определяет роль по ключевым словам текста.
// Правила проверяются по порядку, побеждает первое совпадение.
func (t RoleTable) Classify(text string) RoleRule {
	lower := strings.ToLower(text)
	for _, rule := range t.rules {
		if len(rule.Keywords) == 0 {
			return rule
		}
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return rule
			}
		}
	}
	return t.rules[len(t.rules)-1]
}

// Roles возвращает имена всех ролей таблицы.
func (t RoleTable) Roles() []Role {
	roles := make([]Role, 0, len(t.rules))
	for _, rule := range t.rules {
		roles = append(roles, rule.Role)
	}
	return roles
}

// Temperature возвращает температуру роли либо 0.7, если роль неизвестна.
func (t RoleTable) Temperature(role Role) float64 {
	for _, rule := range t.rules {
		if rule.Role == role {
			return rule.Temperature
		}
	}
	return 0.7
}
