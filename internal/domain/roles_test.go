package domain

import "testing"

func TestClassifyFirstMatchWins(t *testing.T) {
	table := DefaultRoleTable()
	// "help" относится к TECH, хотя "feel" тоже встречается в тексте.
	rule := table.Classify("help me, I feel lost")
	if rule.Role != RoleTech {
		t.Fatalf("ожидали TECH, получили %s", rule.Role)
	}
}

func TestClassifyFriend(t *testing.T) {
	table := DefaultRoleTable()
	rule := table.Classify("I feel sad today")
	if rule.Role != RoleFriend {
		t.Fatalf("ожидали FRIEND, получили %s", rule.Role)
	}
	if rule.Temperature != 0.9 {
		t.Fatalf("ожидали температуру 0.9, получили %v", rule.Temperature)
	}
}

func TestClassifyDefaultOperator(t *testing.T) {
	table := DefaultRoleTable()
	rule := table.Classify("what time is it")
	if rule.Role != RoleOperator {
		t.Fatalf("ожидали OPERATOR по умолчанию, получили %s", rule.Role)
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	table := DefaultRoleTable()
	if rule := table.Classify("HELP! ERROR in my CODE"); rule.Role != RoleTech {
		t.Fatalf("ожидали TECH, получили %s", rule.Role)
	}
}

func TestWithTemperatureOverride(t *testing.T) {
	table := DefaultRoleTable().WithTemperature(RoleFriend, 0.5)
	if got := table.Temperature(RoleFriend); got != 0.5 {
		t.Fatalf("ожидали 0.5, получили %v", got)
	}
	// Исходная таблица не меняется.
	if got := DefaultRoleTable().Temperature(RoleFriend); got != 0.9 {
		t.Fatalf("ожидали 0.9, получили %v", got)
	}
}
