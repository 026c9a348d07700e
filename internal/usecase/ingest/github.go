package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tg-rag-bot/internal/infra/metrics"
)

const githubAPI = "https://api.github.com"

// GitHubSource читает документы из GitHub-репозитория через REST API,
// без клонирования.
type GitHubSource struct {
	http    *http.Client
	owner   string
	repo    string
	token   string
	repoURL string
}

// NewGitHubSource создаёт источник документов. repoURL — обычная
// https-ссылка на репозиторий.
func NewGitHubSource(repoURL, token string, timeout time.Duration) (*GitHubSource, error) {
	owner, repo, err := parseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GitHubSource{
		http:    &http.Client{Timeout: timeout},
		owner:   owner,
		repo:    repo,
		token:   token,
		repoURL: repoURL,
	}, nil
}

func parseRepoURL(repoURL string) (owner, repo string, err error) {
	idx := strings.Index(repoURL, "github.com/")
	if idx == -1 {
		return "", "", fmt.Errorf("github: unsupported repo url %q", repoURL)
	}
	path := strings.TrimSuffix(repoURL[idx+len("github.com/"):], ".git")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("github: cannot parse owner/repo from %q", repoURL)
	}
	return parts[0], parts[1], nil
}

// SourceID возвращает устойчивый идентификатор источника для маркеров
// синхронизации.
func (s *GitHubSource) SourceID() string { return s.repoURL }

// LatestCommit возвращает SHA последнего коммита ветки по умолчанию.
func (s *GitHubSource) LatestCommit(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/commits?per_page=1", githubAPI, s.owner, s.repo)
	var commits []struct {
		SHA string `json:"sha"`
	}
	if err := s.get(ctx, endpoint, "latest_commit", &commits); err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("github: repository has no commits")
	}
	return commits[0].SHA, nil
}

// ListFiles возвращает пути документов (.md и .txt) в ревизии.
func (s *GitHubSource) ListFiles(ctx context.Context, ref string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", githubAPI, s.owner, s.repo, ref)
	var tree struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"tree"`
	}
	if err := s.get(ctx, endpoint, "list_tree", &tree); err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range tree.Tree {
		if entry.Type != "blob" {
			continue
		}
		if strings.HasSuffix(entry.Path, ".md") || strings.HasSuffix(entry.Path, ".txt") {
			paths = append(paths, entry.Path)
		}
	}
	return paths, nil
}

// ReadFile возвращает содержимое файла в ревизии.
func (s *GitHubSource) ReadFile(ctx context.Context, ref, path string) (string, error) {
	endpoint := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", s.owner, s.repo, ref, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("github: build request: %w", err)
	}
	s.authorize(req)
	start := time.Now()
	resp, err := s.http.Do(req)
	metrics.ObserveNetworkRequest("github", "read_file", s.repo, start, err)
	if err != nil {
		return "", fmt.Errorf("github: read %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("github: read %s: unexpected status %d", path, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("github: read %s: %w", path, err)
	}
	return string(data), nil
}

func (s *GitHubSource) get(ctx context.Context, endpoint, operation string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	s.authorize(req)
	start := time.Now()
	resp, err := s.http.Do(req)
	metrics.ObserveNetworkRequest("github", operation, s.repo, start, err)
	if err != nil {
		return fmt.Errorf("github: do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("github: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github: decode response: %w", err)
	}
	return nil
}

func (s *GitHubSource) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
