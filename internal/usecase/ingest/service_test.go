package ingest

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"tg-rag-bot/internal/domain"
)

type fakeSource struct {
	commit string
	files  map[string]string
	reads  int
}

func (f *fakeSource) SourceID() string { return "https://github.com/acme/docs" }

func (f *fakeSource) LatestCommit(context.Context) (string, error) { return f.commit, nil }

func (f *fakeSource) ListFiles(context.Context, string) ([]string, error) {
	var paths []string
	for path := range f.files {
		paths = append(paths, path)
	}
	return paths, nil
}

func (f *fakeSource) ReadFile(_ context.Context, _, path string) (string, error) {
	f.reads++
	return f.files[path], nil
}

type fakeSyncRepo struct {
	checkpoints map[string]string
}

func (f *fakeSyncRepo) SetDocSync(_ context.Context, sourceID, checkpoint string) error {
	f.checkpoints[sourceID] = checkpoint
	return nil
}

func (f *fakeSyncRepo) GetDocSync(_ context.Context, sourceID string) (string, bool, error) {
	cp, ok := f.checkpoints[sourceID]
	return cp, ok, nil
}

type fakeRetriever struct {
	namespaces []string
}

func (f *fakeRetriever) Upsert(_ context.Context, _, namespace string, _ map[string]string) error {
	f.namespaces = append(f.namespaces, namespace)
	return nil
}

func (f *fakeRetriever) Query(context.Context, string, string, int) ([]domain.ContextDoc, error) {
	return nil, nil
}

type identityTranslator struct{}

func (identityTranslator) ToCanonical(_ context.Context, text string) string { return text }

func TestSyncStoresChunksGlobally(t *testing.T) {
	source := &fakeSource{commit: "abc123", files: map[string]string{"readme.md": "short document"}}
	syncRepo := &fakeSyncRepo{checkpoints: map[string]string{}}
	retriever := &fakeRetriever{}
	svc := NewService(source, syncRepo, retriever, identityTranslator{}, NewChunker(300, 50), zerolog.Nop())

	if err := svc.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(retriever.namespaces) != 1 || retriever.namespaces[0] != domain.SubjectGlobal {
		t.Fatalf("документы должны попадать в глобальный namespace: %v", retriever.namespaces)
	}
	if syncRepo.checkpoints[source.SourceID()] != "abc123" {
		t.Fatal("маркер ревизии не сохранён")
	}
}

func TestSyncSkipsKnownRevision(t *testing.T) {
	source := &fakeSource{commit: "abc123", files: map[string]string{"readme.md": "short document"}}
	syncRepo := &fakeSyncRepo{checkpoints: map[string]string{source.SourceID(): "abc123"}}
	retriever := &fakeRetriever{}
	svc := NewService(source, syncRepo, retriever, identityTranslator{}, NewChunker(300, 50), zerolog.Nop())

	if err := svc.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if source.reads != 0 || len(retriever.namespaces) != 0 {
		t.Fatal("обработанная ревизия не должна перечитываться")
	}
}

func TestParseRepoURL(t *testing.T) {
	owner, repo, err := parseRepoURL("https://github.com/acme/docs.git")
	if err != nil {
		t.Fatal(err)
	}
	if owner != "acme" || repo != "docs" {
		t.Fatalf("получили %s/%s", owner, repo)
	}
	if _, _, err := parseRepoURL("https://example.com/acme/docs"); err == nil {
		t.Fatal("чужой хостинг должен давать ошибку")
	}
}
