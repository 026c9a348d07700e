package ingest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"tg-rag-bot/internal/domain"
)

// DocSource абстрагирует репозиторий с документами.
type DocSource interface {
	SourceID() string
	LatestCommit(ctx context.Context) (string, error)
	ListFiles(ctx context.Context, ref string) ([]string, error)
	ReadFile(ctx context.Context, ref, path string) (string, error)
}

// Service синхронизирует документы источника с глобальным namespace
// векторного хранилища. Повторная синхронизация той же ревизии — no-op.
type Service struct {
	source    DocSource
	sync      domain.DocSyncRepo
	retriever domain.Retriever
	translate domain.Translator
	chunker   *Chunker
	log       zerolog.Logger
}

// NewService создаёт сервис синхронизации документов.
func NewService(source DocSource, syncRepo domain.DocSyncRepo, retriever domain.Retriever, translate domain.Translator, chunker *Chunker, log zerolog.Logger) *Service {
	return &Service{
		source:    source,
		sync:      syncRepo,
		retriever: retriever,
		translate: translate,
		chunker:   chunker,
		log:       log,
	}
}

// Sync подтягивает новую ревизию источника: каждый документ режется на
// фрагменты, переводится и складывается в namespace "0".
func (s *Service) Sync(ctx context.Context) error {
	latest, err := s.source.LatestCommit(ctx)
	if err != nil {
		return fmt.Errorf("ingest: latest commit: %w", err)
	}
	stored, ok, err := s.sync.GetDocSync(ctx, s.source.SourceID())
	if err != nil {
		return fmt.Errorf("ingest: load checkpoint: %w", err)
	}
	if ok && stored == latest {
		s.log.Debug().Str("commit", shortSHA(latest)).Msg("ingest: repository is up to date")
		return nil
	}

	paths, err := s.source.ListFiles(ctx, latest)
	if err != nil {
		return fmt.Errorf("ingest: list files: %w", err)
	}
	s.log.Info().Str("commit", shortSHA(latest)).Int("files", len(paths)).Msg("ingest: processing repository update")

	var storedChunks int
	for _, path := range paths {
		text, err := s.source.ReadFile(ctx, latest, path)
		if err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("ingest: read file failed, skip")
			continue
		}
		for _, chunk := range s.chunker.Split(text) {
			meta := map[string]string{"source": path}
			if err := s.retriever.Upsert(ctx, chunk, domain.SubjectGlobal, meta); err != nil {
				s.log.Warn().Err(err).Str("path", path).Msg("ingest: upsert chunk failed, skip")
				continue
			}
			storedChunks++
			// Переведённая копия — только если перевод что-то изменил.
			if translated := s.translate.ToCanonical(ctx, chunk); translated != chunk {
				meta["translated"] = "true"
				if err := s.retriever.Upsert(ctx, translated, domain.SubjectGlobal, meta); err != nil {
					s.log.Warn().Err(err).Str("path", path).Msg("ingest: upsert translation failed, skip")
					continue
				}
				storedChunks++
			}
		}
	}
	if err := s.sync.SetDocSync(ctx, s.source.SourceID(), latest); err != nil {
		return fmt.Errorf("ingest: save checkpoint: %w", err)
	}
	s.log.Info().Int("chunks", storedChunks).Msg("ingest: repository processed")
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
