package documents

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EmbeddingInvalidator removes derived vectors for a document. Wired in
// after construction so the documents and retrieval services can be built
// independently.
type EmbeddingInvalidator interface {
	DeleteByDocument(ctx context.Context, docID uuid.UUID) error
}

type Service struct {
	repo        Repository
	invalidator EmbeddingInvalidator
	logger      zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SetEmbeddingInvalidator wires the embedding store so content updates drop
// stale chunks.
func (s *Service) SetEmbeddingInvalidator(inv EmbeddingInvalidator) {
	s.invalidator = inv
}

func (s *Service) Create(ctx context.Context, d *Document) error {
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return fmt.Errorf("title is required")
	}
	if strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("content is required")
	}
	return s.repo.Create(ctx, d)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.repo.GetByID(ctx, id)
}

// Update persists changes to a document. When the content changed, derived
// embeddings are dropped so retrieval never serves chunks of an old
// revision.
func (s *Service) Update(ctx context.Context, d *Document) error {
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return fmt.Errorf("title is required")
	}
	if strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("content is required")
	}

	existing, err := s.repo.GetByID(ctx, d.ID)
	if err != nil {
		return err
	}
	contentChanged := existing.Content != d.Content

	if err := s.repo.Update(ctx, d); err != nil {
		return err
	}

	if contentChanged && s.invalidator != nil {
		if err := s.invalidator.DeleteByDocument(ctx, d.ID); err != nil {
			return fmt.Errorf("invalidate embeddings for document %s: %w", d.ID, err)
		}
		s.logger.Info().Str("document_id", d.ID.String()).Msg("embeddings invalidated after content update")
	}
	return nil
}

// Delete removes a document. Embedding and summary rows go with it via
// foreign key cascade.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Document, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ListIDs(ctx)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
