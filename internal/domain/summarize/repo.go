package summarize

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a document has no cached summary.
var ErrNotFound = errors.New("summary not found")

// Repository stores cached summaries, one row per document.
type Repository interface {
	GetByDocument(ctx context.Context, documentID uuid.UUID) (*Summary, error)
	Upsert(ctx context.Context, s *Summary) error
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error
}
