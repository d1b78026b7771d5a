package documents

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("documents: not found")

type Repository interface {
	Create(ctx context.Context, d *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	Update(ctx context.Context, d *Document) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Document, int, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
	Count(ctx context.Context) (int, error)
}
