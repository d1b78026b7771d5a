package documents

import (
	"time"

	"github.com/google/uuid"
)

// Document maps to the document table. Content is the raw clinical text the
// retrieval and extraction pipelines run over.
type Document struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
