package rag

import (
	"context"

	"github.com/google/uuid"
)

// EmbeddingRepository stores and searches chunk vectors.
type EmbeddingRepository interface {
	// Replace atomically swaps all embeddings of a document for the given
	// chunks. Readers never observe a partially embedded document.
	Replace(ctx context.Context, docID uuid.UUID, chunks []ChunkEmbedding) error
	// DeleteByDocument removes all embeddings of a document. Deleting a
	// document with no embeddings is not an error.
	DeleteByDocument(ctx context.Context, docID uuid.UUID) error
	// Search returns the closest chunks by cosine similarity, best first.
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]RetrievalResult, error)
	HasEmbeddings(ctx context.Context, docID uuid.UUID) (bool, error)
	CountChunks(ctx context.Context) (int, error)
	CountDocuments(ctx context.Context) (int, error)
}
