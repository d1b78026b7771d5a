package rag

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthbench/healthbench/internal/platform/openai"
)

// EmbeddingRecord maps to the document_embedding table. One row per chunk.
type EmbeddingRecord struct {
	ID         uuid.UUID `db:"id" json:"id"`
	DocumentID uuid.UUID `db:"document_id" json:"document_id"`
	ChunkIndex int       `db:"chunk_index" json:"chunk_index"`
	ChunkText  string    `db:"chunk_text" json:"chunk_text"`
	Vector     []float32 `db:"embedding" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ChunkEmbedding is one chunk ready to persist.
type ChunkEmbedding struct {
	Index  int
	Text   string
	Vector []float32
}

// SearchOptions narrows a similarity search. Nil MinSimilarity means no
// threshold; nil ExcludeDocumentID means search everything.
type SearchOptions struct {
	TopK              int
	MinSimilarity     *float64
	ExcludeDocumentID *uuid.UUID
}

// RetrievalResult is one chunk returned by similarity search. Similarity is
// cosine similarity in [-1, 1], higher is closer.
type RetrievalResult struct {
	EmbeddingRecord
	DocumentTitle string  `json:"document_title"`
	Similarity    float64 `json:"similarity"`
}

// AnswerResult is the response of a grounded question. Sources holds the
// retrieved chunks in the order they were numbered in the prompt; it is
// empty (not null) when nothing relevant was found.
type AnswerResult struct {
	Answer       string            `json:"answer"`
	Sources      []RetrievalResult `json:"sources"`
	Model        string            `json:"model"`
	Usage        openai.TokenUsage `json:"usage"`
	RetrievalMS  int64             `json:"retrieval_ms"`
	GenerationMS int64             `json:"generation_ms"`
	ElapsedMS    int64             `json:"elapsed_ms"`
}

// EmbedResult reports one document's embedding run.
type EmbedResult struct {
	DocumentID uuid.UUID `json:"document_id"`
	ChunkCount int       `json:"chunk_count"`
	Skipped    bool      `json:"skipped"`
	ElapsedMS  int64     `json:"elapsed_ms"`
}

// EmbedFailure records a document that could not be embedded during a bulk
// run.
type EmbedFailure struct {
	DocumentID uuid.UUID `json:"document_id"`
	Error      string    `json:"error"`
}

// EmbedAllResult aggregates a bulk embedding run. A failure on one document
// never aborts the rest.
type EmbedAllResult struct {
	Documents int            `json:"documents"`
	Embedded  int            `json:"embedded"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Failures  []EmbedFailure `json:"failures,omitempty"`
	ElapsedMS int64          `json:"elapsed_ms"`
}

// Stats describes the state of the vector store.
type Stats struct {
	Documents         int `json:"documents"`
	EmbeddedDocuments int `json:"embedded_documents"`
	Chunks            int `json:"chunks"`
	Dimension         int `json:"dimension"`
}
