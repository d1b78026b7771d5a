package summarize

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthbench/healthbench/internal/platform/openai"
)

// Summary is a cached document summary. One summary per document; a
// regeneration overwrites the previous row.
type Summary struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	DocumentID  uuid.UUID         `db:"document_id" json:"document_id"`
	SummaryText string            `db:"summary_text" json:"summary_text"`
	ModelUsed   string            `db:"model_used" json:"model_used"`
	TokenUsage  openai.TokenUsage `db:"token_usage" json:"token_usage"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// Result is what callers of the summarization operations get back.
type Result struct {
	Summary          string            `json:"summary"`
	ModelUsed        string            `json:"model_used"`
	TokenUsage       openai.TokenUsage `json:"token_usage"`
	ProcessingTimeMS int64             `json:"processing_time_ms"`
	FromCache        bool              `json:"from_cache"`
}
