package summarize

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthbench/healthbench/internal/platform/openai"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const summaryCols = `id, document_id, summary_text, model_used, token_usage, created_at, updated_at`

func scanSummary(row pgx.Row) (*Summary, error) {
	var s Summary
	var usage []byte
	err := row.Scan(&s.ID, &s.DocumentID, &s.SummaryText, &s.ModelUsed, &usage, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(usage) > 0 {
		// A summary row with unreadable usage is still a usable summary.
		var tu openai.TokenUsage
		if jsonErr := json.Unmarshal(usage, &tu); jsonErr == nil {
			s.TokenUsage = tu
		}
	}
	return &s, nil
}

func (r *repoPG) GetByDocument(ctx context.Context, documentID uuid.UUID) (*Summary, error) {
	return scanSummary(r.pool.QueryRow(ctx,
		`SELECT `+summaryCols+` FROM document_summary WHERE document_id = $1`, documentID))
}

func (r *repoPG) Upsert(ctx context.Context, s *Summary) error {
	usage, err := json.Marshal(s.TokenUsage)
	if err != nil {
		return err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO document_summary (id, document_id, summary_text, model_used, token_usage)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id) DO UPDATE SET
			summary_text = EXCLUDED.summary_text,
			model_used = EXCLUDED.model_used,
			token_usage = EXCLUDED.token_usage,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		s.ID, s.DocumentID, s.SummaryText, s.ModelUsed, usage).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (r *repoPG) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM document_summary WHERE document_id = $1`, documentID)
	return err
}
