package summarize

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthbench/healthbench/internal/domain/documents"
	"github.com/healthbench/healthbench/internal/platform/openai"
)

// ErrTextTooShort is returned when the text is under the minimum length
// for a meaningful summary.
var ErrTextTooShort = errors.New("summarize: text must be at least 10 characters long")

const minTextLength = 10

// CompletionClient generates summaries. *openai.Client and
// *openai.CompletionCache satisfy it.
type CompletionClient interface {
	Complete(ctx context.Context, req openai.CompletionRequest) (*openai.Completion, error)
	DefaultModel() string
}

// DocumentSource is the slice of the documents service summarization needs.
type DocumentSource interface {
	Get(ctx context.Context, id uuid.UUID) (*documents.Document, error)
}

// Service summarizes free text and documents. Document summaries are
// cached; a cached summary is served as long as it is newer than the
// document's last update.
type Service struct {
	repo      Repository
	docs      DocumentSource
	completer CompletionClient
	logger    zerolog.Logger
}

func NewService(repo Repository, docs DocumentSource, completer CompletionClient, logger zerolog.Logger) *Service {
	return &Service{repo: repo, docs: docs, completer: completer, logger: logger}
}

// SummarizeText generates a summary for raw note text.
func (s *Service) SummarizeText(ctx context.Context, text, model string) (*Result, error) {
	text = strings.TrimSpace(text)
	if len(text) < minTextLength {
		return nil, ErrTextTooShort
	}

	start := time.Now()
	completion, err := s.completer.Complete(ctx, openai.CompletionRequest{
		Model:       model,
		System:      summarySystemPrompt,
		Prompt:      buildSummaryPrompt(text),
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("text_length", len(text)).
		Int("total_tokens", completion.Usage.TotalTokens).
		Str("model", completion.Model).
		Msg("note summarized")

	return &Result{
		Summary:          strings.TrimSpace(completion.Text),
		ModelUsed:        completion.Model,
		TokenUsage:       completion.Usage,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}, nil
}

// SummarizeDocument summarizes a stored document. The cached summary is
// served when it is newer than the document's updated_at and force is
// false; otherwise a fresh summary is generated and upserted.
func (s *Service) SummarizeDocument(ctx context.Context, documentID uuid.UUID, model string, force bool) (*Result, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if !force {
		cached, err := s.repo.GetByDocument(ctx, documentID)
		switch {
		case err == nil && cached.UpdatedAt.After(doc.UpdatedAt):
			s.logger.Info().Str("document_id", documentID.String()).Msg("serving cached summary")
			return &Result{
				Summary:    cached.SummaryText,
				ModelUsed:  cached.ModelUsed,
				TokenUsage: cached.TokenUsage,
				FromCache:  true,
			}, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}

	result, err := s.SummarizeText(ctx, doc.Content, model)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		DocumentID:  documentID,
		SummaryText: result.Summary,
		ModelUsed:   result.ModelUsed,
		TokenUsage:  result.TokenUsage,
	}
	if err := s.repo.Upsert(ctx, summary); err != nil {
		// The summary itself is still good; a cache write failure only
		// costs the next caller a regeneration.
		s.logger.Error().Err(err).Str("document_id", documentID.String()).Msg("failed to cache summary")
	}
	return result, nil
}
