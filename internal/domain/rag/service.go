package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/healthbench/healthbench/internal/domain/documents"
	"github.com/healthbench/healthbench/internal/platform/openai"
)

// ErrEmptyQuestion is returned when a question is blank after trimming.
var ErrEmptyQuestion = errors.New("rag: question is empty")

const (
	maxRetries       = 2
	retryBackoffBase = 200 * time.Millisecond
	embedAllWorkers  = 4
)

// EmbeddingClient produces vectors for text. *openai.Client satisfies it.
type EmbeddingClient interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// CompletionClient generates grounded answers. *openai.Client and
// *openai.CompletionCache satisfy it.
type CompletionClient interface {
	Complete(ctx context.Context, req openai.CompletionRequest) (*openai.Completion, error)
	DefaultModel() string
}

// DocumentSource is the slice of the documents service the pipeline needs.
type DocumentSource interface {
	Get(ctx context.Context, id uuid.UUID) (*documents.Document, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
	Count(ctx context.Context) (int, error)
}

// Options fixes the pipeline parameters at construction time.
type Options struct {
	Chunk     ChunkOptions
	TopK      int
	Dimension int
}

// Service runs the retrieval pipeline: chunk, embed, store, search, answer.
type Service struct {
	repo      EmbeddingRepository
	docs      DocumentSource
	embedder  EmbeddingClient
	completer CompletionClient
	opts      Options
	logger    zerolog.Logger
}

func NewService(repo EmbeddingRepository, docs DocumentSource, embedder EmbeddingClient, completer CompletionClient, opts Options, logger zerolog.Logger) *Service {
	if opts.Chunk.Size == 0 {
		opts.Chunk = DefaultChunkOptions()
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &Service{
		repo:      repo,
		docs:      docs,
		embedder:  embedder,
		completer: completer,
		opts:      opts,
		logger:    logger,
	}
}

// EmbedDocument chunks and embeds one document, replacing any existing
// vectors atomically. When the document is already embedded and force is
// false, the run is skipped.
func (s *Service) EmbedDocument(ctx context.Context, docID uuid.UUID, force bool) (*EmbedResult, error) {
	start := time.Now()

	doc, err := s.docs.Get(ctx, docID)
	if err != nil {
		return nil, err
	}

	if !force {
		has, err := s.repo.HasEmbeddings(ctx, docID)
		if err != nil {
			return nil, err
		}
		if has {
			s.logger.Debug().Str("document_id", docID.String()).Msg("document already embedded, skipping")
			return &EmbedResult{DocumentID: docID, Skipped: true, ElapsedMS: time.Since(start).Milliseconds()}, nil
		}
	}

	texts, err := ChunkDocument(doc.Content, s.opts.Chunk)
	if err != nil {
		return nil, err
	}

	var vectors [][]float32
	err = s.withRetry(ctx, "embed document", func(ctx context.Context) error {
		var embedErr error
		vectors, embedErr = s.embedder.EmbedMany(ctx, texts)
		return embedErr
	})
	if err != nil {
		return nil, err
	}

	chunks := make([]ChunkEmbedding, len(texts))
	for i, text := range texts {
		chunks[i] = ChunkEmbedding{Index: i, Text: text, Vector: vectors[i]}
	}
	if err := s.repo.Replace(ctx, docID, chunks); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("document_id", docID.String()).
		Int("chunks", len(chunks)).
		Dur("elapsed", time.Since(start)).
		Msg("document embedded")

	return &EmbedResult{
		DocumentID: docID,
		ChunkCount: len(chunks),
		ElapsedMS:  time.Since(start).Milliseconds(),
	}, nil
}

// EmbedAll embeds every document, a bounded number at a time. Individual
// failures are collected, not propagated.
func (s *Service) EmbedAll(ctx context.Context, force bool) (*EmbedAllResult, error) {
	start := time.Now()

	ids, err := s.docs.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	result := &EmbedAllResult{Documents: len(ids)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedAllWorkers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			res, err := s.EmbedDocument(gctx, id, force)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				result.Failures = append(result.Failures, EmbedFailure{DocumentID: id, Error: err.Error()})
				s.logger.Error().Err(err).Str("document_id", id.String()).Msg("embedding failed")
			case res.Skipped:
				result.Skipped++
			default:
				result.Embedded++
			}
			return nil
		})
	}
	_ = g.Wait()

	result.ElapsedMS = time.Since(start).Milliseconds()
	s.logger.Info().
		Int("documents", result.Documents).
		Int("embedded", result.Embedded).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("bulk embedding finished")
	return result, nil
}

// AskOptions tunes a single question.
type AskOptions struct {
	TopK          int
	MinSimilarity *float64
	Model         string
}

// AnswerQuestion embeds the question, retrieves the closest chunks, and
// generates a grounded answer. Finding nothing relevant is not an error:
// the caller gets a canned answer and an empty source list.
func (s *Service) AnswerQuestion(ctx context.Context, question string, opts AskOptions) (*AnswerResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = s.opts.TopK
	}

	start := time.Now()

	var vector []float32
	err := s.withRetry(ctx, "embed question", func(ctx context.Context) error {
		var embedErr error
		vector, embedErr = s.embedder.EmbedOne(ctx, question)
		return embedErr
	})
	if err != nil {
		return nil, err
	}

	results, err := s.repo.Search(ctx, vector, SearchOptions{TopK: topK, MinSimilarity: opts.MinSimilarity})
	if err != nil {
		return nil, err
	}
	retrievalMS := time.Since(start).Milliseconds()

	if len(results) == 0 {
		s.logger.Warn().Str("question", truncate(question, 100)).Msg("no relevant chunks found")
		return &AnswerResult{
			Answer:      noContextAnswer,
			Sources:     []RetrievalResult{},
			Model:       opts.Model,
			RetrievalMS: retrievalMS,
			ElapsedMS:   time.Since(start).Milliseconds(),
		}, nil
	}

	genStart := time.Now()
	var completion *openai.Completion
	err = s.withRetry(ctx, "generate answer", func(ctx context.Context) error {
		var compErr error
		completion, compErr = s.completer.Complete(ctx, openai.CompletionRequest{
			Model:       opts.Model,
			System:      answerSystemPrompt,
			Prompt:      buildAnswerPrompt(question, results),
			Temperature: 0,
		})
		return compErr
	})
	if err != nil {
		return nil, err
	}

	return &AnswerResult{
		Answer:       strings.TrimSpace(completion.Text),
		Sources:      results,
		Model:        completion.Model,
		Usage:        completion.Usage,
		RetrievalMS:  retrievalMS,
		GenerationMS: time.Since(genStart).Milliseconds(),
		ElapsedMS:    time.Since(start).Milliseconds(),
	}, nil
}

// Stats reports corpus and vector store counts.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	docs, err := s.docs.Count(ctx)
	if err != nil {
		return nil, err
	}
	embedded, err := s.repo.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := s.repo.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Documents:         docs,
		EmbeddedDocuments: embedded,
		Chunks:            chunks,
		Dimension:         s.opts.Dimension,
	}, nil
}

// withRetry runs fn with a small retry budget for transient provider
// failures. Fatal provider errors pass through on the first attempt.
func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retryBackoffBase
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries || !openai.Retryable(err) {
			return err
		}
		s.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("transient provider error, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
