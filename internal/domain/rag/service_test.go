package rag

import (
	"context"
	"crypto/sha256"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthbench/healthbench/internal/domain/documents"
	"github.com/healthbench/healthbench/internal/platform/openai"
)

// memEmbeddingRepo is a brute-force in-memory vector store used in place of
// pgvector.
type memEmbeddingRepo struct {
	records map[uuid.UUID][]ChunkEmbedding
}

func newMemEmbeddingRepo() *memEmbeddingRepo {
	return &memEmbeddingRepo{records: make(map[uuid.UUID][]ChunkEmbedding)}
}

func (m *memEmbeddingRepo) Replace(ctx context.Context, docID uuid.UUID, chunks []ChunkEmbedding) error {
	m.records[docID] = append([]ChunkEmbedding(nil), chunks...)
	return nil
}

func (m *memEmbeddingRepo) DeleteByDocument(ctx context.Context, docID uuid.UUID) error {
	delete(m.records, docID)
	return nil
}

func (m *memEmbeddingRepo) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]RetrievalResult, error) {
	var results []RetrievalResult
	for docID, chunks := range m.records {
		if opts.ExcludeDocumentID != nil && docID == *opts.ExcludeDocumentID {
			continue
		}
		for _, c := range chunks {
			sim := cosine(vector, c.Vector)
			if opts.MinSimilarity != nil && sim < *opts.MinSimilarity {
				continue
			}
			results = append(results, RetrievalResult{
				EmbeddingRecord: EmbeddingRecord{
					DocumentID: docID,
					ChunkIndex: c.Index,
					ChunkText:  c.Text,
				},
				DocumentTitle: "doc-" + docID.String()[:8],
				Similarity:    sim,
			})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID.String() < results[j].DocumentID.String()
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
	topK := opts.TopK
	if topK <= 0 {
		topK = 3
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *memEmbeddingRepo) HasEmbeddings(ctx context.Context, docID uuid.UUID) (bool, error) {
	return len(m.records[docID]) > 0, nil
}

func (m *memEmbeddingRepo) CountChunks(ctx context.Context) (int, error) {
	total := 0
	for _, chunks := range m.records {
		total += len(chunks)
	}
	return total, nil
}

func (m *memEmbeddingRepo) CountDocuments(ctx context.Context) (int, error) {
	return len(m.records), nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// fakeEmbedder returns fixed vectors for known texts and a deterministic
// hash-derived vector otherwise. failRemaining injects transient failures.
type fakeEmbedder struct {
	mu            sync.Mutex
	vectors       map[string][]float32
	failRemaining int
	failWith      error
	calls         int
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failRemaining != 0 {
		if f.failRemaining > 0 {
			f.failRemaining--
		}
		return nil, f.failWith
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return hashVector(text), nil
}

func (f *fakeEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.EmbedOne(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func hashVector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, 4)
	for i := range v {
		v[i] = float32(sum[i])/255 + 0.01
	}
	return v
}

type fakeCompleter struct {
	text          string
	failRemaining int
	failWith      error
	calls         int
	lastPrompt    string
	lastSystem    string
}

func (f *fakeCompleter) Complete(ctx context.Context, req openai.CompletionRequest) (*openai.Completion, error) {
	f.calls++
	f.lastPrompt = req.Prompt
	f.lastSystem = req.System
	if f.failRemaining != 0 {
		if f.failRemaining > 0 {
			f.failRemaining--
		}
		return nil, f.failWith
	}
	return &openai.Completion{
		Text:  f.text,
		Model: "gpt-4o-mini",
		Usage: openai.TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}, nil
}

func (f *fakeCompleter) DefaultModel() string { return "gpt-4o-mini" }

type fakeDocSource struct {
	docs map[uuid.UUID]*documents.Document
}

func newFakeDocSource() *fakeDocSource {
	return &fakeDocSource{docs: make(map[uuid.UUID]*documents.Document)}
}

func (f *fakeDocSource) add(content string) uuid.UUID {
	id := uuid.New()
	f.docs[id] = &documents.Document{ID: id, Title: "Note", Content: content}
	return id
}

func (f *fakeDocSource) Get(ctx context.Context, id uuid.UUID) (*documents.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, documents.ErrNotFound
	}
	return d, nil
}

func (f *fakeDocSource) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id := range f.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (f *fakeDocSource) Count(ctx context.Context) (int, error) {
	return len(f.docs), nil
}

func newTestRAGService(repo EmbeddingRepository, docs DocumentSource, emb EmbeddingClient, comp CompletionClient) *Service {
	return NewService(repo, docs, emb, comp, Options{
		Chunk:     ChunkOptions{Size: 200, Overlap: 30},
		TopK:      3,
		Dimension: 4,
	}, zerolog.Nop())
}

func TestEmbedDocument(t *testing.T) {
	repo := newMemEmbeddingRepo()
	docs := newFakeDocSource()
	id := docs.add(strings.Repeat("The patient was seen in clinic today. ", 20))

	svc := newTestRAGService(repo, docs, &fakeEmbedder{}, &fakeCompleter{})
	result, err := svc.EmbedDocument(context.Background(), id, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped {
		t.Error("first run must not be skipped")
	}
	if result.ChunkCount < 2 {
		t.Errorf("expected multiple chunks, got %d", result.ChunkCount)
	}
	if stored := len(repo.records[id]); stored != result.ChunkCount {
		t.Errorf("expected %d stored chunks, got %d", result.ChunkCount, stored)
	}
}

func TestEmbedDocument_SkipThenForce(t *testing.T) {
	repo := newMemEmbeddingRepo()
	docs := newFakeDocSource()
	id := docs.add("Short clinical note.")

	svc := newTestRAGService(repo, docs, &fakeEmbedder{}, &fakeCompleter{})
	first, err := svc.EmbedDocument(context.Background(), id, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Skipped {
		t.Fatal("first run must embed")
	}

	second, err := svc.EmbedDocument(context.Background(), id, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Skipped {
		t.Error("second run without force must skip")
	}

	docs.docs[id].Content = "Updated clinical note with different content."
	third, err := svc.EmbedDocument(context.Background(), id, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.Skipped {
		t.Error("forced run must re-embed")
	}
	if repo.records[id][0].Text != "Updated clinical note with different content." {
		t.Errorf("old chunks survived forced re-embed: %q", repo.records[id][0].Text)
	}
}

func TestEmbedDocument_NotFound(t *testing.T) {
	svc := newTestRAGService(newMemEmbeddingRepo(), newFakeDocSource(), &fakeEmbedder{}, &fakeCompleter{})
	_, err := svc.EmbedDocument(context.Background(), uuid.New(), false)
	if err != documents.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEmbedAll_FailureIsolation(t *testing.T) {
	repo := newMemEmbeddingRepo()
	docs := newFakeDocSource()
	for i := 0; i < 3; i++ {
		docs.add("A perfectly ordinary note.")
	}

	// First embedding call fails with a fatal error, the rest succeed.
	emb := &fakeEmbedder{failRemaining: 1, failWith: &openai.APIError{Kind: openai.KindAuth, Message: "bad key"}}
	svc := newTestRAGService(repo, docs, emb, &fakeCompleter{})

	result, err := svc.EmbedAll(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Documents != 3 {
		t.Errorf("expected 3 documents, got %d", result.Documents)
	}
	if result.Failed != 1 {
		t.Errorf("expected 1 failure, got %d", result.Failed)
	}
	if result.Embedded != 2 {
		t.Errorf("expected 2 embedded, got %d", result.Embedded)
	}
	if len(result.Failures) != 1 {
		t.Errorf("expected 1 failure record, got %d", len(result.Failures))
	}
}

func TestAnswerQuestion(t *testing.T) {
	repo := newMemEmbeddingRepo()
	docs := newFakeDocSource()
	docID := uuid.New()

	repo.Replace(context.Background(), docID, []ChunkEmbedding{
		{Index: 0, Text: "Patient takes metformin 500mg twice daily.", Vector: []float32{1, 0, 0, 0}},
		{Index: 1, Text: "Blood pressure was 120/80 at last visit.", Vector: []float32{0, 1, 0, 0}},
	})

	emb := &fakeEmbedder{vectors: map[string][]float32{
		"What medications does the patient take?": {0.9, 0.1, 0, 0},
	}}
	comp := &fakeCompleter{text: "According to Source 1, the patient takes metformin."}
	svc := newTestRAGService(repo, docs, emb, comp)

	result, err := svc.AnswerQuestion(context.Background(), "What medications does the patient take?", AskOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Answer, "metformin") {
		t.Errorf("unexpected answer: %q", result.Answer)
	}
	if len(result.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(result.Sources))
	}
	if result.Sources[0].ChunkText != "Patient takes metformin 500mg twice daily." {
		t.Errorf("expected medication chunk first, got %q", result.Sources[0].ChunkText)
	}
	if result.Sources[0].Similarity < result.Sources[1].Similarity {
		t.Error("sources not ordered by descending similarity")
	}
	if !strings.Contains(comp.lastPrompt, "[Source 1]") {
		t.Error("prompt missing numbered source markers")
	}
	if !strings.Contains(comp.lastPrompt, "What medications does the patient take?") {
		t.Error("prompt missing the question")
	}
	if result.Usage.TotalTokens != 120 {
		t.Errorf("expected token usage to pass through, got %d", result.Usage.TotalTokens)
	}
}

func TestAnswerQuestion_Empty(t *testing.T) {
	svc := newTestRAGService(newMemEmbeddingRepo(), newFakeDocSource(), &fakeEmbedder{}, &fakeCompleter{})
	_, err := svc.AnswerQuestion(context.Background(), "   ", AskOptions{})
	if err != ErrEmptyQuestion {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
}

func TestAnswerQuestion_NoContext(t *testing.T) {
	comp := &fakeCompleter{text: "should never be called"}
	svc := newTestRAGService(newMemEmbeddingRepo(), newFakeDocSource(), &fakeEmbedder{}, comp)

	result, err := svc.AnswerQuestion(context.Background(), "Anything relevant?", AskOptions{})
	if err != nil {
		t.Fatalf("no-context is not an error, got: %v", err)
	}
	if result.Answer != noContextAnswer {
		t.Errorf("expected canned no-context answer, got %q", result.Answer)
	}
	if result.Sources == nil || len(result.Sources) != 0 {
		t.Errorf("expected empty (non-nil) sources, got %v", result.Sources)
	}
	if comp.calls != 0 {
		t.Error("completion must not run when nothing was retrieved")
	}
}

func TestAnswerQuestion_ThresholdFilter(t *testing.T) {
	repo := newMemEmbeddingRepo()
	docID := uuid.New()
	repo.Replace(context.Background(), docID, []ChunkEmbedding{
		{Index: 0, Text: "relevant", Vector: []float32{1, 0, 0, 0}},
		{Index: 1, Text: "irrelevant", Vector: []float32{0, 0, 0, 1}},
	})

	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0, 0, 0}}}
	svc := newTestRAGService(repo, newFakeDocSource(), emb, &fakeCompleter{text: "ok"})

	threshold := 0.5
	result, err := svc.AnswerQuestion(context.Background(), "q", AskOptions{MinSimilarity: &threshold})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Sources) != 1 {
		t.Fatalf("expected threshold to filter to 1 source, got %d", len(result.Sources))
	}
	if result.Sources[0].ChunkText != "relevant" {
		t.Errorf("wrong chunk survived threshold: %q", result.Sources[0].ChunkText)
	}
}

func TestAnswerQuestion_RetriesTransientErrors(t *testing.T) {
	repo := newMemEmbeddingRepo()
	docID := uuid.New()
	repo.Replace(context.Background(), docID, []ChunkEmbedding{
		{Index: 0, Text: "something", Vector: []float32{1, 0, 0, 0}},
	})

	emb := &fakeEmbedder{
		vectors:       map[string][]float32{"q": {1, 0, 0, 0}},
		failRemaining: 1,
		failWith:      &openai.APIError{Kind: openai.KindRateLimit, Message: "slow down"},
	}
	svc := newTestRAGService(repo, newFakeDocSource(), emb, &fakeCompleter{text: "ok"})

	result, err := svc.AnswerQuestion(context.Background(), "q", AskOptions{})
	if err != nil {
		t.Fatalf("expected retry to recover, got: %v", err)
	}
	if result.Answer != "ok" {
		t.Errorf("unexpected answer: %q", result.Answer)
	}
	if emb.calls != 2 {
		t.Errorf("expected 2 embedding attempts, got %d", emb.calls)
	}
}

func TestAnswerQuestion_FatalErrorNoRetry(t *testing.T) {
	emb := &fakeEmbedder{
		failRemaining: -1, // fail forever
		failWith:      &openai.APIError{Kind: openai.KindAuth, Message: "invalid key"},
	}
	svc := newTestRAGService(newMemEmbeddingRepo(), newFakeDocSource(), emb, &fakeCompleter{})

	_, err := svc.AnswerQuestion(context.Background(), "q", AskOptions{})
	if openai.KindOf(err) != openai.KindAuth {
		t.Fatalf("expected auth error to surface, got %v", err)
	}
	if emb.calls != 1 {
		t.Errorf("fatal errors must not be retried, got %d attempts", emb.calls)
	}
}

func TestAnswerQuestion_RetryBudgetExhausted(t *testing.T) {
	emb := &fakeEmbedder{
		failRemaining: -1,
		failWith:      &openai.APIError{Kind: openai.KindRateLimit, Message: "slow down"},
	}
	svc := newTestRAGService(newMemEmbeddingRepo(), newFakeDocSource(), emb, &fakeCompleter{})

	_, err := svc.AnswerQuestion(context.Background(), "q", AskOptions{})
	if openai.KindOf(err) != openai.KindRateLimit {
		t.Fatalf("expected rate limit error after budget exhausted, got %v", err)
	}
	if emb.calls != maxRetries+1 {
		t.Errorf("expected %d attempts, got %d", maxRetries+1, emb.calls)
	}
}

func TestAnswerQuestion_RoundTripSimilarity(t *testing.T) {
	repo := newMemEmbeddingRepo()
	docID := uuid.New()
	vec := hashVector("the exact same text")
	repo.Replace(context.Background(), docID, []ChunkEmbedding{
		{Index: 0, Text: "the exact same text", Vector: vec},
	})

	svc := newTestRAGService(repo, newFakeDocSource(), &fakeEmbedder{}, &fakeCompleter{text: "ok"})
	result, err := svc.AnswerQuestion(context.Background(), "the exact same text", AskOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(result.Sources))
	}
	if sim := result.Sources[0].Similarity; math.Abs(sim-1) > 1e-6 {
		t.Errorf("expected similarity ~1 for identical text, got %v", sim)
	}
}

func TestStats(t *testing.T) {
	repo := newMemEmbeddingRepo()
	docs := newFakeDocSource()
	id1 := docs.add("one")
	docs.add("two")
	repo.Replace(context.Background(), id1, []ChunkEmbedding{
		{Index: 0, Text: "one", Vector: []float32{1, 0, 0, 0}},
		{Index: 1, Text: "more", Vector: []float32{0, 1, 0, 0}},
	})

	svc := newTestRAGService(repo, docs, &fakeEmbedder{}, &fakeCompleter{})
	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Documents != 2 {
		t.Errorf("expected 2 documents, got %d", stats.Documents)
	}
	if stats.EmbeddedDocuments != 1 {
		t.Errorf("expected 1 embedded document, got %d", stats.EmbeddedDocuments)
	}
	if stats.Chunks != 2 {
		t.Errorf("expected 2 chunks, got %d", stats.Chunks)
	}
	if stats.Dimension != 4 {
		t.Errorf("expected dimension 4, got %d", stats.Dimension)
	}
}
