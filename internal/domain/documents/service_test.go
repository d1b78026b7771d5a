package documents

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockRepo struct {
	docs map[uuid.UUID]*Document
}

func newMockRepo() *mockRepo {
	return &mockRepo{docs: make(map[uuid.UUID]*Document)}
}

func (m *mockRepo) Create(ctx context.Context, d *Document) error {
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	m.docs[d.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockRepo) Update(ctx context.Context, d *Document) error {
	existing, ok := m.docs[d.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Title = d.Title
	existing.Content = d.Content
	existing.UpdatedAt = time.Now()
	return nil
}

func (m *mockRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.docs[id]; !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *mockRepo) List(ctx context.Context, limit, offset int) ([]*Document, int, error) {
	var items []*Document
	for _, d := range m.docs {
		items = append(items, d)
	}
	total := len(items)
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items, total, nil
}

func (m *mockRepo) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id := range m.docs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mockRepo) Count(ctx context.Context) (int, error) {
	return len(m.docs), nil
}

type mockInvalidator struct {
	calls []uuid.UUID
}

func (m *mockInvalidator) DeleteByDocument(ctx context.Context, docID uuid.UUID) error {
	m.calls = append(m.calls, docID)
	return nil
}

func newTestService() *Service {
	return NewService(newMockRepo(), zerolog.Nop())
}

func TestService_Create(t *testing.T) {
	svc := newTestService()
	doc := &Document{Title: "Progress Note", Content: "Patient is recovering well."}
	if err := svc.Create(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
}

func TestService_Create_MissingTitle(t *testing.T) {
	svc := newTestService()
	err := svc.Create(context.Background(), &Document{Content: "some content"})
	if err == nil {
		t.Error("expected error for missing title")
	}
}

func TestService_Create_MissingContent(t *testing.T) {
	svc := newTestService()
	err := svc.Create(context.Background(), &Document{Title: "Note", Content: "   "})
	if err == nil {
		t.Error("expected error for blank content")
	}
}

func TestService_Update_InvalidatesOnContentChange(t *testing.T) {
	svc := newTestService()
	inv := &mockInvalidator{}
	svc.SetEmbeddingInvalidator(inv)

	doc := &Document{Title: "Note", Content: "original text"}
	svc.Create(context.Background(), doc)

	doc.Content = "revised text"
	if err := svc.Update(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inv.calls) != 1 || inv.calls[0] != doc.ID {
		t.Errorf("expected one invalidation for %s, got %v", doc.ID, inv.calls)
	}
}

func TestService_Update_TitleOnlyKeepsEmbeddings(t *testing.T) {
	svc := newTestService()
	inv := &mockInvalidator{}
	svc.SetEmbeddingInvalidator(inv)

	doc := &Document{Title: "Note", Content: "stable text"}
	svc.Create(context.Background(), doc)

	doc.Title = "Renamed Note"
	if err := svc.Update(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inv.calls) != 0 {
		t.Errorf("title-only update must not invalidate embeddings, got %v", inv.calls)
	}
}

func TestService_Update_NotFound(t *testing.T) {
	svc := newTestService()
	err := svc.Update(context.Background(), &Document{ID: uuid.New(), Title: "x", Content: "y"})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	svc := newTestService()
	doc := &Document{Title: "Note", Content: "text"}
	svc.Create(context.Background(), doc)

	if err := svc.Delete(context.Background(), doc.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Get(context.Background(), doc.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
