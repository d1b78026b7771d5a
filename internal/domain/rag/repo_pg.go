package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type embeddingRepoPG struct{ pool *pgxpool.Pool }

func NewEmbeddingRepoPG(pool *pgxpool.Pool) EmbeddingRepository {
	return &embeddingRepoPG{pool: pool}
}

func (r *embeddingRepoPG) conn(ctx context.Context) queryable { return r.pool }

func (r *embeddingRepoPG) Replace(ctx context.Context, docID uuid.UUID, chunks []ChunkEmbedding) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM document_embedding WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("delete old embeddings: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO document_embedding (id, document_id, chunk_index, chunk_text, embedding)
			VALUES ($1, $2, $3, $4, $5::vector)`,
			uuid.New(), docID, c.Index, c.Text, vectorLiteral(c.Vector))
	}
	br := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert embedding: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *embeddingRepoPG) DeleteByDocument(ctx context.Context, docID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM document_embedding WHERE document_id = $1`, docID)
	return err
}

func (r *embeddingRepoPG) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]RetrievalResult, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 3
	}

	// Cosine distance; ties broken deterministically.
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT e.id, e.document_id, d.title, e.chunk_index, e.chunk_text, e.created_at,
		       1 - (e.embedding <=> $1::vector) AS similarity
		FROM document_embedding e
		JOIN document d ON d.id = e.document_id
		WHERE ($2::uuid IS NULL OR e.document_id <> $2)
		  AND ($3::float8 IS NULL OR 1 - (e.embedding <=> $1::vector) >= $3)
		ORDER BY e.embedding <=> $1::vector, e.document_id, e.chunk_index
		LIMIT $4`,
		vectorLiteral(vector), opts.ExcludeDocumentID, opts.MinSimilarity, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var res RetrievalResult
		if err := rows.Scan(&res.ID, &res.DocumentID, &res.DocumentTitle, &res.ChunkIndex, &res.ChunkText, &res.CreatedAt, &res.Similarity); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func (r *embeddingRepoPG) HasEmbeddings(ctx context.Context, docID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM document_embedding WHERE document_id = $1)`, docID).Scan(&exists)
	return exists, err
}

func (r *embeddingRepoPG) CountChunks(ctx context.Context) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM document_embedding`).Scan(&total)
	return total, err
}

func (r *embeddingRepoPG) CountDocuments(ctx context.Context) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(DISTINCT document_id) FROM document_embedding`).Scan(&total)
	return total, err
}

// vectorLiteral renders a float32 slice as a pgvector input literal.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
