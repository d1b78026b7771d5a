package openai

import (
	"context"
	"encoding/json"
	"fmt"
)

// maxEmbeddingBatch is the upstream API limit on inputs per request.
const maxEmbeddingBatch = 100

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage TokenUsage `json:"usage"`
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds texts in order, paging through the API batch limit.
// Every returned vector is checked against the configured dimension.
func (c *Client) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, &APIError{Kind: KindAPI, Message: "no texts to embed"}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbeddingBatch {
		end := start + maxEmbeddingBatch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := c.post(ctx, "/embeddings", embeddingRequest{Model: c.embeddingModel, Input: texts})
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &APIError{Kind: KindMalformedResponse, Message: fmt.Sprintf("decode embedding response: %v", err)}
	}
	if len(resp.Data) != len(texts) {
		return nil, &APIError{Kind: KindMalformedResponse,
			Message: fmt.Sprintf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Data))}
	}

	// The API is allowed to return data out of order; place by index.
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, &APIError{Kind: KindMalformedResponse, Message: fmt.Sprintf("embedding index %d out of range", d.Index)}
		}
		if c.dimension > 0 && len(d.Embedding) != c.dimension {
			return nil, &APIError{Kind: KindDimensionMismatch,
				Message: fmt.Sprintf("expected %d dimensions, got %d", c.dimension, len(d.Embedding))}
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, &APIError{Kind: KindMalformedResponse, Message: fmt.Sprintf("missing embedding for input %d", i)}
		}
	}
	return vecs, nil
}
