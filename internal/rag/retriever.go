package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Passage is one ranked chunk from the PDF knowledge base.
type Passage struct {
	Text   string
	Score  float64
	Source string
}

// Retriever answers a query with ranked passages. Implementations have no
// side effects.
type Retriever interface {
	Search(ctx context.Context, query string) ([]Passage, error)
}

// VectorRetriever embeds the query and runs a similarity search against a
// Pinecone-style vector index over HTTP.
type VectorRetriever struct {
	indexURL   string
	apiKey     string
	namespace  string
	topK       int
	embedder   *openai.Client
	embedModel string
	httpClient *http.Client
}

func NewVectorRetriever(indexURL, apiKey, namespace string, topK int, embedder *openai.Client, embedModel string) *VectorRetriever {
	return &VectorRetriever{
		indexURL:   indexURL,
		apiKey:     apiKey,
		namespace:  namespace,
		topK:       topK,
		embedder:   embedder,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type queryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
	Namespace       string    `json:"namespace,omitempty"`
}

type queryResponse struct {
	Matches []struct {
		Score    float64 `json:"score"`
		Metadata struct {
			Text   string `json:"text"`
			Source string `json:"source"`
		} `json:"metadata"`
	} `json:"matches"`
}

func (r *VectorRetriever) Search(ctx context.Context, query string) ([]Passage, error) {
	vec, err := r.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	body, err := json.Marshal(queryRequest{
		Vector:          vec,
		TopK:            r.topK,
		IncludeMetadata: true,
		Namespace:       r.namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal vector query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.indexURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build vector query: %w", err)
	}
	req.Header.Set("Api-Key", r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("vector query failed: %d %s", resp.StatusCode, string(msg))
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode vector response: %w", err)
	}

	passages := make([]Passage, 0, len(out.Matches))
	for _, m := range out.Matches {
		passages = append(passages, Passage{
			Text:   m.Metadata.Text,
			Score:  m.Score,
			Source: m.Metadata.Source,
		})
	}
	return passages, nil
}

func (r *VectorRetriever) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := r.embedder.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(r.embedModel),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}
	return resp.Data[0].Embedding, nil
}
