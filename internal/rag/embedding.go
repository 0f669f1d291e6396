package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"ShopScout/server/internal/config"
)

const (
	embeddingCacheTTL = 24 * time.Hour
	embedMaxRetries   = 3
	embedRetryDelay   = 1 * time.Second
)

// EmbeddingCache stores cached embeddings
type EmbeddingCache struct {
	cache map[string]*CachedEmbedding
	mu    sync.RWMutex
}

// CachedEmbedding holds a cached embedding with expiration
type CachedEmbedding struct {
	Vector    []float64
	CreatedAt time.Time
}

// Put caches an embedding
func (c *EmbeddingCache) Put(text string, vector []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[text] = &CachedEmbedding{
		Vector:    vector,
		CreatedAt: time.Now(),
	}
}

func (c *EmbeddingCache) get(text string) ([]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.cache[text]
	if !ok {
		return nil, false
	}
	if time.Since(cached.CreatedAt) > embeddingCacheTTL {
		return nil, false
	}
	return cached.Vector, true
}

// EmbeddingService generates and caches text embeddings via an
// OpenAI-compatible /embeddings endpoint. Vectors are unit-normalized so
// cosine similarity reduces to a dot product.
type EmbeddingService struct {
	baseURL string
	apiKey  string
	model   string
	cache   *EmbeddingCache
	client  *http.Client
}

// NewEmbeddingService creates a new embedding service
func NewEmbeddingService(cfg config.EmbeddingConfig) *EmbeddingService {
	return &EmbeddingService{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		cache:   &EmbeddingCache{cache: make(map[string]*CachedEmbedding)},
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Embed generates an embedding for a single text
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float64, error) {
	if vec, ok := s.cache.get(text); ok {
		return vec, nil
	}

	response, err := s.createEmbedding(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("no embedding generated")
	}

	vector := NormalizeVector(response.Data[0].Embedding)
	s.cache.Put(text, vector)
	return vector, nil
}

// createEmbedding calls the embeddings API with bounded retry.
func (s *EmbeddingService) createEmbedding(ctx context.Context, texts []string) (*EmbeddingResponse, error) {
	var lastErr error

	for attempt := 0; attempt < embedMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(embedRetryDelay * time.Duration(attempt)):
			}
		}

		reqBody := map[string]interface{}{
			"input": texts,
			"model": s.model,
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		url := fmt.Sprintf("%s/embeddings", s.baseURL)
		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.apiKey))

		resp, err := s.client.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var result EmbeddingResponse
			if err := json.Unmarshal(respBody, &result); err != nil {
				return nil, fmt.Errorf("failed to unmarshal response: %w", err)
			}
			if result.Error != nil {
				return nil, fmt.Errorf("embedding API error: %s", result.Error.Message)
			}
			return &result, nil
		}

		var errorResp struct {
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error != nil {
			lastErr = fmt.Errorf("API error: %s", errorResp.Error.Message)
		} else {
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
	}

	return nil, fmt.Errorf("failed after %d retries: %w", embedMaxRetries, lastErr)
}

// CacheSize returns the number of cached embeddings
func (s *EmbeddingService) CacheSize() int {
	s.cache.mu.RLock()
	defer s.cache.mu.RUnlock()
	return len(s.cache.cache)
}

// EmbeddingResponse represents an embedding response
type EmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NormalizeVector normalizes a vector to unit length
func NormalizeVector(vector []float64) []float64 {
	if len(vector) == 0 {
		return vector
	}

	var norm float64
	for _, v := range vector {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vector
	}

	normalized := make([]float64, len(vector))
	for i, v := range vector {
		normalized[i] = v / norm
	}
	return normalized
}

// CosineSimilarity calculates cosine similarity between two vectors
func CosineSimilarity(v1, v2 []float64) (float64, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("vector dimensions don't match: %d vs %d", len(v1), len(v2))
	}
	if len(v1) == 0 {
		return 0, nil
	}

	var dotProduct, norm1, norm2 float64
	for i := range v1 {
		dotProduct += v1[i] * v2[i]
		norm1 += v1[i] * v1[i]
		norm2 += v2[i] * v2[i]
	}

	norm1 = math.Sqrt(norm1)
	norm2 = math.Sqrt(norm2)
	if norm1 == 0 || norm2 == 0 {
		return 0, nil
	}
	return dotProduct / (norm1 * norm2), nil
}
