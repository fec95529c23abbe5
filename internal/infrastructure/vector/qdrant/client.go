package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

// pointNamespace makes qdrant point ids a pure function of the chunk
// id, so re-vectorizing a document overwrites its points instead of
// accumulating duplicates.
var pointNamespace = uuid.MustParse("9f2c3a40-7c1e-4bb3-9a65-d1a07c5b2ab1")

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch: %d/%d", len(chunks), len(vectors))
	}

	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		chunkID := domain.ChunkID(chunk.DocumentID, chunk.Index)
		points = append(points, point{
			ID:     uuid.NewSHA1(pointNamespace, []byte(chunkID)).String(),
			Vector: vectors[i],
			Payload: map[string]any{
				"chunk_id":    chunkID,
				"doc_id":      chunk.DocumentID,
				"chunk_index": chunk.Index,
				"text":        chunk.Text,
				"section":     chunk.Section,
				"kb_code":     chunk.KBCode,
			},
		})
	}

	body, err := json.Marshal(map[string]any{"points": points})
	if err != nil {
		return fmt.Errorf("marshal upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant upsert request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusWithBody(resp, "qdrant upsert")
	}
	return nil
}

func (c *Client) Query(ctx context.Context, queryVector []float32, limit int, scope domain.SearchScope) ([]domain.RankedChunk, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if scope.KBCode != "" {
		reqBody["filter"] = map[string]any{
			"must": []map[string]any{
				{
					"key":   "kb_code",
					"match": map[string]any{"value": scope.KBCode},
				},
			},
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, statusWithBody(resp, "qdrant search")
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.RankedChunk, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.RankedChunk{
			ChunkID:    getStringPayload(r.Payload, "chunk_id"),
			DocumentID: getStringPayload(r.Payload, "doc_id"),
			Text:       getStringPayload(r.Payload, "text"),
			Section:    getStringPayload(r.Payload, "section"),
			Score:      r.Score,
		})
	}
	return out, nil
}

// DeleteByDocument removes every point of the document via a payload
// filter, which also covers points left by an older chunking whose
// indexes no longer exist.
func (c *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	body, err := json.Marshal(map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   "doc_id",
					"match": map[string]any{"value": documentID},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal delete body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant delete request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusWithBody(resp, "qdrant delete")
	}
	return nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	})
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ensure collection request: %w", err)
	}
	defer resp.Body.Close()

	// 200/201 for create, 409 if already exists (depends on version/config).
	if resp.StatusCode == http.StatusConflict {
		c.markCollectionEnsured(vectorSize)
		return nil
	}
	if resp.StatusCode >= 300 {
		return statusWithBody(resp, "qdrant ensure collection")
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func statusWithBody(resp *http.Response, op string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Errorf("%s status: %s: %s", op, resp.Status, msg)
	}
	return fmt.Errorf("%s status: %s", op, resp.Status)
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
