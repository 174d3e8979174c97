// Package qdrant implements the vector-search collaborator over the qdrant
// HTTP API. Each logical namespace maps to one collection.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

type Client struct {
	baseURL          string
	collectionPrefix string
	httpClient       *http.Client
}

func New(baseURL, collectionPrefix string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		collectionPrefix: collectionPrefix,
		httpClient:       &http.Client{Timeout: timeout},
	}
}

type searchHit struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type searchResponse struct {
	Result []searchHit `json:"result"`
}

// Search runs one ranked similarity search inside the namespace's collection,
// applying the metadata filter and similarity threshold server-side.
func (c *Client) Search(
	ctx context.Context,
	vector []float32,
	namespace string,
	filter domain.MetadataFilter,
	threshold float64,
	limit int,
) ([]domain.RetrievalCandidate, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if threshold > 0 {
		body["score_threshold"] = threshold
	}
	if qf := buildFilter(filter); qf != nil {
		body["filter"] = qf
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s%s/points/search", c.baseURL, c.collectionPrefix, namespace)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
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
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("qdrant search status: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	candidates := make([]domain.RetrievalCandidate, 0, len(decoded.Result))
	for _, hit := range decoded.Result {
		candidates = append(candidates, hitToCandidate(hit, namespace))
	}
	return candidates, nil
}

func buildFilter(filter domain.MetadataFilter) map[string]any {
	var must []map[string]any
	for _, tag := range filter.RequiredTags {
		must = append(must, map[string]any{
			"key":   "tags",
			"match": map[string]any{"value": tag},
		})
	}
	if len(filter.ContentTypes) > 0 {
		must = append(must, map[string]any{
			"key":   "content_type",
			"match": map[string]any{"any": filter.ContentTypes},
		})
	}
	if filter.YearGTE != nil || filter.YearLTE != nil {
		yearRange := map[string]any{}
		if filter.YearGTE != nil {
			yearRange["gte"] = *filter.YearGTE
		}
		if filter.YearLTE != nil {
			yearRange["lte"] = *filter.YearLTE
		}
		must = append(must, map[string]any{"key": "year", "range": yearRange})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func hitToCandidate(hit searchHit, namespace string) domain.RetrievalCandidate {
	cand := domain.RetrievalCandidate{
		Score:     hit.Score,
		ChunkID:   fmt.Sprint(hit.ID),
		Namespace: namespace,
	}
	if id := payloadString(hit.Payload, "chunk_id"); id != "" {
		cand.ChunkID = id
	}
	cand.DocumentID = payloadString(hit.Payload, "document_id")
	cand.Text = payloadString(hit.Payload, "text")
	cand.Provenance = domain.Provenance{
		Citation:     payloadString(hit.Payload, "citation"),
		URL:          payloadString(hit.Payload, "url"),
		Organization: payloadString(hit.Payload, "organization"),
		Year:         payloadInt(hit.Payload, "year"),
		ContentType:  payloadString(hit.Payload, "content_type"),
		License:      payloadString(hit.Payload, "license"),
		Tags:         payloadStrings(hit.Payload, "tags"),
	}
	return cand
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt(payload map[string]any, key string) int {
	if v, ok := payload[key].(float64); ok {
		return int(v)
	}
	return 0
}

func payloadStrings(payload map[string]any, key string) []string {
	raw, ok := payload[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
