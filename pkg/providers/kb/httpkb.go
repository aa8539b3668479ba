// Package kb is a thin HTTP client over an opaque knowledge-base search
// microservice. Document chunking, embedding, and vector search are out of
// scope (SPEC_FULL.md §1); this client only applies the score-threshold /
// top-1-fallback policy to whatever the service returns.
package kb

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/reply"
)

// ScoreMode selects how Score is compared against Threshold.
type ScoreMode string

const (
	ScoreSimilarity ScoreMode = "similarity"
	ScoreDistance   ScoreMode = "distance"
)

type rawDoc struct {
	PageContent string `json:"page_content"`
	Metadata    struct {
		SourcePath string `json:"source_path"`
	} `json:"metadata"`
}

type rawHit struct {
	Doc   rawDoc  `json:"doc"`
	Score float64 `json:"score"`
}

type searchResponse struct {
	Results []rawHit `json:"results"`
}

// Client is a pooled HTTP client for the knowledge-base search endpoint.
type Client struct {
	http      *resty.Client
	baseURL   string
	topK      int
	scoreMode ScoreMode
	threshold float64
}

// New builds a Client using httpClient (normally the registry's pooled
// client) against baseURL's /search endpoint.
func New(httpClient *resty.Client, baseURL string, topK int, scoreMode ScoreMode, threshold float64) *Client {
	return &Client{http: httpClient, baseURL: baseURL, topK: topK, scoreMode: scoreMode, threshold: threshold}
}

// Search implements pkg/reply.KBSearcher: it queries the KB service for
// tenant's documents, then applies the threshold policy from
// original_source/app/rag.py's search_with_threshold — keep hits passing
// the threshold; if none pass but the service returned at least one
// result, keep the single best result anyway.
func (c *Client) Search(ctx context.Context, tenant, query string) ([]reply.KBHit, error) {
	var resp searchResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"tenant": tenant,
			"query":  query,
			"top_k":  fmt.Sprintf("%d", c.topK),
		}).
		SetResult(&resp).
		Get(c.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("kb: search request failed: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("kb: search returned status %d", res.StatusCode())
	}

	kept := make([]reply.KBHit, 0, len(resp.Results))
	for _, hit := range resp.Results {
		if c.passesThreshold(hit.Score) {
			kept = append(kept, toKBHit(hit))
		}
	}
	if len(kept) == 0 && len(resp.Results) > 0 {
		kept = append(kept, toKBHit(resp.Results[0]))
	}
	return kept, nil
}

func (c *Client) passesThreshold(score float64) bool {
	if c.scoreMode == ScoreDistance {
		return score <= c.threshold
	}
	return score >= c.threshold
}

func toKBHit(hit rawHit) reply.KBHit {
	return reply.KBHit{
		SourcePath: hit.Doc.Metadata.SourcePath,
		Content:    hit.Doc.PageContent,
		Score:      hit.Score,
	}
}
