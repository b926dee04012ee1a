package intel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"gatekeep/internal/config"
)

// ErrFeedUnavailable wraps any feed fetch failure. Callers keep
// serving from the cached indicator set when they see it.
var ErrFeedUnavailable = errors.New("threat feed unavailable")

// feedIndicator is the wire format feeds return indicators in.
type feedIndicator struct {
	Value      string  `json:"value"`
	Type       IOCType `json:"type"`
	Confidence float64 `json:"confidence"`
	TTLSeconds int64   `json:"ttl_seconds"`
}

// FeedClient pulls indicators from one external threat feed over HTTP.
type FeedClient struct {
	cfg        config.FeedConfig
	httpClient *http.Client
}

// NewFeedClient creates a client for one feed.
func NewFeedClient(cfg config.FeedConfig) *FeedClient {
	return &FeedClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the feed's configured name.
func (f *FeedClient) Name() string { return f.cfg.Name }

// Fetch retrieves the feed's current indicator set. Any failure is
// reported as ErrFeedUnavailable so the caller falls back to cache.
func (f *FeedClient) Fetch(ctx context.Context) ([]*IOC, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, f.cfg.Name, err)
	}

	req.Header.Set("Accept", "application/json")
	if f.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", f.cfg.APIKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, f.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s: status %d: %s",
			ErrFeedUnavailable, f.cfg.Name, resp.StatusCode, string(body))
	}

	var result struct {
		Indicators []feedIndicator `json:"indicators"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %s: decode: %v", ErrFeedUnavailable, f.cfg.Name, err)
	}

	now := time.Now()
	iocs := make([]*IOC, 0, len(result.Indicators))
	for _, ind := range result.Indicators {
		ttl := time.Duration(ind.TTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		iocs = append(iocs, &IOC{
			Value:        ind.Value,
			Type:         ind.Type,
			Confidence:   ind.Confidence,
			Source:       f.cfg.Name,
			SourceWeight: f.cfg.SourceWeight,
			AddedAt:      now,
			ExpiresAt:    now.Add(ttl),
		})
	}
	return iocs, nil
}
