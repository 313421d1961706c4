// Package enricher attaches scores from the valuation oracle to harvested listings.
package enricher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

// SentinelScore is substituted when the oracle cannot score a listing.
const SentinelScore = 0.0

// Config controls oracle access.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Enricher implements crawler.Enricher against an HTTP scoring oracle.
type Enricher struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// New builds an Enricher. The timeout bounds each oracle call separately.
func New(cfg Config, logger *zap.Logger) (*Enricher, error) {
	if cfg.URL == "" {
		return nil, errors.New("oracle url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// Enrich scores every listing in order. A failed call yields a fallback item
// and never affects the rest of the batch. Oracle calls are not interrupted by
// cancellation of ctx.
func (e *Enricher) Enrich(ctx context.Context, listings []crawler.RawListing) []crawler.EnrichedListing {
	out := make([]crawler.EnrichedListing, 0, len(listings))
	callCtx := context.WithoutCancel(ctx)
	for _, item := range listings {
		score, err := e.Score(callCtx, Describe(item))
		if err != nil {
			e.logger.Warn("oracle scoring failed; using sentinel",
				zap.String("link", item.Link),
				zap.Error(err),
			)
			metrics.ObserveEnrichment("fallback")
			out = append(out, Fallback(item, err))
			continue
		}
		metrics.ObserveEnrichment("ok")
		out = append(out, crawler.EnrichedListing{RawListing: item, Value: score})
	}
	return out
}

// Fallback is the enrichment failure policy: the listing keeps its fields and
// receives SentinelScore with UsedFallback set.
func Fallback(item crawler.RawListing, _ error) crawler.EnrichedListing {
	return crawler.EnrichedListing{RawListing: item, Value: SentinelScore, UsedFallback: true}
}

// Describe renders the natural-language description sent to the oracle.
func Describe(item crawler.RawListing) string {
	return fmt.Sprintf("%s %s %s with %s miles, priced at %s or %s at %s",
		item.Condition, item.Year, item.Model, item.Mileage, item.Price, item.MonthlyPayment, item.Dealer)
}

type scoreRequest struct {
	Description string `json:"description"`
}

type scoreResponse struct {
	Score *json.Number `json:"score"`
}

// Score asks the oracle for the value of description.
func (e *Enricher) Score(ctx context.Context, description string) (float64, error) {
	payload, err := json.Marshal(scoreRequest{Description: description})
	if err != nil {
		return 0, fmt.Errorf("%w: encode request: %w", crawler.ErrEnrichment, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("%w: new request: %w", crawler.ErrEnrichment, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: call oracle: %w", crawler.ErrEnrichment, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Debug("Failed to close oracle response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: oracle status %d", crawler.ErrEnrichment, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fmt.Errorf("%w: read response: %w", crawler.ErrEnrichment, err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var parsed scoreResponse
	if err := dec.Decode(&parsed); err != nil {
		return 0, fmt.Errorf("%w: decode response: %w", crawler.ErrEnrichment, err)
	}
	if parsed.Score == nil {
		return 0, fmt.Errorf("%w: response has no score", crawler.ErrEnrichment)
	}
	score, err := parsed.Score.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: non-numeric score %q: %w", crawler.ErrEnrichment, parsed.Score.String(), err)
	}
	return score, nil
}
