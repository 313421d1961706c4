package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsGate answers robots.txt questions for a single site. The robots file
// is fetched at most once; a failed fetch or parse denies every path for the
// rest of the run and is not retried.
type RobotsGate struct {
	client    *http.Client
	baseURL   string
	userAgent string
	logger    *zap.Logger

	once sync.Once
	data *robotstxt.RobotsData
	err  error
}

// NewRobotsGate builds a gate for baseURL.
func NewRobotsGate(baseURL, userAgent string, timeout time.Duration, logger *zap.Logger) *RobotsGate {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsGate{
		client:    &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		logger:    logger,
	}
}

// Allowed implements PermissionGate.
func (g *RobotsGate) Allowed(ctx context.Context, path string) bool {
	g.once.Do(func() {
		g.data, g.err = g.load(ctx)
		if g.err != nil {
			g.logger.Warn("robots fetch failed; denying access", zap.String("base_url", g.baseURL), zap.Error(g.err))
		}
	})
	if g.err != nil || g.data == nil {
		return false
	}
	return g.data.TestAgent(path, g.userAgent)
}

func (g *RobotsGate) load(ctx context.Context) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch robots: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

// AllowAllGate permits every path. Used when robots checks are disabled.
type AllowAllGate struct{}

// Allowed implements PermissionGate.
func (AllowAllGate) Allowed(context.Context, string) bool { return true }
