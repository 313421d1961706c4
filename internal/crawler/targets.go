package crawler

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

// ParseTarget splits a "<make>-<model>" slug on its first dash.
func ParseTarget(slug string) (Target, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	mk, model, ok := strings.Cut(slug, "-")
	if !ok {
		return Target{}, fmt.Errorf("target %q: missing make/model separator", slug)
	}
	if mk == "" || model == "" {
		return Target{}, fmt.Errorf("target %q: empty make or model", slug)
	}
	return Target{Make: mk, Model: model}, nil
}

// LoadTargets decodes a JSON array of target slugs. Malformed entries are
// skipped with a warning; a document that is not an array is an error.
func LoadTargets(r io.Reader, logger *zap.Logger) ([]Target, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var entries []any
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode target list: %w", err)
	}
	targets := make([]Target, 0, len(entries))
	for i, entry := range entries {
		slug, ok := entry.(string)
		if !ok {
			logger.Warn("skipping non-string target entry", zap.Int("index", i), zap.Any("entry", entry))
			continue
		}
		target, err := ParseTarget(slug)
		if err != nil {
			logger.Warn("skipping malformed target entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// LoadTargetsFile opens path and delegates to LoadTargets.
func LoadTargetsFile(path string, logger *zap.Logger) ([]Target, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open target list: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only
	return LoadTargets(f, logger)
}
