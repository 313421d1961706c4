package sink

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

// Dual writes each batch to the file sink and then the store sink.
type Dual struct {
	file   crawler.ResettableSink
	store  crawler.ResettableSink
	logger *zap.Logger
}

// NewDual combines the two sinks. store is nil only in csv-only mode.
func NewDual(file, store crawler.ResettableSink, logger *zap.Logger) *Dual {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dual{file: file, store: store, logger: logger}
}

// WriteBatch persists listings to both sinks. Both are attempted even when the
// first fails. Writes run detached from ctx cancellation so a batch gathered
// before shutdown is never cut short.
func (d *Dual) WriteBatch(ctx context.Context, target crawler.Target, listings []crawler.EnrichedListing) error {
	if len(listings) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var errs []error
	if d.file != nil {
		err := d.file.WriteBatch(ctx, target, listings)
		metrics.ObserveSinkWrite("file", err)
		if err != nil {
			d.logger.Error("file sink write failed", zap.String("target", target.Slug()), zap.Error(err))
			errs = append(errs, fmt.Errorf("file sink: %w", err))
		}
	}
	if d.store != nil {
		err := d.store.WriteBatch(ctx, target, listings)
		metrics.ObserveSinkWrite("store", err)
		if err != nil {
			d.logger.Error("store sink write failed", zap.String("target", target.Slug()), zap.Error(err))
			errs = append(errs, fmt.Errorf("store sink: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", crawler.ErrPersistence, errors.Join(errs...))
	}
	return nil
}

// Reset clears both sinks.
func (d *Dual) Reset(ctx context.Context) error {
	if d.file != nil {
		if err := d.file.Reset(ctx); err != nil {
			return fmt.Errorf("reset file sink: %w", err)
		}
	}
	if d.store != nil {
		if err := d.store.Reset(ctx); err != nil {
			return fmt.Errorf("reset store sink: %w", err)
		}
	}
	return nil
}
