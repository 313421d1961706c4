package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/api"
	"github.com/JakeFAU/listing-harvester/internal/clock/system"
	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/dispatcher"
	"github.com/JakeFAU/listing-harvester/internal/enricher"
	collyfetcher "github.com/JakeFAU/listing-harvester/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/listing-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/listing-harvester/internal/id/uuid"
	"github.com/JakeFAU/listing-harvester/internal/parser"
	"github.com/JakeFAU/listing-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/listing-harvester/internal/shutdown"
	"github.com/JakeFAU/listing-harvester/internal/sink"
	"github.com/JakeFAU/listing-harvester/internal/storage/gcs"
	"github.com/JakeFAU/listing-harvester/internal/storage/local"
	"github.com/JakeFAU/listing-harvester/internal/storage/postgres"
	"github.com/JakeFAU/listing-harvester/internal/supervisor"
	"github.com/JakeFAU/listing-harvester/internal/worker"
)

type harvestOptions struct {
	workers  int
	targets  string
	maxPages int
}

// newHarvestCmd creates the 'harvest' subcommand, which runs one full harvest.
func newHarvestCmd() *cobra.Command {
	opts := harvestOptions{maxPages: -1}
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Run a harvest over the target list",
		Long: `Runs one job per target on a fixed worker pool. Type the stop token
(default "o") and press enter, or send SIGINT/SIGTERM, to stop gracefully:
queued jobs are abandoned and in-flight jobs persist what they have gathered.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "worker pool size (overrides harvest.workers)")
	cmd.Flags().StringVar(&opts.targets, "targets", "", "target list JSON file (overrides harvest.targets_file)")
	cmd.Flags().IntVar(&opts.maxPages, "max-pages", -1, "page ceiling per target, 0 for none (overrides harvest.max_pages)")
	return cmd
}

func runHarvest(cmd *cobra.Command, opts harvestOptions) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	cfg := applyOverrides(e.cfg, opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := e.logger

	targets, err := crawler.LoadTargetsFile(cfg.Harvest.TargetsFile, logger)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}

	ctrl := shutdown.New(cmd.Context(), logger.Named("shutdown"))
	defer ctrl.Stop()
	go ctrl.WatchSignals(syscall.SIGINT, syscall.SIGTERM)
	go ctrl.WatchInput(cmd.InOrStdin(), cfg.Harvest.StopToken)

	run, err := buildHarvest(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer run.close()

	if cfg.Server.Port > 0 {
		stopServer := startStatusServer(cfg, run.supervisor, ctrl, logger.Named("api"))
		defer stopServer()
	}

	report, err := run.supervisor.Run(ctrl.Context(), targets)
	if err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	printReport(cmd.OutOrStdout(), report, ctrl.Source())
	return nil
}

func applyOverrides(cfg config.Config, opts harvestOptions) config.Config {
	if opts.workers > 0 {
		cfg.Harvest.Workers = opts.workers
	}
	if opts.targets != "" {
		cfg.Harvest.TargetsFile = opts.targets
	}
	if opts.maxPages >= 0 {
		cfg.Harvest.MaxPages = opts.maxPages
	}
	return cfg
}

type harvestRun struct {
	supervisor *supervisor.Supervisor
	closers    []func()
}

func (r *harvestRun) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// buildHarvest wires the pipeline from configuration.
func buildHarvest(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *harvestRun, err error) {
	run := &harvestRun{}
	defer func() {
		if err != nil {
			run.close()
		}
	}()
	clock := system.New()

	fetcher, err := buildFetcher(cfg, run)
	if err != nil {
		return nil, err
	}

	var gate crawler.PermissionGate = crawler.AllowAllGate{}
	if cfg.Robots.Respect {
		gate = crawler.NewRobotsGate(cfg.Harvest.BaseURL, cfg.Harvest.UserAgent,
			time.Duration(cfg.Robots.TimeoutSeconds)*time.Second, logger.Named("robots"))
	}

	loop := crawler.NewLoop(
		fetcher,
		parser.NewCarsParser(cfg.Harvest.BaseURL, parser.DefaultSelectors),
		gate,
		crawler.NewKeywordBlockDetector(cfg.Harvest.BlockedKeywords, cfg.Harvest.BlockedSelectors),
		ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Harvest.RateLimitRPS, DefaultBurst: cfg.Harvest.RateLimitBurst}),
		crawler.SearchURLBuilder{
			BaseURL:    cfg.Harvest.BaseURL,
			SearchPath: cfg.Harvest.SearchPath,
			Filters:    cfg.Harvest.SearchFilters,
		},
		clock,
		crawler.LoopConfig{
			MaxPages:       cfg.Harvest.MaxPages,
			PermissionPath: cfg.Robots.Path,
			Politeness:     cfg.Harvest.Politeness(),
		},
		logger.Named("loop"),
	)

	scorer, err := enricher.New(enricher.Config{URL: cfg.Oracle.URL, Timeout: cfg.OracleTimeout()}, logger.Named("enricher"))
	if err != nil {
		return nil, fmt.Errorf("init enricher: %w", err)
	}

	csvFile, err := sink.NewCSVFile(cfg.Sink.CSVPath, logger.Named("csv"))
	if err != nil {
		return nil, fmt.Errorf("init csv sink: %w", err)
	}
	store, err := buildStore(ctx, cfg, run, logger)
	if err != nil {
		return nil, err
	}
	dual := sink.NewDual(csvFile, store, logger.Named("sink"))

	archiver, err := buildArchiver(ctx, cfg, run, logger)
	if err != nil {
		return nil, err
	}

	workers := make([]*worker.Worker, cfg.Harvest.Workers)
	for i := range workers {
		workers[i] = worker.New(i, loop, scorer, dual, clock, logger.Named("worker"))
	}
	d := dispatcher.New(workers, uuid.New(), logger.Named("dispatcher"))
	run.supervisor = supervisor.New(d, dual, gate, archiver, uuid.New(), clock, supervisor.Config{
		PermissionPath: cfg.Robots.Path,
		CSVPath:        cfg.Sink.CSVPath,
	}, logger.Named("supervisor"))
	d.Observe(run.supervisor.Record)
	return run, nil
}

// buildStore opens the listing store. It returns nil only in csv-only mode,
// which is logged so a run without the store never goes unnoticed.
func buildStore(ctx context.Context, cfg config.Config, run *harvestRun, logger *zap.Logger) (crawler.ResettableSink, error) {
	if cfg.Sink.CSVOnly {
		logger.Warn("listing store disabled; writing the csv sink only",
			zap.String("csv_path", cfg.Sink.CSVPath))
		return nil, nil
	}
	store, err := postgres.NewListingStore(ctx, postgres.ListingStoreConfig{
		DSN:             cfg.DB.DSN,
		Table:           cfg.DB.Table,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	}, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("init listing store: %w", err)
	}
	run.closers = append(run.closers, store.Close)
	if cfg.DB.CreateTable {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("prepare listing table: %w", err)
		}
	}
	return store, nil
}

func buildFetcher(cfg config.Config, run *harvestRun) (crawler.PageFetcher, error) {
	if !cfg.Headless.Enabled {
		return collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Harvest.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		}), nil
	}
	hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Harvest.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		CardSelector:      cfg.Headless.WaitSelector,
		CardWait:          time.Duration(cfg.Headless.CardWaitMs) * time.Millisecond,
		Settle:            time.Duration(cfg.Headless.SettleMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("init headless fetcher: %w", err)
	}
	run.closers = append(run.closers, hf.Close)
	return hf, nil
}

func buildArchiver(ctx context.Context, cfg config.Config, run *harvestRun, logger *zap.Logger) (supervisor.Archiver, error) {
	switch {
	case cfg.Archive.GCSBucket != "":
		a, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.Archive.GCSBucket, Prefix: cfg.Archive.Prefix}, logger)
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		run.closers = append(run.closers, func() {
			if err := a.Close(); err != nil {
				logger.Warn("Failed to close GCS client", zap.Error(err))
			}
		})
		return a, nil
	case cfg.Archive.LocalDir != "":
		a, err := local.New(local.Config{BaseDir: filepath.Join(cfg.Archive.LocalDir, cfg.Archive.Prefix)})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return a, nil
	default:
		return nil, nil
	}
}

func startStatusServer(cfg config.Config, sup *supervisor.Supervisor, ctrl *shutdown.Controller, logger *zap.Logger) func() {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(sup, ctrl, api.Config{APIKey: cfg.Server.APIKey}, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", zap.Error(err))
		}
	}
}

func printReport(w io.Writer, report supervisor.Report, shutdownSource string) {
	fmt.Fprintf(w, "Elapsed time: %s\n", supervisor.FormatElapsed(report.Elapsed))
	fmt.Fprintf(w, "Jobs: %d succeeded, %d failed, %d canceled; %d listings (%d scored with fallback)\n",
		report.Succeeded, len(report.Failures), report.Canceled, report.Listings, report.Fallbacks)
	if report.ShutdownRequested && shutdownSource != "" {
		fmt.Fprintf(w, "Stopped early by %s\n", shutdownSource)
	}
	if report.ArchiveURI != "" {
		fmt.Fprintf(w, "Archived to %s\n", report.ArchiveURI)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(w, "  FAILED %s (%s): %v\n", f.Target.Slug(), f.Stop, f.Err)
	}
}
