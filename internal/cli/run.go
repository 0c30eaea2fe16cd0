package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/dealhound/crawler/internal/auth"
	"github.com/dealhound/crawler/internal/browser"
	"github.com/dealhound/crawler/internal/catalog"
	"github.com/dealhound/crawler/internal/config"
	"github.com/dealhound/crawler/internal/cursor"
	"github.com/dealhound/crawler/internal/extract"
	"github.com/dealhound/crawler/internal/orchestrator"
	"github.com/dealhound/crawler/internal/ratelimit"
	"github.com/dealhound/crawler/internal/report"
	"github.com/dealhound/crawler/internal/schedule"
	"github.com/dealhound/crawler/internal/stats"
	"github.com/dealhound/crawler/internal/worker"
	"github.com/dealhound/crawler/pkg/models"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run crawl cycles: discover, schedule, extract",
	Example: `  # One cycle against the configured storefront
  dealhound run --base-url https://shop.example

  # Three cycles, eight workers, JSON report
  dealhound run --base-url https://shop.example --cycles 3 --workers 8 --report run.json

  # Re-extract everything regardless of eligibility windows
  dealhound run --base-url https://shop.example --force-update`,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// progressRecorder ticks the progress bar as batch results come in,
// then hands them to the real recorder.
type progressRecorder struct {
	inner worker.Recorder
	bar   *progressbar.ProgressBar
}

func (p progressRecorder) RecordResult(r models.WorkResult) {
	p.inner.RecordResult(r)
	_ = p.bar.Add(1)
}

func (p progressRecorder) RecordRetryResult(r models.WorkResult, firstRetry bool) {
	p.inner.RecordRetryResult(r, firstRetry)
	_ = p.bar.Add(1)
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return err
	}

	creds, err := auth.Resolve(cfg.Account)
	if err != nil {
		return err
	}

	cat, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		return err
	}
	cursors, err := cursor.NewStore(cfg.SnapshotPath, cursor.Options{
		Epsilon:       cfg.Epsilon,
		SkipRecent:    cfg.SkipRecent,
		FullScanEvery: cfg.FullScanEvery,
	})
	if err != nil {
		return err
	}

	var metrics *stats.Metrics
	if cfg.MetricsPort > 0 {
		metrics = stats.NewMetrics(prometheus.DefaultRegisterer)
		go func() {
			if err := stats.Serve(cmd.Context(), cfg.MetricsPort); err != nil {
				log.Error().Err(err).Msg("Metrics endpoint failed")
			}
		}()
	}
	agg := stats.New(metrics)

	scorer := schedule.NewScorer(cfg.Weights, cfg.Intervals, cfg.HighValue)
	queue := schedule.NewQueue(scorer, agg)

	limiter := ratelimit.New(cfg.HostRPS, cfg.HostBurst)
	limiter.SetScope(ratelimit.ScopeListing, cfg.ListingRPS, config.DefaultScopeBurst)
	limiter.SetScope(ratelimit.ScopeProduct, cfg.ProductRPS, config.DefaultScopeBurst)

	pool := browser.NewChromePool(cfg.PoolSize, browser.SessionOptions{
		Headless:  cfg.Headless,
		UserAgent: cfg.UserAgent,
		Proxy:     cfg.Proxy,
		Headers:   map[string]string{"X-Api-Key": creds.Key},
	})
	defer pool.Close()

	extractor := extract.NewChromeExtractor(cfg.BaseURL, limiter, cfg.PageTimeout)

	delays := worker.Delays{
		Min:     cfg.MinDelay,
		Max:     cfg.MaxDelay,
		FailMin: cfg.FailMinDelay,
		FailMax: cfg.FailMaxDelay,
	}
	workers := make([]*worker.Worker, cfg.WorkerCount)
	for i := range workers {
		workers[i] = worker.New(i, worker.Config{
			Pool:       pool,
			Extractor:  extractor,
			Sink:       cat,
			Delays:     delays,
			MaxRetries: cfg.MaxRetries,
		})
	}

	var recorder worker.Recorder = queue
	var bar *progressbar.ProgressBar
	if !cfg.JSONLog && isatty.IsTerminal(os.Stderr.Fd()) {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("extracting"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		recorder = progressRecorder{inner: queue, bar: bar}
	}
	coord := worker.NewCoordinator(workers, recorder, cfg.RetryCount, cfg.InterPassDelay)

	orch, err := orchestrator.New(orchestrator.Config{
		Cursors:      cursors,
		Queue:        queue,
		Source:       cat,
		Store:        cat,
		Discoverer:   extractor,
		Pool:         pool,
		Coordinator:  coord,
		Stats:        agg,
		Metrics:      metrics,
		BatchSize:    cfg.BatchSize,
		MaxLoad:      cfg.MaxLoad,
		DiscoverMax:  cfg.DiscoverMax,
		Cycles:       cfg.Cycles,
		ForceUpdate:  cfg.ForceUpdate,
		ParallelScan: cfg.ParallelScan,
	})
	if err != nil {
		return err
	}

	started := time.Now()
	snap, runErr := orch.Run(cmd.Context())
	if bar != nil {
		_ = bar.Finish()
	}
	log.Info().Dur("elapsed", time.Since(started)).Msg("Run finished")

	if cfg.ReportPath != "" {
		if err := report.Save(cfg.ReportPath, snap); err != nil {
			log.Error().Err(err).Str("path", cfg.ReportPath).Msg("Could not write report")
		}
	} else {
		report.WriteText(os.Stdout, snap, isatty.IsTerminal(os.Stdout.Fd()))
	}

	if runErr != nil {
		return fmt.Errorf("crawl run: %w", runErr)
	}
	return nil
}
