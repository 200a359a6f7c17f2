package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-catalogs/checkpoint"
	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/scraper"
	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

type runOptions struct {
	metricsAddr string
	batchSize   int
	maxAttempts int
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [sources...]",
		Short: "Harvest the given sources, or every enabled source",
		Long: `Harvest one or more sources concurrently. Each source resumes from its
checkpoint if one exists. Type the stop key (default "n") followed by Enter,
send SIGINT, or set the Redis stop key to finish the current page and stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = opts.metricsAddr
			}
			if cmd.Flags().Changed("batch-size") {
				cfg.BatchSize = opts.batchSize
			}
			if cmd.Flags().Changed("max-attempts") {
				cfg.MaxAttempts = opts.maxAttempts
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			names, err := selectSources(cfg, args)
			if err != nil {
				return err
			}
			return runHarvest(cmd.Context(), cfg, names, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "products buffered before a chunk is checkpointed")
	cmd.Flags().IntVar(&opts.maxAttempts, "max-attempts", 0, "attempts per page before it counts as empty")
	return cmd
}

// selectSources resolves the command arguments. Explicitly named sources run
// even when disabled in the config; no arguments means every enabled source.
func selectSources(cfg *config.Config, args []string) ([]string, error) {
	if len(args) == 0 {
		names := cfg.EnabledSources(sources.Names())
		if len(names) == 0 {
			return nil, errors.New("no sources enabled")
		}
		return names, nil
	}
	seen := make(map[string]bool, len(args))
	names := make([]string, 0, len(args))
	for _, name := range args {
		if _, err := sources.New(name); err != nil {
			return nil, fmt.Errorf("%w (known: %v)", err, sources.Names())
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

func runHarvest(parent context.Context, cfg *config.Config, names []string, stdin io.Reader, stdout io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	store, err := checkpoint.Open(cfg.CheckpointBackend, cfg.StateDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("close checkpoint store", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scraper.ListenForStop(ctx, stdin, cfg.StopKey, cancel)
	if cfg.RedisURL != "" {
		rs, err := scraper.NewRedisStop(cfg.RedisURL, cfg.RedisStopKey)
		if err != nil {
			slog.Warn("redis stop key disabled", slog.Any("error", err))
		} else {
			defer func() { _ = rs.Close() }()
			go rs.Watch(ctx, cancel)
		}
	}

	metrics := scraper.NewMetrics()
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	slog.Info("starting harvest",
		slog.Any("sources", names),
		slog.String("backend", cfg.CheckpointBackend),
		slog.String("format", cfg.OutputFormat),
	)

	// Sources are independent: one failing never cancels the others.
	results := make([]*models.RunResult, len(names))
	errs := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			adapter, err := sources.New(name)
			if err != nil {
				errs[i] = err
				return nil
			}
			h := scraper.NewHarvester(cfg.ForSource(name), adapter, store, scraper.WithMetrics(metrics))
			results[i], errs[i] = h.Run(ctx)
			if errs[i] != nil {
				slog.Error("harvest failed", slog.String("source", name), slog.Any("error", errs[i]))
			}
			return nil
		})
	}
	_ = g.Wait()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	for i, res := range results {
		if res != nil {
			printSummary(stdout, res)
		} else if errs[i] != nil {
			fmt.Fprintf(stdout, "%s: failed: %v\n", names[i], errs[i])
		}
	}
	return errors.Join(errs...)
}

func printSummary(w io.Writer, res *models.RunResult) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	if res.Aborted {
		fmt.Fprintf(w, "%s: stopped, resumable\n", res.Source)
	} else {
		fmt.Fprintf(w, "%s: complete\n", res.Source)
	}

	c := res.State.Counters
	fmt.Fprintf(w, "  Run:           %s (resumed: %t)\n", res.RunID, res.Resumed)
	fmt.Fprintf(w, "  Cursor:        category %d, page %d\n", res.State.CategoryIndex, res.State.PageIndex)
	fmt.Fprintf(w, "  Pages:         %d (%d empty)\n", res.PageCount, res.EmptyPages)
	fmt.Fprintf(w, "  Items seen:    %d\n", c.Seen)
	fmt.Fprintf(w, "  Kept:          %d\n", c.Kept)
	fmt.Fprintf(w, "  No price:      %d\n", c.SkippedNoPrice)
	fmt.Fprintf(w, "  Other skips:   %d\n", c.SkippedOther)
	fmt.Fprintf(w, "  Duplicates:    %d\n", c.Duplicates)
	fmt.Fprintf(w, "  Retries:       %d\n", res.RetryCount)
	fmt.Fprintf(w, "  Chunks:        %d\n", res.ChunksWritten)
	if len(res.FatalCategories) > 0 {
		fmt.Fprintf(w, "  Fatal:         %v\n", res.FatalCategories)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", res.EndTime.Sub(res.StartTime).Round(time.Millisecond))
	fmt.Fprintf(w, "  Output:        %d products -> %s\n", res.OutputCount, res.OutputFile)
	fmt.Fprintln(w, separator)
}
