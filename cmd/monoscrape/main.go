package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/monoscrape/config"
	"github.com/aluiziolira/monoscrape/document"
	"github.com/aluiziolira/monoscrape/models"
	"github.com/aluiziolira/monoscrape/scraper"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, _, stop := shutdownContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		slog.Error("scrape failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// shutdownContext is cancelled by the first of signals. Signal handling is
// then restored to the default, so a second signal terminates the process
// even while results are still being saved. released is closed once that
// has happened.
func shutdownContext(parent context.Context, signals ...os.Signal) (ctx context.Context, released <-chan struct{}, stop context.CancelFunc) {
	ctx, stop = signal.NotifyContext(parent, signals...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		stop()
		if parent.Err() == nil {
			slog.Info("shutdown signal received, saving results found so far; signal again to force quit")
		}
	}()
	return ctx, done, stop
}

// optionalInt is an int flag that records whether it was set.
type optionalInt struct {
	target **int
}

func (o optionalInt) String() string {
	if o.target == nil || *o.target == nil {
		return ""
	}
	return strconv.Itoa(**o.target)
}

func (o optionalInt) Set(value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*o.target = &v
	return nil
}

// parseFlags builds the run configuration from defaults, the environment
// and args, in increasing order of precedence.
func parseFlags(args []string, output io.Writer) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	flags := flag.NewFlagSet("monoscrape", flag.ContinueOnError)
	flags.SetOutput(output)

	intFlag := func(target *int, long, short string, usage string) {
		flags.IntVar(target, long, *target, usage)
		if short != "" {
			flags.IntVar(target, short, *target, usage+" (shorthand)")
		}
	}
	intFlag(&cfg.FetchSize, "fetch-size", "s", "Number of product ids fetched per batch")
	intFlag(&cfg.MaxProductID, "max-product-id", "m", "Exclusive upper bound of the product id scan")
	intFlag(&cfg.MinProductID, "min-product-id", "", "First product id to scan")
	intFlag(&cfg.MaxWorkers, "max-workers", "w", "Concurrent fetches per worker group")
	intFlag(&cfg.WorkerGroups, "worker-groups", "g", "Number of worker groups splitting each batch")
	intFlag(&cfg.ProductsPerGroup, "products-per-group", "", "Ids per worker group sub-range (0 = batch size / groups)")
	intFlag(&cfg.MaxAttempts, "max-attempts", "", "Maximum attempts per product on transient network errors")

	flags.StringVar(&cfg.OutputFile, "out-file", cfg.OutputFile, "Path of the item document")
	flags.StringVar(&cfg.OutputFile, "o", cfg.OutputFile, "Path of the item document (shorthand)")
	flags.BoolVar(&cfg.Merge, "merge", cfg.Merge, "Merge results into the existing out-file instead of replacing it")
	flags.BoolVar(&cfg.Merge, "M", cfg.Merge, "Merge results into the existing out-file (shorthand)")

	flags.Var(optionalInt{&cfg.UpdateRangeStart}, "update-range-start", "Start of the id range removed from the merged document before merging")
	flags.Var(optionalInt{&cfg.UpdateRangeStart}, "us", "Start of the update range (shorthand)")
	flags.Var(optionalInt{&cfg.UpdateRangeEnd}, "update-range-end", "Exclusive end of the id range removed before merging")
	flags.Var(optionalInt{&cfg.UpdateRangeEnd}, "ue", "End of the update range (shorthand)")

	flags.DurationVar(&cfg.RetryInterval, "retry-interval", cfg.RetryInterval, "Wait between attempts for one product")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request timeout")
	flags.DurationVar(&cfg.Delay, "delay", cfg.Delay, "Delay between requests")
	flags.DurationVar(&cfg.RandomDelay, "random-delay", cfg.RandomDelay, "Random jitter added to the delay")
	noRedirects := flags.Bool("no-redirects", false, "Do not follow redirects; a redirected product counts as not found")
	flags.StringVar(&cfg.CSVFile, "csv", cfg.CSVFile, "Also export the document as CSV to this path")
	flags.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Product page URL, the id is passed as the p_id query parameter")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if flags.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}
	if *noRedirects {
		cfg.FollowRedirects = false
	}
	return cfg, nil
}

func applyEnv(cfg *config.Config) error {
	if value, ok, err := config.EnvInt("MONOSCRAPE_MAX_WORKERS"); err != nil {
		return fmt.Errorf("invalid MONOSCRAPE_MAX_WORKERS: %w", err)
	} else if ok {
		cfg.MaxWorkers = value
	}
	if value, ok := config.EnvString("MONOSCRAPE_OUT_FILE"); ok {
		cfg.OutputFile = value
	}
	if value, ok := config.EnvString("MONOSCRAPE_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}
	if value, ok := config.EnvString("MONOSCRAPE_BASE_URL"); ok {
		cfg.BaseURL = value
	}
	return nil
}

// run scans the configured id range and persists what it found. The
// document is dumped even when the scan is interrupted or aborted; the scan
// error, if any, is returned afterwards.
func run(ctx context.Context, cfg *config.Config, stdout io.Writer, opts ...scraper.Option) error {
	doc := document.New()
	if cfg.Merge {
		loaded, err := document.Load(cfg.OutputFile)
		switch {
		case err == nil:
			doc = loaded
			slog.Info("loaded existing document",
				slog.String("path", cfg.OutputFile),
				slog.Int("items", doc.Len()),
			)
		case errors.Is(err, fs.ErrNotExist):
			slog.Warn("no existing document to merge, starting empty", slog.String("path", cfg.OutputFile))
		default:
			return fmt.Errorf("load existing document: %w", err)
		}
	}

	metrics := scraper.NewMetrics()
	fetcherOpts := append([]scraper.Option{
		scraper.WithMetrics(metrics),
		scraper.WithLogger(slog.Default()),
	}, opts...)
	fetcher, err := scraper.NewFetcher(cfg, fetcherOpts...)
	if err != nil {
		return fmt.Errorf("initialise fetcher: %w", err)
	}
	fetcher.SetContext(ctx)

	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, metrics.Registry)
		defer shutdown()
	}

	slog.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("min_product_id", cfg.MinProductID),
		slog.Int("max_product_id", cfg.MaxProductID),
		slog.Int("fetch_size", cfg.FetchSize),
		slog.Int("workers", cfg.MaxWorkers),
		slog.Int("worker_groups", cfg.WorkerGroups),
	)

	pool := scraper.NewRangeFetcher(fetcher, cfg.MaxWorkers, cfg.WorkerGroups, cfg.GroupSpan())
	driver := scraper.NewDriver(pool, cfg.FetchSize,
		scraper.WithDriverLogger(slog.Default()),
		scraper.WithDriverMetrics(metrics),
	)
	result, runErr := driver.Run(ctx, cfg.MinProductID, cfg.MaxProductID)

	if cfg.HasUpdateRange() {
		removed := doc.RemoveRange(*cfg.UpdateRangeStart, *cfg.UpdateRangeEnd)
		slog.Info("cleared update range",
			slog.Int("start", *cfg.UpdateRangeStart),
			slog.Int("end", *cfg.UpdateRangeEnd),
			slog.Int("removed", removed),
		)
	}
	doc.MergeItems(result.Items)

	if err := doc.Dump(cfg.OutputFile); err != nil {
		return errors.Join(runErr, fmt.Errorf("dump document: %w", err))
	}
	if cfg.CSVFile != "" {
		if err := doc.WriteCSV(cfg.CSVFile); err != nil {
			return errors.Join(runErr, fmt.Errorf("export csv: %w", err))
		}
	}

	printSummary(stdout, result, doc.Len(), cfg)
	return runErr
}

func serveMetrics(addr string, registry *prometheus.Registry) func() {
	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func printSummary(w io.Writer, result *models.ScrapeResult, documentItems int, cfg *config.Config) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintf(w, "Scrape %s\n", result.State)
	fmt.Fprintf(w, "  Found this run: %d\n", len(result.Items))
	fmt.Fprintf(w, "  Document items: %d\n", documentItems)
	fmt.Fprintf(w, "  Batches:        %d\n", result.Batches)
	fmt.Fprintf(w, "  Next id:        %d\n", result.Cursor)
	fmt.Fprintf(w, "  Duration:       %v\n", result.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  Output file:    %s\n", cfg.OutputFile)
	if cfg.CSVFile != "" {
		fmt.Fprintf(w, "  CSV export:     %s\n", cfg.CSVFile)
	}
	fmt.Fprintln(w, separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
