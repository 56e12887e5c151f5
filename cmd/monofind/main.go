package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/monoscrape/finder"
)

type keywords []string

func (k *keywords) String() string {
	return strings.Join(*k, ",")
}

func (k *keywords) Set(value string) error {
	*k = append(*k, value)
	return nil
}

type options struct {
	query       finder.Query
	source      string
	showRatings bool
	timeout     time.Duration
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{}
	var words keywords

	flags := flag.NewFlagSet("monofind", flag.ContinueOnError)
	flags.SetOutput(output)
	flags.Var(&words, "k", "Keyword to search for (repeatable, all must match)")
	flags.StringVar(&opts.source, "source", finder.DefaultSource, "Path or URL of the item document")
	flags.BoolVar(&opts.query.IncludeUnavailable, "show-non-available", false, "Show non-available matching items too")
	flags.BoolVar(&opts.showRatings, "show-ratings", false, "Show ratings in listings too")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Download timeout for remote sources")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, errors.New("no keyword provided, use -k at least once")
	}
	opts.query.Keywords = words
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		slog.Error("search failed", slog.String("source", opts.source), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, w io.Writer) error {
	doc, err := finder.NewLoader(opts.timeout).Load(ctx, opts.source)
	if err != nil {
		return err
	}

	matches := finder.Search(doc, opts.query)
	fmt.Fprintln(w, "Showing", len(matches), "matching item(s)")
	for _, item := range matches {
		fmt.Fprintln(w, finder.Format(item, opts.showRatings))
	}
	return nil
}
