// ingestd runs the listing ingestion pipeline against Postgres.
//
// Modes:
//
//	ingest        claim and process pending queue items (default)
//	sweep         reset items stuck in processing
//	reset-errors  return all errored items to pending
//	enqueue       queue URLs from the command line for a source
//	export        write matching listings to CSV
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brendanlim/porsche-sub005/config"
	"github.com/brendanlim/porsche-sub005/export"
	"github.com/brendanlim/porsche-sub005/ingest"
	"github.com/brendanlim/porsche-sub005/sources"
	"github.com/brendanlim/porsche-sub005/store"
)

type httpFetcher struct {
	client    *http.Client
	userAgent string
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := readCapped(resp.Body, 4<<20)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func readCapped(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}

func main() {
	cfg := config.Load()

	var (
		mode    string
		daemon  bool
		source  string
		vinArg  string
		outPath string
		model   string
	)
	flag.StringVar(&mode, "mode", "ingest", "ingest|sweep|reset-errors|enqueue|export")
	flag.BoolVar(&daemon, "daemon", false, "Run ingest forever with a jittered sleep between runs")
	flag.StringVar(&source, "source", "", "Source name for enqueue mode (bat|carsandbids|carscom)")
	flag.StringVar(&vinArg, "vin", "", "Known VIN for enqueue mode (optional, single URL)")
	flag.StringVar(&outPath, "out", "listings.csv", "Output path for export mode")
	flag.StringVar(&model, "model", "", "Model filter for export mode")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.PostgresDSN, cfg.PGSchema, cfg.PGMaxConns)
	if err != nil {
		fmt.Fprintln(os.Stderr, "store:", err)
		os.Exit(2)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "schema:", err)
		os.Exit(2)
	}

	fetcher := &httpFetcher{
		client:    &http.Client{Timeout: time.Duration(cfg.HTTPTimeout) * time.Second},
		userAgent: cfg.UserAgent,
	}
	runner := ingest.NewRunner(st, sources.NewRegistry(fetcher), ingest.Options{
		Workers:     cfg.Workers,
		MaxAttempts: cfg.MaxAttempts,
		MinRPS:      cfg.MinRPS,
		MaxRPS:      cfg.MaxRPS,
		JitterMs:    cfg.JitterMs,
		MaxInflight: cfg.MaxInflight,
		StaleAfter:  time.Duration(cfg.StaleMin) * time.Minute,
		Verbose:     cfg.Verbose,
		JSONSummary: cfg.JSONSummary,
	})

	switch mode {
	case "ingest":
		runIngest(ctx, cfg, st, runner, daemon)

	case "sweep":
		n, err := runner.Sweep(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "sweep:", err)
			os.Exit(2)
		}
		fmt.Printf("sweep: reset=%d\n", n)

	case "reset-errors":
		n, err := st.ResetErrors(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "reset-errors:", err)
			os.Exit(2)
		}
		fmt.Printf("reset-errors: requeued=%d\n", n)

	case "enqueue":
		if source == "" || flag.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "enqueue requires --source and at least one URL argument")
			os.Exit(2)
		}
		var vin *string
		if vinArg != "" {
			vin = &vinArg
		}
		for _, u := range flag.Args() {
			if err := st.Enqueue(ctx, source, u, vin); err != nil {
				fmt.Fprintln(os.Stderr, "enqueue:", err)
				os.Exit(2)
			}
		}
		fmt.Printf("enqueue: source=%s urls=%d\n", source, flag.NArg())

	case "export":
		ls, err := st.Search(ctx, store.Filter{Model: model})
		if err != nil {
			fmt.Fprintln(os.Stderr, "export:", err)
			os.Exit(2)
		}
		if err := export.WriteCSVFile(outPath, ls); err != nil {
			fmt.Fprintln(os.Stderr, "export:", err)
			os.Exit(2)
		}
		fmt.Printf("export: rows=%d out=%s\n", len(ls), outPath)

	default:
		fmt.Fprintln(os.Stderr, "unknown --mode")
		os.Exit(2)
	}
}

func runIngest(ctx context.Context, cfg config.Config, st *store.Store, runner *ingest.Runner, daemon bool) {
	runOnce := func() {
		if _, err := runner.Sweep(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "sweep:", err)
		}
		runner.Run(ctx)
		if depth, err := st.QueueDepth(ctx); err == nil {
			fmt.Printf("queue: pending=%d processing=%d done=%d error=%d\n",
				depth["pending"], depth["processing"], depth["done"], depth["error"])
		}
	}

	runOnce()
	if !daemon {
		return
	}

	minSleep := time.Duration(cfg.DaemonMinSec) * time.Second
	maxSleep := time.Duration(cfg.DaemonMaxSec) * time.Second
	if maxSleep < minSleep {
		maxSleep = minSleep
	}
	for ctx.Err() == nil {
		sleep := minSleep
		if span := maxSleep - minSleep; span > 0 {
			sleep += time.Duration(rand.Int63n(int64(span)))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
		runOnce()
	}
}
