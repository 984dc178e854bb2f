// Package ingest drives the pipeline: claim queued URLs, fetch and
// extract through the per-source adapters, resolve identity, and write
// canonical rows. Dedup decisions are made against the database before
// any network fetch so a sold listing is never re-fetched.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brendanlim/porsche-sub005/extract"
	"github.com/brendanlim/porsche-sub005/identity"
	"github.com/brendanlim/porsche-sub005/listing"
	"github.com/brendanlim/porsche-sub005/sources"
	"github.com/brendanlim/porsche-sub005/store"
)

// Store is the persistence surface the runner needs. *store.Store
// satisfies it; tests substitute a fake.
type Store interface {
	UpsertListing(ctx context.Context, l *listing.Listing) error
	GetBySourceURL(ctx context.Context, source, url string) (listing.Listing, error)
	SoldListingByVIN(ctx context.Context, vin string) (listing.Listing, error)
	ClaimNext(ctx context.Context) (listing.QueueItem, error)
	MarkDone(ctx context.Context, id string) error
	MarkSkipped(ctx context.Context, id, reason string) error
	MarkError(ctx context.Context, id, reason string) error
	Requeue(ctx context.Context, id, reason string) error
	ResetStuck(ctx context.Context, staleAfter time.Duration) (int, error)
}

// Decision says whether a queue item should be fetched at all.
type Decision struct {
	Fetch  bool
	Reason string
}

// Decide applies the pre-fetch dedup rules. A (source, url) pair whose
// canonical row is already sold with a sale date is final and is never
// fetched again; the same goes for a queue item whose known VIN is
// already a sold row somewhere else. Anything else (unknown, active,
// sold-without-date) gets fetched.
func Decide(ctx context.Context, st Store, it listing.QueueItem) (Decision, error) {
	cur, err := st.GetBySourceURL(ctx, it.Source, it.URL)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Decision{}, err
	}
	if err == nil && cur.Sold() {
		return Decision{Fetch: false, Reason: "already_sold"}, nil
	}
	if it.VIN != nil {
		prev, verr := st.SoldListingByVIN(ctx, *it.VIN)
		if verr != nil && !errors.Is(verr, store.ErrNotFound) {
			return Decision{}, verr
		}
		if verr == nil && (prev.Source != it.Source || prev.URL != it.URL) {
			return Decision{Fetch: false, Reason: "vin_already_sold"}, nil
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return Decision{Fetch: true, Reason: "new"}, nil
	}
	return Decision{Fetch: true, Reason: "refresh"}, nil
}

// Options tunes a run.
type Options struct {
	Workers     int
	MaxAttempts int
	MinRPS      float64
	MaxRPS      float64
	JitterMs    int
	MaxInflight int
	StaleAfter  time.Duration
	Verbose     bool
	JSONSummary bool
}

func (o *Options) defaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.MinRPS <= 0 {
		o.MinRPS = 0.5
	}
	if o.MaxRPS <= 0 {
		o.MaxRPS = 2.0
	}
	if o.MaxInflight <= 0 {
		o.MaxInflight = 2
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 15 * time.Minute
	}
}

// Stats accumulates one run's outcome counts.
type Stats struct {
	Claimed  int64 `json:"claimed"`
	Done     int64 `json:"done"`
	Skipped  int64 `json:"skipped"`
	Requeued int64 `json:"requeued"`
	Errored  int64 `json:"errored"`
	Warnings int64 `json:"warnings"`
}

type Runner struct {
	st       Store
	registry sources.Registry
	limiters *limiterSet
	opts     Options
}

func NewRunner(st Store, reg sources.Registry, opts Options) *Runner {
	opts.defaults()
	return &Runner{
		st:       st,
		registry: reg,
		limiters: newLimiterSet(opts.MinRPS, opts.MaxRPS, opts.JitterMs, opts.MaxInflight),
		opts:     opts,
	}
}

// Run drains the pending queue with a worker pool and returns when the
// queue is empty or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) Stats {
	start := time.Now()
	var st Stats

	var wg sync.WaitGroup
	wg.Add(r.opts.Workers)
	for w := 0; w < r.opts.Workers; w++ {
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				item, err := r.st.ClaimNext(ctx)
				if errors.Is(err, store.ErrQueueEmpty) {
					return
				}
				if err != nil {
					log.Printf("[claim_err] %v", err)
					return
				}
				atomic.AddInt64(&st.Claimed, 1)
				r.process(ctx, item, &st)
			}
		}()
	}
	wg.Wait()

	fmt.Printf("OK claimed=%d done=%d skipped=%d requeued=%d errored=%d warnings=%d elapsed=%s\n",
		st.Claimed, st.Done, st.Skipped, st.Requeued, st.Errored, st.Warnings,
		time.Since(start).Round(time.Millisecond))
	if r.opts.JSONSummary {
		if b, err := json.Marshal(st); err == nil {
			fmt.Println(string(b))
		}
	}
	return st
}

// process runs one claimed item to a terminal queue state.
func (r *Runner) process(ctx context.Context, it listing.QueueItem, st *Stats) {
	dec, err := Decide(ctx, r.st, it)
	if err != nil {
		r.fail(ctx, it, st, fmt.Sprintf("dedup check: %v", err))
		return
	}
	if !dec.Fetch {
		r.skip(ctx, it, st, dec.Reason)
		return
	}

	adapter, err := r.registry.Lookup(it.Source)
	if err != nil {
		r.fail(ctx, it, st, fmt.Sprintf("unknown source %q", it.Source))
		return
	}

	// Per-source fetch budget: a token from the adaptive bucket plus an
	// in-flight slot, so one slow source cannot absorb the whole pool.
	lim := r.limiters.For(it.Source)
	if !lim.Take(ctx) {
		// cancelled while waiting; leave the item for the stuck sweep
		return
	}
	if !lim.Enter(ctx) {
		return
	}
	draft, err := adapter.FetchListing(ctx, it.URL)
	lim.Leave()
	if err != nil {
		r.fetchFailed(ctx, it, st, err)
		return
	}

	resolved, warns, err := identity.Resolve(draft)
	if err != nil {
		r.fail(ctx, it, st, fmt.Sprintf("resolve: %v", err))
		return
	}
	atomic.AddInt64(&st.Warnings, int64(len(warns)))
	if r.opts.Verbose {
		for _, w := range warns {
			log.Printf("[warn] source=%s url=%s code=%s detail=%s", it.Source, it.URL, w.Code, w.Detail)
		}
	}

	// Cross-source dedup: a VIN already sold under a different URL is
	// the same car; a second row for it would double-count the sale.
	if resolved.VIN != nil {
		prev, err := r.st.SoldListingByVIN(ctx, *resolved.VIN)
		if err == nil && (prev.Source != it.Source || prev.URL != it.URL) {
			r.skip(ctx, it, st, "vin_already_sold")
			return
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			r.fail(ctx, it, st, fmt.Sprintf("vin check: %v", err))
			return
		}
	}

	if err := r.st.UpsertListing(ctx, &resolved); err != nil {
		r.fetchFailed(ctx, it, st, err)
		return
	}
	r.done(ctx, it, st)
}

// fetchFailed routes an error to requeue or terminal error. Transient
// fetch failures retry until the attempt budget runs out; everything
// else is terminal immediately.
func (r *Runner) fetchFailed(ctx context.Context, it listing.QueueItem, st *Stats, err error) {
	var fe *sources.FetchError
	if errors.As(err, &fe) {
		if fe.Status == 429 {
			r.limiters.For(it.Source).Penalize(30 * time.Second)
		}
		if fe.Transient && it.Attempts < r.opts.MaxAttempts {
			atomic.AddInt64(&st.Requeued, 1)
			if qerr := r.st.Requeue(ctx, it.ID, err.Error()); qerr != nil {
				log.Printf("[queue_err] requeue id=%s: %v", it.ID, qerr)
			}
			return
		}
	}
	if errors.Is(err, extract.ErrSoldWithoutDate) {
		r.fail(ctx, it, st, "sold_without_date")
		return
	}
	r.fail(ctx, it, st, err.Error())
}

func (r *Runner) done(ctx context.Context, it listing.QueueItem, st *Stats) {
	atomic.AddInt64(&st.Done, 1)
	if err := r.st.MarkDone(ctx, it.ID); err != nil {
		log.Printf("[queue_err] done id=%s: %v", it.ID, err)
	}
}

func (r *Runner) skip(ctx context.Context, it listing.QueueItem, st *Stats, reason string) {
	atomic.AddInt64(&st.Skipped, 1)
	if r.opts.Verbose {
		log.Printf("[skip] source=%s url=%s reason=%s", it.Source, it.URL, reason)
	}
	if err := r.st.MarkSkipped(ctx, it.ID, "skipped: "+reason); err != nil {
		log.Printf("[queue_err] skip id=%s: %v", it.ID, err)
	}
}

func (r *Runner) fail(ctx context.Context, it listing.QueueItem, st *Stats, reason string) {
	atomic.AddInt64(&st.Errored, 1)
	if len(reason) > 300 {
		reason = reason[:300]
	}
	if err := r.st.MarkError(ctx, it.ID, reason); err != nil {
		log.Printf("[queue_err] error id=%s: %v", it.ID, err)
	}
}

// Sweep recovers items abandoned in processing by a crashed worker.
func (r *Runner) Sweep(ctx context.Context) (int, error) {
	n, err := r.st.ResetStuck(ctx, r.opts.StaleAfter)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[sweep] reset=%d stale_after=%s", n, r.opts.StaleAfter)
	}
	return n, nil
}
