package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/brendanlim/porsche-sub005/listing"
	"github.com/brendanlim/porsche-sub005/sources"
	"github.com/brendanlim/porsche-sub005/store"
)

/* ========================= fakes ========================= */

type fakeResp struct {
	body   string
	status int
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]fakeResp
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	r, ok := f.pages[url]
	if !ok {
		return nil, 404, nil
	}
	return []byte(r.body), r.status, nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeStore struct {
	mu       sync.Mutex
	listings map[string]listing.Listing
	queue    []*listing.QueueItem
	history  map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listings: map[string]listing.Listing{},
		history:  map[string][]string{},
	}
}

func lkey(source, url string) string { return source + "|" + url }

func (f *fakeStore) addQueued(source, url string) *listing.QueueItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := &listing.QueueItem{
		ID:           uuid.NewString(),
		Source:       source,
		URL:          url,
		Status:       listing.QueuePending,
		DiscoveredAt: time.Now().Add(-time.Minute),
		UpdatedAt:    time.Now(),
	}
	f.queue = append(f.queue, it)
	f.history[it.ID] = []string{listing.QueuePending}
	return it
}

func (f *fakeStore) setStatus(it *listing.QueueItem, status string) {
	it.Status = status
	it.UpdatedAt = time.Now()
	f.history[it.ID] = append(f.history[it.ID], status)
}

func (f *fakeStore) UpsertListing(ctx context.Context, l *listing.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := lkey(l.Source, l.URL)
	if cur, ok := f.listings[k]; ok && cur.Sold() {
		// frozen row: backfill nulls only
		if cur.Mileage == nil {
			cur.Mileage = l.Mileage
		}
		if cur.VIN == nil {
			cur.VIN = l.VIN
		}
		cur.LastSeen = time.Now()
		f.listings[k] = cur
		return nil
	}
	f.listings[k] = *l
	return nil
}

func (f *fakeStore) GetBySourceURL(ctx context.Context, source, url string) (listing.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[lkey(source, url)]
	if !ok {
		return listing.Listing{}, store.ErrNotFound
	}
	return l, nil
}

func (f *fakeStore) SoldListingByVIN(ctx context.Context, vin string) (listing.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.listings {
		if l.VIN != nil && *l.VIN == vin && l.Sold() {
			return l, nil
		}
	}
	return listing.Listing{}, store.ErrNotFound
}

func (f *fakeStore) ClaimNext(ctx context.Context) (listing.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.queue {
		if it.Status == listing.QueuePending {
			now := time.Now()
			it.ClaimedAt = &now
			it.Attempts++
			f.setStatus(it, listing.QueueProcessing)
			return *it, nil
		}
	}
	return listing.QueueItem{}, store.ErrQueueEmpty
}

func (f *fakeStore) find(id string) *listing.QueueItem {
	for _, it := range f.queue {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (f *fakeStore) MarkDone(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.find(id)
	if it == nil || it.Status != listing.QueueProcessing {
		return store.ErrNotFound
	}
	it.Reason = nil
	f.setStatus(it, listing.QueueDone)
	return nil
}

func (f *fakeStore) MarkSkipped(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.find(id)
	if it == nil || it.Status != listing.QueueProcessing {
		return store.ErrNotFound
	}
	it.Reason = &reason
	f.setStatus(it, listing.QueueDone)
	return nil
}

func (f *fakeStore) MarkError(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.find(id)
	if it == nil || it.Status != listing.QueueProcessing {
		return store.ErrNotFound
	}
	it.Reason = &reason
	f.setStatus(it, listing.QueueError)
	return nil
}

func (f *fakeStore) Requeue(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.find(id)
	if it == nil || it.Status != listing.QueueProcessing {
		return store.ErrNotFound
	}
	it.Reason = &reason
	it.ClaimedAt = nil
	f.setStatus(it, listing.QueuePending)
	return nil
}

func (f *fakeStore) ResetStuck(ctx context.Context, staleAfter time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	cutoff := time.Now().Add(-staleAfter)
	for _, it := range f.queue {
		if it.Status == listing.QueueProcessing && it.ClaimedAt != nil && it.ClaimedAt.Before(cutoff) {
			it.ClaimedAt = nil
			f.setStatus(it, listing.QueuePending)
			n++
		}
	}
	return n, nil
}

/* ========================= fixtures ========================= */

const batSoldGT3 = `<html><body>
<h1 class="post-title">2008 Porsche 911 GT3</h1>
<div class="essentials"><ul>
<li>Chassis: WP0AC29988S792000</li>
<li>24k Miles</li>
<li>6-Speed Manual Transmission</li>
<li>Arctic Silver Metallic Paint</li>
<li>Black Leather Upholstery</li>
</ul></div>
<p>Sold for $95,000 on 2/12/24</p>
</body></html>`

const carscomActiveGT3 = `<html><body>
<h1 class="listing-title">2008 Porsche 911 GT3</h1>
<span class="primary-price">$98,500</span>
<dl class="fancy-description-list">
<dt>VIN</dt><dd>WP0AC29988S792000</dd>
<dt>Mileage</dt><dd>24,500 mi.</dd>
<dt>Transmission</dt><dd>6-Speed Manual</dd>
<dt>Exterior color</dt><dd>Silver</dd>
</dl>
</body></html>`

const carscomDelisted = `<html><body>
<h1 class="listing-title">2008 Porsche 911 GT3</h1>
<p>This car is no longer available.</p>
</body></html>`

func testOpts() Options {
	return Options{Workers: 1, MaxAttempts: 3, MinRPS: 200, MaxRPS: 200}
}

/* ========================= tests ========================= */

func TestDecide(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()

	dec, err := Decide(ctx, fs, listing.QueueItem{Source: "bat", URL: "https://x/1"})
	if err != nil || !dec.Fetch || dec.Reason != "new" {
		t.Fatalf("unknown url: dec=%+v err=%v", dec, err)
	}

	fs.listings[lkey("bat", "https://x/1")] = listing.Listing{
		Source: "bat", URL: "https://x/1", Status: listing.StatusActive,
	}
	dec, err = Decide(ctx, fs, listing.QueueItem{Source: "bat", URL: "https://x/1"})
	if err != nil || !dec.Fetch || dec.Reason != "refresh" {
		t.Fatalf("active url: dec=%+v err=%v", dec, err)
	}

	when := time.Now()
	fs.listings[lkey("bat", "https://x/1")] = listing.Listing{
		Source: "bat", URL: "https://x/1", Status: listing.StatusSold, SoldDate: &when,
	}
	dec, err = Decide(ctx, fs, listing.QueueItem{Source: "bat", URL: "https://x/1"})
	if err != nil || dec.Fetch || dec.Reason != "already_sold" {
		t.Fatalf("sold url: dec=%+v err=%v", dec, err)
	}
}

func TestRunIngestsSoldListing(t *testing.T) {
	fs := newFakeStore()
	ff := &fakeFetcher{pages: map[string]fakeResp{
		"https://bat.example/gt3": {body: batSoldGT3, status: 200},
	}}
	it := fs.addQueued("bat", "https://bat.example/gt3")

	r := NewRunner(fs, sources.NewRegistry(ff), testOpts())
	st := r.Run(context.Background())

	if st.Done != 1 || st.Errored != 0 || st.Skipped != 0 {
		t.Fatalf("stats = %+v", st)
	}
	l, ok := fs.listings[lkey("bat", "https://bat.example/gt3")]
	if !ok {
		t.Fatal("listing not stored")
	}
	if l.VIN == nil || *l.VIN != "WP0AC29988S792000" {
		t.Errorf("vin = %v", l.VIN)
	}
	if !l.Sold() || l.Price != 95000 {
		t.Errorf("sold=%v price=%d", l.Sold(), l.Price)
	}
	if l.Model != "911" || l.Trim != "GT3" || l.Generation != "997" {
		t.Errorf("identity = %s/%s/%s", l.Model, l.Trim, l.Generation)
	}
	want := []string{listing.QueuePending, listing.QueueProcessing, listing.QueueDone}
	got := fs.history[it.ID]
	if len(got) != len(want) {
		t.Fatalf("transitions = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
}

func TestRunSkipsSameVINSoldElsewhere(t *testing.T) {
	fs := newFakeStore()
	when := time.Date(2024, 2, 12, 0, 0, 0, 0, time.UTC)
	vin := "WP0AC29988S792000"
	fs.listings[lkey("bat", "https://bat.example/gt3")] = listing.Listing{
		ID: "prior", Source: "bat", URL: "https://bat.example/gt3",
		VIN: &vin, Model: "911", Trim: "GT3", Generation: "997", Year: 2008,
		Price: 95000, Status: listing.StatusSold, SoldDate: &when,
	}

	ff := &fakeFetcher{pages: map[string]fakeResp{
		"https://cars.example/gt3": {body: carscomActiveGT3, status: 200},
	}}
	fs.addQueued("carscom", "https://cars.example/gt3")

	r := NewRunner(fs, sources.NewRegistry(ff), testOpts())
	st := r.Run(context.Background())

	if st.Skipped != 1 || st.Done != 0 || st.Errored != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if _, ok := fs.listings[lkey("carscom", "https://cars.example/gt3")]; ok {
		t.Error("duplicate row recorded for a VIN already sold elsewhere")
	}
}

func TestRunSkipsAlreadySoldURLWithoutFetching(t *testing.T) {
	fs := newFakeStore()
	when := time.Now()
	fs.listings[lkey("bat", "https://bat.example/gt3")] = listing.Listing{
		Source: "bat", URL: "https://bat.example/gt3",
		Status: listing.StatusSold, SoldDate: &when,
	}
	ff := &fakeFetcher{pages: map[string]fakeResp{}}
	fs.addQueued("bat", "https://bat.example/gt3")

	r := NewRunner(fs, sources.NewRegistry(ff), testOpts())
	st := r.Run(context.Background())

	if st.Skipped != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if n := ff.fetchCount(); n != 0 {
		t.Errorf("fetch count = %d, want 0", n)
	}
	q := fs.queue[0]
	if q.Status != listing.QueueDone || q.Reason == nil || *q.Reason != "skipped: already_sold" {
		t.Errorf("queue item = %+v", q)
	}
}

func TestDecideSkipsKnownVINSoldElsewhere(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	when := time.Now()
	vin := "WP0AC29988S792000"
	fs.listings[lkey("bat", "https://bat.example/gt3")] = listing.Listing{
		Source: "bat", URL: "https://bat.example/gt3",
		VIN: &vin, Status: listing.StatusSold, SoldDate: &when,
	}

	dec, err := Decide(ctx, fs, listing.QueueItem{Source: "carscom", URL: "https://cars.example/gt3", VIN: &vin})
	if err != nil || dec.Fetch || dec.Reason != "vin_already_sold" {
		t.Fatalf("dec=%+v err=%v", dec, err)
	}

	// a VIN with no sold history does not block the fetch
	dec, err = Decide(ctx, fs, listing.QueueItem{Source: "carscom", URL: "https://cars.example/other", VIN: strPtr("WP0AB29878U780000")})
	if err != nil || !dec.Fetch {
		t.Fatalf("unrelated vin: dec=%+v err=%v", dec, err)
	}
}

func strPtr(s string) *string { return &s }

func TestTransientFailureRequeuesThenErrors(t *testing.T) {
	fs := newFakeStore()
	ff := &fakeFetcher{pages: map[string]fakeResp{
		"https://bat.example/down": {body: "", status: 503},
	}}
	it := fs.addQueued("bat", "https://bat.example/down")

	opts := testOpts()
	opts.MaxAttempts = 2
	r := NewRunner(fs, sources.NewRegistry(ff), opts)
	st := r.Run(context.Background())

	if st.Requeued != 1 || st.Errored != 1 {
		t.Fatalf("stats = %+v", st)
	}
	q := fs.find(it.ID)
	if q.Status != listing.QueueError {
		t.Errorf("status = %s", q.Status)
	}
	if q.Reason == nil || !strings.Contains(*q.Reason, "503") {
		t.Errorf("reason = %v", q.Reason)
	}
	if q.Attempts != 2 {
		t.Errorf("attempts = %d", q.Attempts)
	}
}

func TestSoldWithoutDateIsTerminal(t *testing.T) {
	fs := newFakeStore()
	ff := &fakeFetcher{pages: map[string]fakeResp{
		"https://cars.example/gone": {body: carscomDelisted, status: 200},
	}}
	it := fs.addQueued("carscom", "https://cars.example/gone")

	r := NewRunner(fs, sources.NewRegistry(ff), testOpts())
	st := r.Run(context.Background())

	if st.Errored != 1 || st.Requeued != 0 {
		t.Fatalf("stats = %+v", st)
	}
	q := fs.find(it.ID)
	if q.Reason == nil || *q.Reason != "sold_without_date" {
		t.Errorf("reason = %v", q.Reason)
	}
}

func TestSweepRecoversStuckItems(t *testing.T) {
	fs := newFakeStore()
	it := fs.addQueued("bat", "https://bat.example/stuck")
	fs.mu.Lock()
	old := time.Now().Add(-time.Hour)
	it.ClaimedAt = &old
	fs.setStatus(it, listing.QueueProcessing)
	fs.mu.Unlock()

	opts := testOpts()
	opts.StaleAfter = 15 * time.Minute
	r := NewRunner(fs, sources.NewRegistry(&fakeFetcher{pages: map[string]fakeResp{}}), opts)

	n, err := r.Sweep(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v", n, err)
	}
	if fs.find(it.ID).Status != listing.QueuePending {
		t.Errorf("status = %s", fs.find(it.ID).Status)
	}
}
