// Package sources binds each marketplace to its field extractor and an
// injected fetch capability. Adapters orchestrate one listing fetch; all
// transport mechanics (proxies, headers, rate shaping) live behind Fetcher.
package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/brendanlim/porsche-sub005/extract"
	"github.com/brendanlim/porsche-sub005/listing"
)

// Fetcher retrieves one page. Implementations are supplied by the caller;
// the pipeline treats the response as an opaque blob plus status code.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (body []byte, httpStatus int, err error)
}

// FetchError distinguishes transient transport failures (retryable) from
// terminal ones.
type FetchError struct {
	URL       string
	Status    int
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: http=%d transient=%v: %v", e.URL, e.Status, e.Transient, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Adapter produces a draft listing for one URL of one source.
type Adapter struct {
	name      string
	fetcher   Fetcher
	extractor extract.Extractor
	now       func() time.Time
}

func NewAdapter(name string, f Fetcher, e extract.Extractor) *Adapter {
	return &Adapter{name: name, fetcher: f, extractor: e, now: time.Now}
}

func (a *Adapter) Name() string { return a.name }

// FetchListing fetches one listing page and runs extraction. Transport
// failures and throttle/5xx statuses come back as transient FetchErrors
// so the queue can retry; extraction failures are terminal for the URL.
func (a *Adapter) FetchListing(ctx context.Context, url string) (listing.Draft, error) {
	body, status, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		return listing.Draft{}, &FetchError{URL: url, Status: status, Transient: true, Err: err}
	}
	switch {
	case status >= 200 && status < 300:
		// fall through to extraction
	case status == http.StatusTooManyRequests || status >= 500:
		return listing.Draft{}, &FetchError{URL: url, Status: status, Transient: true, Err: fmt.Errorf("upstream status %d", status)}
	default:
		return listing.Draft{}, &FetchError{URL: url, Status: status, Transient: false, Err: fmt.Errorf("upstream status %d", status)}
	}

	ex, err := a.extractor.Extract(body)
	if err != nil {
		return listing.Draft{}, fmt.Errorf("extract %s %s: %w", a.name, url, err)
	}
	return listing.Draft{
		Source:    a.name,
		URL:       url,
		Extracted: ex,
		FetchedAt: a.now().UTC(),
	}, nil
}

// Registry maps source names to adapters.
type Registry map[string]*Adapter

// NewRegistry wires the known sources against one shared fetcher.
func NewRegistry(f Fetcher) Registry {
	r := Registry{}
	for _, e := range []extract.Extractor{extract.BaT{}, extract.CarsAndBids{}, extract.CarsCom{}} {
		r[e.Source()] = NewAdapter(e.Source(), f, e)
	}
	return r
}

// Lookup returns the adapter for a source name.
func (r Registry) Lookup(source string) (*Adapter, error) {
	a, ok := r[source]
	if !ok {
		return nil, fmt.Errorf("no adapter for source %q", source)
	}
	return a, nil
}
