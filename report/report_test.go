package report

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brendanlim/porsche-sub005/listing"
	"github.com/brendanlim/porsche-sub005/store"
)

type fakeQuerier struct {
	lastFilter store.Filter
	listings   []listing.Listing
	stats      store.Stats
}

func (f *fakeQuerier) Search(_ context.Context, fl store.Filter) ([]listing.Listing, error) {
	f.lastFilter = fl
	return f.listings, nil
}

func (f *fakeQuerier) Aggregate(_ context.Context, fl store.Filter) (store.Stats, error) {
	f.lastFilter = fl
	return f.stats, nil
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/health", nil)
	Router(&fakeQuerier{}).ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListingsFilterParsing(t *testing.T) {
	fq := &fakeQuerier{listings: []listing.Listing{{ID: "a", Model: "911"}}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET",
		"/api/listings?model=911&trim=GT3&generation=997&min_price=50000&max_price=150000&sold_from=2024-01-01&limit=10", nil)
	Router(fq).ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	f := fq.lastFilter
	if f.Model != "911" || f.Trim != "GT3" || f.Generation != "997" {
		t.Errorf("filter = %+v", f)
	}
	if f.MinPrice != 50000 || f.MaxPrice != 150000 || f.Limit != 10 {
		t.Errorf("filter = %+v", f)
	}
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !f.SoldFrom.Equal(want) {
		t.Errorf("sold_from = %v", f.SoldFrom)
	}

	var body struct {
		Listings []listing.Listing `json:"listings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Listings) != 1 || body.Listings[0].Model != "911" {
		t.Errorf("body = %+v", body)
	}
}

func TestStats(t *testing.T) {
	fq := &fakeQuerier{stats: store.Stats{Count: 7, AvgPrice: 81234.5}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/stats?model=911", nil)
	Router(fq).ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var st store.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Count != 7 || st.AvgPrice != 81234.5 {
		t.Errorf("stats = %+v", st)
	}
	if fq.lastFilter.Model != "911" {
		t.Errorf("filter = %+v", fq.lastFilter)
	}
}
