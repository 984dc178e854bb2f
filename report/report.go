// Package report serves the read-only query API over canonical listings.
package report

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brendanlim/porsche-sub005/listing"
	"github.com/brendanlim/porsche-sub005/store"
)

// Querier is the read surface the handlers need.
type Querier interface {
	Search(ctx context.Context, f store.Filter) ([]listing.Listing, error)
	Aggregate(ctx context.Context, f store.Filter) (store.Stats, error)
}

// Router builds the HTTP routes.
func Router(q Querier) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/listings", func(w http.ResponseWriter, req *http.Request) {
		f := filterFromQuery(req)
		if f.Limit <= 0 || f.Limit > 1000 {
			f.Limit = 200
		}
		ls, err := q.Search(req.Context(), f)
		if err != nil {
			log.Printf("[api_err] listings: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		if ls == nil {
			ls = []listing.Listing{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"listings": ls})
	})
	r.Get("/api/stats", func(w http.ResponseWriter, req *http.Request) {
		st, err := q.Aggregate(req.Context(), filterFromQuery(req))
		if err != nil {
			log.Printf("[api_err] stats: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		writeJSON(w, http.StatusOK, st)
	})
	return r
}

func filterFromQuery(req *http.Request) store.Filter {
	qv := req.URL.Query()
	f := store.Filter{
		Model:      qv.Get("model"),
		Trim:       qv.Get("trim"),
		Generation: qv.Get("generation"),
		Source:     qv.Get("source"),
	}
	if n, err := strconv.Atoi(qv.Get("min_price")); err == nil {
		f.MinPrice = n
	}
	if n, err := strconv.Atoi(qv.Get("max_price")); err == nil {
		f.MaxPrice = n
	}
	if n, err := strconv.Atoi(qv.Get("limit")); err == nil {
		f.Limit = n
	}
	if t, err := time.Parse("2006-01-02", qv.Get("sold_from")); err == nil {
		f.SoldFrom = t
	}
	if t, err := time.Parse("2006-01-02", qv.Get("sold_to")); err == nil {
		f.SoldTo = t
	}
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api_err] encode: %v", err)
	}
}
