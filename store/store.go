// Package store is the persistence layer: canonical listings and the
// ingest queue, both in Postgres via pgx. The database is the single
// source of truth for listing uniqueness ((source, url)) and for queue
// status transitions; nothing above this layer caches existence.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brendanlim/porsche-sub005/listing"
)

// ErrNotFound is returned by point lookups with no matching row.
var ErrNotFound = errors.New("not found")

var safeIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type Store struct {
	pool   *pgxpool.Pool
	schema string
}

// Open connects a pool and validates the schema name (it is interpolated
// into SQL, so it must be a bare identifier).
func Open(ctx context.Context, dsn, schema string, maxConns int32) (*Store, error) {
	if !safeIdentRE.MatchString(schema) {
		return nil, fmt.Errorf("unsafe schema name %q", schema)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Store{pool: pool, schema: schema}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) table(name string) string {
	return fmt.Sprintf(`"%s".%s`, s.schema, name)
}

// EnsureSchema creates the schema and tables when missing, so a fresh
// database self-initializes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id             text PRIMARY KEY,
			source         text NOT NULL,
			url            text NOT NULL,
			vin            text,
			model          text NOT NULL,
			trim           text NOT NULL DEFAULT '',
			generation     text NOT NULL DEFAULT '',
			year           int  NOT NULL,
			price          int  NOT NULL,
			mileage        int,
			exterior_color text,
			interior_color text,
			transmission   text,
			status         text NOT NULL DEFAULT 'active',
			sold_date      timestamptz,
			first_seen     timestamptz NOT NULL DEFAULT now(),
			last_seen      timestamptz NOT NULL DEFAULT now(),
			UNIQUE (source, url)
		)`, s.table("listings")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS listings_vin_idx ON %s (vin) WHERE vin IS NOT NULL`, s.table("listings")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id            text PRIMARY KEY,
			source        text NOT NULL,
			url           text NOT NULL,
			vin           text,
			status        text NOT NULL DEFAULT 'pending',
			reason        text,
			attempts      int  NOT NULL DEFAULT 0,
			discovered_at timestamptz NOT NULL DEFAULT now(),
			claimed_at    timestamptz,
			updated_at    timestamptz NOT NULL DEFAULT now(),
			UNIQUE (source, url)
		)`, s.table("ingest_queue")),
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

/* ========================= Listings ========================= */

// UpsertListing inserts or updates the row keyed by (source, url).
// Sold rows are immutable except for backfill of previously-null optional
// fields; that rule is enforced here, in SQL, not left to callers.
func (s *Store) UpsertListing(ctx context.Context, l *listing.Listing) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	frozen := `%[1]s.status = 'sold' AND %[1]s.sold_date IS NOT NULL`
	frozen = fmt.Sprintf(frozen, s.table("listings"))

	q := fmt.Sprintf(`INSERT INTO %[1]s
		(id, source, url, vin, model, trim, generation, year, price, mileage,
		 exterior_color, interior_color, transmission, status, sold_date, first_seen, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (source, url) DO UPDATE SET
		 vin            = COALESCE(%[1]s.vin, EXCLUDED.vin),
		 mileage        = COALESCE(%[1]s.mileage, EXCLUDED.mileage),
		 exterior_color = COALESCE(%[1]s.exterior_color, EXCLUDED.exterior_color),
		 interior_color = COALESCE(%[1]s.interior_color, EXCLUDED.interior_color),
		 transmission   = COALESCE(%[1]s.transmission, EXCLUDED.transmission),
		 model      = CASE WHEN %[2]s THEN %[1]s.model      ELSE EXCLUDED.model      END,
		 trim       = CASE WHEN %[2]s THEN %[1]s.trim       ELSE EXCLUDED.trim       END,
		 generation = CASE WHEN %[2]s THEN %[1]s.generation ELSE EXCLUDED.generation END,
		 year       = CASE WHEN %[2]s THEN %[1]s.year       ELSE EXCLUDED.year       END,
		 price      = CASE WHEN %[2]s THEN %[1]s.price      ELSE EXCLUDED.price      END,
		 status     = CASE WHEN %[2]s THEN %[1]s.status     ELSE EXCLUDED.status     END,
		 sold_date  = CASE WHEN %[2]s THEN %[1]s.sold_date  ELSE EXCLUDED.sold_date  END,
		 last_seen  = now()`,
		s.table("listings"), frozen)

	_, err := s.pool.Exec(ctx, q,
		l.ID, l.Source, l.URL, l.VIN, l.Model, l.Trim, l.Generation, l.Year,
		l.Price, l.Mileage, l.ExteriorColor, l.InteriorColor, l.Transmission,
		l.Status, l.SoldDate, l.FirstSeen, l.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert listing %s/%s: %w", l.Source, l.URL, err)
	}
	return nil
}

const listingCols = `id, source, url, vin, model, trim, generation, year, price, mileage,
	exterior_color, interior_color, transmission, status, sold_date, first_seen, last_seen`

func scanListing(row pgx.Row) (listing.Listing, error) {
	var l listing.Listing
	err := row.Scan(&l.ID, &l.Source, &l.URL, &l.VIN, &l.Model, &l.Trim,
		&l.Generation, &l.Year, &l.Price, &l.Mileage, &l.ExteriorColor,
		&l.InteriorColor, &l.Transmission, &l.Status, &l.SoldDate,
		&l.FirstSeen, &l.LastSeen)
	return l, err
}

// GetBySourceURL fetches the canonical row for one source URL.
func (s *Store) GetBySourceURL(ctx context.Context, source, url string) (listing.Listing, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE source=$1 AND url=$2`, listingCols, s.table("listings"))
	l, err := scanListing(s.pool.QueryRow(ctx, q, source, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return listing.Listing{}, ErrNotFound
	}
	if err != nil {
		return listing.Listing{}, fmt.Errorf("get %s/%s: %w", source, url, err)
	}
	return l, nil
}

// SoldListingByVIN finds a sold row carrying this VIN under any URL.
func (s *Store) SoldListingByVIN(ctx context.Context, vin string) (listing.Listing, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s
		WHERE vin=$1 AND status='sold' AND sold_date IS NOT NULL
		ORDER BY sold_date DESC LIMIT 1`, listingCols, s.table("listings"))
	l, err := scanListing(s.pool.QueryRow(ctx, q, vin))
	if errors.Is(err, pgx.ErrNoRows) {
		return listing.Listing{}, ErrNotFound
	}
	if err != nil {
		return listing.Listing{}, fmt.Errorf("sold by vin %s: %w", vin, err)
	}
	return l, nil
}

/* ========================= Query surface ========================= */

// Filter narrows Search and Aggregate. Zero values mean "no constraint".
type Filter struct {
	Model      string
	Trim       string
	Generation string
	Source     string
	MinPrice   int
	MaxPrice   int
	SoldFrom   time.Time
	SoldTo     time.Time
	Limit      int
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Model != "" {
		add("model = $%d", f.Model)
	}
	if f.Trim != "" {
		add("trim = $%d", f.Trim)
	}
	if f.Generation != "" {
		add("generation = $%d", f.Generation)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.MinPrice > 0 {
		add("price >= $%d", f.MinPrice)
	}
	if f.MaxPrice > 0 {
		add("price <= $%d", f.MaxPrice)
	}
	if !f.SoldFrom.IsZero() {
		add("sold_date >= $%d", f.SoldFrom)
	}
	if !f.SoldTo.IsZero() {
		add("sold_date <= $%d", f.SoldTo)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Search returns listings matching the filter, newest last-seen first.
func (s *Store) Search(ctx context.Context, f Filter) ([]listing.Listing, error) {
	where, args := f.where()
	q := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY last_seen DESC`, listingCols, s.table("listings"), where)
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []listing.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Stats is the aggregate view consumed by downstream reporting.
type Stats struct {
	Count    int     `json:"count"`
	AvgPrice float64 `json:"avg_price"`
}

// Aggregate returns count and average price over the filtered set.
func (s *Store) Aggregate(ctx context.Context, f Filter) (Stats, error) {
	where, args := f.where()
	q := fmt.Sprintf(`SELECT COUNT(*), COALESCE(AVG(price),0) FROM %s%s`, s.table("listings"), where)
	var st Stats
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&st.Count, &st.AvgPrice); err != nil {
		return Stats{}, fmt.Errorf("aggregate: %w", err)
	}
	return st, nil
}
