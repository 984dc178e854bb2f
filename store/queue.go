package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/brendanlim/porsche-sub005/listing"
)

// ErrQueueEmpty is returned by ClaimNext when no pending item exists.
var ErrQueueEmpty = errors.New("queue empty")

// Enqueue records a discovered URL, with the VIN when discovery already
// knows it. Re-discovery of a URL already queued (in any state) is a
// no-op so sources can re-submit freely.
func (s *Store) Enqueue(ctx context.Context, source, url string, vin *string) error {
	q := fmt.Sprintf(`INSERT INTO %s (id, source, url, vin)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (source, url) DO NOTHING`, s.table("ingest_queue"))
	if _, err := s.pool.Exec(ctx, q, uuid.NewString(), source, url, vin); err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", source, url, err)
	}
	return nil
}

const queueCols = `id, source, url, vin, status, reason, attempts, discovered_at, claimed_at, updated_at`

func scanQueueItem(row pgx.Row) (listing.QueueItem, error) {
	var it listing.QueueItem
	err := row.Scan(&it.ID, &it.Source, &it.URL, &it.VIN, &it.Status, &it.Reason,
		&it.Attempts, &it.DiscoveredAt, &it.ClaimedAt, &it.UpdatedAt)
	return it, err
}

// ClaimNext atomically moves the oldest pending item to processing and
// returns it. SKIP LOCKED keeps concurrent workers from claiming the
// same row; each item is handed to exactly one worker.
func (s *Store) ClaimNext(ctx context.Context) (listing.QueueItem, error) {
	q := fmt.Sprintf(`UPDATE %[1]s SET
			status = 'processing',
			claimed_at = now(),
			updated_at = now(),
			attempts = attempts + 1
		WHERE id = (
			SELECT id FROM %[1]s
			WHERE status = 'pending'
			ORDER BY discovered_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueCols, s.table("ingest_queue"))
	it, err := scanQueueItem(s.pool.QueryRow(ctx, q))
	if errors.Is(err, pgx.ErrNoRows) {
		return listing.QueueItem{}, ErrQueueEmpty
	}
	if err != nil {
		return listing.QueueItem{}, fmt.Errorf("claim: %w", err)
	}
	return it, nil
}

// MarkDone finishes a processing item successfully.
func (s *Store) MarkDone(ctx context.Context, id string) error {
	q := fmt.Sprintf(`UPDATE %s SET status='done', reason=NULL, updated_at=now()
		WHERE id=$1 AND status='processing'`, s.table("ingest_queue"))
	return s.exec1(ctx, q, id)
}

// MarkSkipped finishes a processing item without a fetch, retaining the
// skip reason for audits.
func (s *Store) MarkSkipped(ctx context.Context, id, reason string) error {
	q := fmt.Sprintf(`UPDATE %s SET status='done', reason=$2, updated_at=now()
		WHERE id=$1 AND status='processing'`, s.table("ingest_queue"))
	return s.exec1(ctx, q, id, reason)
}

// MarkError terminally fails a processing item with a reason.
func (s *Store) MarkError(ctx context.Context, id, reason string) error {
	q := fmt.Sprintf(`UPDATE %s SET status='error', reason=$2, updated_at=now()
		WHERE id=$1 AND status='processing'`, s.table("ingest_queue"))
	return s.exec1(ctx, q, id, reason)
}

// Requeue returns a processing item to pending after a transient failure.
// The attempt already counted at claim time stays counted.
func (s *Store) Requeue(ctx context.Context, id, reason string) error {
	q := fmt.Sprintf(`UPDATE %s SET status='pending', reason=$2, claimed_at=NULL, updated_at=now()
		WHERE id=$1 AND status='processing'`, s.table("ingest_queue"))
	return s.exec1(ctx, q, id, reason)
}

func (s *Store) exec1(ctx context.Context, q string, args ...any) error {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no processing row matched")
	}
	return nil
}

// ResetStuck returns items that have sat in processing longer than
// staleAfter to pending. A crashed worker leaves its claims behind;
// this sweep recovers them. Returns how many were reset.
func (s *Store) ResetStuck(ctx context.Context, staleAfter time.Duration) (int, error) {
	q := fmt.Sprintf(`UPDATE %s SET status='pending', claimed_at=NULL, updated_at=now()
		WHERE status='processing' AND claimed_at < now() - $1::interval`,
		s.table("ingest_queue"))
	tag, err := s.pool.Exec(ctx, q, fmt.Sprintf("%d seconds", int(staleAfter.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("reset stuck: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ResetErrors moves every terminally-errored item back to pending for a
// manual retry pass. Attempts are zeroed so the retry budget restarts.
func (s *Store) ResetErrors(ctx context.Context) (int, error) {
	q := fmt.Sprintf(`UPDATE %s SET status='pending', reason=NULL, attempts=0, claimed_at=NULL, updated_at=now()
		WHERE status='error'`, s.table("ingest_queue"))
	tag, err := s.pool.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("reset errors: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// QueueDepth reports pending/processing/done/error counts for summaries.
func (s *Store) QueueDepth(ctx context.Context) (map[string]int, error) {
	q := fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, s.table("ingest_queue"))
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("queue depth: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}
