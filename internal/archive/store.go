package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000

	// timeFormat is fixed-width so stored timestamps sort lexically.
	timeFormat = "2006-01-02T15:04:05.000000000Z"
)

// Sample is one recorded observation of a process variable.
type Sample struct {
	ID         int64     `json:"id"`
	Device     string    `json:"device"`
	Field      string    `json:"field"`
	Tag        string    `json:"tag"`
	Value      string    `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// Query filters a sample lookup. Device and Field are required;
// the time bounds are optional.
type Query struct {
	Device string
	Field  string

	// Since, when non-zero, excludes samples observed before it.
	Since time.Time

	// Until, when non-zero, excludes samples observed after it.
	Until time.Time

	// Limit caps the number of rows returned (default 100, max 1000).
	Limit int
}

// Store persists process variable samples in the pv_samples table.
//
// All methods are safe for concurrent use; SQLite serialises writes
// through the single-writer connection pool.
type Store struct {
	db *sql.DB
}

// NewStore creates a sample store on an open database connection.
// The pv_samples table must already exist (run migrations first).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordSample appends one observation to the archive.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - device: Record name prefix, e.g. "mot1:ax1"
//   - field: Field suffix, e.g. ".RBV"
//   - tag: Encoding tag of the value ("d", "l", "A40_c", ...)
//   - value: Rendered text form of the value
//   - observed: When the value was seen
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (s *Store) RecordSample(ctx context.Context, device, field, tag, value string, observed time.Time) error {
	if device == "" || field == "" {
		return fmt.Errorf("%w: device and field are required", ErrInvalidSample)
	}
	if observed.IsZero() {
		observed = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO pv_samples (device, field, tag, value, observed_at) VALUES (?, ?, ?, ?, ?)",
		device,
		field,
		tag,
		value,
		observed.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting sample: %w", err)
	}

	return nil
}

// Samples returns recorded observations matching the query,
// ordered newest first.
func (s *Store) Samples(ctx context.Context, q Query) ([]Sample, error) {
	if q.Device == "" || q.Field == "" {
		return nil, fmt.Errorf("%w: device and field are required", ErrInvalidQuery)
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return nil, fmt.Errorf("%w: until precedes since", ErrInvalidQuery)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	query := `SELECT id, device, field, tag, value, observed_at
	 FROM pv_samples
	 WHERE device = ? AND field = ?`
	args := []any{q.Device, q.Field}

	if !q.Since.IsZero() {
		query += " AND observed_at >= ?"
		args = append(args, q.Since.UTC().Format(timeFormat))
	}
	if !q.Until.IsZero() {
		query += " AND observed_at <= ?"
		args = append(args, q.Until.UTC().Format(timeFormat))
	}

	query += " ORDER BY observed_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	samples := make([]Sample, 0, limit)
	for rows.Next() {
		var sm Sample
		var observedAt string

		if err := rows.Scan(&sm.ID, &sm.Device, &sm.Field, &sm.Tag, &sm.Value, &observedAt); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}

		ts, err := parseSampleTimestamp(observedAt)
		if err != nil {
			return nil, err
		}
		sm.ObservedAt = ts

		samples = append(samples, sm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating samples: %w", err)
	}

	return samples, nil
}

// Latest returns the most recent sample for one process variable,
// or ErrNoSamples wrapped when nothing has been recorded.
func (s *Store) Latest(ctx context.Context, device, field string) (Sample, error) {
	samples, err := s.Samples(ctx, Query{Device: device, Field: field, Limit: 1})
	if err != nil {
		return Sample{}, err
	}
	if len(samples) == 0 {
		return Sample{}, fmt.Errorf("%w: %s%s", ErrNoSamples, device, field)
	}
	return samples[0], nil
}

// Prune deletes samples older than the given retention window.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: retention window must be positive", ErrInvalidQuery)
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeFormat)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM pv_samples WHERE observed_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting samples: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseSampleTimestamp parses a timestamp stored in SQLite.
func parseSampleTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("observed_at is empty")
	}

	ts, err := time.Parse(timeFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing observed_at: %w", err)
	}

	return ts, nil
}
