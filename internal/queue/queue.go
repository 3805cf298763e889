package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/utils"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - pending_location_points as shipped on the first devices
// 1 - added accuracy_mode
const currentSchemaVersion = 1

// ackChunkSize keeps IN lists well below SQLite's bound parameter limit.
const ackChunkSize = 500

// ClearScope selects which rows Clear removes.
type ClearScope int

const (
	// ClearDelivered removes only rows already acknowledged by the backend.
	ClearDelivered ClearScope = iota
	// ClearAll removes every row, including undelivered ones.
	ClearAll
)

// Queue is the durable on-device staging area for captured samples.
// All writes go through a single SQLite connection.
type Queue struct {
	db *sql.DB
}

// Open creates or opens the queue database at path and applies migrations.
//
// The database is configured with:
//   - WAL journal
//   - FULL synchronous mode, so a returned Enqueue survives power loss
//   - 5-second busy timeout
func Open(path string) (*Queue, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to queue database: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Queue{db: db}, nil
}

// Close closes the database connection.
func (q *Queue) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Enqueue validates and durably stores a sample, returning its local id.
func (q *Queue) Enqueue(ctx context.Context, s models.Sample) (int64, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}

	mode := s.AccuracyMode
	if !mode.Valid() {
		mode = models.HighAccuracy
	}

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO pending_location_points
			(captured_at, lat, lng, accuracy_m, provider, battery_pct, is_charging, is_uploaded, accuracy_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		s.CapturedAt.UnixMilli(), s.Latitude, s.Longitude, s.AccuracyM, s.Provider,
		nullFloat(s.BatteryPct), nullBool(s.IsCharging), string(mode),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue sample: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue sample: %w", err)
	}
	return id, nil
}

// Pending returns up to limit undelivered samples, oldest capture first with the local id as
// tiebreak. A limit of zero or less returns all of them.
func (q *Queue) Pending(ctx context.Context, limit int) ([]models.Sample, error) {
	query := `
		SELECT id, captured_at, lat, lng, accuracy_m, provider, accuracy_mode, battery_pct, is_charging
		FROM pending_location_points
		WHERE is_uploaded = 0
		ORDER BY captured_at ASC, id ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending samples: %w", err)
	}
	defer rows.Close()

	var samples []models.Sample
	for rows.Next() {
		var (
			s          models.Sample
			capturedAt int64
			mode       sql.NullString
			battery    sql.NullFloat64
			charging   sql.NullBool
		)
		if err := rows.Scan(&s.ID, &capturedAt, &s.Latitude, &s.Longitude, &s.AccuracyM, &s.Provider,
			&mode, &battery, &charging); err != nil {
			return nil, fmt.Errorf("scan pending sample: %w", err)
		}
		s.CapturedAt = time.UnixMilli(capturedAt).UTC()
		s.AccuracyMode = models.ParseAccuracyMode(mode.String)
		if battery.Valid {
			v := battery.Float64
			s.BatteryPct = &v
		}
		if charging.Valid {
			v := charging.Bool
			s.IsCharging = &v
		}
		s.State = models.Pending
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending samples: %w", err)
	}

	return samples, nil
}

// Acknowledge marks the given samples delivered. Ids that are unknown or already delivered
// are ignored, so repeating an acknowledgement is harmless.
func (q *Queue) Acknowledge(ctx context.Context, ids []int64) error {
	ids = utils.Unique(ids)
	if len(ids) == 0 {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("acknowledge: begin: %w", err)
	}
	defer tx.Rollback()

	for _, chunk := range utils.Chunk(ids, ackChunkSize) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := "UPDATE pending_location_points SET is_uploaded = 1 WHERE is_uploaded = 0 AND id IN (" + placeholders + ")"
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("acknowledge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("acknowledge: commit: %w", err)
	}
	return nil
}

// CountPending returns the number of undelivered samples.
func (q *Queue) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_location_points WHERE is_uploaded = 0").Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending samples: %w", err)
	}
	return n, nil
}

// Clear deletes rows according to scope and returns how many were removed.
func (q *Queue) Clear(ctx context.Context, scope ClearScope) (int64, error) {
	query := "DELETE FROM pending_location_points WHERE is_uploaded = 1"
	if scope == ClearAll {
		query = "DELETE FROM pending_location_points"
	}

	res, err := q.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}
