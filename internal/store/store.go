// Package store provides SQLite-backed persistence for analysis runs,
// detected events, and onset-ordering results.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/marketshock/forensics/internal/models"
	"github.com/marketshock/forensics/internal/ordering"
	_ "modernc.org/sqlite"
)

// Run is one recorded invocation of the analysis pipeline.
type Run struct {
	ID          string
	Source      string
	Symbol      string
	ConfigJSON  string
	StartedAt   time.Time
	EventCount  int
	WindowCount int
}

// NewRun creates a run with a fresh id, stamped now.
func NewRun(source, symbol, configJSON string) *Run {
	return &Run{
		ID:         uuid.New().String(),
		Source:     source,
		Symbol:     symbol,
		ConfigJSON: configJSON,
		StartedAt:  time.Now().UTC(),
	}
}

// Store wraps a SQLite database for all persistence operations.
type Store struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/forensics/runs.db.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "forensics", "runs.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			source       TEXT NOT NULL,
			symbol       TEXT,
			config_json  TEXT NOT NULL DEFAULT '{}',
			started_at   INTEGER NOT NULL,
			event_count  INTEGER NOT NULL DEFAULT 0,
			window_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			timestamp       INTEGER NOT NULL,
			symbol          TEXT NOT NULL,
			event_type      TEXT NOT NULL,
			direction       TEXT NOT NULL,
			magnitude       REAL NOT NULL,
			reference_price REAL,
			current_price   REAL
		)`,
		`CREATE TABLE IF NOT EXISTS orderings (
			run_id               TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			window_id            TEXT NOT NULL,
			symbol               TEXT NOT NULL,
			event_timestamp      INTEGER NOT NULL,
			event_direction      TEXT NOT NULL,
			liquidity_onset      INTEGER,
			volume_onset         INTEGER,
			price_onset          INTEGER,
			ordering             TEXT NOT NULL DEFAULT '[]',
			classification       TEXT NOT NULL,
			liquidity_baseline   REAL,
			liquidity_threshold  REAL,
			volume_baseline      REAL,
			volume_threshold     REAL,
			price_baseline       REAL,
			price_threshold      REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_orderings_class ON orderings(classification)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateRun records a new run row.
func (s *Store) CreateRun(run *Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, source, symbol, config_json, started_at, event_count, window_count)
		VALUES (?,?,?,?,?,?,?)`,
		run.ID, run.Source, run.Symbol, run.ConfigJSON,
		run.StartedAt.UnixNano(), run.EventCount, run.WindowCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun records the final counts for a run.
func (s *Store) FinishRun(id string, eventCount, windowCount int) error {
	res, err := s.db.Exec(`UPDATE runs SET event_count=?, window_count=? WHERE id=?`,
		eventCount, windowCount, id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun loads one run by id.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runCols+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(`SELECT ` + runCols + ` FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if runs == nil {
		runs = []*Run{}
	}
	return runs, rows.Err()
}

// SaveEvents persists detected events for a run in one transaction.
func (s *Store) SaveEvents(runID string, events []models.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO events
			(run_id, timestamp, symbol, event_type, direction, magnitude,
			 reference_price, current_price)
		VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(
			runID, e.Timestamp.UnixNano(), e.Symbol, e.Type, string(e.Direction),
			e.Magnitude, metaPtr(e, "reference_price"), metaPtr(e, "current_price"),
		); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	return tx.Commit()
}

// GetEvents loads all events for a run in timestamp order.
func (s *Store) GetEvents(runID string) ([]models.Event, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, symbol, event_type, direction, magnitude,
		       reference_price, current_price
		FROM events WHERE run_id = ? ORDER BY timestamp`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var tsNano int64
		var direction string
		var refPrice, curPrice sql.NullFloat64

		if err := rows.Scan(&tsNano, &e.Symbol, &e.Type, &direction, &e.Magnitude,
			&refPrice, &curPrice); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Timestamp = time.Unix(0, tsNano).UTC()
		e.Direction = models.Direction(direction)
		e.Metadata = map[string]float64{}
		if refPrice.Valid {
			e.Metadata["reference_price"] = refPrice.Float64
		}
		if curPrice.Valid {
			e.Metadata["current_price"] = curPrice.Float64
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveOrderings persists ordering results for a run in one transaction.
func (s *Store) SaveOrderings(runID string, orderings []ordering.EventOrdering) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO orderings
			(run_id, window_id, symbol, event_timestamp, event_direction,
			 liquidity_onset, volume_onset, price_onset, ordering, classification,
			 liquidity_baseline, liquidity_threshold,
			 volume_baseline, volume_threshold,
			 price_baseline, price_threshold)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare ordering insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range orderings {
		seqJSON, err := json.Marshal(o.Ordering)
		if err != nil {
			return fmt.Errorf("failed to marshal ordering sequence: %w", err)
		}
		if _, err := stmt.Exec(
			runID, o.WindowID, o.Symbol, o.EventTimestamp.UnixNano(), string(o.EventDirection),
			timeNanoPtr(o.Liquidity.OnsetTime), timeNanoPtr(o.Volume.OnsetTime), timeNanoPtr(o.Price.OnsetTime),
			string(seqJSON), o.Classification,
			o.Liquidity.Baseline, o.Liquidity.Threshold,
			o.Volume.Baseline, o.Volume.Threshold,
			o.Price.Baseline, o.Price.Threshold,
		); err != nil {
			return fmt.Errorf("failed to insert ordering: %w", err)
		}
	}
	return tx.Commit()
}

// GetOrderings loads all ordering results for a run in event time order.
func (s *Store) GetOrderings(runID string) ([]ordering.EventOrdering, error) {
	rows, err := s.db.Query(`
		SELECT window_id, symbol, event_timestamp, event_direction,
		       liquidity_onset, volume_onset, price_onset, ordering, classification,
		       liquidity_baseline, liquidity_threshold,
		       volume_baseline, volume_threshold,
		       price_baseline, price_threshold
		FROM orderings WHERE run_id = ? ORDER BY event_timestamp`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orderings: %w", err)
	}
	defer rows.Close()

	var orderings []ordering.EventOrdering
	for rows.Next() {
		var o ordering.EventOrdering
		var tsNano int64
		var direction, seqJSON string
		var liqOnset, volOnset, priOnset sql.NullInt64
		var liqBase, liqThresh, volBase, volThresh, priBase, priThresh sql.NullFloat64

		if err := rows.Scan(
			&o.WindowID, &o.Symbol, &tsNano, &direction,
			&liqOnset, &volOnset, &priOnset, &seqJSON, &o.Classification,
			&liqBase, &liqThresh, &volBase, &volThresh, &priBase, &priThresh,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ordering: %w", err)
		}

		o.EventTimestamp = time.Unix(0, tsNano).UTC()
		o.EventDirection = models.Direction(direction)
		if err := json.Unmarshal([]byte(seqJSON), &o.Ordering); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ordering sequence: %w", err)
		}
		o.Liquidity = ordering.OnsetDetection{
			Type: ordering.OnsetLiquidity, OnsetTime: nanoTimePtr(liqOnset),
			Baseline: floatPtr(liqBase), Threshold: floatPtr(liqThresh),
		}
		o.Volume = ordering.OnsetDetection{
			Type: ordering.OnsetVolume, OnsetTime: nanoTimePtr(volOnset),
			Baseline: floatPtr(volBase), Threshold: floatPtr(volThresh),
		}
		o.Price = ordering.OnsetDetection{
			Type: ordering.OnsetPrice, OnsetTime: nanoTimePtr(priOnset),
			Baseline: floatPtr(priBase), Threshold: floatPtr(priThresh),
		}
		orderings = append(orderings, o)
	}
	return orderings, rows.Err()
}

// ClassificationCounts tallies classifications, for one run when runID is
// nonempty or across all runs otherwise.
func (s *Store) ClassificationCounts(runID string) (map[string]int, error) {
	query := `SELECT classification, COUNT(*) FROM orderings`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` GROUP BY classification`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query classification counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, fmt.Errorf("failed to scan classification count: %w", err)
		}
		counts[class] = n
	}
	return counts, rows.Err()
}

const runCols = `id, source, symbol, config_json, started_at, event_count, window_count`

func scanRun(scan func(...any) error) (*Run, error) {
	var run Run
	var startedAtNano int64
	err := scan(&run.ID, &run.Source, &run.Symbol, &run.ConfigJSON,
		&startedAtNano, &run.EventCount, &run.WindowCount)
	if err != nil {
		return nil, err
	}
	run.StartedAt = time.Unix(0, startedAtNano).UTC()
	return &run, nil
}

func metaPtr(e models.Event, key string) *float64 {
	if e.Metadata == nil {
		return nil
	}
	v, ok := e.Metadata[key]
	if !ok {
		return nil
	}
	return &v
}

func timeNanoPtr(ts *time.Time) *int64 {
	if ts == nil {
		return nil
	}
	n := ts.UnixNano()
	return &n
}

func nanoTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	ts := time.Unix(0, v.Int64).UTC()
	return &ts
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
