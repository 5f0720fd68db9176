package out

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"sightsync/internal/modules/history/domain"
	"sightsync/internal/platform/clock"

	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// SQLiteEventStore persists decoded events and read offsets in one database.
type SQLiteEventStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewSQLiteEventStore(dbPath string, clk clock.Clock) (*SQLiteEventStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	store, err := NewSQLiteEventStoreFromDB(db, clk)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func NewSQLiteEventStoreFromDB(db *sql.DB, clk clock.Clock) (*SQLiteEventStore, error) {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	store := &SQLiteEventStore{db: db, clock: clk}
	if err := store.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteEventStore) ensureSchema(ctx context.Context) error {
	const events = `
CREATE TABLE IF NOT EXISTS history_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  device TEXT NOT NULL,
  kind TEXT NOT NULL,
  sequence INTEGER NOT NULL,
  event_time TEXT NOT NULL,
  start_time TEXT,
  before_time TEXT,
  fields TEXT NOT NULL,
  inserted_at TEXT NOT NULL,
  UNIQUE(device, kind, sequence)
);
`
	const offsets = `
CREATE TABLE IF NOT EXISTS history_offsets (
  device TEXT NOT NULL,
  category TEXT NOT NULL,
  last_sequence INTEGER NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY(device, category)
);
`
	if _, err := s.db.ExecContext(ctx, events); err != nil {
		return fmt.Errorf("create history_events table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, offsets); err != nil {
		return fmt.Errorf("create history_offsets table: %w", err)
	}
	return nil
}

func (s *SQLiteEventStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteEventStore) Exists(ctx context.Context, device string, kind domain.Kind, sequence uint32) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM history_events WHERE device = ? AND kind = ? AND sequence = ?`,
		device, string(kind), int64(sequence),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query event: %w", err)
	}
	return true, nil
}

// Insert ignores rows that already exist so a replayed batch cannot duplicate events.
func (s *SQLiteEventStore) Insert(ctx context.Context, event domain.Event) error {
	if err := event.Kind().Validate(); err != nil {
		return err
	}
	fields, err := sonnet.Marshal(event.Fields())
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	h := event.Head()
	start, before := secondaryTimes(event)
	const stmt = `
INSERT INTO history_events (device, kind, sequence, event_time, start_time, before_time, fields, inserted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(device, kind, sequence) DO NOTHING;
`
	_, err = s.db.ExecContext(ctx, stmt,
		h.Device,
		string(event.Kind()),
		int64(h.Sequence),
		h.EventTime.Format(timeLayout),
		start,
		before,
		string(fields),
		s.clock.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func secondaryTimes(event domain.Event) (start, before sql.NullString) {
	switch e := event.(type) {
	case *domain.BolusDelivered:
		start = sql.NullString{String: e.StartTime.Format(timeLayout), Valid: true}
	case *domain.EndOfTBR:
		start = sql.NullString{String: e.StartTime.Format(timeLayout), Valid: true}
	case *domain.TimeChanged:
		before = sql.NullString{String: e.TimeBefore.Format(timeLayout), Valid: true}
	}
	return start, before
}

// List returns the newest events first. An empty device lists every device.
func (s *SQLiteEventStore) List(ctx context.Context, device string, limit int) ([]domain.StoredEvent, error) {
	query := `SELECT device, kind, sequence, event_time, fields, inserted_at FROM history_events`
	args := []any{}
	if device != "" {
		query += ` WHERE device = ?`
		args = append(args, device)
	}
	query += ` ORDER BY sequence DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredEvent
	for rows.Next() {
		var (
			stored     domain.StoredEvent
			kind       string
			sequence   int64
			eventTime  string
			fields     string
			insertedAt string
		)
		if err := rows.Scan(&stored.Device, &kind, &sequence, &eventTime, &fields, &insertedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		stored.Kind = domain.Kind(kind)
		stored.Sequence = uint32(sequence)
		if stored.EventTime, err = time.Parse(timeLayout, eventTime); err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		if stored.InsertedAt, err = time.Parse(timeLayout, insertedAt); err != nil {
			return nil, fmt.Errorf("parse inserted_at: %w", err)
		}
		if err := sonnet.Unmarshal([]byte(fields), &stored.Fields); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
		out = append(out, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func (s *SQLiteEventStore) GetOffset(ctx context.Context, device string, category domain.Category) (uint32, bool, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM history_offsets WHERE device = ? AND category = ?`,
		device, category.String(),
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query offset: %w", err)
	}
	return uint32(seq), true, nil
}

// SetOffset upserts with MAX so a stale writer cannot move the offset backwards.
func (s *SQLiteEventStore) SetOffset(ctx context.Context, device string, category domain.Category, sequence uint32) error {
	const stmt = `
INSERT INTO history_offsets (device, category, last_sequence, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(device, category) DO UPDATE SET
  last_sequence=MAX(history_offsets.last_sequence, excluded.last_sequence),
  updated_at=excluded.updated_at;
`
	_, err := s.db.ExecContext(ctx, stmt, device, category.String(), int64(sequence), s.clock.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert offset: %w", err)
	}
	return nil
}
