// ABOUTME: SQLite-backed journal of raw gateway events using modernc.org/sqlite
// ABOUTME: Creates its schema on open and records events fed from a raw subscription

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/fluxer-go/internal/dispatch"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
)

// Entry is one recorded gateway event.
type Entry struct {
	ID         string
	Name       string
	Data       string
	ReceivedAt time.Time
}

// Ledger journals raw events into SQLite.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the ledger database at path. Parent directories
// are created if needed.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &Ledger{db: db, logger: logger, now: time.Now}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	logger.Info("ledger opened", "path", path)
	return l, nil
}

func (l *Ledger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS raw_events (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			data TEXT NOT NULL,
			received_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_raw_events_name
			ON raw_events(name);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record stores evt and returns the new entry ID.
func (l *Ledger) Record(ctx context.Context, evt dispatch.RawEvent) (string, error) {
	id := uuid.New().String()
	data := string(evt.Data)
	if data == "" {
		data = "null"
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO raw_events (id, name, data, received_at) VALUES (?, ?, ?, ?)`,
		id, evt.Name, data, l.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("inserting raw event: %w", err)
	}

	l.logger.Debug("recorded raw event", "id", id, "event", evt.Name)
	return id, nil
}

// Recent returns up to limit of the newest entries, oldest first. A limit
// of zero or less uses the default.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	query := `
		SELECT id, name, data, received_at FROM (
			SELECT rowid AS seq, id, name, data, received_at
			FROM raw_events
			ORDER BY rowid DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`
	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying raw events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &e.Name, &e.Data, &ts); err != nil {
			return nil, fmt.Errorf("scanning raw event: %w", err)
		}
		e.ReceivedAt, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing received_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns how many entries carry the given event name. An empty name
// counts everything.
func (l *Ledger) Count(ctx context.Context, name string) (int, error) {
	var n int
	var err error
	if name == "" {
		err = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_events`).Scan(&n)
	} else {
		err = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_events WHERE name = ?`, name).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("counting raw events: %w", err)
	}
	return n, nil
}

// Consume records every event from events until the channel is closed or
// ctx is done. Write failures are logged and skipped.
func (l *Ledger) Consume(ctx context.Context, events <-chan dispatch.RawEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			// Detached so an event received right before shutdown is still written.
			if _, err := l.Record(context.WithoutCancel(ctx), evt); err != nil {
				l.logger.Warn("failed to record raw event", "event", evt.Name, "error", err)
			}
		}
	}
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
