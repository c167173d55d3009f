// Package history records message deliveries in SQLite for /progress
// style reporting. The per-worker flat files stay authoritative; losing
// this database loses nothing but the recent-message listing.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jaakkos/crewbridge/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
	id INTEGER PRIMARY KEY,
	worker TEXT NOT NULL,
	direction TEXT NOT NULL,
	preview TEXT NOT NULL,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_worker ON deliveries(worker, id);
`

// Store is a SQLite-backed delivery log.
type Store struct {
	db *sql.DB
}

// New opens the database at path, creating parent dirs and schema.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("history mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Record appends one delivery.
func (s *Store) Record(worker string, direction domain.DeliveryDirection, preview string) error {
	_, err := s.db.Exec(
		"INSERT INTO deliveries (worker, direction, preview, timestamp) VALUES (?, ?, ?, ?)",
		worker, string(direction), preview, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// Recent returns the worker's last limit deliveries, oldest first.
func (s *Store) Recent(worker string, limit int) ([]domain.Delivery, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.Query(
		"SELECT id, worker, direction, preview, timestamp FROM deliveries WHERE worker = ? ORDER BY id DESC LIMIT ?",
		worker, limit)
	if err != nil {
		return nil, fmt.Errorf("recent deliveries: %w", err)
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		var direction, ts string
		if err := rows.Scan(&d.ID, &d.Worker, &direction, &d.Preview, &ts); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Direction = domain.DeliveryDirection(direction)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			d.Timestamp = t
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent deliveries: %w", err)
	}
	// Reverse into chronological order for display.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Prune deletes deliveries older than keep. Returns rows removed.
func (s *Store) Prune(keep time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-keep).Format(time.RFC3339Nano)
	res, err := s.db.Exec("DELETE FROM deliveries WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
