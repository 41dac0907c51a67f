package trace

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists trace events to a SQLite database for offline
// analysis. Insert failures after a successful open are dropped, matching
// the stream sink's contract.
type SQLiteSink struct {
	mu sync.Mutex
	db *sql.DB
}

const createEventsTable = `
CREATE TABLE IF NOT EXISTS trace_events (
	id        TEXT PRIMARY KEY,
	at        INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	sig       TEXT NOT NULL,
	reason    TEXT,
	depth     INTEGER,
	elapsed_us INTEGER,
	recompile INTEGER,
	world     INTEGER
)`

// NewSQLiteSink opens (creating if needed) the event database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open trace database %q: %w", path, err)
	}
	if _, err := db.Exec(createEventsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing trace database %q: %w", path, err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return
	}
	s.db.Exec(
		`INSERT OR IGNORE INTO trace_events (id, at, kind, sig, reason, depth, elapsed_us, recompile, world)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.Time.UnixMicro(), ev.Kind.String(), ev.Sig,
		ev.Reason, ev.Depth, ev.Elapsed.Microseconds(), ev.Recompile, int64(ev.World),
	)
}

func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
