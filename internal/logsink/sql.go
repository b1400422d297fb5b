package logsink

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
	"vtrace/internal/clock"
)

// Dialect selects SQL placeholder and DDL syntax.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

const tableName = "vtrace_records"

// SQLSink stores records in a vtrace_records table. Each sink writes under
// its own session ID so several processes can share one database.
type SQLSink struct {
	mu      sync.Mutex
	db      *sql.DB
	dialect Dialect
	session string
	insert  string
	ownsDB  bool
}

// NewSQLSink creates the records table if needed. An empty session is
// replaced by a random UUID.
func NewSQLSink(ctx context.Context, db *sql.DB, dialect Dialect, session string) (*SQLSink, error) {
	if dialect != SQLite && dialect != Postgres {
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	if session == "" {
		session = uuid.NewString()
	}

	if _, err := db.ExecContext(ctx, createTableSQL(dialect)); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", tableName, err)
	}

	return &SQLSink{
		db:      db,
		dialect: dialect,
		session: session,
		insert: fmt.Sprintf(
			"INSERT INTO %s (session, pid, description, clock, recorded_at) VALUES (%s)",
			tableName, placeholders(dialect, 1, 5)),
	}, nil
}

// OpenSQLite opens (or creates) a SQLite database file and returns a sink
// that owns it.
func OpenSQLite(ctx context.Context, path, session string) (*SQLSink, error) {
	return openSQL(ctx, "sqlite", path, SQLite, session)
}

// OpenPostgres connects to a PostgreSQL database and returns a sink that
// owns the connection pool.
func OpenPostgres(ctx context.Context, dsn, session string) (*SQLSink, error) {
	return openSQL(ctx, "postgres", dsn, Postgres, session)
}

func openSQL(ctx context.Context, driver, dsn string, dialect Dialect, session string) (*SQLSink, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if dialect == SQLite {
		// Serializes writers on the single file.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach %s database: %w", driver, err)
	}

	s, err := NewSQLSink(ctx, db, dialect, session)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// Session returns the session ID written with every record.
func (s *SQLSink) Session() string { return s.session }

// Append inserts one row.
func (s *SQLSink) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, s.insert,
		s.session, rec.ProcessID, rec.Description, rec.Clock.Format(), rec.Time.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// Records reads back this session's records in append order.
func (s *SQLSink) Records(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, ErrClosed
	}

	query := fmt.Sprintf(
		"SELECT pid, description, clock, recorded_at FROM %s WHERE session = %s ORDER BY id",
		tableName, placeholders(s.dialect, 1, 1))
	rows, err := db.QueryContext(ctx, query, s.session)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			rendered string
			nanos    int64
		)
		if err := rows.Scan(&rec.ProcessID, &rec.Description, &rendered, &nanos); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		snap, err := clock.Parse(rendered)
		if err != nil {
			return nil, err
		}
		rec.Clock = snap
		rec.Time = time.Unix(0, nanos)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database if the sink opened it.
func (s *SQLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	var err error
	if s.ownsDB {
		err = s.db.Close()
	}
	s.db = nil
	return err
}

func createTableSQL(d Dialect) string {
	id, ts := "INTEGER PRIMARY KEY AUTOINCREMENT", "INTEGER"
	if d == Postgres {
		id, ts = "BIGSERIAL PRIMARY KEY", "BIGINT"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id %s,
	session TEXT NOT NULL,
	pid TEXT NOT NULL,
	description TEXT NOT NULL,
	clock TEXT NOT NULL,
	recorded_at %s NOT NULL
)`, tableName, id, ts)
}

// placeholders returns n bind parameters starting at from.
func placeholders(d Dialect, from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		if d == Postgres {
			parts[i] = "$" + strconv.Itoa(from+i)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}
