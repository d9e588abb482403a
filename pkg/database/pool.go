// Package database provides the bounded connection pool and schema bootstrap
// used by every persistence path. All queries through a Handle are
// parameterized; callers never interpolate user data into SQL.
package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver for local/dev mode
)

var (
	// ErrPoolExhausted is returned when no handle frees up within the
	// acquire timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrUnavailable is returned when no live handle can be revived.
	ErrUnavailable = errors.New("database unavailable")
)

// DBError is the sanitized failure surfaced to upper layers.
type DBError struct {
	Message string
}

func (e *DBError) Error() string { return e.Message }

func wrapDB(op string, err error) error {
	return &DBError{Message: fmt.Sprintf("%s failed: %v", op, err)}
}

// Config parameterizes the pool.
type Config struct {
	Driver         string // "postgres" or "sqlite"
	DSN            string
	MaxConnections int
	AcquireTimeout time.Duration
}

// Pool is a bounded set of database handles.
type Pool struct {
	db             *sql.DB
	driver         string
	acquireTimeout time.Duration
}

// Open creates the pool and verifies connectivity.
func Open(cfg Config) (*Pool, error) {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s pool: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(30 * time.Minute)

	p := &Pool{db: db, driver: cfg.Driver, acquireTimeout: cfg.AcquireTimeout}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return p, nil
}

// NewFromDB wraps an existing *sql.DB (used by tests with sqlmock).
func NewFromDB(db *sql.DB, driver string) *Pool {
	return &Pool{db: db, driver: driver, acquireTimeout: 5 * time.Second}
}

// Handle is a leased connection. It must be released on every exit path.
type Handle struct {
	conn    *sql.Conn
	faulted bool
}

// Lease acquires a handle, failing with ErrPoolExhausted after the acquire
// timeout elapses.
func (p *Pool) Lease(ctx context.Context) (*Handle, error) {
	leaseCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	conn, err := p.db.Conn(leaseCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrPoolExhausted
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Handle{conn: conn}, nil
}

// Release returns the handle to the pool. A faulted handle is discarded and
// the pool opens a replacement lazily.
func (p *Pool) Release(h *Handle) {
	if h == nil || h.conn == nil {
		return
	}
	if h.faulted {
		// Returning ErrBadConn from Raw removes the connection from the pool.
		_ = h.conn.Raw(func(interface{}) error { return driver.ErrBadConn })
		slog.Warn("discarded faulted database handle")
	}
	_ = h.conn.Close()
	h.conn = nil
}

// Exec runs a parameterized statement on the leased connection.
func (h *Handle) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := h.conn.ExecContext(ctx, query, args...)
	if err != nil {
		h.observe(err)
		return nil, wrapDB("exec", err)
	}
	return res, nil
}

// Query runs a parameterized query on the leased connection.
func (h *Handle) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := h.conn.QueryContext(ctx, query, args...)
	if err != nil {
		h.observe(err)
		return nil, wrapDB("query", err)
	}
	return rows, nil
}

// QueryRow runs a single-row parameterized query.
func (h *Handle) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return h.conn.QueryRowContext(ctx, query, args...)
}

// Begin opens a transaction on the leased connection.
func (h *Handle) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := h.conn.BeginTx(ctx, nil)
	if err != nil {
		h.observe(err)
		return nil, wrapDB("begin", err)
	}
	return tx, nil
}

func (h *Handle) observe(err error) {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		h.faulted = true
	}
}

// DB exposes the underlying pool for stores that manage their own statements.
func (p *Pool) DB() *sql.DB { return p.db }

// Driver reports the configured driver name.
func (p *Pool) Driver() string { return p.driver }

// Ping probes liveness with a zero-row query.
func (p *Pool) Ping(ctx context.Context) error {
	var one int
	if err := p.db.QueryRowContext(ctx, "SELECT 1 WHERE 1 = 0").Scan(&one); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return wrapDB("ping", err)
	}
	return nil
}

// Bootstrap executes the DDL text statement by statement. Every statement uses
// IF NOT EXISTS, so running it against an initialized schema is a no-op.
func (p *Pool) Bootstrap(ctx context.Context, ddl string) error {
	for _, stmt := range SplitStatements(ddl) {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return wrapDB("bootstrap", err)
		}
	}
	return nil
}

// SplitStatements splits DDL text on statement terminators, dropping blanks
// and comment-only fragments.
func SplitStatements(ddl string) []string {
	parts := strings.Split(ddl, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		var kept []string
		for _, line := range strings.Split(part, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			kept = append(kept, line)
		}
		if len(kept) == 0 {
			continue
		}
		out = append(out, strings.TrimSpace(strings.Join(kept, "\n")))
	}
	return out
}

// Close shuts the pool down.
func (p *Pool) Close() error { return p.db.Close() }
