// Package gateway provides pooled access to the analytical MySQL database.
package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/dbsmedya/schemasentry/internal/config"
	"github.com/dbsmedya/schemasentry/internal/logger"
	"github.com/dbsmedya/schemasentry/internal/sqlutil"
)

// Executor is the interface the rest of the service depends on, so a
// sqlmock-backed or in-memory implementation can stand in for a real
// database in tests.
type Executor interface {
	Query(ctx context.Context, query string, args ...interface{}) (*Rows, error)
	QueryInDatabase(ctx context.Context, database, query string) (*Rows, error)
	Exec(ctx context.Context, query string) error
	Ping(ctx context.Context) error
}

// Rows is the shaped result of a gateway query: ordered column names,
// records as column->value maps, and the wall-clock duration of the
// database round trip.
type Rows struct {
	Columns  []string
	Records  []map[string]interface{}
	Duration time.Duration
}

// ConnectionError wraps any failure to reach or query the database.
// Callers surface it as the execution_error category.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("database %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Gateway owns the connection pool to the analytical database.
type Gateway struct {
	db     *sql.DB
	config *config.DatabaseConfig
	logger *logger.Logger
}

// New creates an unconnected Gateway from configuration.
func New(cfg *config.DatabaseConfig, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Gateway{
		config: cfg,
		logger: log,
	}
}

// Connect establishes the pool with retry and exponential backoff.
func (g *Gateway) Connect(ctx context.Context) error {
	var db *sql.DB
	var err error

	maxRetries := g.config.ConnectRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	backoff := g.config.ConnectBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for i := 0; i < maxRetries; i++ {
		db, err = g.open()
		if err == nil {
			if pingErr := db.PingContext(ctx); pingErr == nil {
				g.db = db
				g.logger.Infow("connected to database",
					"host", g.config.Host, "port", g.config.Port)
				return nil
			} else {
				db.Close()
				err = pingErr
			}
		}

		if i < maxRetries-1 {
			g.logger.Warnf("database connection attempt %d failed: %v", i+1, err)
			select {
			case <-ctx.Done():
				return &ConnectionError{Op: "connect", Err: ctx.Err()}
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}
	}

	return &ConnectionError{Op: "connect", Err: fmt.Errorf("failed after %d retries: %w", maxRetries, err)}
}

// open creates the pool without verifying connectivity.
func (g *Gateway) open() (*sql.DB, error) {
	db, err := sql.Open("mysql", BuildDSN(g.config))
	if err != nil {
		return nil, err
	}

	if g.config.MaxConnections > 0 {
		db.SetMaxOpenConns(g.config.MaxConnections)
	}
	if g.config.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(g.config.MaxIdleConnections)
	}
	db.SetConnMaxLifetime(10 * time.Minute)

	return db, nil
}

// BuildDSN constructs a MySQL DSN from configuration.
func BuildDSN(cfg *config.DatabaseConfig) string {
	// Format: user:password@tcp(host:port)/database?params
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
	)

	if cfg.Database != "" {
		dsn += cfg.Database
	}

	params := "?parseTime=true"
	switch cfg.TLS {
	case "disable":
		params += "&tls=false"
	case "required":
		params += "&tls=true"
	case "preferred", "":
		params += "&tls=preferred"
	}

	return dsn + params
}

// WrapDB adopts an existing *sql.DB. Used by tests to inject a
// sqlmock-backed pool.
func WrapDB(db *sql.DB, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Gateway{db: db, config: &config.DatabaseConfig{}, logger: log}
}

// Query runs a single read statement against the pool and shapes the
// result. The context is expected to carry the caller's deadline.
func (g *Gateway) Query(ctx context.Context, query string, args ...interface{}) (*Rows, error) {
	if g.db == nil {
		return nil, &ConnectionError{Op: "query", Err: fmt.Errorf("gateway is not connected")}
	}

	start := time.Now()
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ConnectionError{Op: "query", Err: err}
	}
	defer rows.Close()

	shaped, err := scanRows(rows)
	if err != nil {
		return nil, &ConnectionError{Op: "scan", Err: err}
	}
	shaped.Duration = time.Since(start)
	return shaped, nil
}

// QueryInDatabase checks out a dedicated connection, switches the
// session's default database, runs the read statement on the same
// session, and releases the connection deterministically. Needed
// because a USE on one pooled connection is invisible to the next.
func (g *Gateway) QueryInDatabase(ctx context.Context, database, query string) (*Rows, error) {
	if g.db == nil {
		return nil, &ConnectionError{Op: "query", Err: fmt.Errorf("gateway is not connected")}
	}

	quoted, err := sqlutil.QuoteIdentifierSafe(database)
	if err != nil {
		return nil, &ConnectionError{Op: "use", Err: err}
	}

	conn, err := g.db.Conn(ctx)
	if err != nil {
		return nil, &ConnectionError{Op: "acquire", Err: err}
	}
	defer conn.Close()

	start := time.Now()
	if _, err := conn.ExecContext(ctx, "USE "+quoted); err != nil {
		return nil, &ConnectionError{Op: "use", Err: err}
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, &ConnectionError{Op: "query", Err: err}
	}
	defer rows.Close()

	shaped, err := scanRows(rows)
	if err != nil {
		return nil, &ConnectionError{Op: "scan", Err: err}
	}
	shaped.Duration = time.Since(start)
	return shaped, nil
}

// Exec runs a statement that produces no result set (the bare USE
// context switch is the only accepted case).
func (g *Gateway) Exec(ctx context.Context, query string) error {
	if g.db == nil {
		return &ConnectionError{Op: "exec", Err: fmt.Errorf("gateway is not connected")}
	}
	if _, err := g.db.ExecContext(ctx, query); err != nil {
		return &ConnectionError{Op: "exec", Err: err}
	}
	return nil
}

// Ping verifies the pool is alive.
func (g *Gateway) Ping(ctx context.Context) error {
	if g.db == nil {
		return &ConnectionError{Op: "ping", Err: fmt.Errorf("gateway is not connected")}
	}
	if err := g.db.PingContext(ctx); err != nil {
		return &ConnectionError{Op: "ping", Err: err}
	}
	return nil
}

// Close closes the pool.
func (g *Gateway) Close() error {
	if g.db == nil {
		return nil
	}
	if err := g.db.Close(); err != nil {
		return fmt.Errorf("gateway close: %w", err)
	}
	return nil
}

// scanRows converts sql.Rows into the transport shape, normalizing
// driver values along the way.
func scanRows(rows *sql.Rows) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := &Rows{
		Columns: cols,
		Records: []map[string]interface{}{},
	}

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		record := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			record[col] = NormalizeValue(values[i])
		}
		result.Records = append(result.Records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}
