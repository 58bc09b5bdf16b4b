package dbmanager

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog/log"

	srvconfig "github.com/edgestore/edgestore/internal/edgesrv/config"
	"github.com/edgestore/edgestore/internal/edgesrv/db/config"
)

const (
	connPingTimeout = 5 * time.Second
	connStmtTimeout = "5s"
	connLockTimeout = "5s"
	connMaxLifetime = 30 * time.Minute
	connMaxIdleTime = 5 * time.Minute
)

type postgresqlDb struct {
	pool             *sql.DB
	configuredScopes []string
	connRequests     atomic.Uint64
	connReturns      atomic.Uint64
}

type postgresqlConn struct {
	db     *postgresqlDb
	conn   *sql.Conn
	scopes map[string]bool
}

var _ ScopedDb = (*postgresqlDb)(nil)
var _ ScopedConn = (*postgresqlConn)(nil)

// NewPostgresqlDb creates a connection pool against the configured
// PostgreSQL instance. Only scopes in configuredScopes may later be
// set on connections obtained from this pool.
func NewPostgresqlDb(configuredScopes []string) (ScopedDb, error) {
	dsn := config.EdgeStoreDsn()
	pool, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	maxConns := srvconfig.Config().DB.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	pool.SetMaxOpenConns(maxConns)
	pool.SetMaxIdleConns(maxConns / 2)
	pool.SetConnMaxLifetime(connMaxLifetime)
	pool.SetConnMaxIdleTime(connMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connPingTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	return &postgresqlDb{
		pool:             pool,
		configuredScopes: configuredScopes,
	}, nil
}

func (db *postgresqlDb) Conn(ctx context.Context) (ScopedConn, error) {
	conn, err := db.pool.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to get connection from pool: %w", err)
	}
	db.connRequests.Add(1)

	// Bound how long any statement on this connection may hold locks or
	// run, so one wedged client cannot stall the pool.
	if _, err := conn.ExecContext(ctx, "SET lock_timeout TO '"+connLockTimeout+"'"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to set lock timeout: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SET statement_timeout TO '"+connStmtTimeout+"'"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to set statement timeout: %w", err)
	}

	return &postgresqlConn{
		db:     db,
		conn:   conn,
		scopes: make(map[string]bool),
	}, nil
}

func (db *postgresqlDb) Stats() (requests, returns uint64) {
	return db.connRequests.Load(), db.connReturns.Load()
}

func (db *postgresqlDb) isConfiguredScope(scope string) bool {
	for _, s := range db.configuredScopes {
		if s == scope {
			return true
		}
	}
	return false
}

func (c *postgresqlConn) AddScopes(ctx context.Context, scopes map[string]string) error {
	for scope, value := range scopes {
		if err := c.AddScope(ctx, scope, value); err != nil {
			return err
		}
	}
	return nil
}

func (c *postgresqlConn) DropScopes(ctx context.Context, scopes []string) error {
	for _, scope := range scopes {
		if err := c.DropScope(ctx, scope); err != nil {
			return err
		}
	}
	return nil
}

// AddScope sets a session GUC on this connection. The scope name must be
// one of the configured scopes; the value is passed as a bind parameter
// through set_config, so it is never interpolated into SQL text.
func (c *postgresqlConn) AddScope(ctx context.Context, scope, value string) error {
	if !c.db.isConfiguredScope(scope) {
		return fmt.Errorf("scope %q is not configured", scope)
	}
	if _, err := c.conn.ExecContext(ctx, "SELECT set_config($1, $2, false)", scope, value); err != nil {
		return fmt.Errorf("unable to set scope %q: %w", scope, err)
	}
	c.scopes[scope] = true
	return nil
}

// DropScope restores the session default for the scope. RESET takes no
// bind parameters, but the scope name is allowlist-checked above so the
// interpolation is over a fixed set.
func (c *postgresqlConn) DropScope(ctx context.Context, scope string) error {
	if !c.db.isConfiguredScope(scope) {
		return fmt.Errorf("scope %q is not configured", scope)
	}
	if _, err := c.conn.ExecContext(ctx, fmt.Sprintf("RESET %s", scope)); err != nil {
		return fmt.Errorf("unable to reset scope %q: %w", scope, err)
	}
	delete(c.scopes, scope)
	return nil
}

func (c *postgresqlConn) DropAllScopes(ctx context.Context) error {
	for scope := range c.scopes {
		if err := c.DropScope(ctx, scope); err != nil {
			return err
		}
	}
	return nil
}

func (c *postgresqlConn) Conn() *sql.Conn {
	return c.conn
}

// Close drops any scopes still set and returns the connection to the
// pool. A connection that fails to reset is discarded rather than
// returned, so a later borrower can never observe a stale scope.
func (c *postgresqlConn) Close(ctx context.Context) {
	if err := c.DropAllScopes(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to drop scopes on connection close")
		_ = c.conn.Raw(func(driverConn any) error {
			return driver.ErrBadConn
		})
	}
	if err := c.conn.Close(); err != nil && err != sql.ErrConnDone {
		log.Ctx(ctx).Error().Err(err).Msg("failed to close connection")
	}
	c.db.connReturns.Add(1)
}
