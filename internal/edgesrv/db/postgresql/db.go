// Description: This file contains the implementation of the edgeStoreDb interface for the PostgreSQL database.
package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgconn"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dbmanager"
)

type edgeStoreDb struct {
	mm *mirrorManager
	um *userStateManager
	dm *userDBManager
	bm *bootstrapManager
	cm *connectionManager
}

func NewEdgeStoreDb(c dbmanager.ScopedConn) (*mirrorManager, *userStateManager, *userDBManager, *bootstrapManager, *connectionManager) {
	e := &edgeStoreDb{}
	e.mm = newMirrorManager(c)
	e.um = newUserStateManager(c)
	e.dm = newUserDBManager(c)
	e.bm = newBootstrapManager(c)
	e.cm = newConnectionManager(c)
	return e.mm, e.um, e.dm, e.bm, e.cm
}

type mirrorManager struct {
	c dbmanager.ScopedConn
}

func newMirrorManager(c dbmanager.ScopedConn) *mirrorManager {
	return &mirrorManager{c: c}
}

func (mm *mirrorManager) conn() *sql.Conn {
	return mm.c.Conn()
}

type userStateManager struct {
	c dbmanager.ScopedConn
}

func newUserStateManager(c dbmanager.ScopedConn) *userStateManager {
	return &userStateManager{c: c}
}

func (um *userStateManager) conn() *sql.Conn {
	return um.c.Conn()
}

type userDBManager struct {
	c dbmanager.ScopedConn
}

func newUserDBManager(c dbmanager.ScopedConn) *userDBManager {
	return &userDBManager{c: c}
}

func (dm *userDBManager) conn() *sql.Conn {
	return dm.c.Conn()
}

type bootstrapManager struct {
	c dbmanager.ScopedConn
}

func newBootstrapManager(c dbmanager.ScopedConn) *bootstrapManager {
	return &bootstrapManager{c: c}
}

func (bm *bootstrapManager) conn() *sql.Conn {
	return bm.c.Conn()
}

type connectionManager struct {
	c dbmanager.ScopedConn
}

func newConnectionManager(c dbmanager.ScopedConn) *connectionManager {
	return &connectionManager{c: c}
}

func (cm *connectionManager) AddScopes(ctx context.Context, scopes map[string]string) error {
	return cm.c.AddScopes(ctx, scopes)
}

func (cm *connectionManager) DropScopes(ctx context.Context, scopes []string) error {
	return cm.c.DropScopes(ctx, scopes)
}

func (cm *connectionManager) AddScope(ctx context.Context, scope, value string) error {
	return cm.c.AddScope(ctx, scope, value)
}

func (cm *connectionManager) DropScope(ctx context.Context, scope string) error {
	return cm.c.DropScope(ctx, scope)
}

func (cm *connectionManager) DropAllScopes(ctx context.Context) error {
	return cm.c.DropAllScopes(ctx)
}

func (cm *connectionManager) Close(ctx context.Context) {
	cm.c.Close(ctx)
}

// querier is satisfied by both *sql.Conn and *sql.Tx so lookup helpers can
// run inside or outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// classifyPgError maps driver errors that surface the same way regardless of
// statement. Constraint violations stay with the caller, which knows which
// constraint means what.
func classifyPgError(err error) apperrors.Error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "25006": // read_only_sql_transaction
			return dberror.ErrUnauthorized.Msg("session is read-only")
		case "42P01": // undefined_table
			return dberror.ErrNotProvisioned.Err(err)
		case "57014", "40001", "40P01": // statement_timeout, serialization_failure, deadlock_detected
			return dberror.ErrTransactionAborted.Err(err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dberror.ErrTransactionAborted.Err(err)
	}
	return dberror.ErrDatabase.Err(err)
}

// isUniqueViolation reports whether err is a unique constraint violation on
// the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}

// insertChunkSize caps the number of rows per multi-row INSERT so parameter
// counts stay well under the wire limit.
const insertChunkSize = 500
