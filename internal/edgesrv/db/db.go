package db

import (
	"context"

	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dbmanager"
	"github.com/edgestore/edgestore/internal/edgesrv/db/models"
	"github.com/edgestore/edgestore/internal/edgesrv/db/postgresql"
	"github.com/edgestore/edgestore/internal/edgesrv/edgecommon"
	"github.com/edgestore/edgestore/pkg/types"
)

// DB_ is an interface for the database connection. It wraps the underlying
// sql.Conn interface while adding the ability to manage scopes.
// The manager interfaces are separately initialized to allow for wrapping
// each interface separately. UserDBManager is a prime candidate for a
// metadata cache.

type MirrorManager interface {
	// Mirror versions and rows
	PublishMirrorVersion(ctx context.Context, version *models.GlobalMirrorVersion, items []pgtype.JSONB) apperrors.Error
	GetMirrorVersion(ctx context.Context, datasetID types.DatasetID, version string) (*models.GlobalMirrorVersion, apperrors.Error)
	GetLatestMirrorVersion(ctx context.Context, datasetID types.DatasetID) (*models.GlobalMirrorVersion, apperrors.Error)
	ListMirrorVersions(ctx context.Context, datasetID types.DatasetID) ([]*models.GlobalMirrorVersion, apperrors.Error)
	ListMirrorRows(ctx context.Context, datasetID types.DatasetID, version string, afterID int64, limit int) ([]*models.GlobalRow, apperrors.Error)
	CountMirrorRows(ctx context.Context, datasetID types.DatasetID, version string) (int64, apperrors.Error)
}

type UserStateManager interface {
	// Per-user context documents
	UpsertUserContext(ctx context.Context, uc *models.UserContext) apperrors.Error
	GetUserContext(ctx context.Context, userID types.UserID, datasetID types.DatasetID) (*models.UserContext, apperrors.Error)

	// Materialized view log
	AppendUserViews(ctx context.Context, views []*models.UserView) apperrors.Error
	ListUserViews(ctx context.Context, userID types.UserID, datasetID types.DatasetID, version string, sinceTs, afterTs, afterID int64, limit int) ([]*models.UserView, apperrors.Error)
	LatestUserViewsPerKey(ctx context.Context, userID types.UserID, datasetID types.DatasetID, version string, keyPath []string) ([]*models.UserView, apperrors.Error)
	GetLatestUserViewVersion(ctx context.Context, userID types.UserID, datasetID types.DatasetID) (string, int64, apperrors.Error)
}

type UserDBManager interface {
	// Table lifecycle
	CreateUserTable(ctx context.Context, table *models.UserDBTable) apperrors.Error
	GetUserTable(ctx context.Context, userID types.UserID, tableName string) (*models.UserDBTable, apperrors.Error)
	ListUserTables(ctx context.Context, userID types.UserID) ([]*models.UserDBTable, apperrors.Error)
	DropUserTable(ctx context.Context, userID types.UserID, tableName string) apperrors.Error

	// Index lifecycle
	CreateTableIndex(ctx context.Context, index *models.UserDBTableIndex) apperrors.Error
	GetTableIndexes(ctx context.Context, userID types.UserID, tableName string) ([]*models.UserDBTableIndex, apperrors.Error)
	DropTableIndex(ctx context.Context, userID types.UserID, tableName, colName string) apperrors.Error

	// Documents
	UpsertDocument(ctx context.Context, userID types.UserID, tableName string, doc *models.Document, extract models.ExtractFunc) apperrors.Error
	UpsertDocuments(ctx context.Context, userID types.UserID, tableName string, docs []*models.Document, extract models.ExtractFunc) (int, apperrors.Error)
	GetDocument(ctx context.Context, userID types.UserID, tableName, pk string) (*models.Document, apperrors.Error)
	DeleteDocument(ctx context.Context, userID types.UserID, tableName, pk string) apperrors.Error
	ListDocuments(ctx context.Context, userID types.UserID, tableName, afterPk string, limit int) ([]*models.Document, apperrors.Error)
	QueryByIndex(ctx context.Context, userID types.UserID, tableName, colName, op string, val any, limit int) ([]*models.Document, apperrors.Error)
	UpsertAuxEntries(ctx context.Context, userID types.UserID, tableName, colName string, entries []models.AuxEntry) apperrors.Error
}

type BootstrapManager interface {
	Provision(ctx context.Context) apperrors.Error
	IsProvisioned(ctx context.Context) (bool, apperrors.Error)
}

type ConnectionManager interface {
	// Scope Management
	AddScopes(ctx context.Context, scopes map[string]string) error
	DropScopes(ctx context.Context, scopes []string) error
	AddScope(ctx context.Context, scope, value string) error
	DropScope(ctx context.Context, scope string) error
	DropAllScopes(ctx context.Context) error

	// Close the connection to the database.
	Close(ctx context.Context)
}

type DB_ interface {
	MirrorManager
	UserStateManager
	UserDBManager
	BootstrapManager
	ConnectionManager
}

const (
	Scope_UserId   string = "edge.curr_userid"
	Scope_ReadOnly string = "default_transaction_read_only"
)

var configuredScopes = []string{
	Scope_UserId,
	Scope_ReadOnly,
}

var pool dbmanager.ScopedDb

func init() {
	ctx := log.Logger.WithContext(context.Background())
	pg := dbmanager.NewScopedDb(ctx, "postgresql", configuredScopes)
	if pg == nil {
		panic("unable to create db pool")
	}
	pool = pg
}

func Conn(ctx context.Context) dbmanager.ScopedConn {
	if pool != nil {
		conn, err := pool.Conn(ctx)
		if err == nil {
			return conn
		}
		log.Ctx(ctx).Error().Err(err).Msg("unable to get db connection")
	}
	return nil
}

type ctxDbKeyType string

const ctxDbKey ctxDbKeyType = "EdgeStoreDb"

// ConnCtx acquires a scoped connection and binds it to the returned context.
// Session scopes are derived from the caller's context: the tenant id tags
// the session, and the reader capability makes the whole session read-only
// at the engine level, so mutations fail in storage regardless of any
// application-side check.
func ConnCtx(ctx context.Context) context.Context {
	conn := Conn(ctx)
	if conn != nil {
		scopes := make(map[string]string)
		if userID := edgecommon.UserIdFromContext(ctx); !userID.IsNil() {
			scopes[Scope_UserId] = userID.String()
		}
		if role := edgecommon.RoleFromContext(ctx); role == types.RoleReader {
			scopes[Scope_ReadOnly] = "on"
		}
		if len(scopes) > 0 {
			if err := conn.AddScopes(ctx, scopes); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("unable to set connection scopes")
				conn.Close(ctx)
				conn = nil
			}
		}
	}
	return context.WithValue(ctx, ctxDbKey, conn)
}

type edgeStoreDb struct {
	MirrorManager
	UserStateManager
	UserDBManager
	BootstrapManager
	ConnectionManager
}

func DB(ctx context.Context) DB_ {
	if conn, ok := ctx.Value(ctxDbKey).(dbmanager.ScopedConn); ok {
		mm, um, dm, bm, cm := postgresql.NewEdgeStoreDb(conn)
		return &edgeStoreDb{
			MirrorManager:     mm,
			UserStateManager:  um,
			UserDBManager:     dm,
			BootstrapManager:  bm,
			ConnectionManager: cm,
		}
	}
	log.Ctx(ctx).Error().Msg("unable to get db connection from context")
	return nil
}
