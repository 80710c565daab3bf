package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/dealport/settle/config"
	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/internal/cache"
	"github.com/dealport/settle/model"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Declare a package-level variable to hold the singleton instance.
var instance *Datasource
var once sync.Once

// Datasource is the Postgres implementation of IDataSource. Cache, when set,
// mirrors extraction entries for CacheTTL so repeated reads skip the orders table.
type Datasource struct {
	Conn     *sql.DB
	Cache    cache.Cache
	CacheTTL time.Duration
}

// NewDataSource connects to Postgres and attaches the Redis extraction mirror.
// The datasource works without the mirror when Redis is unavailable.
func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	if con.Cache == nil {
		c, err := cache.NewCache()
		if err != nil {
			logrus.WithError(err).Warn("extraction mirror disabled")
		} else {
			con.Cache = c
			con.CacheTTL = configuration.ExtractionCacheTTL()
		}
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ConnectDB opens and pings the database. The schema is owned by the migrations
// in sql/ and is not created here.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	return db, nil
}

// withTx runs fn inside a transaction, committing only if fn returns nil.
func (d Datasource) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const insertAuditQuery = `
	INSERT INTO settle.audit_logs (audit_id, actor, action, entity_type, entity_id, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func insertAudit(ctx context.Context, db execer, entry model.AuditLog) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal audit metadata", err)
	}
	_, err = db.ExecContext(ctx, insertAuditQuery, entry.AuditID, entry.Actor, entry.Action, entry.EntityType, entry.EntityID, metadata, entry.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record audit entry", err)
	}
	return nil
}

// eventJSON renders a single order event as a one-element JSON array so it can
// be appended to the events column with ||.
func eventJSON(event model.OrderEvent) ([]byte, error) {
	b, err := json.Marshal([]model.OrderEvent{event})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal order event", err)
	}
	return b, nil
}

// mustAffect turns a zero-row update into the given error.
func mustAffect(result sql.Result, onZero error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rows == 0 {
		return onZero
	}
	return nil
}

// mapWriteError converts Postgres constraint failures into API errors.
func mapWriteError(err error, message string) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return apierror.NewAPIError(apierror.ErrInvalidInput, message+": record already exists", err)
		case "foreign_key_violation":
			return apierror.NewAPIError(apierror.ErrInvalidInput, message+": referenced record does not exist", err)
		case "check_violation":
			return apierror.NewAPIError(apierror.ErrInsufficientFunds, message+": balance would become negative", err)
		}
	}
	return apierror.NewAPIError(apierror.ErrInternalServer, message, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
