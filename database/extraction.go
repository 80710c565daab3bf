package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/internal/cache"
	"github.com/dealport/settle/model"
	"github.com/sirupsen/logrus"
)

const defaultExtractionTTL = 24 * time.Hour

func extractionKey(orderID string, proofType model.ProofType) string {
	return fmt.Sprintf("extraction:%s:%s", orderID, proofType)
}

// GetExtraction returns the cached extraction of one proof, or nil when the
// order has none. The orders table is the source of truth; the Redis mirror
// only short-circuits reads.
func (d Datasource) GetExtraction(ctx context.Context, orderID string, proofType model.ProofType) (*model.ExtractionCacheEntry, error) {
	key := extractionKey(orderID, proofType)
	if d.Cache != nil {
		var entry model.ExtractionCacheEntry
		err := d.Cache.Get(ctx, key, &entry)
		if err == nil {
			return &entry, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logrus.WithError(err).WithField("key", key).Warn("extraction mirror read failed, falling back to database")
		}
	}

	var raw []byte
	err := d.Conn.QueryRowContext(ctx, `
		SELECT extractions -> $2::text FROM settle.orders WHERE order_id = $1 AND deleted_at IS NULL
	`, orderID, string(proofType)).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrOrderNotFound, fmt.Sprintf("Order with ID '%s' not found", orderID), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve extraction", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var entry model.ExtractionCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decode extraction", err)
	}
	d.mirrorExtraction(ctx, orderID, entry)
	return &entry, nil
}

func (d Datasource) GetExtractions(ctx context.Context, orderID string) (map[model.ProofType]model.ExtractionCacheEntry, error) {
	var raw []byte
	err := d.Conn.QueryRowContext(ctx, `
		SELECT extractions FROM settle.orders WHERE order_id = $1 AND deleted_at IS NULL
	`, orderID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrOrderNotFound, fmt.Sprintf("Order with ID '%s' not found", orderID), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve extractions", err)
	}

	entries := map[model.ProofType]model.ExtractionCacheEntry{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decode extractions", err)
		}
	}
	return entries, nil
}

// SaveExtraction merges one entry into the order's extraction map. Only the
// key of this proof type is written, so concurrent updates to other columns or
// other proof types are never overwritten. An entry with a source is only
// written while that image is still the stored proof, so an extraction that
// finishes after the image was replaced is dropped.
func (d Datasource) SaveExtraction(ctx context.Context, orderID string, entry model.ExtractionCacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode extraction", err)
	}
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE settle.orders SET extractions = jsonb_set(extractions, ARRAY[$2::text], $3::jsonb, true)
		WHERE order_id = $1 AND deleted_at IS NULL
			AND ($4 = '' OR proof_images ->> $2::text IS NULL OR proof_images ->> $2::text = $4)
	`, orderID, string(entry.ProofType), raw, entry.Source)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save extraction", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rows == 0 {
		var exists bool
		if err := d.Conn.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM settle.orders WHERE order_id = $1 AND deleted_at IS NULL)
		`, orderID).Scan(&exists); err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save extraction", err)
		}
		if exists {
			return apierror.NewAPIError(apierror.ErrConcurrentModification, fmt.Sprintf("The %s proof of order '%s' was replaced during extraction", entry.ProofType, orderID), nil)
		}
		return apierror.NewAPIError(apierror.ErrOrderNotFound, fmt.Sprintf("Order with ID '%s' not found", orderID), nil)
	}
	d.mirrorExtraction(ctx, orderID, entry)
	return nil
}

func (d Datasource) DeleteExtraction(ctx context.Context, orderID string, proofType model.ProofType) error {
	d.forgetExtraction(ctx, orderID, proofType)
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE settle.orders SET extractions = extractions - $2::text
		WHERE order_id = $1 AND deleted_at IS NULL
	`, orderID, string(proofType))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to clear extraction", err)
	}
	if err := mustAffect(result, apierror.NewAPIError(apierror.ErrOrderNotFound, fmt.Sprintf("Order with ID '%s' not found", orderID), nil)); err != nil {
		return err
	}
	d.forgetExtraction(ctx, orderID, proofType)
	return nil
}

func (d Datasource) mirrorExtraction(ctx context.Context, orderID string, entry model.ExtractionCacheEntry) {
	if d.Cache == nil {
		return
	}
	ttl := d.CacheTTL
	if ttl <= 0 {
		ttl = defaultExtractionTTL
	}
	if err := d.Cache.Set(ctx, extractionKey(orderID, entry.ProofType), entry, ttl); err != nil {
		logrus.WithError(err).WithField("order_id", orderID).Warn("failed to mirror extraction")
	}
}

func (d Datasource) forgetExtraction(ctx context.Context, orderID string, proofType model.ProofType) {
	if d.Cache == nil {
		return
	}
	if err := d.Cache.Delete(ctx, extractionKey(orderID, proofType)); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		logrus.WithError(err).WithField("order_id", orderID).Warn("failed to drop mirrored extraction")
	}
}
