package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/model"
)

// RecordAudit appends entries to the audit log in one transaction.
func (d Datasource) RecordAudit(ctx context.Context, entries ...model.AuditLog) error {
	if len(entries) == 0 {
		return nil
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, entry := range entries {
			if err := insertAudit(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAuditTrail returns the audit entries of one entity, oldest first.
func (d Datasource) GetAuditTrail(ctx context.Context, entityType, entityID string) ([]model.AuditLog, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT audit_id, actor, action, entity_type, entity_id, metadata, created_at
		FROM settle.audit_logs
		WHERE (entity_type = $1 AND entity_id = $2) OR (metadata -> $3::text) ? $2::text
		ORDER BY created_at ASC, id ASC
	`, entityType, entityID, entityType+"_ids")
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve audit trail", err)
	}
	defer rows.Close()

	var entries []model.AuditLog
	for rows.Next() {
		var (
			entry    model.AuditLog
			metadata []byte
		)
		if err := rows.Scan(&entry.AuditID, &entry.Actor, &entry.Action, &entry.EntityType, &entry.EntityID, &metadata, &entry.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan audit entry", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decode audit metadata", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve audit trail", err)
	}
	return entries, nil
}
