package database

import (
	"context"
	"database/sql"

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/model"
)

func (d Datasource) RecordSuspension(ctx context.Context, suspension model.Suspension, audit model.AuditLog) (model.Suspension, error) {
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settle.suspensions (suspension_id, user_id, action, reason, admin_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, suspension.SuspensionID, suspension.UserID, suspension.Action, suspension.Reason, suspension.AdminID, suspension.CreatedAt)
		if err != nil {
			return mapWriteError(err, "Failed to record suspension")
		}
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return model.Suspension{}, err
	}
	return suspension, nil
}

func (d Datasource) GetSuspensions(ctx context.Context, userID string) ([]model.Suspension, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT suspension_id, user_id, action, reason, admin_id, created_at
		FROM settle.suspensions WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve suspensions", err)
	}
	defer rows.Close()

	var suspensions []model.Suspension
	for rows.Next() {
		var s model.Suspension
		if err := rows.Scan(&s.SuspensionID, &s.UserID, &s.Action, &s.Reason, &s.AdminID, &s.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan suspension", err)
		}
		suspensions = append(suspensions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve suspensions", err)
	}
	return suspensions, nil
}
