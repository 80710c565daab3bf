package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/model"
	"github.com/lib/pq"
)

func (d Datasource) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	roles := make([]string, 0, len(user.Roles))
	for _, r := range user.Roles {
		roles = append(roles, string(r))
	}
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO settle.users (user_id, name, roles, status, mediator_code, parent_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.UserID, user.Name, pq.Array(roles), user.Status, nullString(user.MediatorCode), nullString(user.ParentCode), user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return model.User{}, mapWriteError(err, "Failed to create user")
	}
	return user, nil
}

func (d Datasource) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var (
		u         model.User
		roles     []string
		deletedAt sql.NullTime
	)
	err := d.Conn.QueryRowContext(ctx, `
		SELECT user_id, name, roles, status, COALESCE(mediator_code, ''), COALESCE(parent_code, ''), cascade_pending, deleted_at, created_at, updated_at
		FROM settle.users WHERE user_id = $1 AND deleted_at IS NULL
	`, id).Scan(&u.UserID, &u.Name, pq.Array(&roles), &u.Status, &u.MediatorCode, &u.ParentCode, &u.CascadePending, &deletedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrUserNotFound, fmt.Sprintf("User with ID '%s' not found", id), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve user", err)
	}
	for _, r := range roles {
		u.Roles = append(u.Roles, model.Role(r))
	}
	if deletedAt.Valid {
		u.DeletedAt = &deletedAt.Time
	}
	return &u, nil
}

// CompareAndSetUserStatus changes the status only when it is still from. The
// boolean reports whether this call made the change. Moving to suspended marks
// the cascade pending in the same statement.
func (d Datasource) CompareAndSetUserStatus(ctx context.Context, userID string, from, to model.UserStatus) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE settle.users SET status = $3, updated_at = $4, cascade_pending = $5
		WHERE user_id = $1 AND status = $2 AND deleted_at IS NULL
	`, userID, from, to, time.Now().UTC(), to == model.UserSuspended)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update user status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rows > 0, nil
}

// CompleteCascade clears the pending mark once every suspension handler ran.
// A user that was unsuspended in the meantime is left alone.
func (d Datasource) CompleteCascade(ctx context.Context, userID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE settle.users SET cascade_pending = false
		WHERE user_id = $1 AND status = $2 AND cascade_pending
	`, userID, model.UserSuspended)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete suspension cascade", err)
	}
	return nil
}

// GetMediatorCodesUnderAgency lists the codes of every mediator whose parent is
// the agency, deleted mediators included since their orders still route
// through the code.
func (d Datasource) GetMediatorCodesUnderAgency(ctx context.Context, agencyCode string) ([]string, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT mediator_code FROM settle.users
		WHERE parent_code = $1 AND mediator_code IS NOT NULL
		ORDER BY mediator_code
	`, agencyCode)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list mediator codes", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan mediator code", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list mediator codes", err)
	}
	return codes, nil
}

// SoftDeleteUser tombstones the user and, when given, the user's empty wallet.
func (d Datasource) SoftDeleteUser(ctx context.Context, userID string, wallet *model.Wallet, audit model.AuditLog) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx, `
			UPDATE settle.users SET deleted_at = $2, updated_at = $2
			WHERE user_id = $1 AND deleted_at IS NULL
		`, userID, now)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete user", err)
		}
		if err := mustAffect(result, apierror.NewAPIError(apierror.ErrAlreadyDeleted, fmt.Sprintf("User '%s' is already deleted", userID), nil)); err != nil {
			return err
		}
		if wallet != nil {
			if err := softDeleteWallet(ctx, tx, wallet); err != nil {
				return err
			}
		}
		return insertAudit(ctx, tx, audit)
	})
}
