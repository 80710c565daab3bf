package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/model"
	"github.com/lib/pq"
)

// CreatePayout inserts a requested payout and writes the wallet that funds it
// in one transaction.
func (d Datasource) CreatePayout(ctx context.Context, payout model.Payout, wallet *model.Wallet, audit model.AuditLog) (model.Payout, error) {
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateWallet(ctx, tx, wallet); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settle.payouts (payout_id, user_id, wallet_id, amount_paise, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, payout.PayoutID, payout.UserID, payout.WalletID, payout.AmountPaise, payout.Status, payout.CreatedAt, payout.UpdatedAt)
		if err != nil {
			return mapWriteError(err, "Failed to create payout")
		}
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return model.Payout{}, err
	}
	return payout, nil
}

func (d Datasource) GetPayoutByID(ctx context.Context, id string) (*model.Payout, error) {
	var p model.Payout
	err := d.Conn.QueryRowContext(ctx, `
		SELECT payout_id, user_id, wallet_id, amount_paise, status, created_at, updated_at
		FROM settle.payouts WHERE payout_id = $1
	`, id).Scan(&p.PayoutID, &p.UserID, &p.WalletID, &p.AmountPaise, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrPayoutNotFound, fmt.Sprintf("Payout with ID '%s' not found", id), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payout", err)
	}
	return &p, nil
}

// UpdatePayoutStatus moves a payout from one status to the status already set
// on payout. wallet is nil when the move does not touch balances.
func (d Datasource) UpdatePayoutStatus(ctx context.Context, payout *model.Payout, from model.PayoutStatus, wallet *model.Wallet, audit model.AuditLog) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE settle.payouts SET status = $2, updated_at = $3
			WHERE payout_id = $1 AND status = $4
		`, payout.PayoutID, payout.Status, payout.UpdatedAt, from)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payout", err)
		}
		err = mustAffect(result, apierror.NewAPIError(apierror.ErrPayoutAlreadyProcessed,
			fmt.Sprintf("Payout '%s' is no longer %s", payout.PayoutID, from), nil))
		if err != nil {
			return err
		}
		if wallet != nil {
			if err := updateWallet(ctx, tx, wallet); err != nil {
				return err
			}
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (d Datasource) CountOpenPayouts(ctx context.Context, userID string) (int64, error) {
	statuses := make([]string, 0, len(model.OpenPayoutStatuses))
	for _, s := range model.OpenPayoutStatuses {
		statuses = append(statuses, string(s))
	}
	var count int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM settle.payouts WHERE user_id = $1 AND status = ANY($2)
	`, userID, pq.Array(statuses)).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count payouts", err)
	}
	return count, nil
}
