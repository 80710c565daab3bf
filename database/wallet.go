package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/model"
)

const walletColumns = `wallet_id, user_id, available_paise, pending_paise, locked_paise, version, deleted_at, created_at, updated_at`

func scanWallet(row rowScanner) (*model.Wallet, error) {
	var (
		w         model.Wallet
		deletedAt sql.NullTime
	)
	if err := row.Scan(&w.WalletID, &w.UserID, &w.AvailablePaise, &w.PendingPaise, &w.LockedPaise, &w.Version, &deletedAt, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		w.DeletedAt = &deletedAt.Time
	}
	return &w, nil
}

func (d Datasource) CreateWallet(ctx context.Context, wallet model.Wallet) (model.Wallet, error) {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO settle.wallets (wallet_id, user_id, available_paise, pending_paise, locked_paise, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, wallet.WalletID, wallet.UserID, wallet.AvailablePaise, wallet.PendingPaise, wallet.LockedPaise, wallet.Version, wallet.CreatedAt, wallet.UpdatedAt)
	if err != nil {
		return model.Wallet{}, mapWriteError(err, "Failed to create wallet")
	}
	return wallet, nil
}

// GetWalletByID returns the wallet including tombstoned ones, so callers can
// tell a deleted wallet apart from a missing one.
func (d Datasource) GetWalletByID(ctx context.Context, id string) (*model.Wallet, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM settle.wallets WHERE wallet_id = $1`, id)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrWalletNotFound, fmt.Sprintf("Wallet with ID '%s' not found", id), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve wallet", err)
	}
	return w, nil
}

func (d Datasource) GetWalletByUserID(ctx context.Context, userID string) (*model.Wallet, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM settle.wallets WHERE user_id = $1 AND deleted_at IS NULL`, userID)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrWalletNotFound, fmt.Sprintf("User '%s' has no wallet", userID), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve wallet", err)
	}
	return w, nil
}

// UpdateWallet writes the wallet balances if the stored version still matches
// and records the audit entry in the same transaction.
func (d Datasource) UpdateWallet(ctx context.Context, wallet *model.Wallet, audit model.AuditLog) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateWallet(ctx, tx, wallet); err != nil {
			return err
		}
		return insertAudit(ctx, tx, audit)
	})
}

// updateWallet applies optimistic locking: the write only lands when the
// version read by the caller is still current. The version on wallet is
// incremented after a successful update.
func updateWallet(ctx context.Context, tx *sql.Tx, wallet *model.Wallet) error {
	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE settle.wallets
		SET available_paise = $2, pending_paise = $3, locked_paise = $4, version = version + 1, updated_at = $5
		WHERE wallet_id = $1 AND version = $6 AND deleted_at IS NULL
	`, wallet.WalletID, wallet.AvailablePaise, wallet.PendingPaise, wallet.LockedPaise, now, wallet.Version)
	if err != nil {
		return mapWriteError(err, "Failed to update wallet")
	}

	err = mustAffect(result, apierror.NewAPIError(apierror.ErrConcurrentModification,
		fmt.Sprintf("Optimistic locking failure: wallet with ID '%s' may have been updated or deleted by another transaction", wallet.WalletID), nil))
	if err != nil {
		return err
	}

	wallet.Version++
	wallet.UpdatedAt = now
	return nil
}

// SoftDeleteWallet tombstones an empty wallet. The statement re-checks
// emptiness, the version and open payouts so a guard that passed moments ago
// cannot be raced.
func (d Datasource) SoftDeleteWallet(ctx context.Context, wallet *model.Wallet, audit model.AuditLog) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if err := softDeleteWallet(ctx, tx, wallet); err != nil {
			return err
		}
		return insertAudit(ctx, tx, audit)
	})
}

func softDeleteWallet(ctx context.Context, tx *sql.Tx, wallet *model.Wallet) error {
	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE settle.wallets w
		SET deleted_at = $2, version = version + 1, updated_at = $2
		WHERE w.wallet_id = $1 AND w.version = $3 AND w.deleted_at IS NULL
			AND w.available_paise = 0 AND w.pending_paise = 0 AND w.locked_paise = 0
			AND NOT EXISTS (
				SELECT 1 FROM settle.payouts p
				WHERE p.user_id = w.user_id AND p.status IN ('requested', 'processing')
			)
	`, wallet.WalletID, now, wallet.Version)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete wallet", err)
	}
	err = mustAffect(result, apierror.NewAPIError(apierror.ErrConcurrentModification,
		fmt.Sprintf("Wallet '%s' changed before it could be deleted", wallet.WalletID), nil))
	if err != nil {
		return err
	}
	wallet.Version++
	wallet.DeletedAt = &now
	wallet.UpdatedAt = now
	return nil
}
