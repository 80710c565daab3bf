/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package settle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/internal/realtime"
	"github.com/dealport/settle/model"
)

// walletError maps ledger arithmetic failures onto API errors.
func walletError(err error) error {
	switch {
	case errors.Is(err, model.ErrInsufficientFunds):
		return apierror.NewAPIError(apierror.ErrInsufficientFunds, err.Error(), nil)
	case errors.Is(err, model.ErrInvalidAmount):
		return apierror.NewAPIError(apierror.ErrInvalidAmount, err.Error(), nil)
	case errors.Is(err, model.ErrUnknownBucket):
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	return err
}

func (s *Settle) publishWallet(ctx context.Context, wallet *model.Wallet) {
	s.publish(ctx, realtime.Event{
		Type:     realtime.EventWalletChanged,
		Audience: realtime.Audience{Roles: staffRoles, UserIDs: []string{wallet.UserID}},
		Payload: map[string]interface{}{
			"wallet_id": wallet.WalletID,
			"available": model.FormatPaise(wallet.AvailablePaise),
			"pending":   model.FormatPaise(wallet.PendingPaise),
			"locked":    model.FormatPaise(wallet.LockedPaise),
		},
	})
}

// GetWallet retrieves a wallet by ID.
func (s *Settle) GetWallet(ctx context.Context, walletID string) (*model.Wallet, error) {
	return s.datasource.GetWalletByID(ctx, walletID)
}

// GetOrCreateWallet returns the live wallet of a user, creating an empty one
// if the user has none. A concurrent creation is resolved by reading the
// winner's wallet.
func (s *Settle) GetOrCreateWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	wallet, err := s.datasource.GetWalletByUserID(ctx, userID)
	if err == nil {
		return wallet, nil
	}
	if !apierror.Is(err, apierror.ErrWalletNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	created, err := s.datasource.CreateWallet(ctx, model.Wallet{
		WalletID:  model.GenerateUUIDWithSuffix("wal"),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		if apierror.Is(err, apierror.ErrInvalidInput) {
			return s.datasource.GetWalletByUserID(ctx, userID)
		}
		return nil, err
	}
	return &created, nil
}

// Credit adds a positive amount to one bucket of a wallet.
func (s *Settle) Credit(ctx context.Context, walletID string, bucket model.Bucket, amountPaise int64, actor string) (*model.Wallet, error) {
	return s.adjustWallet(ctx, walletID, model.AuditWalletCredited, bucket, amountPaise, actor, (*model.Wallet).Credit)
}

// Debit removes a positive amount from one bucket of a wallet. A debit that
// would leave the bucket negative fails with INSUFFICIENT_FUNDS.
func (s *Settle) Debit(ctx context.Context, walletID string, bucket model.Bucket, amountPaise int64, actor string) (*model.Wallet, error) {
	return s.adjustWallet(ctx, walletID, model.AuditWalletDebited, bucket, amountPaise, actor, (*model.Wallet).Debit)
}

func (s *Settle) adjustWallet(ctx context.Context, walletID, action string, bucket model.Bucket, amountPaise int64, actor string,
	apply func(*model.Wallet, model.Bucket, int64) error) (*model.Wallet, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if amountPaise <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, model.ErrInvalidAmount.Error(), nil)
	}
	if !bucket.IsValid() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown bucket %q", bucket), nil)
	}

	wallet, err := s.datasource.GetWalletByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet.IsDeleted() {
		return nil, apierror.NewAPIError(apierror.ErrAlreadyDeleted, fmt.Sprintf("wallet %s is deleted", walletID), nil)
	}
	if err := apply(wallet, bucket, amountPaise); err != nil {
		return nil, walletError(err)
	}

	audit := model.NewAuditLog(actor, action, model.EntityWallet, walletID, map[string]interface{}{
		"bucket":       bucket,
		"amount_paise": amountPaise,
		"version":      wallet.Version,
	})
	if err := s.datasource.UpdateWallet(ctx, wallet, audit); err != nil {
		return nil, err
	}

	s.publishWallet(ctx, wallet)
	return wallet, nil
}

// walletDeletionBlocker returns the guard error that prevents deleting the
// wallet, or nil when it may be deleted.
func (s *Settle) walletDeletionBlocker(ctx context.Context, wallet *model.Wallet) error {
	if wallet.IsDeleted() {
		return apierror.NewAPIError(apierror.ErrAlreadyDeleted, fmt.Sprintf("wallet %s is already deleted", wallet.WalletID), nil)
	}
	if !wallet.IsEmpty() {
		return apierror.NewAPIError(apierror.ErrWalletNotEmpty, "wallet still holds funds", map[string]interface{}{
			"available_paise": wallet.AvailablePaise,
			"pending_paise":   wallet.PendingPaise,
			"locked_paise":    wallet.LockedPaise,
		})
	}
	open, err := s.datasource.CountOpenPayouts(ctx, wallet.UserID)
	if err != nil {
		return err
	}
	if open > 0 {
		return apierror.NewAPIError(apierror.ErrPayoutPending, fmt.Sprintf("%d payouts are still open", open), nil)
	}
	return nil
}

// CanDeleteWallet reports whether the wallet is empty, live and has no open
// payouts. Lookup failures are returned as errors.
func (s *Settle) CanDeleteWallet(ctx context.Context, walletID string) (bool, error) {
	wallet, err := s.datasource.GetWalletByID(ctx, walletID)
	if err != nil {
		return false, err
	}
	err = s.walletDeletionBlocker(ctx, wallet)
	if err == nil {
		return true, nil
	}
	if _, ok := apierror.As(err); ok {
		return false, nil
	}
	return false, err
}

// DeleteWallet soft deletes a wallet. The guard is re-checked by the store in
// the same statement, so a credit racing the delete makes one of them fail.
func (s *Settle) DeleteWallet(ctx context.Context, walletID, actor string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	wallet, err := s.datasource.GetWalletByID(ctx, walletID)
	if err != nil {
		return err
	}
	if err := s.walletDeletionBlocker(ctx, wallet); err != nil {
		return err
	}

	audit := model.NewAuditLog(actor, model.AuditWalletDeleted, model.EntityWallet, walletID, map[string]interface{}{"user_id": wallet.UserID})
	if err := s.datasource.SoftDeleteWallet(ctx, wallet, audit); err != nil {
		if !apierror.Is(err, apierror.ErrConcurrentModification) {
			return err
		}
		// Report what changed underneath if the fresh state explains it.
		if fresh, ferr := s.datasource.GetWalletByID(ctx, walletID); ferr == nil {
			if blocker := s.walletDeletionBlocker(ctx, fresh); blocker != nil {
				return blocker
			}
		}
		return err
	}

	s.publishWallet(ctx, wallet)
	s.notify(WebhookWalletDeleted, map[string]interface{}{"wallet_id": walletID, "user_id": wallet.UserID})
	return nil
}
