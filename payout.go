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
	"fmt"
	"time"

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/model"
)

// RequestPayout locks amountPaise of the user's available balance for a new payout.
func (s *Settle) RequestPayout(ctx context.Context, userID string, amountPaise int64, actor string) (*model.Payout, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if amountPaise <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, model.ErrInvalidAmount.Error(), nil)
	}
	wallet, err := s.datasource.GetWalletByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := wallet.Apply(model.PayoutEffect(model.PayoutRequested, amountPaise)...); err != nil {
		return nil, walletError(err)
	}

	now := time.Now().UTC()
	payout := model.Payout{
		PayoutID:    model.GenerateUUIDWithSuffix("pay"),
		UserID:      userID,
		WalletID:    wallet.WalletID,
		AmountPaise: amountPaise,
		Status:      model.PayoutRequested,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	audit := model.NewAuditLog(actor, model.AuditPayoutRequested, model.EntityPayout, payout.PayoutID, map[string]interface{}{
		"user_id":      userID,
		"wallet_id":    wallet.WalletID,
		"amount_paise": amountPaise,
	})
	created, err := s.datasource.CreatePayout(ctx, payout, wallet, audit)
	if err != nil {
		return nil, err
	}

	s.publishWallet(ctx, wallet)
	s.notify(WebhookPayoutStatus, created)
	return &created, nil
}

// GetPayout retrieves a payout by ID.
func (s *Settle) GetPayout(ctx context.Context, payoutID string) (*model.Payout, error) {
	return s.datasource.GetPayoutByID(ctx, payoutID)
}

// MarkPayoutProcessing records that the payout was handed to the payment rail.
func (s *Settle) MarkPayoutProcessing(ctx context.Context, payoutID, actor string) (*model.Payout, error) {
	return s.movePayout(ctx, payoutID, model.PayoutProcessing, actor)
}

// CompletePayout releases the locked funds of a paid payout.
func (s *Settle) CompletePayout(ctx context.Context, payoutID, actor string) (*model.Payout, error) {
	return s.movePayout(ctx, payoutID, model.PayoutPaid, actor)
}

// FailPayout returns the locked funds of a failed payout to available.
func (s *Settle) FailPayout(ctx context.Context, payoutID, actor string) (*model.Payout, error) {
	return s.movePayout(ctx, payoutID, model.PayoutFailed, actor)
}

// CancelPayout returns the locked funds of a canceled payout to available.
func (s *Settle) CancelPayout(ctx context.Context, payoutID, actor string) (*model.Payout, error) {
	return s.movePayout(ctx, payoutID, model.PayoutCanceled, actor)
}

func (s *Settle) movePayout(ctx context.Context, payoutID string, next model.PayoutStatus, actor string) (*model.Payout, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	payout, err := s.datasource.GetPayoutByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	from := payout.Status
	if !from.IsOpen() || (next == model.PayoutProcessing && from != model.PayoutRequested) {
		return nil, apierror.NewAPIError(apierror.ErrPayoutAlreadyProcessed, fmt.Sprintf("payout %s is already %s", payoutID, from), nil)
	}

	var wallet *model.Wallet
	if deltas := model.PayoutEffect(next, payout.AmountPaise); len(deltas) > 0 {
		wallet, err = s.datasource.GetWalletByID(ctx, payout.WalletID)
		if err != nil {
			return nil, err
		}
		if err := wallet.Apply(deltas...); err != nil {
			return nil, walletError(err)
		}
	}

	payout.Status = next
	payout.UpdatedAt = time.Now().UTC()
	audit := model.NewAuditLog(actor, model.AuditPayoutStatusChanged, model.EntityPayout, payoutID, map[string]interface{}{
		"from":         from,
		"to":           next,
		"amount_paise": payout.AmountPaise,
	})
	if err := s.datasource.UpdatePayoutStatus(ctx, payout, from, wallet, audit); err != nil {
		return nil, err
	}

	if wallet != nil {
		s.publishWallet(ctx, wallet)
	}
	s.notify(WebhookPayoutStatus, payout)
	return payout, nil
}
