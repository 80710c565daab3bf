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

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/internal/realtime"
	"github.com/dealport/settle/model"
)

// GetUser retrieves a live user by ID.
func (s *Settle) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return s.datasource.GetUserByID(ctx, userID)
}

// routedCodes returns the mediator codes whose orders and deals belong to the
// user: the user's own code and, for an agency, every code under it.
func (s *Settle) routedCodes(ctx context.Context, user *model.User) ([]string, error) {
	if user.MediatorCode == "" {
		return nil, nil
	}
	codes := []string{user.MediatorCode}
	if user.HasRole(model.RoleAgency) {
		under, err := s.datasource.GetMediatorCodesUnderAgency(ctx, user.MediatorCode)
		if err != nil {
			return nil, err
		}
		codes = append(codes, under...)
	}
	return codes, nil
}

// CanDeleteUser returns nil when the user may be deleted, otherwise the first
// guard that fails. Guards run in a fixed order so the reported reason is stable.
func (s *Settle) CanDeleteUser(ctx context.Context, userID string) error {
	user, err := s.datasource.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.userDeletionGuard(ctx, user)
	return err
}

// userDeletionGuard runs the deletion guards and returns the user's live
// wallet, nil when the user has none.
func (s *Settle) userDeletionGuard(ctx context.Context, user *model.User) (*model.Wallet, error) {
	if user.IsPrivileged() {
		return nil, apierror.NewAPIError(apierror.ErrUserPrivileged, "admin and ops users cannot be deleted", nil)
	}

	campaigns, err := s.datasource.CountActiveCampaigns(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	if campaigns > 0 {
		return nil, apierror.NewAPIError(apierror.ErrUserHasCampaigns, fmt.Sprintf("user has %d active campaigns", campaigns), nil)
	}

	codes, err := s.routedCodes(ctx, user)
	if err != nil {
		return nil, err
	}
	if len(codes) > 0 {
		deals, err := s.datasource.CountActiveDeals(ctx, codes)
		if err != nil {
			return nil, err
		}
		if deals > 0 {
			return nil, apierror.NewAPIError(apierror.ErrUserHasDeals, fmt.Sprintf("user has %d active deals", deals), nil)
		}
	}

	selector := model.OrderSelector{
		BuyerIDs:      []string{user.UserID},
		BrandUserIDs:  []string{user.UserID},
		MediatorCodes: codes,
	}
	orders, err := s.datasource.CountUnsettledOrders(ctx, selector)
	if err != nil {
		return nil, err
	}
	if orders > 0 {
		return nil, apierror.NewAPIError(apierror.ErrUserHasOrders, fmt.Sprintf("user has %d unsettled orders", orders), nil)
	}

	payouts, err := s.datasource.CountOpenPayouts(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	if payouts > 0 {
		return nil, apierror.NewAPIError(apierror.ErrUserHasPayouts, fmt.Sprintf("user has %d open payouts", payouts), nil)
	}

	wallet, err := s.datasource.GetWalletByUserID(ctx, user.UserID)
	if err != nil {
		if apierror.Is(err, apierror.ErrWalletNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !wallet.IsEmpty() {
		return nil, apierror.NewAPIError(apierror.ErrWalletNotEmpty, "user wallet still holds funds", map[string]interface{}{
			"wallet_id":       wallet.WalletID,
			"available_paise": wallet.AvailablePaise,
			"pending_paise":   wallet.PendingPaise,
			"locked_paise":    wallet.LockedPaise,
		})
	}
	return wallet, nil
}

// DeleteUser runs the deletion guards and soft deletes the user together with
// the user's empty wallet. A failed guard leaves everything untouched.
func (s *Settle) DeleteUser(ctx context.Context, userID, actor string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "Deleting user")
	defer span.End()

	user, err := s.datasource.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	wallet, err := s.userDeletionGuard(ctx, user)
	if err != nil {
		return err
	}

	metadata := map[string]interface{}{"roles": user.Roles}
	if wallet != nil {
		metadata["wallet_id"] = wallet.WalletID
	}
	audit := model.NewAuditLog(actor, model.AuditUserDeleted, model.EntityUser, userID, metadata)
	if err := s.datasource.SoftDeleteUser(ctx, userID, wallet, audit); err != nil {
		span.RecordError(err)
		return err
	}

	s.publish(ctx, realtime.Event{
		Type:     realtime.EventUserChanged,
		Audience: realtime.Audience{Roles: staffRoles, UserIDs: []string{userID}},
		Payload:  map[string]interface{}{"user_id": userID, "deleted": true},
	})
	s.notify(WebhookUserDeleted, map[string]interface{}{"user_id": userID})
	return nil
}
