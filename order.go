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

	"github.com/cenkalti/backoff/v4"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/internal/realtime"
	"github.com/dealport/settle/model"
)

var staffRoles = []string{string(model.RoleAdmin), string(model.RoleOps)}

func validateOrder(order model.Order) error {
	err := validation.ValidateStruct(&order,
		validation.Field(&order.BuyerID, validation.Required),
		validation.Field(&order.Items, validation.Required, validation.Each(validation.By(validateLineItem))),
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "invalid order", err)
	}
	return nil
}

func validateLineItem(value interface{}) error {
	item, _ := value.(model.LineItem)
	return validation.ValidateStruct(&item,
		validation.Field(&item.ProductID, validation.Required),
		validation.Field(&item.Quantity, validation.Required, validation.Min(int64(1))),
		validation.Field(&item.PricePaise, validation.Min(int64(0))),
		validation.Field(&item.CommissionPaise, validation.Min(int64(0))),
	)
}

func requireActor(actor string) error {
	if actor == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "actor is required", nil)
	}
	return nil
}

func orderAudience(order *model.Order) realtime.Audience {
	audience := realtime.Audience{Roles: staffRoles, UserIDs: []string{order.BuyerID}}
	if order.BrandUserID != "" {
		audience.UserIDs = append(audience.UserIDs, order.BrandUserID)
	}
	if order.MediatorCode != "" {
		audience.MediatorCodes = []string{order.MediatorCode}
	}
	if order.AgencyCode != "" {
		audience.AgencyCodes = []string{order.AgencyCode}
	}
	return audience
}

func (s *Settle) publishOrder(ctx context.Context, order *model.Order) {
	s.publish(ctx, realtime.Event{
		Type:     realtime.EventOrdersChanged,
		Audience: orderAudience(order),
		Payload:  map[string]interface{}{"order_ids": []string{order.OrderID}},
	})
}

// CreateOrder records a new order. Totals are derived from the line items and
// every status starts at its initial value.
func (s *Settle) CreateOrder(ctx context.Context, order model.Order, actor string) (*model.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validateOrder(order); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order.OrderID = model.GenerateUUIDWithSuffix("ord")
	order.ComputeTotals()
	order.Status = model.OrderStatusOrdered
	order.PaymentStatus = model.PaymentPending
	order.AffiliateStatus = model.AffiliateUnchecked
	order.PreFreezeAffiliateStatus = ""
	order.Frozen = false
	order.FrozenReason, order.FrozenBy, order.FrozenAt = "", "", nil
	order.Verification = map[model.ProofType]bool{}
	order.Extractions = map[model.ProofType]model.ExtractionCacheEntry{}
	if order.ProofImages == nil {
		order.ProofImages = map[model.ProofType]string{}
	}
	order.Events = []model.OrderEvent{{Type: model.EventCreated, Actor: actor, At: now}}
	order.CreatedAt, order.UpdatedAt = now, now

	audit := model.NewAuditLog(actor, model.AuditOrderCreated, model.EntityOrder, order.OrderID, map[string]interface{}{
		"buyer_id":         order.BuyerID,
		"total_paise":      order.TotalPaise,
		"commission_paise": order.CommissionPaise,
	})
	created, err := s.datasource.CreateOrder(ctx, order, audit)
	if err != nil {
		return nil, err
	}

	s.publishOrder(ctx, &created)
	s.notify(WebhookOrderCreated, created)
	return &created, nil
}

// GetOrder retrieves an order by ID.
func (s *Settle) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.datasource.GetOrderByID(ctx, orderID)
}

// GetOrderHistory returns the audit trail of an order, oldest first. Bulk
// freezes that touched the order are included.
func (s *Settle) GetOrderHistory(ctx context.Context, orderID string) ([]model.AuditLog, error) {
	if _, err := s.datasource.GetOrderByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.datasource.GetAuditTrail(ctx, model.EntityOrder, orderID)
}

// FreezeOrders freezes every unfrozen order the selector matches and returns
// the ids that changed. Orders that are already frozen keep their original
// stamp, so calling this twice is harmless.
func (s *Settle) FreezeOrders(ctx context.Context, selector model.OrderSelector, reason, actor string) ([]string, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "freeze reason is required", nil)
	}
	if selector.IsEmpty() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "selector matches nothing", nil)
	}
	ctx, span := tracer.Start(ctx, "Freezing orders")
	defer span.End()

	entityID := "bulk"
	if len(selector.OrderIDs) == 1 && len(selector.BuyerIDs)+len(selector.MediatorCodes)+len(selector.BrandUserIDs) == 0 {
		entityID = selector.OrderIDs[0]
	}
	ids, err := s.freeze(ctx, selector, reason, actor, model.EntityOrder, entityID)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.publish(ctx, realtime.Event{
			Type:     realtime.EventOrdersChanged,
			Audience: realtime.Audience{Roles: staffRoles, UserIDs: selector.BuyerIDs, MediatorCodes: selector.MediatorCodes},
			Payload:  map[string]interface{}{"order_ids": ids, "reason": reason},
		})
		s.notify(WebhookOrdersFrozen, map[string]interface{}{"order_ids": ids, "reason": reason})
	}
	return ids, nil
}

func (s *Settle) freeze(ctx context.Context, selector model.OrderSelector, reason, actor, entityType, entityID string) ([]string, error) {
	req := model.FreezeRequest{Selector: selector, Reason: reason, Actor: actor, At: time.Now().UTC()}
	audit := model.NewAuditLog(actor, model.AuditOrdersFrozen, entityType, entityID, map[string]interface{}{
		"reason":   reason,
		"selector": selector,
	})
	return s.datasource.FreezeOrders(ctx, req, audit)
}

// ReactivateOrder clears a freeze and restores the affiliate status the order
// had when it was frozen.
func (s *Settle) ReactivateOrder(ctx context.Context, orderID, actor, reason string) (*model.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	event := model.OrderEvent{Type: model.EventReactivated, Actor: actor, Reason: reason, At: time.Now().UTC()}
	audit := model.NewAuditLog(actor, model.AuditOrderReactivated, model.EntityOrder, orderID, map[string]interface{}{"reason": reason})
	order, err := s.datasource.ReactivateOrder(ctx, orderID, event, audit)
	if err != nil {
		return nil, err
	}

	s.publishOrder(ctx, order)
	s.notify(WebhookOrderReactivated, order)
	return order, nil
}

// TransitionAffiliateStatus moves an order along the affiliate state machine
// and applies the wallet effect of the move in the same transaction. Lost
// races on the order or the wallet are retried from a fresh read.
func (s *Settle) TransitionAffiliateStatus(ctx context.Context, orderID string, next model.AffiliateStatus, actor string) (*model.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !next.IsValid() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown affiliate status %q", next), nil)
	}
	ctx, span := tracer.Start(ctx, "Transitioning affiliate status")
	defer span.End()

	var order *model.Order
	operation := func() error {
		var err error
		order, err = s.applyTransition(ctx, orderID, next, actor)
		if err == nil {
			return nil
		}
		if apierror.Is(err, apierror.ErrConcurrentModification) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		logrus.WithFields(logrus.Fields{"order_id": orderID, "wait": wait}).WithError(err).Warn("retrying settlement")
	}
	if err := backoff.RetryNotify(operation, s.settlementBackoff(ctx), notify); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.publishOrder(ctx, order)
	s.notify(WebhookOrderAffiliateStatus, order)
	return order, nil
}

func (s *Settle) settlementBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(s.config.Settlement.InitialBackoffMs) * time.Millisecond
	b.MaxElapsedTime = time.Duration(s.config.Settlement.MaxElapsedSeconds) * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, s.config.Settlement.MaxRetryAttempts), ctx)
}

func (s *Settle) applyTransition(ctx context.Context, orderID string, next model.AffiliateStatus, actor string) (*model.Order, error) {
	order, err := s.datasource.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Frozen {
		return nil, apierror.NewAPIError(apierror.ErrFrozen, fmt.Sprintf("order %s is frozen (%s)", orderID, order.FrozenReason), nil)
	}
	from := order.AffiliateStatus
	if !model.CanTransitionAffiliate(from, next) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidTransition, fmt.Sprintf("affiliate status cannot move from %s to %s", from, next), nil)
	}

	now := time.Now().UTC()
	settlement := model.Settlement{
		OrderID:         orderID,
		From:            from,
		To:              next,
		ExpectedPayment: order.PaymentStatus,
		Event:           model.OrderEvent{Type: model.EventAffiliateStatus, Actor: actor, From: string(from), To: string(next), At: now},
	}
	switch next {
	case model.AffiliateApprovedSettled:
		if order.PaymentStatus != model.PaymentPending && order.PaymentStatus != model.PaymentPaid {
			return nil, apierror.NewAPIError(apierror.ErrInvalidTransition, fmt.Sprintf("cannot settle an order whose payment is %s", order.PaymentStatus), nil)
		}
		settlement.SetPayment = model.PaymentPaid
	case model.AffiliateFrozenDisputed:
		settlement.Freeze = true
		settlement.FreezeReason = model.FreezeReasonDisputed
	}

	metadata := map[string]interface{}{"from": from, "to": next}
	if deltas := model.SettlementEffect(from, next, order.CommissionPaise); len(deltas) > 0 {
		wallet, err := s.GetOrCreateWallet(ctx, order.BuyerID)
		if err != nil {
			return nil, err
		}
		if err := wallet.Apply(deltas...); err != nil {
			return nil, walletError(err)
		}
		settlement.Wallet = wallet
		metadata["wallet_id"] = wallet.WalletID
		metadata["deltas"] = deltas
	}
	settlement.Audit = model.NewAuditLog(actor, model.AuditOrderAffiliateStatus, model.EntityOrder, orderID, metadata)

	return s.datasource.ApplySettlement(ctx, settlement)
}

// UpdatePaymentStatus moves an order along the payment state machine.
func (s *Settle) UpdatePaymentStatus(ctx context.Context, orderID string, next model.PaymentStatus, actor string) (*model.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !next.IsValid() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown payment status %q", next), nil)
	}
	order, err := s.datasource.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Frozen {
		return nil, apierror.NewAPIError(apierror.ErrFrozen, fmt.Sprintf("order %s is frozen (%s)", orderID, order.FrozenReason), nil)
	}
	from := order.PaymentStatus
	if !model.CanTransitionPayment(from, next) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidTransition, fmt.Sprintf("payment status cannot move from %s to %s", from, next), nil)
	}

	event := model.OrderEvent{Type: model.EventPaymentStatus, Actor: actor, From: string(from), To: string(next), At: time.Now().UTC()}
	audit := model.NewAuditLog(actor, model.AuditOrderPaymentStatus, model.EntityOrder, orderID, map[string]interface{}{"from": from, "to": next})
	if err := s.datasource.UpdatePaymentStatus(ctx, orderID, from, next, event, audit); err != nil {
		return nil, err
	}

	order.PaymentStatus = next
	order.Events = append(order.Events, event)
	s.publishOrder(ctx, order)
	s.notify(WebhookOrderPaymentStatus, order)
	return order, nil
}

// VerifyProof records a manual verification decision for one proof type.
func (s *Settle) VerifyProof(ctx context.Context, orderID string, proofType model.ProofType, verified bool, actor string) (*model.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !proofType.IsValid() {
		return nil, unknownProofType(proofType)
	}
	order, err := s.datasource.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Frozen {
		return nil, apierror.NewAPIError(apierror.ErrFrozen, fmt.Sprintf("order %s is frozen (%s)", orderID, order.FrozenReason), nil)
	}
	if err := s.setVerification(ctx, order, proofType, verified, actor); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Settle) setVerification(ctx context.Context, order *model.Order, proofType model.ProofType, verified bool, actor string) error {
	event := model.OrderEvent{Type: model.EventProofVerification, Actor: actor, To: fmt.Sprintf("%s=%t", proofType, verified), At: time.Now().UTC()}
	audit := model.NewAuditLog(actor, model.AuditOrderProofVerified, model.EntityOrder, order.OrderID, map[string]interface{}{
		"proof_type": proofType,
		"verified":   verified,
	})
	if err := s.datasource.SetVerification(ctx, order.OrderID, proofType, verified, event, audit); err != nil {
		return err
	}

	if order.Verification == nil {
		order.Verification = map[model.ProofType]bool{}
	}
	order.Verification[proofType] = verified
	order.Events = append(order.Events, event)
	s.publishOrder(ctx, order)
	s.notify(WebhookOrderProofVerified, map[string]interface{}{"order_id": order.OrderID, "proof_type": proofType, "verified": verified})
	return nil
}
