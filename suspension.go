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

	"github.com/sirupsen/logrus"

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/internal/notification"
	"github.com/dealport/settle/internal/realtime"
	"github.com/dealport/settle/model"
)

// Cascade step actions.
const (
	StepOrdersFrozen      = "orders.frozen"
	StepDealsDeactivated  = "deals.deactivated"
	StepCampaignsPaused   = "campaigns.paused"
	StepSuspensionWritten = "suspension.recorded"
)

// CascadeStep is one applied effect of a status change.
type CascadeStep struct {
	Capability string   `json:"capability,omitempty"`
	Action     string   `json:"action"`
	IDs        []string `json:"ids,omitempty"`
}

// CascadeResult reports what a status change did. When a step fails the
// result lists the steps applied before it.
type CascadeResult struct {
	UserID       string           `json:"user_id"`
	Previous     model.UserStatus `json:"previous"`
	Next         model.UserStatus `json:"next"`
	Changed      bool             `json:"changed"`
	Resumed      bool             `json:"resumed,omitempty"`
	SuspensionID string           `json:"suspension_id,omitempty"`
	Steps        []CascadeStep    `json:"steps"`

	FrozenOrderIDs     []string `json:"frozen_order_ids"`
	DeactivatedDealIDs []string `json:"deactivated_deal_ids"`
	PausedCampaignIDs  []string `json:"paused_campaign_ids"`
}

func (r *CascadeResult) record(capability model.Capability, action string, ids []string) {
	r.Steps = append(r.Steps, CascadeStep{Capability: capability.String(), Action: action, IDs: ids})
	switch action {
	case StepOrdersFrozen:
		r.FrozenOrderIDs = append(r.FrozenOrderIDs, ids...)
	case StepDealsDeactivated:
		r.DeactivatedDealIDs = append(r.DeactivatedDealIDs, ids...)
	case StepCampaignsPaused:
		r.PausedCampaignIDs = append(r.PausedCampaignIDs, ids...)
	}
}

// cascade carries one suspension through the capability handlers.
type cascade struct {
	user   *model.User
	actor  string
	reason string
	result *CascadeResult
}

type cascadeHandler func(s *Settle, ctx context.Context, c *cascade) error

func handlerFor(capability model.Capability) cascadeHandler {
	switch capability {
	case model.CapabilityShopper:
		return (*Settle).suspendShopper
	case model.CapabilityMediator:
		return (*Settle).suspendMediator
	case model.CapabilityAgency:
		return (*Settle).suspendAgency
	case model.CapabilityBrand:
		return (*Settle).suspendBrand
	}
	return nil
}

func selfSuspension(user *model.User, next model.UserStatus, actor string) error {
	if actor == user.UserID && next == model.UserSuspended {
		return apierror.NewAPIError(apierror.ErrCannotSelfSuspend, "users cannot suspend themselves", nil)
	}
	return nil
}

// UpdateUserStatus persists a new status with a compare-and-set on the current
// one and runs the cascade when this call made the change. Saving the status a
// user already has, or losing the race to another writer, runs nothing, unless
// an earlier suspension cascade stopped partway; then the handlers run again.
func (s *Settle) UpdateUserStatus(ctx context.Context, userID string, next model.UserStatus, actor, reason string) (*CascadeResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !next.IsValid() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown user status %q", next), nil)
	}
	user, err := s.datasource.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := selfSuspension(user, next, actor); err != nil {
		return nil, err
	}

	previous := user.Status
	noop := &CascadeResult{UserID: userID, Previous: previous, Next: next}
	if previous == next {
		if next == model.UserSuspended && user.CascadePending {
			return s.resumeCascade(ctx, user, actor, reason)
		}
		return noop, nil
	}
	changed, err := s.datasource.CompareAndSetUserStatus(ctx, userID, previous, next)
	if err != nil {
		return nil, err
	}
	if !changed {
		logrus.WithFields(logrus.Fields{"user_id": userID, "next": next}).Info("status changed concurrently, cascade skipped")
		return noop, nil
	}

	user.Status = next
	return s.OnStatusChange(ctx, user, previous, next, actor, reason)
}

// OnStatusChange applies the consequences of a status edge that has already
// been persisted. Suspension runs one handler per capability of the user in a
// fixed order; unsuspension only records the event and restores nothing.
func (s *Settle) OnStatusChange(ctx context.Context, user *model.User, previous, next model.UserStatus, actor, reason string) (*CascadeResult, error) {
	if err := selfSuspension(user, next, actor); err != nil {
		return nil, err
	}
	result := &CascadeResult{UserID: user.UserID, Previous: previous, Next: next}
	if previous == next {
		return result, nil
	}
	result.Changed = true

	ctx, span := tracer.Start(ctx, "Cascading user status change")
	defer span.End()

	action, auditAction, hook := model.SuspensionUnsuspend, model.AuditUserUnsuspended, WebhookUserUnsuspended
	if next == model.UserSuspended {
		action, auditAction, hook = model.SuspensionSuspend, model.AuditUserSuspended, WebhookUserSuspended
	}
	record, err := s.datasource.RecordSuspension(ctx, model.Suspension{
		SuspensionID: model.GenerateUUIDWithSuffix("sus"),
		UserID:       user.UserID,
		Action:       action,
		Reason:       reason,
		AdminID:      actor,
		CreatedAt:    time.Now().UTC(),
	}, model.NewAuditLog(actor, auditAction, model.EntityUser, user.UserID, map[string]interface{}{
		"reason":   reason,
		"previous": previous,
		"roles":    user.Roles,
	}))
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	result.SuspensionID = record.SuspensionID
	result.Steps = append(result.Steps, CascadeStep{Action: StepSuspensionWritten, IDs: []string{record.SuspensionID}})

	if next == model.UserSuspended {
		if err := s.runCascade(ctx, &cascade{user: user, actor: actor, reason: reason, result: result}); err != nil {
			span.RecordError(err)
			return result, err
		}
	}

	s.finishStatusChange(ctx, result, hook)
	return result, nil
}

// resumeCascade runs the suspension handlers again for a user whose last
// cascade stopped partway. No new suspension record is written; the handlers
// skip whatever the earlier run already applied.
func (s *Settle) resumeCascade(ctx context.Context, user *model.User, actor, reason string) (*CascadeResult, error) {
	ctx, span := tracer.Start(ctx, "Resuming suspension cascade")
	defer span.End()

	result := &CascadeResult{UserID: user.UserID, Previous: user.Status, Next: user.Status, Resumed: true}
	logrus.WithField("user_id", user.UserID).Info("resuming incomplete suspension cascade")
	if err := s.runCascade(ctx, &cascade{user: user, actor: actor, reason: reason, result: result}); err != nil {
		span.RecordError(err)
		return result, err
	}
	s.finishStatusChange(ctx, result, WebhookUserSuspended)
	return result, nil
}

// runCascade calls the handler of every capability of the user and clears the
// pending mark once all of them succeeded.
func (s *Settle) runCascade(ctx context.Context, c *cascade) error {
	for _, capability := range c.user.Capabilities() {
		handler := handlerFor(capability)
		if handler == nil {
			continue
		}
		if err := handler(s, ctx, c); err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id":    c.user.UserID,
				"capability": capability.String(),
				"applied":    len(c.result.Steps),
			}).WithError(err).Error("suspension cascade stopped")
			return err
		}
	}
	// Every handler is idempotent, so a mark left behind only repeats work.
	if err := s.datasource.CompleteCascade(ctx, c.user.UserID); err != nil {
		logrus.WithField("user_id", c.user.UserID).WithError(err).Warn("suspension cascade left pending")
		notification.NotifyError(err)
	}
	return nil
}

func (s *Settle) finishStatusChange(ctx context.Context, result *CascadeResult, hook string) {
	logrus.WithFields(logrus.Fields{
		"user_id": result.UserID,
		"status":  result.Next,
		"resumed": result.Resumed,
		"orders":  len(result.FrozenOrderIDs),
		"deals":   len(result.DeactivatedDealIDs),
		"paused":  len(result.PausedCampaignIDs),
	}).Info("user status changed")
	s.publish(ctx, realtime.Event{
		Type:     realtime.EventUserChanged,
		Audience: realtime.Audience{Roles: staffRoles, UserIDs: []string{result.UserID}},
		Payload:  map[string]interface{}{"user_id": result.UserID, "status": result.Next},
	})
	s.notify(hook, result)
}

func (s *Settle) cascadeFreeze(ctx context.Context, c *cascade, capability model.Capability, selector model.OrderSelector, reason string, audience realtime.Audience) error {
	ids, err := s.freeze(ctx, selector, reason, c.actor, model.EntityUser, c.user.UserID)
	if err != nil {
		return err
	}
	c.result.record(capability, StepOrdersFrozen, ids)
	if len(ids) > 0 {
		s.publish(ctx, realtime.Event{
			Type:     realtime.EventOrdersChanged,
			Audience: audience,
			Payload:  map[string]interface{}{"order_ids": ids, "reason": reason},
		})
	}
	return nil
}

func (s *Settle) cascadeDeactivateDeals(ctx context.Context, c *cascade, capability model.Capability, codes []string, audience realtime.Audience) error {
	audit := model.NewAuditLog(c.actor, model.AuditDealsDeactivated, model.EntityUser, c.user.UserID, map[string]interface{}{"reason": c.reason})
	ids, err := s.datasource.DeactivateDeals(ctx, codes, audit)
	if err != nil {
		return err
	}
	c.result.record(capability, StepDealsDeactivated, ids)
	// Sent even when nothing changed so mediator and agency views drop the
	// suspended code's deals.
	s.publish(ctx, realtime.Event{
		Type:     realtime.EventDealsChanged,
		Audience: audience,
		Payload:  map[string]interface{}{"deal_ids": ids, "mediator_codes": codes, "active": false},
	})
	return nil
}

func (s *Settle) suspendShopper(ctx context.Context, c *cascade) error {
	audience := realtime.Audience{Roles: staffRoles, UserIDs: []string{c.user.UserID}}
	return s.cascadeFreeze(ctx, c, model.CapabilityShopper,
		model.OrderSelector{BuyerIDs: []string{c.user.UserID}}, model.FreezeReasonUserSuspended, audience)
}

func (s *Settle) suspendMediator(ctx context.Context, c *cascade) error {
	code := c.user.MediatorCode
	if code == "" {
		logrus.WithField("user_id", c.user.UserID).Warn("mediator has no code, nothing to suspend")
		return nil
	}
	audience := realtime.Audience{Roles: staffRoles, MediatorCodes: []string{code}}
	if c.user.ParentCode != "" {
		audience.AgencyCodes = []string{c.user.ParentCode}
	}
	if err := s.cascadeDeactivateDeals(ctx, c, model.CapabilityMediator, []string{code}, audience); err != nil {
		return err
	}
	return s.cascadeFreeze(ctx, c, model.CapabilityMediator,
		model.OrderSelector{MediatorCodes: []string{code}}, model.FreezeReasonMediatorSuspended, audience)
}

func (s *Settle) suspendAgency(ctx context.Context, c *cascade) error {
	agencyCode := c.user.MediatorCode
	if agencyCode == "" {
		logrus.WithField("user_id", c.user.UserID).Warn("agency has no code, nothing to suspend")
		return nil
	}
	under, err := s.datasource.GetMediatorCodesUnderAgency(ctx, agencyCode)
	if err != nil {
		return err
	}
	codes := append([]string{agencyCode}, under...)
	audience := realtime.Audience{Roles: staffRoles, MediatorCodes: codes, AgencyCodes: []string{agencyCode}}
	if err := s.cascadeDeactivateDeals(ctx, c, model.CapabilityAgency, codes, audience); err != nil {
		return err
	}
	return s.cascadeFreeze(ctx, c, model.CapabilityAgency,
		model.OrderSelector{MediatorCodes: codes}, model.FreezeReasonAgencySuspended, audience)
}

func (s *Settle) suspendBrand(ctx context.Context, c *cascade) error {
	audit := model.NewAuditLog(c.actor, model.AuditCampaignsPaused, model.EntityUser, c.user.UserID, map[string]interface{}{"reason": c.reason})
	ids, err := s.datasource.PauseCampaigns(ctx, c.user.UserID, audit)
	if err != nil {
		return err
	}
	c.result.record(model.CapabilityBrand, StepCampaignsPaused, ids)
	audience := realtime.Audience{Roles: staffRoles, UserIDs: []string{c.user.UserID}}
	if len(ids) > 0 {
		s.publish(ctx, realtime.Event{
			Type:     realtime.EventCampaignsChanged,
			Audience: audience,
			Payload:  map[string]interface{}{"campaign_ids": ids, "status": model.CampaignPaused},
		})
	}
	return s.cascadeFreeze(ctx, c, model.CapabilityBrand,
		model.OrderSelector{BrandUserIDs: []string{c.user.UserID}}, model.FreezeReasonBrandSuspended, audience)
}

// ListSuspensions returns the suspension history of a user, oldest first.
func (s *Settle) ListSuspensions(ctx context.Context, userID string) ([]model.Suspension, error) {
	return s.datasource.GetSuspensions(ctx, userID)
}

// ReactivateDeal switches a single deal back on. Suspension never does this
// on its own; reactivation is always an explicit staff action.
func (s *Settle) ReactivateDeal(ctx context.Context, dealID, actor, reason string) (*model.Deal, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	audit := model.NewAuditLog(actor, model.AuditDealReactivated, model.EntityDeal, dealID, map[string]interface{}{"reason": reason})
	deal, err := s.datasource.ReactivateDeal(ctx, dealID, audit)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, realtime.Event{
		Type:     realtime.EventDealsChanged,
		Audience: realtime.Audience{Roles: staffRoles, MediatorCodes: []string{deal.MediatorCode}},
		Payload:  map[string]interface{}{"deal_ids": []string{deal.DealID}, "active": true},
	})
	return deal, nil
}

// DeleteDeal tombstones a deal so it can no longer be reactivated. Orders
// already placed against it keep their reference.
func (s *Settle) DeleteDeal(ctx context.Context, dealID, actor, reason string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	audit := model.NewAuditLog(actor, model.AuditDealDeleted, model.EntityDeal, dealID, map[string]interface{}{"reason": reason})
	deal, err := s.datasource.SoftDeleteDeal(ctx, dealID, audit)
	if err != nil {
		return err
	}
	s.publish(ctx, realtime.Event{
		Type:     realtime.EventDealsChanged,
		Audience: realtime.Audience{Roles: staffRoles, MediatorCodes: []string{deal.MediatorCode}},
		Payload:  map[string]interface{}{"deal_ids": []string{deal.DealID}, "active": false, "deleted": true},
	})
	s.notify(WebhookDealDeleted, deal)
	return nil
}
