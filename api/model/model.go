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
package model

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/dealport/settle/model"
)

// maxPrewarmKeys bounds a single prewarm request.
const maxPrewarmKeys = 200

func affiliateStatuses() []interface{} {
	return []interface{}{
		model.AffiliateUnchecked, model.AffiliatePendingCooling, model.AffiliateApprovedSettled,
		model.AffiliateRejected, model.AffiliateFraudAlert, model.AffiliateCapExceeded, model.AffiliateFrozenDisputed,
	}
}

func paymentStatuses() []interface{} {
	return []interface{}{model.PaymentPending, model.PaymentPaid, model.PaymentRefunded, model.PaymentFailed}
}

func proofTypes() []interface{} {
	out := make([]interface{}, 0, len(model.AllProofTypes))
	for _, t := range model.AllProofTypes {
		out = append(out, t)
	}
	return out
}

type CreateOrder struct {
	BuyerID      string           `json:"buyer_id"`
	BuyerName    string           `json:"buyer_name"`
	MediatorCode string           `json:"mediator_code"`
	AgencyCode   string           `json:"agency_code"`
	BrandUserID  string           `json:"brand_user_id"`
	DealID       string           `json:"deal_id"`
	Items        []model.LineItem `json:"items"`
}

func (o *CreateOrder) ValidateCreateOrder() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.BuyerID, validation.Required),
		validation.Field(&o.BuyerName, validation.Required),
		validation.Field(&o.Items, validation.Required, validation.Length(1, 0)),
	)
}

func (o *CreateOrder) ToOrder() model.Order {
	return model.Order{
		BuyerID:      o.BuyerID,
		BuyerName:    o.BuyerName,
		MediatorCode: o.MediatorCode,
		AgencyCode:   o.AgencyCode,
		BrandUserID:  o.BrandUserID,
		DealID:       o.DealID,
		Items:        o.Items,
	}
}

type UpdateAffiliateStatus struct {
	Status model.AffiliateStatus `json:"status"`
}

func (u *UpdateAffiliateStatus) ValidateUpdateAffiliateStatus() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Status, validation.Required, validation.In(affiliateStatuses()...)),
	)
}

type UpdatePaymentStatus struct {
	Status model.PaymentStatus `json:"status"`
}

func (u *UpdatePaymentStatus) ValidateUpdatePaymentStatus() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Status, validation.Required, validation.In(paymentStatuses()...)),
	)
}

// Reason carries the free-text justification of a staff action.
type Reason struct {
	Reason string `json:"reason"`
}

func (r *Reason) ValidateReason() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Reason, validation.Required, validation.Length(1, 500)),
	)
}

type FreezeOrders struct {
	OrderIDs      []string `json:"order_ids"`
	BuyerIDs      []string `json:"buyer_ids"`
	MediatorCodes []string `json:"mediator_codes"`
	BrandUserIDs  []string `json:"brand_user_ids"`
	Reason        string   `json:"reason"`
}

func (f *FreezeOrders) Selector() model.OrderSelector {
	return model.OrderSelector{
		OrderIDs:      f.OrderIDs,
		BuyerIDs:      f.BuyerIDs,
		MediatorCodes: f.MediatorCodes,
		BrandUserIDs:  f.BrandUserIDs,
	}
}

func (f *FreezeOrders) ValidateFreezeOrders() error {
	err := validation.ValidateStruct(f,
		validation.Field(&f.Reason, validation.Required),
	)
	if err != nil {
		return err
	}
	if f.Selector().IsEmpty() {
		return errors.New("at least one of order_ids, buyer_ids, mediator_codes or brand_user_ids is required")
	}
	return nil
}

type SubmitProof struct {
	Image string `json:"image"`
}

func (s *SubmitProof) ValidateSubmitProof() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Image, validation.Required),
	)
}

type ExtractProof struct {
	Image          string             `json:"image"`
	Expectations   model.Expectations `json:"expectations"`
	ForceReExtract bool               `json:"force_re_extract"`
}

type VerifyProof struct {
	Verified *bool `json:"verified"`
}

func (v *VerifyProof) ValidateVerifyProof() error {
	return validation.ValidateStruct(v,
		validation.Field(&v.Verified, validation.NotNil),
	)
}

type PrewarmProofs struct {
	Keys  []model.ProofKey `json:"keys"`
	Async bool             `json:"async"`
}

func validateProofKey(value interface{}) error {
	key, _ := value.(model.ProofKey)
	return validation.ValidateStruct(&key,
		validation.Field(&key.OrderID, validation.Required),
		validation.Field(&key.ProofType, validation.Required, validation.In(proofTypes()...)),
	)
}

func (p *PrewarmProofs) ValidatePrewarmProofs() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Keys, validation.Required, validation.Length(1, maxPrewarmKeys), validation.Each(validation.By(validateProofKey))),
	)
}

type UpdateUserStatus struct {
	Status model.UserStatus `json:"status"`
	Reason string           `json:"reason"`
}

func (u *UpdateUserStatus) ValidateUpdateUserStatus() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Status, validation.Required, validation.In(model.UserActive, model.UserSuspended)),
		validation.Field(&u.Reason, validation.When(u.Status == model.UserSuspended, validation.Required)),
	)
}

type WalletAdjustment struct {
	Bucket      model.Bucket `json:"bucket"`
	AmountPaise int64        `json:"amount_paise"`
}

func (w *WalletAdjustment) ValidateWalletAdjustment() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.Bucket, validation.Required, validation.In(model.BucketAvailable, model.BucketPending, model.BucketLocked)),
		validation.Field(&w.AmountPaise, validation.Required, validation.Min(int64(1))),
	)
}

type RequestPayout struct {
	UserID      string `json:"user_id"`
	AmountPaise int64  `json:"amount_paise"`
}

func (r *RequestPayout) ValidateRequestPayout() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.AmountPaise, validation.Required, validation.Min(int64(1))),
	)
}
