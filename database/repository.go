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

package database

import (
	"context"

	"github.com/dealport/settle/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	order
	wallet
	payout
	user
	catalog
	audit
	suspension
	extraction
}

// order defines methods for handling orders. Every mutating method appends to
// the order's event log in the same statement that changes it.
type order interface {
	CreateOrder(ctx context.Context, order model.Order, audit model.AuditLog) (model.Order, error)
	GetOrderByID(ctx context.Context, id string) (*model.Order, error)
	FreezeOrders(ctx context.Context, req model.FreezeRequest, audit model.AuditLog) ([]string, error)                      // Freezes every unfrozen order matching the selector; audits only when something changed
	ReactivateOrder(ctx context.Context, orderID string, event model.OrderEvent, audit model.AuditLog) (*model.Order, error) // Clears the freeze and restores the pre-freeze affiliate status
	ApplySettlement(ctx context.Context, settlement model.Settlement) (*model.Order, error)                                  // Order transition, wallet change and audit in one transaction
	UpdatePaymentStatus(ctx context.Context, orderID string, from, to model.PaymentStatus, event model.OrderEvent, audit model.AuditLog) error
	SetVerification(ctx context.Context, orderID string, proofType model.ProofType, verified bool, event model.OrderEvent, audit model.AuditLog) error
	ReplaceProofImage(ctx context.Context, orderID string, proofType model.ProofType, image string, event model.OrderEvent, audit model.AuditLog) error // Stores the image and drops the stale extraction
	CountUnsettledOrders(ctx context.Context, selector model.OrderSelector) (int64, error)
}

// wallet defines methods for handling wallets. Writes are version checked.
type wallet interface {
	CreateWallet(ctx context.Context, wallet model.Wallet) (model.Wallet, error)
	GetWalletByID(ctx context.Context, id string) (*model.Wallet, error)
	GetWalletByUserID(ctx context.Context, userID string) (*model.Wallet, error) // Live (non-deleted) wallet of a user
	UpdateWallet(ctx context.Context, wallet *model.Wallet, audit model.AuditLog) error
	SoftDeleteWallet(ctx context.Context, wallet *model.Wallet, audit model.AuditLog) error
}

// payout defines methods for handling payouts.
type payout interface {
	CreatePayout(ctx context.Context, payout model.Payout, wallet *model.Wallet, audit model.AuditLog) (model.Payout, error)
	GetPayoutByID(ctx context.Context, id string) (*model.Payout, error)
	UpdatePayoutStatus(ctx context.Context, payout *model.Payout, from model.PayoutStatus, wallet *model.Wallet, audit model.AuditLog) error
	CountOpenPayouts(ctx context.Context, userID string) (int64, error)
}

// user defines methods for handling users.
type user interface {
	CreateUser(ctx context.Context, user model.User) (model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	CompareAndSetUserStatus(ctx context.Context, userID string, from, to model.UserStatus) (bool, error) // Returns false when the stored status was not from
	CompleteCascade(ctx context.Context, userID string) error
	GetMediatorCodesUnderAgency(ctx context.Context, agencyCode string) ([]string, error)
	SoftDeleteUser(ctx context.Context, userID string, wallet *model.Wallet, audit model.AuditLog) error
}

// catalog defines methods for deals and campaigns. Bulk methods audit once per call.
type catalog interface {
	CreateDeal(ctx context.Context, deal model.Deal) (model.Deal, error)
	GetDealByID(ctx context.Context, id string) (*model.Deal, error)
	DeactivateDeals(ctx context.Context, mediatorCodes []string, audit model.AuditLog) ([]string, error)
	ReactivateDeal(ctx context.Context, dealID string, audit model.AuditLog) (*model.Deal, error)
	SoftDeleteDeal(ctx context.Context, dealID string, audit model.AuditLog) (*model.Deal, error)
	CountActiveDeals(ctx context.Context, mediatorCodes []string) (int64, error)
	CreateCampaign(ctx context.Context, campaign model.Campaign) (model.Campaign, error)
	PauseCampaigns(ctx context.Context, brandUserID string, audit model.AuditLog) ([]string, error)
	CountActiveCampaigns(ctx context.Context, brandUserID string) (int64, error)
}

// audit defines the append-only audit sink.
type audit interface {
	RecordAudit(ctx context.Context, entries ...model.AuditLog) error
	GetAuditTrail(ctx context.Context, entityType, entityID string) ([]model.AuditLog, error)
}

// suspension defines methods for suspension records.
type suspension interface {
	RecordSuspension(ctx context.Context, suspension model.Suspension, audit model.AuditLog) (model.Suspension, error)
	GetSuspensions(ctx context.Context, userID string) ([]model.Suspension, error)
}

// extraction defines methods for the per-order extraction cache.
type extraction interface {
	GetExtraction(ctx context.Context, orderID string, proofType model.ProofType) (*model.ExtractionCacheEntry, error) // nil entry when absent
	GetExtractions(ctx context.Context, orderID string) (map[model.ProofType]model.ExtractionCacheEntry, error)
	SaveExtraction(ctx context.Context, orderID string, entry model.ExtractionCacheEntry) error
	DeleteExtraction(ctx context.Context, orderID string, proofType model.ProofType) error
}
