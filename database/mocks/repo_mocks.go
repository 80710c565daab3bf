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
package mocks

import (
	"context"

	"github.com/dealport/settle/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Order methods

func (m *MockDataSource) CreateOrder(ctx context.Context, order model.Order, audit model.AuditLog) (model.Order, error) {
	args := m.Called(ctx, order, audit)
	return args.Get(0).(model.Order), args.Error(1)
}

func (m *MockDataSource) GetOrderByID(ctx context.Context, id string) (*model.Order, error) {
	args := m.Called(ctx, id)
	order, _ := args.Get(0).(*model.Order)
	return order, args.Error(1)
}

func (m *MockDataSource) FreezeOrders(ctx context.Context, req model.FreezeRequest, audit model.AuditLog) ([]string, error) {
	args := m.Called(ctx, req, audit)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MockDataSource) ReactivateOrder(ctx context.Context, orderID string, event model.OrderEvent, audit model.AuditLog) (*model.Order, error) {
	args := m.Called(ctx, orderID, event, audit)
	order, _ := args.Get(0).(*model.Order)
	return order, args.Error(1)
}

func (m *MockDataSource) ApplySettlement(ctx context.Context, settlement model.Settlement) (*model.Order, error) {
	args := m.Called(ctx, settlement)
	order, _ := args.Get(0).(*model.Order)
	return order, args.Error(1)
}

func (m *MockDataSource) UpdatePaymentStatus(ctx context.Context, orderID string, from, to model.PaymentStatus, event model.OrderEvent, audit model.AuditLog) error {
	args := m.Called(ctx, orderID, from, to, event, audit)
	return args.Error(0)
}

func (m *MockDataSource) SetVerification(ctx context.Context, orderID string, proofType model.ProofType, verified bool, event model.OrderEvent, audit model.AuditLog) error {
	args := m.Called(ctx, orderID, proofType, verified, event, audit)
	return args.Error(0)
}

func (m *MockDataSource) ReplaceProofImage(ctx context.Context, orderID string, proofType model.ProofType, image string, event model.OrderEvent, audit model.AuditLog) error {
	args := m.Called(ctx, orderID, proofType, image, event, audit)
	return args.Error(0)
}

func (m *MockDataSource) CountUnsettledOrders(ctx context.Context, selector model.OrderSelector) (int64, error) {
	args := m.Called(ctx, selector)
	return args.Get(0).(int64), args.Error(1)
}

// Wallet methods

func (m *MockDataSource) CreateWallet(ctx context.Context, wallet model.Wallet) (model.Wallet, error) {
	args := m.Called(ctx, wallet)
	return args.Get(0).(model.Wallet), args.Error(1)
}

func (m *MockDataSource) GetWalletByID(ctx context.Context, id string) (*model.Wallet, error) {
	args := m.Called(ctx, id)
	wallet, _ := args.Get(0).(*model.Wallet)
	return wallet, args.Error(1)
}

func (m *MockDataSource) GetWalletByUserID(ctx context.Context, userID string) (*model.Wallet, error) {
	args := m.Called(ctx, userID)
	wallet, _ := args.Get(0).(*model.Wallet)
	return wallet, args.Error(1)
}

func (m *MockDataSource) UpdateWallet(ctx context.Context, wallet *model.Wallet, audit model.AuditLog) error {
	args := m.Called(ctx, wallet, audit)
	return args.Error(0)
}

func (m *MockDataSource) SoftDeleteWallet(ctx context.Context, wallet *model.Wallet, audit model.AuditLog) error {
	args := m.Called(ctx, wallet, audit)
	return args.Error(0)
}

// Payout methods

func (m *MockDataSource) CreatePayout(ctx context.Context, payout model.Payout, wallet *model.Wallet, audit model.AuditLog) (model.Payout, error) {
	args := m.Called(ctx, payout, wallet, audit)
	return args.Get(0).(model.Payout), args.Error(1)
}

func (m *MockDataSource) GetPayoutByID(ctx context.Context, id string) (*model.Payout, error) {
	args := m.Called(ctx, id)
	payout, _ := args.Get(0).(*model.Payout)
	return payout, args.Error(1)
}

func (m *MockDataSource) UpdatePayoutStatus(ctx context.Context, payout *model.Payout, from model.PayoutStatus, wallet *model.Wallet, audit model.AuditLog) error {
	args := m.Called(ctx, payout, from, wallet, audit)
	return args.Error(0)
}

func (m *MockDataSource) CountOpenPayouts(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

// User methods

func (m *MockDataSource) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *MockDataSource) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*model.User)
	return user, args.Error(1)
}

func (m *MockDataSource) CompareAndSetUserStatus(ctx context.Context, userID string, from, to model.UserStatus) (bool, error) {
	args := m.Called(ctx, userID, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) CompleteCascade(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockDataSource) GetMediatorCodesUnderAgency(ctx context.Context, agencyCode string) ([]string, error) {
	args := m.Called(ctx, agencyCode)
	codes, _ := args.Get(0).([]string)
	return codes, args.Error(1)
}

func (m *MockDataSource) SoftDeleteUser(ctx context.Context, userID string, wallet *model.Wallet, audit model.AuditLog) error {
	args := m.Called(ctx, userID, wallet, audit)
	return args.Error(0)
}

// Catalog methods

func (m *MockDataSource) CreateDeal(ctx context.Context, deal model.Deal) (model.Deal, error) {
	args := m.Called(ctx, deal)
	return args.Get(0).(model.Deal), args.Error(1)
}

func (m *MockDataSource) GetDealByID(ctx context.Context, id string) (*model.Deal, error) {
	args := m.Called(ctx, id)
	deal, _ := args.Get(0).(*model.Deal)
	return deal, args.Error(1)
}

func (m *MockDataSource) DeactivateDeals(ctx context.Context, mediatorCodes []string, audit model.AuditLog) ([]string, error) {
	args := m.Called(ctx, mediatorCodes, audit)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MockDataSource) ReactivateDeal(ctx context.Context, dealID string, audit model.AuditLog) (*model.Deal, error) {
	args := m.Called(ctx, dealID, audit)
	deal, _ := args.Get(0).(*model.Deal)
	return deal, args.Error(1)
}

func (m *MockDataSource) SoftDeleteDeal(ctx context.Context, dealID string, audit model.AuditLog) (*model.Deal, error) {
	args := m.Called(ctx, dealID, audit)
	deal, _ := args.Get(0).(*model.Deal)
	return deal, args.Error(1)
}

func (m *MockDataSource) CountActiveDeals(ctx context.Context, mediatorCodes []string) (int64, error) {
	args := m.Called(ctx, mediatorCodes)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) CreateCampaign(ctx context.Context, campaign model.Campaign) (model.Campaign, error) {
	args := m.Called(ctx, campaign)
	return args.Get(0).(model.Campaign), args.Error(1)
}

func (m *MockDataSource) PauseCampaigns(ctx context.Context, brandUserID string, audit model.AuditLog) ([]string, error) {
	args := m.Called(ctx, brandUserID, audit)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MockDataSource) CountActiveCampaigns(ctx context.Context, brandUserID string) (int64, error) {
	args := m.Called(ctx, brandUserID)
	return args.Get(0).(int64), args.Error(1)
}

// Audit methods

func (m *MockDataSource) RecordAudit(ctx context.Context, entries ...model.AuditLog) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockDataSource) GetAuditTrail(ctx context.Context, entityType, entityID string) ([]model.AuditLog, error) {
	args := m.Called(ctx, entityType, entityID)
	trail, _ := args.Get(0).([]model.AuditLog)
	return trail, args.Error(1)
}

// Suspension methods

func (m *MockDataSource) RecordSuspension(ctx context.Context, suspension model.Suspension, audit model.AuditLog) (model.Suspension, error) {
	args := m.Called(ctx, suspension, audit)
	return args.Get(0).(model.Suspension), args.Error(1)
}

func (m *MockDataSource) GetSuspensions(ctx context.Context, userID string) ([]model.Suspension, error) {
	args := m.Called(ctx, userID)
	records, _ := args.Get(0).([]model.Suspension)
	return records, args.Error(1)
}

// Extraction methods

func (m *MockDataSource) GetExtraction(ctx context.Context, orderID string, proofType model.ProofType) (*model.ExtractionCacheEntry, error) {
	args := m.Called(ctx, orderID, proofType)
	entry, _ := args.Get(0).(*model.ExtractionCacheEntry)
	return entry, args.Error(1)
}

func (m *MockDataSource) GetExtractions(ctx context.Context, orderID string) (map[model.ProofType]model.ExtractionCacheEntry, error) {
	args := m.Called(ctx, orderID)
	entries, _ := args.Get(0).(map[model.ProofType]model.ExtractionCacheEntry)
	return entries, args.Error(1)
}

func (m *MockDataSource) SaveExtraction(ctx context.Context, orderID string, entry model.ExtractionCacheEntry) error {
	args := m.Called(ctx, orderID, entry)
	return args.Error(0)
}

func (m *MockDataSource) DeleteExtraction(ctx context.Context, orderID string, proofType model.ProofType) error {
	args := m.Called(ctx, orderID, proofType)
	return args.Error(0)
}
