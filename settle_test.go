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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealport/settle/config"
	"github.com/dealport/settle/internal/realtime"
	"github.com/dealport/settle/model"
)

type fakeExtractor struct {
	calls  int32
	delay  time.Duration
	result model.ExtractionResult
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, _ model.ProofType, _ string, _ model.Expectations) (model.ExtractionResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.ExtractionResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return model.ExtractionResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeExtractor) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []realtime.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	settle    *Settle
	store     *memStore
	extractor *fakeExtractor
	events    *recordingPublisher
	redis     *miniredis.Miniredis
	ctx       context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		ProjectName: "settle-test",
		DataSource:  config.DataSourceConfig{Dns: "postgres://localhost/settle_test"},
		Redis:       config.RedisConfig{Dns: mr.Addr()},
		Extraction:  config.ExtractionConfig{TimeoutSeconds: 1, LockTTLSeconds: 3, MinConfidence: 0.8},
		Settlement:  config.SettlementConfig{MaxRetryAttempts: 3, InitialBackoffMs: 1, MaxElapsedSeconds: 1},
	})

	store := newMemStore()
	extractor := &fakeExtractor{result: model.ExtractionResult{Fields: map[string]interface{}{}, Confidence: 0.95}}
	events := &recordingPublisher{}
	s, err := NewSettle(store, WithExtractor(extractor), WithPublisher(events))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return &testEnv{settle: s, store: store, extractor: extractor, events: events, redis: mr, ctx: context.Background()}
}

func (e *testEnv) seedUser(t *testing.T, roles []model.Role, mutate ...func(*model.User)) *model.User {
	t.Helper()
	now := time.Now().UTC()
	user := model.User{
		UserID:    model.GenerateUUIDWithSuffix("usr"),
		Name:      gofakeit.Name(),
		Roles:     roles,
		Status:    model.UserActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, fn := range mutate {
		fn(&user)
	}
	_, err := e.store.CreateUser(e.ctx, user)
	require.NoError(t, err)
	return &user
}

func withCode(code string) func(*model.User) {
	return func(u *model.User) { u.MediatorCode = code }
}

func withParent(code string) func(*model.User) {
	return func(u *model.User) { u.ParentCode = code }
}

func sampleOrder(buyer *model.User) model.Order {
	return model.Order{
		BuyerID:   buyer.UserID,
		BuyerName: buyer.Name,
		Items: []model.LineItem{{
			ProductID:       gofakeit.UUID(),
			ProductName:     gofakeit.ProductName(),
			Quantity:        2,
			PricePaise:      49900,
			CommissionPaise: 2500,
		}},
	}
}

// seedOrder creates an order through the service so it carries the same
// initial state a real submission would.
func (e *testEnv) seedOrder(t *testing.T, buyer *model.User, mutate ...func(*model.Order)) *model.Order {
	t.Helper()
	order := sampleOrder(buyer)
	for _, fn := range mutate {
		fn(&order)
	}
	created, err := e.settle.CreateOrder(e.ctx, order, buyer.UserID)
	require.NoError(t, err)
	return created
}

func (e *testEnv) seedDeal(t *testing.T, code string) *model.Deal {
	t.Helper()
	deal := model.Deal{DealID: model.GenerateUUIDWithSuffix("deal"), MediatorCode: code, Active: true, CreatedAt: time.Now().UTC()}
	_, err := e.store.CreateDeal(e.ctx, deal)
	require.NoError(t, err)
	return &deal
}

func (e *testEnv) seedCampaign(t *testing.T, brandID string, status model.CampaignStatus) *model.Campaign {
	t.Helper()
	campaign := model.Campaign{CampaignID: model.GenerateUUIDWithSuffix("cmp"), BrandUserID: brandID, Status: status, CreatedAt: time.Now().UTC()}
	_, err := e.store.CreateCampaign(e.ctx, campaign)
	require.NoError(t, err)
	return &campaign
}

func (e *testEnv) fundWallet(t *testing.T, userID string, available int64) *model.Wallet {
	t.Helper()
	wallet, err := e.settle.GetOrCreateWallet(e.ctx, userID)
	require.NoError(t, err)
	if available > 0 {
		wallet, err = e.settle.Credit(e.ctx, wallet.WalletID, model.BucketAvailable, available, "ops_1")
		require.NoError(t, err)
	}
	return wallet
}

func TestNewSettleRequiresConfig(t *testing.T) {
	config.ConfigStore = atomic.Value{}
	_, err := NewSettle(newMemStore())
	require.Error(t, err)
}

func TestCloseReleasesRedis(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.settle.redis.Ping(env.ctx).Err())

	require.NoError(t, env.settle.Close())
	assert.ErrorIs(t, env.settle.redis.Ping(env.ctx).Err(), redis.ErrClosed)
}
