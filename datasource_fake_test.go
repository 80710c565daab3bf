package settle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/model"
)

// memStore is an in-memory database.IDataSource with the same conditional
// write semantics as the Postgres datasource. Errors registered in failures
// are returned by the named method before it changes anything.
type memStore struct {
	mu          sync.Mutex
	orders      map[string]*model.Order
	wallets     map[string]*model.Wallet
	payouts     map[string]*model.Payout
	users       map[string]*model.User
	deals       map[string]*model.Deal
	campaigns   map[string]*model.Campaign
	audits      []model.AuditLog
	suspensions []model.Suspension
	failures    map[string]error
	once        map[string]error
	calls       map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		orders:    map[string]*model.Order{},
		wallets:   map[string]*model.Wallet{},
		payouts:   map[string]*model.Payout{},
		users:     map[string]*model.User{},
		deals:     map[string]*model.Deal{},
		campaigns: map[string]*model.Campaign{},
		failures:  map[string]error{},
		once:      map[string]error{},
		calls:     map[string]int{},
	}
}

func (m *memStore) enter(method string) error {
	m.calls[method]++
	if err, ok := m.once[method]; ok {
		delete(m.once, method)
		return err
	}
	return m.failures[method]
}

func (m *memStore) failOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = err
}

// failNext makes only the next call of method fail.
func (m *memStore) failNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.once[method] = err
}

func (m *memStore) callCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *memStore) auditsFor(action string) []model.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AuditLog
	for _, a := range m.audits {
		if a.Action == action {
			out = append(out, a)
		}
	}
	return out
}

func (m *memStore) order(id string) model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrder(m.orders[id])
}

func (m *memStore) wallet(id string) model.Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.wallets[id]
}

func (m *memStore) deal(id string) model.Deal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.deals[id]
}

func conflict(format string, args ...interface{}) error {
	return apierror.NewAPIError(apierror.ErrConcurrentModification, fmt.Sprintf(format, args...), nil)
}

func cloneOrder(o *model.Order) model.Order {
	c := *o
	c.Items = append([]model.LineItem(nil), o.Items...)
	c.Events = append([]model.OrderEvent(nil), o.Events...)
	c.Verification = map[model.ProofType]bool{}
	for k, v := range o.Verification {
		c.Verification[k] = v
	}
	c.ProofImages = map[model.ProofType]string{}
	for k, v := range o.ProofImages {
		c.ProofImages[k] = v
	}
	c.Extractions = map[model.ProofType]model.ExtractionCacheEntry{}
	for k, v := range o.Extractions {
		c.Extractions[k] = v
	}
	return c
}

func (m *memStore) liveOrder(id string) (*model.Order, error) {
	o, ok := m.orders[id]
	if !ok || o.DeletedAt != nil {
		return nil, apierror.NewAPIError(apierror.ErrOrderNotFound, fmt.Sprintf("Order with ID '%s' not found", id), nil)
	}
	return o, nil
}

func (m *memStore) sortedOrderIDs() []string {
	ids := make([]string, 0, len(m.orders))
	for id := range m.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *memStore) CreateOrder(_ context.Context, order model.Order, audit model.AuditLog) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateOrder"); err != nil {
		return model.Order{}, err
	}
	if _, ok := m.orders[order.OrderID]; ok {
		return model.Order{}, apierror.NewAPIError(apierror.ErrInvalidInput, "order already exists", nil)
	}
	stored := cloneOrder(&order)
	m.orders[order.OrderID] = &stored
	m.audits = append(m.audits, audit)
	return cloneOrder(&stored), nil
}

func (m *memStore) GetOrderByID(_ context.Context, id string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetOrderByID"); err != nil {
		return nil, err
	}
	o, err := m.liveOrder(id)
	if err != nil {
		return nil, err
	}
	c := cloneOrder(o)
	return &c, nil
}

func (m *memStore) FreezeOrders(_ context.Context, req model.FreezeRequest, audit model.AuditLog) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FreezeOrders"); err != nil {
		return nil, err
	}
	if req.Selector.IsEmpty() {
		return nil, nil
	}
	var ids []string
	for _, id := range m.sortedOrderIDs() {
		o := m.orders[id]
		if o.Frozen || o.DeletedAt != nil || !req.Selector.Matches(o) {
			continue
		}
		at := req.At
		o.Frozen = true
		o.FrozenReason = req.Reason
		o.FrozenAt = &at
		o.FrozenBy = req.Actor
		o.PreFreezeAffiliateStatus = o.AffiliateStatus
		o.Events = append(o.Events, model.OrderEvent{Type: model.EventFrozen, Actor: req.Actor, Reason: req.Reason, At: at})
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		audit.Metadata["order_ids"] = ids
		audit.Metadata["count"] = len(ids)
		m.audits = append(m.audits, audit)
	}
	return ids, nil
}

func (m *memStore) ReactivateOrder(_ context.Context, orderID string, event model.OrderEvent, audit model.AuditLog) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ReactivateOrder"); err != nil {
		return nil, err
	}
	o, err := m.liveOrder(orderID)
	if err != nil {
		return nil, err
	}
	if !o.Frozen {
		return nil, apierror.NewAPIError(apierror.ErrOrderNotFrozen, fmt.Sprintf("Order '%s' is not frozen", orderID), nil)
	}
	o.Frozen = false
	o.FrozenReason, o.FrozenBy, o.FrozenAt = "", "", nil
	if o.PreFreezeAffiliateStatus != "" {
		o.AffiliateStatus = o.PreFreezeAffiliateStatus
	}
	o.PreFreezeAffiliateStatus = ""
	o.Events = append(o.Events, event)
	m.audits = append(m.audits, audit)
	c := cloneOrder(o)
	return &c, nil
}

func (m *memStore) checkWallet(w *model.Wallet) (*model.Wallet, error) {
	stored, ok := m.wallets[w.WalletID]
	if !ok || stored.DeletedAt != nil || stored.Version != w.Version {
		return nil, conflict("wallet %s changed", w.WalletID)
	}
	if w.AvailablePaise < 0 || w.PendingPaise < 0 || w.LockedPaise < 0 {
		return nil, apierror.NewAPIError(apierror.ErrInsufficientFunds, "wallet balance would go negative", nil)
	}
	return stored, nil
}

func writeWallet(stored, w *model.Wallet) {
	w.Version++
	w.UpdatedAt = time.Now().UTC()
	*stored = *w
}

func (m *memStore) ApplySettlement(_ context.Context, st model.Settlement) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ApplySettlement"); err != nil {
		return nil, err
	}
	o, err := m.liveOrder(st.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Frozen || o.AffiliateStatus != st.From || o.PaymentStatus != st.ExpectedPayment {
		return nil, conflict("order %s changed", st.OrderID)
	}
	var stored *model.Wallet
	if st.Wallet != nil {
		if stored, err = m.checkWallet(st.Wallet); err != nil {
			return nil, err
		}
	}

	o.AffiliateStatus = st.To
	if st.SetPayment != "" {
		o.PaymentStatus = st.SetPayment
	}
	if st.Freeze {
		at := st.Event.At
		o.Frozen = true
		o.FrozenReason = st.FreezeReason
		o.FrozenAt = &at
		o.FrozenBy = st.Event.Actor
		o.PreFreezeAffiliateStatus = st.From
	}
	o.Events = append(o.Events, st.Event)
	if stored != nil {
		writeWallet(stored, st.Wallet)
	}
	m.audits = append(m.audits, st.Audit)
	c := cloneOrder(o)
	return &c, nil
}

func (m *memStore) UpdatePaymentStatus(_ context.Context, orderID string, from, to model.PaymentStatus, event model.OrderEvent, audit model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdatePaymentStatus"); err != nil {
		return err
	}
	o, err := m.liveOrder(orderID)
	if err != nil {
		return err
	}
	if o.Frozen || o.PaymentStatus != from {
		return conflict("order %s changed", orderID)
	}
	o.PaymentStatus = to
	o.Events = append(o.Events, event)
	m.audits = append(m.audits, audit)
	return nil
}

func (m *memStore) SetVerification(_ context.Context, orderID string, proofType model.ProofType, verified bool, event model.OrderEvent, audit model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetVerification"); err != nil {
		return err
	}
	o, err := m.liveOrder(orderID)
	if err != nil {
		return err
	}
	if o.Frozen {
		return conflict("order %s is frozen", orderID)
	}
	if o.Verification == nil {
		o.Verification = map[model.ProofType]bool{}
	}
	o.Verification[proofType] = verified
	o.Events = append(o.Events, event)
	m.audits = append(m.audits, audit)
	return nil
}

func (m *memStore) ReplaceProofImage(_ context.Context, orderID string, proofType model.ProofType, image string, event model.OrderEvent, audit model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ReplaceProofImage"); err != nil {
		return err
	}
	o, err := m.liveOrder(orderID)
	if err != nil {
		return err
	}
	if o.Frozen {
		return conflict("order %s is frozen", orderID)
	}
	if o.ProofImages == nil {
		o.ProofImages = map[model.ProofType]string{}
	}
	o.ProofImages[proofType] = image
	delete(o.Extractions, proofType)
	o.Events = append(o.Events, event)
	m.audits = append(m.audits, audit)
	return nil
}

func (m *memStore) CountUnsettledOrders(_ context.Context, selector model.OrderSelector) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CountUnsettledOrders"); err != nil {
		return 0, err
	}
	var n int64
	for _, o := range m.orders {
		if selector.Matches(o) && o.IsUnsettled() {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreateWallet(_ context.Context, wallet model.Wallet) (model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateWallet"); err != nil {
		return model.Wallet{}, err
	}
	for _, w := range m.wallets {
		if w.UserID == wallet.UserID && w.DeletedAt == nil {
			return model.Wallet{}, apierror.NewAPIError(apierror.ErrInvalidInput, "user already has a wallet", nil)
		}
	}
	stored := wallet
	m.wallets[wallet.WalletID] = &stored
	return wallet, nil
}

func (m *memStore) GetWalletByID(_ context.Context, id string) (*model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetWalletByID"); err != nil {
		return nil, err
	}
	w, ok := m.wallets[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrWalletNotFound, fmt.Sprintf("Wallet with ID '%s' not found", id), nil)
	}
	c := *w
	return &c, nil
}

func (m *memStore) GetWalletByUserID(_ context.Context, userID string) (*model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetWalletByUserID"); err != nil {
		return nil, err
	}
	for _, w := range m.wallets {
		if w.UserID == userID && w.DeletedAt == nil {
			c := *w
			return &c, nil
		}
	}
	return nil, apierror.NewAPIError(apierror.ErrWalletNotFound, fmt.Sprintf("User '%s' has no wallet", userID), nil)
}

func (m *memStore) UpdateWallet(_ context.Context, wallet *model.Wallet, audit model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateWallet"); err != nil {
		return err
	}
	stored, err := m.checkWallet(wallet)
	if err != nil {
		return err
	}
	writeWallet(stored, wallet)
	m.audits = append(m.audits, audit)
	return nil
}

func (m *memStore) openPayouts(userID string) int64 {
	var n int64
	for _, p := range m.payouts {
		if p.UserID == userID && p.Status.IsOpen() {
			n++
		}
	}
	return n
}

func (m *memStore) softDeleteWallet(wallet *model.Wallet) error {
	stored, err := m.checkWallet(wallet)
	if err != nil {
		return err
	}
	if !stored.IsEmpty() || m.openPayouts(stored.UserID) > 0 {
		return conflict("wallet %s changed before it could be deleted", wallet.WalletID)
	}
	now := time.Now().UTC()
	wallet.DeletedAt = &now
	writeWallet(stored, wallet)
	return nil
}

func (m *memStore) SoftDeleteWallet(_ context.Context, wallet *model.Wallet, audit model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SoftDeleteWallet"); err != nil {
		return err
	}
	if err := m.softDeleteWallet(wallet); err != nil {
		return err
	}
	m.audits = append(m.audits, audit)
	return nil
}

func (m *memStore) CreatePayout(_ context.Context, payout model.Payout, wallet *model.Wallet, audit model.AuditLog) (model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreatePayout"); err != nil {
		return model.Payout{}, err
	}
	stored, err := m.checkWallet(wallet)
	if err != nil {
		return model.Payout{}, err
	}
	writeWallet(stored, wallet)
	p := payout
	m.payouts[payout.PayoutID] = &p
	m.audits = append(m.audits, audit)
	return payout, nil
}

func (m *memStore) GetPayoutByID(_ context.Context, id string) (*model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetPayoutByID"); err != nil {
		return nil, err
	}
	p, ok := m.payouts[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrPayoutNotFound, fmt.Sprintf("Payout with ID '%s' not found", id), nil)
	}
	c := *p
	return &c, nil
}

func (m *memStore) UpdatePayoutStatus(_ context.Context, payout *model.Payout, from model.PayoutStatus, wallet *model.Wallet, audit model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdatePayoutStatus"); err != nil {
		return err
	}
	stored, ok := m.payouts[payout.PayoutID]
	if !ok || stored.Status != from {
		return apierror.NewAPIError(apierror.ErrPayoutAlreadyProcessed, fmt.Sprintf("Payout '%s' is no longer %s", payout.PayoutID, from), nil)
	}
	var storedWallet *model.Wallet
	if wallet != nil {
		var err error
		if storedWallet, err = m.checkWallet(wallet); err != nil {
			return err
		}
	}
	*stored = *payout
	if storedWallet != nil {
		writeWallet(storedWallet, wallet)
	}
	m.audits = append(m.audits, audit)
	return nil
}

func (m *memStore) CountOpenPayouts(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CountOpenPayouts"); err != nil {
		return 0, err
	}
	return m.openPayouts(userID), nil
}

func (m *memStore) CreateUser(_ context.Context, user model.User) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateUser"); err != nil {
		return model.User{}, err
	}
	u := user
	u.Roles = append([]model.Role(nil), user.Roles...)
	m.users[user.UserID] = &u
	return user, nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetUserByID"); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, apierror.NewAPIError(apierror.ErrUserNotFound, fmt.Sprintf("User with ID '%s' not found", id), nil)
	}
	c := *u
	c.Roles = append([]model.Role(nil), u.Roles...)
	return &c, nil
}

func (m *memStore) CompareAndSetUserStatus(_ context.Context, userID string, from, to model.UserStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CompareAndSetUserStatus"); err != nil {
		return false, err
	}
	u, ok := m.users[userID]
	if !ok || u.DeletedAt != nil || u.Status != from {
		return false, nil
	}
	u.Status = to
	u.CascadePending = to == model.UserSuspended
	return true, nil
}

func (m *memStore) CompleteCascade(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CompleteCascade"); err != nil {
		return err
	}
	if u, ok := m.users[userID]; ok && u.Status == model.UserSuspended {
		u.CascadePending = false
	}
	return nil
}

func (m *memStore) GetMediatorCodesUnderAgency(_ context.Context, agencyCode string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetMediatorCodesUnderAgency"); err != nil {
		return nil, err
	}
	var codes []string
	for _, u := range m.users {
		if u.ParentCode == agencyCode && u.MediatorCode != "" {
			codes = append(codes, u.MediatorCode)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func (m *memStore) SoftDeleteUser(_ context.Context, userID string, wallet *model.Wallet, audit model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SoftDeleteUser"); err != nil {
		return err
	}
	u, ok := m.users[userID]
	if !ok || u.DeletedAt != nil {
		return apierror.NewAPIError(apierror.ErrAlreadyDeleted, fmt.Sprintf("User '%s' is already deleted", userID), nil)
	}
	if wallet != nil {
		if err := m.softDeleteWallet(wallet); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	u.DeletedAt = &now
	m.audits = append(m.audits, audit)
	return nil
}

func (m *memStore) CreateDeal(_ context.Context, deal model.Deal) (model.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateDeal"); err != nil {
		return model.Deal{}, err
	}
	d := deal
	m.deals[deal.DealID] = &d
	return deal, nil
}

func (m *memStore) GetDealByID(_ context.Context, id string) (*model.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetDealByID"); err != nil {
		return nil, err
	}
	d, ok := m.deals[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrDealNotFound, fmt.Sprintf("Deal with ID '%s' not found", id), nil)
	}
	c := *d
	return &c, nil
}

func (m *memStore) DeactivateDeals(_ context.Context, mediatorCodes []string, audit model.AuditLog) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeactivateDeals"); err != nil {
		return nil, err
	}
	codes := map[string]bool{}
	for _, c := range mediatorCodes {
		codes[c] = true
	}
	var ids []string
	for id, d := range m.deals {
		if d.Active && codes[d.MediatorCode] {
			d.Active = false
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		audit.Metadata["deal_ids"] = ids
		audit.Metadata["count"] = len(ids)
		m.audits = append(m.audits, audit)
	}
	return ids, nil
}

func (m *memStore) ReactivateDeal(_ context.Context, dealID string, audit model.AuditLog) (*model.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ReactivateDeal"); err != nil {
		return nil, err
	}
	d, ok := m.deals[dealID]
	if !ok || d.IsDeleted() {
		return nil, apierror.NewAPIError(apierror.ErrDealNotFound, fmt.Sprintf("Deal with ID '%s' not found", dealID), nil)
	}
	d.Active = true
	m.audits = append(m.audits, audit)
	c := *d
	return &c, nil
}

func (m *memStore) SoftDeleteDeal(_ context.Context, dealID string, audit model.AuditLog) (*model.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SoftDeleteDeal"); err != nil {
		return nil, err
	}
	d, ok := m.deals[dealID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrDealNotFound, fmt.Sprintf("Deal with ID '%s' not found", dealID), nil)
	}
	if d.IsDeleted() {
		return nil, apierror.NewAPIError(apierror.ErrAlreadyDeleted, fmt.Sprintf("Deal '%s' is already deleted", dealID), nil)
	}
	now := time.Now().UTC()
	d.Active = false
	d.DeletedAt = &now
	m.audits = append(m.audits, audit)
	c := *d
	return &c, nil
}

func (m *memStore) CountActiveDeals(_ context.Context, mediatorCodes []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CountActiveDeals"); err != nil {
		return 0, err
	}
	var n int64
	for _, d := range m.deals {
		for _, c := range mediatorCodes {
			if d.Active && d.MediatorCode == c {
				n++
			}
		}
	}
	return n, nil
}

func (m *memStore) CreateCampaign(_ context.Context, campaign model.Campaign) (model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateCampaign"); err != nil {
		return model.Campaign{}, err
	}
	c := campaign
	m.campaigns[campaign.CampaignID] = &c
	return campaign, nil
}

func pausable(status model.CampaignStatus) bool {
	for _, s := range model.PausableCampaignStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (m *memStore) PauseCampaigns(_ context.Context, brandUserID string, audit model.AuditLog) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PauseCampaigns"); err != nil {
		return nil, err
	}
	var ids []string
	for id, c := range m.campaigns {
		if c.BrandUserID == brandUserID && pausable(c.Status) {
			c.Status = model.CampaignPaused
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		audit.Metadata["campaign_ids"] = ids
		audit.Metadata["count"] = len(ids)
		m.audits = append(m.audits, audit)
	}
	return ids, nil
}

func (m *memStore) CountActiveCampaigns(_ context.Context, brandUserID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CountActiveCampaigns"); err != nil {
		return 0, err
	}
	var n int64
	for _, c := range m.campaigns {
		if c.BrandUserID == brandUserID && pausable(c.Status) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) RecordAudit(_ context.Context, entries ...model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RecordAudit"); err != nil {
		return err
	}
	m.audits = append(m.audits, entries...)
	return nil
}

func (m *memStore) GetAuditTrail(_ context.Context, entityType, entityID string) ([]model.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetAuditTrail"); err != nil {
		return nil, err
	}
	var out []model.AuditLog
	for _, a := range m.audits {
		if a.EntityType == entityType && a.EntityID == entityID {
			out = append(out, a)
			continue
		}
		if ids, ok := a.Metadata[entityType+"_ids"].([]string); ok {
			for _, id := range ids {
				if id == entityID {
					out = append(out, a)
					break
				}
			}
		}
	}
	return out, nil
}

func (m *memStore) RecordSuspension(_ context.Context, suspension model.Suspension, audit model.AuditLog) (model.Suspension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RecordSuspension"); err != nil {
		return model.Suspension{}, err
	}
	m.suspensions = append(m.suspensions, suspension)
	m.audits = append(m.audits, audit)
	return suspension, nil
}

func (m *memStore) GetSuspensions(_ context.Context, userID string) ([]model.Suspension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetSuspensions"); err != nil {
		return nil, err
	}
	var out []model.Suspension
	for _, s := range m.suspensions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) GetExtraction(_ context.Context, orderID string, proofType model.ProofType) (*model.ExtractionCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetExtraction"); err != nil {
		return nil, err
	}
	o, err := m.liveOrder(orderID)
	if err != nil {
		return nil, err
	}
	entry, ok := o.Extractions[proofType]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *memStore) GetExtractions(_ context.Context, orderID string) (map[model.ProofType]model.ExtractionCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetExtractions"); err != nil {
		return nil, err
	}
	o, err := m.liveOrder(orderID)
	if err != nil {
		return nil, err
	}
	return cloneOrder(o).Extractions, nil
}

func (m *memStore) SaveExtraction(_ context.Context, orderID string, entry model.ExtractionCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SaveExtraction"); err != nil {
		return err
	}
	o, err := m.liveOrder(orderID)
	if err != nil {
		return err
	}
	if stored, ok := o.ProofImages[entry.ProofType]; ok && entry.Source != "" && stored != entry.Source {
		return conflict("the %s proof of order %s was replaced during extraction", entry.ProofType, orderID)
	}
	if o.Extractions == nil {
		o.Extractions = map[model.ProofType]model.ExtractionCacheEntry{}
	}
	o.Extractions[entry.ProofType] = entry
	return nil
}

func (m *memStore) DeleteExtraction(_ context.Context, orderID string, proofType model.ProofType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteExtraction"); err != nil {
		return err
	}
	o, err := m.liveOrder(orderID)
	if err != nil {
		return err
	}
	delete(o.Extractions, proofType)
	return nil
}
