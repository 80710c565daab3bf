package model

import "time"

// AuditLog is an append-only record of a state-changing operation.
type AuditLog struct {
	AuditID    string                 `json:"audit_id"`
	Actor      string                 `json:"actor"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Metadata   map[string]interface{} `json:"metadata"`
	CreatedAt  time.Time              `json:"created_at"`
}

const (
	EntityOrder    = "order"
	EntityWallet   = "wallet"
	EntityPayout   = "payout"
	EntityUser     = "user"
	EntityDeal     = "deal"
	EntityCampaign = "campaign"
)

const (
	AuditOrderCreated         = "order.created"
	AuditOrdersFrozen         = "orders.frozen"
	AuditOrderReactivated     = "order.reactivated"
	AuditOrderAffiliateStatus = "order.affiliate_status_changed"
	AuditOrderPaymentStatus   = "order.payment_status_changed"
	AuditOrderProofVerified   = "order.proof_verified"
	AuditProofSubmitted       = "proof.submitted"
	AuditProofExtracted       = "proof.extracted"
	AuditProofCleared         = "proof.cleared"
	AuditDealsDeactivated     = "deals.deactivated"
	AuditDealReactivated      = "deal.reactivated"
	AuditDealDeleted          = "deal.deleted"
	AuditCampaignsPaused      = "campaigns.paused"
	AuditUserSuspended        = "user.suspended"
	AuditUserUnsuspended      = "user.unsuspended"
	AuditUserDeleted          = "user.deleted"
	AuditWalletCredited       = "wallet.credited"
	AuditWalletDebited        = "wallet.debited"
	AuditWalletDeleted        = "wallet.deleted"
	AuditPayoutRequested      = "payout.requested"
	AuditPayoutStatusChanged  = "payout.status_changed"
)

// NewAuditLog builds an entry with a fresh id and timestamp.
func NewAuditLog(actor, action, entityType, entityID string, metadata map[string]interface{}) AuditLog {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return AuditLog{
		AuditID:    GenerateUUIDWithSuffix("aud"),
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
}
