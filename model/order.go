package model

import "time"

type OrderStatus string

const (
	OrderStatusOrdered   OrderStatus = "Ordered"
	OrderStatusShipped   OrderStatus = "Shipped"
	OrderStatusDelivered OrderStatus = "Delivered"
	OrderStatusCancelled OrderStatus = "Cancelled"
	OrderStatusReturned  OrderStatus = "Returned"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "Pending"
	PaymentPaid     PaymentStatus = "Paid"
	PaymentRefunded PaymentStatus = "Refunded"
	PaymentFailed   PaymentStatus = "Failed"
)

type AffiliateStatus string

const (
	AffiliateUnchecked       AffiliateStatus = "Unchecked"
	AffiliatePendingCooling  AffiliateStatus = "Pending_Cooling"
	AffiliateApprovedSettled AffiliateStatus = "Approved_Settled"
	AffiliateRejected        AffiliateStatus = "Rejected"
	AffiliateFraudAlert      AffiliateStatus = "Fraud_Alert"
	AffiliateCapExceeded     AffiliateStatus = "Cap_Exceeded"
	AffiliateFrozenDisputed  AffiliateStatus = "Frozen_Disputed"
)

// Freeze reasons stamped on orders.
const (
	FreezeReasonUserSuspended     = "USER_SUSPENDED"
	FreezeReasonMediatorSuspended = "MEDIATOR_SUSPENDED"
	FreezeReasonAgencySuspended   = "AGENCY_SUSPENDED"
	FreezeReasonBrandSuspended    = "BRAND_SUSPENDED"
	FreezeReasonDisputed          = "DISPUTED"
)

var affiliateEdges = map[AffiliateStatus][]AffiliateStatus{
	AffiliateUnchecked:      {AffiliatePendingCooling},
	AffiliatePendingCooling: {AffiliateApprovedSettled, AffiliateRejected, AffiliateFraudAlert, AffiliateCapExceeded},
}

var paymentEdges = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed},
	PaymentPaid:    {PaymentRefunded},
	PaymentFailed:  {PaymentPending},
}

func (s AffiliateStatus) IsValid() bool {
	switch s {
	case AffiliateUnchecked, AffiliatePendingCooling, AffiliateApprovedSettled, AffiliateRejected,
		AffiliateFraudAlert, AffiliateCapExceeded, AffiliateFrozenDisputed:
		return true
	}
	return false
}

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentRefunded, PaymentFailed:
		return true
	}
	return false
}

// CanTransitionAffiliate reports whether from -> to is a legal edge. Any state
// other than Frozen_Disputed may move to Frozen_Disputed; leaving it is only
// possible through reactivation, which is not a transition.
func CanTransitionAffiliate(from, to AffiliateStatus) bool {
	if to == AffiliateFrozenDisputed {
		return from != AffiliateFrozenDisputed
	}
	for _, next := range affiliateEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, next := range paymentEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SettlementEffect returns the wallet bucket changes the buyer wallet receives
// when an order moves between affiliate states.
func SettlementEffect(from, to AffiliateStatus, commissionPaise int64) []BucketDelta {
	if commissionPaise <= 0 {
		return nil
	}
	switch {
	case from == AffiliateUnchecked && to == AffiliatePendingCooling:
		return []BucketDelta{{Bucket: BucketPending, AmountPaise: commissionPaise}}
	case from == AffiliatePendingCooling && to == AffiliateApprovedSettled:
		return []BucketDelta{
			{Bucket: BucketPending, AmountPaise: -commissionPaise},
			{Bucket: BucketAvailable, AmountPaise: commissionPaise},
		}
	case from == AffiliatePendingCooling && (to == AffiliateRejected || to == AffiliateFraudAlert || to == AffiliateCapExceeded):
		return []BucketDelta{{Bucket: BucketPending, AmountPaise: -commissionPaise}}
	}
	return nil
}

type LineItem struct {
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name"`
	Quantity        int64  `json:"quantity"`
	PricePaise      int64  `json:"price_paise"`
	CommissionPaise int64  `json:"commission_paise"`
}

// OrderEvent is one entry of an order's append-only event log.
type OrderEvent struct {
	Type   string    `json:"type"`
	Actor  string    `json:"actor"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to,omitempty"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

const (
	EventCreated           = "created"
	EventFrozen            = "frozen"
	EventReactivated       = "reactivated"
	EventAffiliateStatus   = "affiliate_status"
	EventPaymentStatus     = "payment_status"
	EventProofVerification = "proof_verification"
	EventProofSubmitted    = "proof_submitted"
)

type Order struct {
	OrderID                  string                             `json:"order_id"`
	BuyerID                  string                             `json:"buyer_id"`
	BuyerName                string                             `json:"buyer_name"`
	MediatorCode             string                             `json:"mediator_code"`
	AgencyCode               string                             `json:"agency_code"`
	BrandUserID              string                             `json:"brand_user_id"`
	DealID                   string                             `json:"deal_id"`
	Items                    []LineItem                         `json:"items"`
	TotalPaise               int64                              `json:"total_paise"`
	CommissionPaise          int64                              `json:"commission_paise"`
	Status                   OrderStatus                        `json:"status"`
	PaymentStatus            PaymentStatus                      `json:"payment_status"`
	AffiliateStatus          AffiliateStatus                    `json:"affiliate_status"`
	PreFreezeAffiliateStatus AffiliateStatus                    `json:"pre_freeze_affiliate_status,omitempty"`
	Frozen                   bool                               `json:"frozen"`
	FrozenReason             string                             `json:"frozen_reason,omitempty"`
	FrozenAt                 *time.Time                         `json:"frozen_at,omitempty"`
	FrozenBy                 string                             `json:"frozen_by,omitempty"`
	Verification             map[ProofType]bool                 `json:"verification"`
	ProofImages              map[ProofType]string               `json:"proof_images"`
	Extractions              map[ProofType]ExtractionCacheEntry `json:"extractions"`
	Events                   []OrderEvent                       `json:"events"`
	DeletedAt                *time.Time                         `json:"deleted_at,omitempty"`
	CreatedAt                time.Time                          `json:"created_at"`
	UpdatedAt                time.Time                          `json:"updated_at"`
}

// ComputeTotals recalculates total and commission from the line items.
func (o *Order) ComputeTotals() {
	var total, commission int64
	for _, item := range o.Items {
		total += item.PricePaise * item.Quantity
		commission += item.CommissionPaise * item.Quantity
	}
	o.TotalPaise = total
	o.CommissionPaise = commission
}

// IsUnsettled reports whether the order still has settlement work outstanding.
// Cancelled and returned orders never settle and do not count.
func (o *Order) IsUnsettled() bool {
	if o.DeletedAt != nil {
		return false
	}
	if o.Frozen {
		return true
	}
	if o.Status == OrderStatusCancelled || o.Status == OrderStatusReturned {
		return false
	}
	for _, s := range UnsettledAffiliateStatuses {
		if o.AffiliateStatus == s {
			return true
		}
	}
	return false
}

// UnsettledAffiliateStatuses are the affiliate states that still await settlement.
var UnsettledAffiliateStatuses = []AffiliateStatus{AffiliateUnchecked, AffiliatePendingCooling, AffiliateFrozenDisputed}

// OrderSelector filters orders for bulk operations. Fields are OR-ed together.
type OrderSelector struct {
	OrderIDs      []string `json:"order_ids,omitempty"`
	BuyerIDs      []string `json:"buyer_ids,omitempty"`
	MediatorCodes []string `json:"mediator_codes,omitempty"`
	BrandUserIDs  []string `json:"brand_user_ids,omitempty"`
}

func (s OrderSelector) IsEmpty() bool {
	return len(s.OrderIDs) == 0 && len(s.BuyerIDs) == 0 && len(s.MediatorCodes) == 0 && len(s.BrandUserIDs) == 0
}

// Matches applies the selector to a single order.
func (s OrderSelector) Matches(o *Order) bool {
	return contains(s.OrderIDs, o.OrderID) ||
		contains(s.BuyerIDs, o.BuyerID) ||
		(o.MediatorCode != "" && contains(s.MediatorCodes, o.MediatorCode)) ||
		(o.BrandUserID != "" && contains(s.BrandUserIDs, o.BrandUserID))
}

// FreezeRequest carries the stamp applied to every order a bulk freeze touches.
type FreezeRequest struct {
	Selector OrderSelector
	Reason   string
	Actor    string
	At       time.Time
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Settlement is one affiliate transition together with the wallet change it
// causes. Wallet already carries the post-transition balances at the version
// it was read with; it is nil when no money moves.
type Settlement struct {
	OrderID         string
	From            AffiliateStatus
	To              AffiliateStatus
	ExpectedPayment PaymentStatus
	SetPayment      PaymentStatus
	Freeze          bool
	FreezeReason    string
	Event           OrderEvent
	Wallet          *Wallet
	Audit           AuditLog
}
