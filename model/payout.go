package model

import "time"

type PayoutStatus string

const (
	PayoutRequested  PayoutStatus = "requested"
	PayoutProcessing PayoutStatus = "processing"
	PayoutPaid       PayoutStatus = "paid"
	PayoutFailed     PayoutStatus = "failed"
	PayoutCanceled   PayoutStatus = "canceled"
)

// OpenPayoutStatuses block wallet and user deletion.
var OpenPayoutStatuses = []PayoutStatus{PayoutRequested, PayoutProcessing}

func (s PayoutStatus) IsOpen() bool {
	return s == PayoutRequested || s == PayoutProcessing
}

type Payout struct {
	PayoutID    string       `json:"payout_id"`
	UserID      string       `json:"user_id"`
	WalletID    string       `json:"wallet_id"`
	AmountPaise int64        `json:"amount_paise"`
	Status      PayoutStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// PayoutEffect returns the bucket changes for moving a payout into next.
// A request moves funds from available into locked; a completed payout leaves
// locked; a failed or canceled one returns to available.
func PayoutEffect(next PayoutStatus, amountPaise int64) []BucketDelta {
	switch next {
	case PayoutRequested:
		return []BucketDelta{
			{Bucket: BucketAvailable, AmountPaise: -amountPaise},
			{Bucket: BucketLocked, AmountPaise: amountPaise},
		}
	case PayoutPaid:
		return []BucketDelta{{Bucket: BucketLocked, AmountPaise: -amountPaise}}
	case PayoutFailed, PayoutCanceled:
		return []BucketDelta{
			{Bucket: BucketLocked, AmountPaise: -amountPaise},
			{Bucket: BucketAvailable, AmountPaise: amountPaise},
		}
	}
	return nil
}
