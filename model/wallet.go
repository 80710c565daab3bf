package model

import (
	"math"
	"time"
)

type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketPending   Bucket = "pending"
	BucketLocked    Bucket = "locked"
)

func (b Bucket) IsValid() bool {
	return b == BucketAvailable || b == BucketPending || b == BucketLocked
}

// BucketDelta is a signed change to one wallet bucket.
type BucketDelta struct {
	Bucket      Bucket `json:"bucket"`
	AmountPaise int64  `json:"amount_paise"`
}

type Wallet struct {
	WalletID       string     `json:"wallet_id"`
	UserID         string     `json:"user_id"`
	AvailablePaise int64      `json:"available_paise"`
	PendingPaise   int64      `json:"pending_paise"`
	LockedPaise    int64      `json:"locked_paise"`
	Version        int64      `json:"version"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (w *Wallet) IsEmpty() bool {
	return w.AvailablePaise == 0 && w.PendingPaise == 0 && w.LockedPaise == 0
}

func (w *Wallet) IsDeleted() bool {
	return w.DeletedAt != nil
}

func (w *Wallet) bucket(b Bucket) *int64 {
	switch b {
	case BucketAvailable:
		return &w.AvailablePaise
	case BucketPending:
		return &w.PendingPaise
	case BucketLocked:
		return &w.LockedPaise
	}
	return nil
}

// Apply adds every delta to the wallet. Either all deltas apply or none do:
// a delta that leaves any bucket negative returns ErrInsufficientFunds, one that
// would overflow a bucket returns ErrInvalidAmount, and the wallet is left
// unchanged. Version is not touched; the store bumps it on write.
func (w *Wallet) Apply(deltas ...BucketDelta) error {
	next := *w
	for _, d := range deltas {
		ptr := next.bucket(d.Bucket)
		if ptr == nil {
			return ErrUnknownBucket
		}
		if d.AmountPaise > 0 && *ptr > math.MaxInt64-d.AmountPaise {
			return ErrInvalidAmount
		}
		*ptr += d.AmountPaise
		if *ptr < 0 {
			return ErrInsufficientFunds
		}
	}
	w.AvailablePaise, w.PendingPaise, w.LockedPaise = next.AvailablePaise, next.PendingPaise, next.LockedPaise
	return nil
}

// Credit adds a positive amount to one bucket.
func (w *Wallet) Credit(b Bucket, amountPaise int64) error {
	if amountPaise <= 0 {
		return ErrInvalidAmount
	}
	return w.Apply(BucketDelta{Bucket: b, AmountPaise: amountPaise})
}

// Debit removes a positive amount from one bucket.
func (w *Wallet) Debit(b Bucket, amountPaise int64) error {
	if amountPaise <= 0 {
		return ErrInvalidAmount
	}
	return w.Apply(BucketDelta{Bucket: b, AmountPaise: -amountPaise})
}
