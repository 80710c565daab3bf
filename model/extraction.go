package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type ProofType string

const (
	ProofOrder        ProofType = "order"
	ProofPayment      ProofType = "payment"
	ProofRating       ProofType = "rating"
	ProofReview       ProofType = "review"
	ProofReturnWindow ProofType = "returnWindow"
)

var AllProofTypes = []ProofType{ProofOrder, ProofPayment, ProofRating, ProofReview, ProofReturnWindow}

func (p ProofType) IsValid() bool {
	for _, t := range AllProofTypes {
		if t == p {
			return true
		}
	}
	return false
}

// Keys the extraction provider is expected to return in ExtractionResult.Fields.
const (
	FieldOrderID     = "order_id"
	FieldAmountPaise = "amount_paise"
	FieldBuyerName   = "buyer_name"
	FieldProductName = "product_name"
)

// nameDrift is the edit distance, in percent of the longer name, that still counts as a match.
const nameDrift = 20.0

// Expectations are what a proof image is checked against.
type Expectations struct {
	ExpectedOrderID     string `json:"expected_order_id,omitempty"`
	ExpectedAmountPaise int64  `json:"expected_amount_paise,omitempty"`
	ExpectedBuyerName   string `json:"expected_buyer_name,omitempty"`
	ExpectedProductName string `json:"expected_product_name,omitempty"`
}

// Validate checks that the expectations required by proofType are present.
// Order and payment proofs need an order id and amount, rating proofs need the
// buyer and product names, review and return-window proofs need nothing.
func (e Expectations) Validate(proofType ProofType) error {
	needsOrder := proofType == ProofOrder || proofType == ProofPayment
	needsNames := proofType == ProofRating
	return validation.ValidateStruct(&e,
		validation.Field(&e.ExpectedOrderID, validation.When(needsOrder, validation.Required.Error("expected order id is required for "+string(proofType)+" proofs"))),
		validation.Field(&e.ExpectedAmountPaise, validation.When(needsOrder, validation.Required.Error("expected amount is required for "+string(proofType)+" proofs"), validation.Min(int64(1)))),
		validation.Field(&e.ExpectedBuyerName, validation.When(needsNames, validation.Required.Error("expected buyer name is required for rating proofs"))),
		validation.Field(&e.ExpectedProductName, validation.When(needsNames, validation.Required.Error("expected product name is required for rating proofs"))),
	)
}

// ExpectationsFor derives the expectations of a proof type from the order itself.
func ExpectationsFor(order *Order, proofType ProofType) Expectations {
	switch proofType {
	case ProofOrder, ProofPayment:
		return Expectations{ExpectedOrderID: order.OrderID, ExpectedAmountPaise: order.TotalPaise}
	case ProofRating:
		exp := Expectations{ExpectedBuyerName: order.BuyerName}
		if len(order.Items) > 0 {
			exp.ExpectedProductName = order.Items[0].ProductName
		}
		return exp
	}
	return Expectations{}
}

// ExtractionResult is what the external provider returns for one image.
type ExtractionResult struct {
	Fields     map[string]interface{} `json:"fields"`
	Confidence float64                `json:"confidence"`
}

// ExtractionCacheEntry is the persisted result for one (order, proof type) pair.
type ExtractionCacheEntry struct {
	ProofType   ProofType              `json:"proof_type"`
	Fields      map[string]interface{} `json:"fields"`
	Confidence  float64                `json:"confidence"`
	ExtractedAt time.Time              `json:"extracted_at"`
	Source      string                 `json:"source,omitempty"` // Image the fields were read from
}

// ExtractedFrom reports whether the entry may be served for image. An empty
// image accepts any entry, as does an entry stored without a source.
func (e ExtractionCacheEntry) ExtractedFrom(image string) bool {
	return image == "" || e.Source == "" || e.Source == image
}

// ExtractionOutcome is returned by a cache lookup; Cached is false only when the
// provider was called to produce Entry.
type ExtractionOutcome struct {
	Cached bool                 `json:"cached"`
	Entry  ExtractionCacheEntry `json:"entry"`
}

type ExtractionState struct {
	Exists      bool       `json:"exists"`
	ExtractedAt *time.Time `json:"extracted_at,omitempty"`
}

type ProofKey struct {
	OrderID   string    `json:"order_id"`
	ProofType ProofType `json:"proof_type"`
}

func (k ProofKey) String() string {
	return fmt.Sprintf("%s:%s", k.OrderID, k.ProofType)
}

type PrewarmItemStatus string

const (
	PrewarmExtracted PrewarmItemStatus = "extracted"
	PrewarmCached    PrewarmItemStatus = "cached"
	PrewarmNoImage   PrewarmItemStatus = "no_image"
	PrewarmFailed    PrewarmItemStatus = "failed"
)

type PrewarmItem struct {
	ProofKey
	Status PrewarmItemStatus `json:"status"`
	Error  string            `json:"error,omitempty"`
}

type PrewarmReport struct {
	Extracted int           `json:"extracted"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Items     []PrewarmItem `json:"items"`
}

// Record appends an item and bumps the matching counter.
func (r *PrewarmReport) Record(item PrewarmItem) {
	switch item.Status {
	case PrewarmExtracted:
		r.Extracted++
	case PrewarmFailed:
		r.Failed++
	default:
		r.Skipped++
	}
	r.Items = append(r.Items, item)
}

// MatchExpectations decides whether an extraction verifies a proof. The result
// must meet minConfidence and, depending on the proof type, carry the expected
// order id and amount exactly or names within a small edit distance.
func MatchExpectations(proofType ProofType, exp Expectations, entry ExtractionCacheEntry, minConfidence float64) bool {
	if entry.Confidence < minConfidence {
		return false
	}
	switch proofType {
	case ProofOrder, ProofPayment:
		orderID, _ := entry.Fields[FieldOrderID].(string)
		if !strings.EqualFold(strings.TrimSpace(orderID), exp.ExpectedOrderID) {
			return false
		}
		amount, ok := paiseFromField(entry.Fields[FieldAmountPaise])
		return ok && amount == exp.ExpectedAmountPaise
	case ProofRating:
		buyer, _ := entry.Fields[FieldBuyerName].(string)
		product, _ := entry.Fields[FieldProductName].(string)
		return fuzzyMatch(buyer, exp.ExpectedBuyerName, nameDrift) && fuzzyMatch(product, exp.ExpectedProductName, nameDrift)
	case ProofReview, ProofReturnWindow:
		return true
	}
	return false
}

func paiseFromField(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}
