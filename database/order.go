package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/model"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
)

const orderColumns = `order_id, buyer_id, buyer_name, COALESCE(mediator_code, ''), COALESCE(agency_code, ''),
	COALESCE(brand_user_id, ''), COALESCE(deal_id, ''), items, total_paise, commission_paise, status,
	payment_status, affiliate_status, COALESCE(pre_freeze_affiliate_status, ''), frozen,
	COALESCE(frozen_reason, ''), frozen_at, COALESCE(frozen_by, ''), verification, proof_images,
	extractions, events, deleted_at, created_at, updated_at`

// selectorClause matches any of the four selector lists. The lists are bound
// starting at the given placeholder index.
func selectorClause(first int) string {
	return fmt.Sprintf("(order_id = ANY($%d) OR buyer_id = ANY($%d) OR mediator_code = ANY($%d) OR brand_user_id = ANY($%d))",
		first, first+1, first+2, first+3)
}

func selectorArgs(s model.OrderSelector) []interface{} {
	return []interface{}{
		pq.Array(nonNil(s.OrderIDs)),
		pq.Array(nonNil(s.BuyerIDs)),
		pq.Array(nonNil(s.MediatorCodes)),
		pq.Array(nonNil(s.BrandUserIDs)),
	}
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o                                                     model.Order
		items, verification, proofImages, extractions, events []byte
		frozenAt, deletedAt                                   sql.NullTime
	)
	err := row.Scan(
		&o.OrderID, &o.BuyerID, &o.BuyerName, &o.MediatorCode, &o.AgencyCode,
		&o.BrandUserID, &o.DealID, &items, &o.TotalPaise, &o.CommissionPaise, &o.Status,
		&o.PaymentStatus, &o.AffiliateStatus, &o.PreFreezeAffiliateStatus, &o.Frozen,
		&o.FrozenReason, &frozenAt, &o.FrozenBy, &verification, &proofImages,
		&extractions, &events, &deletedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if frozenAt.Valid {
		o.FrozenAt = &frozenAt.Time
	}
	if deletedAt.Valid {
		o.DeletedAt = &deletedAt.Time
	}
	for _, col := range []struct {
		raw    []byte
		target interface{}
	}{
		{items, &o.Items},
		{verification, &o.Verification},
		{proofImages, &o.ProofImages},
		{extractions, &o.Extractions},
		{events, &o.Events},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.target); err != nil {
			return nil, err
		}
	}
	return &o, nil
}

func (d Datasource) CreateOrder(ctx context.Context, order model.Order, audit model.AuditLog) (model.Order, error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return model.Order{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal items", err)
	}
	verification, _ := json.Marshal(orEmptyBoolMap(order.Verification))
	proofImages, _ := json.Marshal(orEmptyStringMap(order.ProofImages))
	if order.Events == nil {
		order.Events = []model.OrderEvent{}
	}
	events, err := json.Marshal(order.Events)
	if err != nil {
		return model.Order{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal events", err)
	}

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settle.orders (order_id, buyer_id, buyer_name, mediator_code, agency_code, brand_user_id, deal_id,
				items, total_paise, commission_paise, status, payment_status, affiliate_status,
				verification, proof_images, events, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		`, order.OrderID, order.BuyerID, order.BuyerName, nullString(order.MediatorCode), nullString(order.AgencyCode),
			nullString(order.BrandUserID), nullString(order.DealID), items, order.TotalPaise, order.CommissionPaise,
			order.Status, order.PaymentStatus, order.AffiliateStatus, verification, proofImages, events,
			order.CreatedAt, order.UpdatedAt)
		if err != nil {
			return mapWriteError(err, "Failed to create order")
		}
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

func (d Datasource) GetOrderByID(ctx context.Context, id string) (*model.Order, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM settle.orders WHERE order_id = $1 AND deleted_at IS NULL`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrOrderNotFound, fmt.Sprintf("Order with ID '%s' not found", id), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
	}
	return order, nil
}

// FreezeOrders freezes every unfrozen order the selector matches in a single
// statement. Orders that are already frozen are skipped, so repeating a freeze
// changes nothing and records no audit entry.
func (d Datasource) FreezeOrders(ctx context.Context, req model.FreezeRequest, audit model.AuditLog) ([]string, error) {
	ctx, span := otel.Tracer("settle.database").Start(ctx, "Freezing orders")
	defer span.End()

	if req.Selector.IsEmpty() {
		return nil, nil
	}
	event, err := eventJSON(model.OrderEvent{Type: model.EventFrozen, Actor: req.Actor, Reason: req.Reason, At: req.At})
	if err != nil {
		return nil, err
	}

	var ids []string
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		args := append([]interface{}{req.Reason, req.At, req.Actor, event}, selectorArgs(req.Selector)...)
		var err error
		ids, err = collectIDs(ctx, tx, `
			UPDATE settle.orders
			SET frozen = TRUE, frozen_reason = $1, frozen_at = $2, frozen_by = $3,
				pre_freeze_affiliate_status = affiliate_status,
				events = events || $4::jsonb, updated_at = $2
			WHERE frozen = FALSE AND deleted_at IS NULL AND `+selectorClause(5)+`
			RETURNING order_id
		`, args...)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		audit.Metadata = withMetadata(audit.Metadata, map[string]interface{}{
			"order_ids": ids,
			"count":     len(ids),
			"reason":    req.Reason,
		})
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return ids, nil
}

// ReactivateOrder lifts the freeze of a frozen order. The update is
// conditional on the order still being frozen, so of two concurrent callers
// only one succeeds.
func (d Datasource) ReactivateOrder(ctx context.Context, orderID string, event model.OrderEvent, audit model.AuditLog) (*model.Order, error) {
	ev, err := eventJSON(event)
	if err != nil {
		return nil, err
	}

	var order *model.Order
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE settle.orders
			SET frozen = FALSE, frozen_reason = NULL, frozen_at = NULL, frozen_by = NULL,
				affiliate_status = COALESCE(pre_freeze_affiliate_status, affiliate_status),
				pre_freeze_affiliate_status = NULL,
				events = events || $2::jsonb, updated_at = $3
			WHERE order_id = $1 AND frozen = TRUE AND deleted_at IS NULL
			RETURNING `+orderColumns, orderID, ev, event.At)
		o, err := scanOrder(row)
		if errors.Is(err, sql.ErrNoRows) {
			return d.reactivateMiss(ctx, tx, orderID)
		}
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reactivate order", err)
		}
		order = o
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// reactivateMiss explains why a reactivation matched no row.
func (d Datasource) reactivateMiss(ctx context.Context, tx *sql.Tx, orderID string) error {
	var frozen bool
	err := tx.QueryRowContext(ctx, `SELECT frozen FROM settle.orders WHERE order_id = $1 AND deleted_at IS NULL`, orderID).Scan(&frozen)
	if errors.Is(err, sql.ErrNoRows) {
		return apierror.NewAPIError(apierror.ErrOrderNotFound, fmt.Sprintf("Order with ID '%s' not found", orderID), nil)
	}
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
	}
	return apierror.NewAPIError(apierror.ErrOrderNotFrozen, fmt.Sprintf("Order '%s' is not frozen", orderID), nil)
}

// ApplySettlement moves an order between affiliate states and writes the
// resulting wallet balances and audit entry in one transaction. The order row
// is matched on its expected state, so a concurrent change to the order, and a
// stale wallet version, both surface as CONCURRENT_MODIFICATION with nothing
// written.
func (d Datasource) ApplySettlement(ctx context.Context, s model.Settlement) (*model.Order, error) {
	ctx, span := otel.Tracer("settle.database").Start(ctx, "Applying settlement")
	defer span.End()

	ev, err := eventJSON(s.Event)
	if err != nil {
		return nil, err
	}

	var order *model.Order
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE settle.orders
			SET affiliate_status = $2,
				payment_status = COALESCE(NULLIF($3::text, ''), payment_status),
				pre_freeze_affiliate_status = CASE WHEN $4::boolean THEN affiliate_status ELSE pre_freeze_affiliate_status END,
				frozen = frozen OR $4::boolean,
				frozen_reason = CASE WHEN $4::boolean THEN $5::text ELSE frozen_reason END,
				frozen_at = CASE WHEN $4::boolean THEN $6::timestamp ELSE frozen_at END,
				frozen_by = CASE WHEN $4::boolean THEN $7::text ELSE frozen_by END,
				events = events || $8::jsonb, updated_at = $6
			WHERE order_id = $1 AND affiliate_status = $9 AND payment_status = $10 AND frozen = FALSE AND deleted_at IS NULL
			RETURNING `+orderColumns,
			s.OrderID, s.To, string(s.SetPayment), s.Freeze, s.FreezeReason, s.Event.At, s.Event.Actor, ev, s.From, s.ExpectedPayment)
		o, err := scanOrder(row)
		if errors.Is(err, sql.ErrNoRows) {
			return apierror.NewAPIError(apierror.ErrConcurrentModification, fmt.Sprintf("Order '%s' changed before the transition was applied", s.OrderID), nil)
		}
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update order", err)
		}
		order = o

		if s.Wallet != nil {
			if err := updateWallet(ctx, tx, s.Wallet); err != nil {
				return err
			}
		}
		return insertAudit(ctx, tx, s.Audit)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return order, nil
}

func (d Datasource) UpdatePaymentStatus(ctx context.Context, orderID string, from, to model.PaymentStatus, event model.OrderEvent, audit model.AuditLog) error {
	ev, err := eventJSON(event)
	if err != nil {
		return err
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE settle.orders
			SET payment_status = $3, events = events || $4::jsonb, updated_at = $5
			WHERE order_id = $1 AND payment_status = $2 AND frozen = FALSE AND deleted_at IS NULL
		`, orderID, from, to, ev, event.At)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payment status", err)
		}
		if err := mustAffect(result, apierror.NewAPIError(apierror.ErrConcurrentModification, fmt.Sprintf("Order '%s' changed before the payment status was updated", orderID), nil)); err != nil {
			return err
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (d Datasource) SetVerification(ctx context.Context, orderID string, proofType model.ProofType, verified bool, event model.OrderEvent, audit model.AuditLog) error {
	ev, err := eventJSON(event)
	if err != nil {
		return err
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE settle.orders
			SET verification = jsonb_set(verification, ARRAY[$2::text], to_jsonb($3::boolean), true),
				events = events || $4::jsonb, updated_at = $5
			WHERE order_id = $1 AND frozen = FALSE AND deleted_at IS NULL
		`, orderID, string(proofType), verified, ev, event.At)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update verification", err)
		}
		if err := mustAffect(result, apierror.NewAPIError(apierror.ErrConcurrentModification, fmt.Sprintf("Order '%s' changed before verification was recorded", orderID), nil)); err != nil {
			return err
		}
		return insertAudit(ctx, tx, audit)
	})
}

// ReplaceProofImage stores a new proof image and removes the extraction made
// from the previous one in the same statement.
func (d Datasource) ReplaceProofImage(ctx context.Context, orderID string, proofType model.ProofType, image string, event model.OrderEvent, audit model.AuditLog) error {
	ev, err := eventJSON(event)
	if err != nil {
		return err
	}
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE settle.orders
			SET proof_images = jsonb_set(proof_images, ARRAY[$2::text], to_jsonb($3::text), true),
				extractions = extractions - $2::text,
				events = events || $4::jsonb, updated_at = $5
			WHERE order_id = $1 AND frozen = FALSE AND deleted_at IS NULL
		`, orderID, string(proofType), image, ev, event.At)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to store proof image", err)
		}
		if err := mustAffect(result, apierror.NewAPIError(apierror.ErrConcurrentModification, fmt.Sprintf("Order '%s' changed before the proof was stored", orderID), nil)); err != nil {
			return err
		}
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return err
	}
	d.forgetExtraction(ctx, orderID, proofType)
	return nil
}

// CountUnsettledOrders counts live orders matching the selector that still
// await settlement or are frozen.
func (d Datasource) CountUnsettledOrders(ctx context.Context, selector model.OrderSelector) (int64, error) {
	if selector.IsEmpty() {
		return 0, nil
	}
	statuses := make([]string, 0, len(model.UnsettledAffiliateStatuses))
	for _, s := range model.UnsettledAffiliateStatuses {
		statuses = append(statuses, string(s))
	}

	args := append([]interface{}{pq.Array(statuses)}, selectorArgs(selector)...)
	var count int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM settle.orders
		WHERE deleted_at IS NULL
			AND (frozen = TRUE OR (affiliate_status = ANY($1) AND status NOT IN ('Cancelled', 'Returned')))
			AND `+selectorClause(2), args...).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count orders", err)
	}
	return count, nil
}

func withMetadata(base map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func orEmptyBoolMap(m map[model.ProofType]bool) map[model.ProofType]bool {
	if m == nil {
		return map[model.ProofType]bool{}
	}
	return m
}

func orEmptyStringMap(m map[model.ProofType]string) map[model.ProofType]string {
	if m == nil {
		return map[model.ProofType]string{}
	}
	return m
}
