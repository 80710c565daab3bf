package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dealport/settle/internal/apierror"
	"github.com/dealport/settle/model"
	"github.com/lib/pq"
)

func (d Datasource) CreateDeal(ctx context.Context, deal model.Deal) (model.Deal, error) {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO settle.deals (deal_id, mediator_code, campaign_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, deal.DealID, deal.MediatorCode, nullString(deal.CampaignID), deal.Active, deal.CreatedAt, deal.UpdatedAt)
	if err != nil {
		return model.Deal{}, mapWriteError(err, "Failed to create deal")
	}
	return deal, nil
}

func (d Datasource) GetDealByID(ctx context.Context, id string) (*model.Deal, error) {
	var deal model.Deal
	err := d.Conn.QueryRowContext(ctx, `
		SELECT deal_id, mediator_code, COALESCE(campaign_id, ''), active, deleted_at, created_at, updated_at
		FROM settle.deals WHERE deal_id = $1
	`, id).Scan(&deal.DealID, &deal.MediatorCode, &deal.CampaignID, &deal.Active, &deal.DeletedAt, &deal.CreatedAt, &deal.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrDealNotFound, fmt.Sprintf("Deal with ID '%s' not found", id), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve deal", err)
	}
	return &deal, nil
}

// DeactivateDeals switches off every active deal under the given mediator codes
// in one statement and returns the ids it changed.
func (d Datasource) DeactivateDeals(ctx context.Context, mediatorCodes []string, audit model.AuditLog) ([]string, error) {
	if len(mediatorCodes) == 0 {
		return nil, nil
	}
	var ids []string
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		ids, err = collectIDs(ctx, tx, `
			UPDATE settle.deals SET active = FALSE, updated_at = $2
			WHERE active = TRUE AND mediator_code = ANY($1)
			RETURNING deal_id
		`, pq.Array(mediatorCodes), time.Now().UTC())
		if err != nil || len(ids) == 0 {
			return err
		}
		audit.Metadata = withMetadata(audit.Metadata, map[string]interface{}{
			"deal_ids":       ids,
			"count":          len(ids),
			"mediator_codes": mediatorCodes,
		})
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (d Datasource) ReactivateDeal(ctx context.Context, dealID string, audit model.AuditLog) (*model.Deal, error) {
	var deal model.Deal
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE settle.deals SET active = TRUE, updated_at = $2
			WHERE deal_id = $1 AND deleted_at IS NULL
			RETURNING deal_id, mediator_code, COALESCE(campaign_id, ''), active, created_at, updated_at
		`, dealID, time.Now().UTC()).Scan(&deal.DealID, &deal.MediatorCode, &deal.CampaignID, &deal.Active, &deal.CreatedAt, &deal.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return apierror.NewAPIError(apierror.ErrDealNotFound, fmt.Sprintf("Deal with ID '%s' not found", dealID), nil)
		}
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reactivate deal", err)
		}
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

// SoftDeleteDeal deactivates and tombstones a deal. A deal that is already
// tombstoned reports ALREADY_DELETED.
func (d Datasource) SoftDeleteDeal(ctx context.Context, dealID string, audit model.AuditLog) (*model.Deal, error) {
	var deal model.Deal
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		err := tx.QueryRowContext(ctx, `
			UPDATE settle.deals SET active = FALSE, deleted_at = $2, updated_at = $2
			WHERE deal_id = $1 AND deleted_at IS NULL
			RETURNING deal_id, mediator_code, COALESCE(campaign_id, ''), active, deleted_at, created_at, updated_at
		`, dealID, now).Scan(&deal.DealID, &deal.MediatorCode, &deal.CampaignID, &deal.Active, &deal.DeletedAt, &deal.CreatedAt, &deal.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM settle.deals WHERE deal_id = $1)`, dealID).Scan(&exists); err != nil {
				return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete deal", err)
			}
			if exists {
				return apierror.NewAPIError(apierror.ErrAlreadyDeleted, fmt.Sprintf("Deal '%s' is already deleted", dealID), nil)
			}
			return apierror.NewAPIError(apierror.ErrDealNotFound, fmt.Sprintf("Deal with ID '%s' not found", dealID), nil)
		}
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete deal", err)
		}
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

func (d Datasource) CountActiveDeals(ctx context.Context, mediatorCodes []string) (int64, error) {
	if len(mediatorCodes) == 0 {
		return 0, nil
	}
	var count int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM settle.deals WHERE active = TRUE AND mediator_code = ANY($1)
	`, pq.Array(mediatorCodes)).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count deals", err)
	}
	return count, nil
}

func (d Datasource) CreateCampaign(ctx context.Context, campaign model.Campaign) (model.Campaign, error) {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO settle.campaigns (campaign_id, brand_user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, campaign.CampaignID, campaign.BrandUserID, campaign.Status, campaign.CreatedAt, campaign.UpdatedAt)
	if err != nil {
		return model.Campaign{}, mapWriteError(err, "Failed to create campaign")
	}
	return campaign, nil
}

// PauseCampaigns pauses the brand's active and draft campaigns.
func (d Datasource) PauseCampaigns(ctx context.Context, brandUserID string, audit model.AuditLog) ([]string, error) {
	var ids []string
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		ids, err = collectIDs(ctx, tx, `
			UPDATE settle.campaigns SET status = 'paused', updated_at = $3
			WHERE brand_user_id = $1 AND status = ANY($2)
			RETURNING campaign_id
		`, brandUserID, pq.Array(campaignStatuses(model.PausableCampaignStatuses)), time.Now().UTC())
		if err != nil || len(ids) == 0 {
			return err
		}
		audit.Metadata = withMetadata(audit.Metadata, map[string]interface{}{
			"campaign_ids": ids,
			"count":        len(ids),
		})
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (d Datasource) CountActiveCampaigns(ctx context.Context, brandUserID string) (int64, error) {
	var count int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM settle.campaigns WHERE brand_user_id = $1 AND status = ANY($2)
	`, brandUserID, pq.Array(campaignStatuses(model.PausableCampaignStatuses))).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count campaigns", err)
	}
	return count, nil
}

func campaignStatuses(statuses []model.CampaignStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

// collectIDs runs an UPDATE ... RETURNING id statement and gathers the ids.
func collectIDs(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to run bulk update", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read updated id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to run bulk update", err)
	}
	return ids, nil
}
