package model

import "time"

type Deal struct {
	DealID       string     `json:"deal_id"`
	MediatorCode string     `json:"mediator_code"`
	CampaignID   string     `json:"campaign_id"`
	Active       bool       `json:"active"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (d *Deal) IsDeleted() bool {
	return d.DeletedAt != nil
}

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

type Campaign struct {
	CampaignID  string         `json:"campaign_id"`
	BrandUserID string         `json:"brand_user_id"`
	Status      CampaignStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PausableCampaignStatuses are paused when the owning brand is suspended.
var PausableCampaignStatuses = []CampaignStatus{CampaignActive, CampaignDraft}
