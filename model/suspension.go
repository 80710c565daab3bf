package model

import "time"

type SuspensionAction string

const (
	SuspensionSuspend   SuspensionAction = "suspend"
	SuspensionUnsuspend SuspensionAction = "unsuspend"
)

// Suspension records one suspend or unsuspend action. Records are never updated.
type Suspension struct {
	SuspensionID string           `json:"suspension_id"`
	UserID       string           `json:"user_id"`
	Action       SuspensionAction `json:"action"`
	Reason       string           `json:"reason"`
	AdminID      string           `json:"admin_id"`
	CreatedAt    time.Time        `json:"created_at"`
}
