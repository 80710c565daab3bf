package model

import "time"

type Role string

const (
	RoleShopper  Role = "shopper"
	RoleMediator Role = "mediator"
	RoleAgency   Role = "agency"
	RoleBrand    Role = "brand"
	RoleAdmin    Role = "admin"
	RoleOps      Role = "ops"
)

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
)

func (s UserStatus) IsValid() bool {
	return s == UserActive || s == UserSuspended
}

// Capability is a cascade-relevant facet of a user's role set. Each capability
// has exactly one suspension handler.
type Capability int

const (
	CapabilityShopper Capability = iota
	CapabilityMediator
	CapabilityAgency
	CapabilityBrand
)

func (c Capability) String() string {
	switch c {
	case CapabilityShopper:
		return "shopper"
	case CapabilityMediator:
		return "mediator"
	case CapabilityAgency:
		return "agency"
	case CapabilityBrand:
		return "brand"
	}
	return "unknown"
}

var capabilityOrder = []struct {
	cap  Capability
	role Role
}{
	{CapabilityShopper, RoleShopper},
	{CapabilityMediator, RoleMediator},
	{CapabilityAgency, RoleAgency},
	{CapabilityBrand, RoleBrand},
}

type User struct {
	UserID       string     `json:"user_id"`
	Name         string     `json:"name"`
	Roles        []Role     `json:"roles"`
	Status       UserStatus `json:"status"`
	MediatorCode string     `json:"mediator_code,omitempty"`
	ParentCode   string     `json:"parent_code,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// CascadePending is set with the suspended status and cleared once every
	// suspension handler has run.
	CascadePending bool `json:"cascade_pending,omitempty"`
}

func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsPrivileged reports whether the user holds an administrative role.
func (u *User) IsPrivileged() bool {
	return u.HasRole(RoleAdmin) || u.HasRole(RoleOps)
}

// Capabilities returns the user's capabilities in fixed handler order.
func (u *User) Capabilities() []Capability {
	var caps []Capability
	for _, c := range capabilityOrder {
		if u.HasRole(c.role) {
			caps = append(caps, c.cap)
		}
	}
	return caps
}
