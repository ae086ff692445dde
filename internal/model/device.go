package model

import (
	"slices"
	"time"

	"github.com/lib/pq"
)

// Share capabilities.
const (
	PermissionRead    = "read"
	PermissionControl = "control"
)

// DeviceOwner binds a device to the account that claimed it. CreatedAt is nil on
// rows written before link times were recorded.
type DeviceOwner struct {
	ID        string     `db:"id" json:"-"`
	Serial    string     `db:"serial" json:"serial"`
	UserID    string     `db:"user_id" json:"userId"`
	CreatedAt *time.Time `db:"created_at" json:"createdAt,omitempty"`
}

type DeviceShare struct {
	Serial           string         `db:"serial" json:"serial"`
	SharedWithUserID string         `db:"shared_with_user_id" json:"sharedWithUserId"`
	Permissions      pq.StringArray `db:"permissions" json:"permissions"`
	CreatedAt        time.Time      `db:"created_at" json:"createdAt"`
}

func (s *DeviceShare) Has(permission string) bool {
	return slices.Contains(s.Permissions, permission)
}

// Access is the outcome of an ownership/share lookup.
type Access struct {
	Allowed  bool `json:"allowed"`
	CanWrite bool `json:"canWrite"`
}

type OwnedDevice struct {
	Serial   string     `json:"serial"`
	LinkedAt *time.Time `json:"linkedAt"`
}

// DefaultsResult reports which bootstrap objects were written for a device.
type DefaultsResult struct {
	DialogCreated bool `json:"dialogCreated"`
	UserCreated   bool `json:"userCreated"`
}

type BackfillResult struct {
	DialogsCreated int `json:"dialogsCreated"`
	DialogsSkipped int `json:"dialogsSkipped"`
	UsersCreated   int `json:"usersCreated"`
	UsersSkipped   int `json:"usersSkipped"`
	Total          int `json:"total"`
}
