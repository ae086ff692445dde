package model

import (
	"time"
)

// User mirrors an account from the external identity provider.
type User struct {
	ID         string    `db:"id" json:"id"`
	ExternalID string    `db:"external_id" json:"externalId"`
	Email      string    `db:"email" json:"email"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
