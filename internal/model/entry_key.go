package model

import (
	"time"
)

// EntryKey is a one-time pairing code linking a device to a user account.
// ExpiresAt is in epoch seconds.
type EntryKey struct {
	Code      string     `db:"code" json:"code"`
	Serial    string     `db:"serial" json:"serial"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	ExpiresAt int64      `db:"expires_at" json:"expiresAt"`
	ClaimedBy *string    `db:"claimed_by" json:"claimedBy,omitempty"`
	ClaimedAt *time.Time `db:"claimed_at" json:"claimedAt,omitempty"`
}

type CreateEntryKeyParams struct {
	Code      string
	Serial    string
	CreatedAt time.Time
	ExpiresAt int64
}

// IsExpired reports whether the code is past its expiry at now.
// A code is still usable during the second it expires.
func (k *EntryKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt < now.Unix()
}

func (k *EntryKey) IsClaimed() bool {
	return k.ClaimedBy != nil && *k.ClaimedBy != ""
}

// IsClaimedBy reports whether userID holds the claim.
func (k *EntryKey) IsClaimedBy(userID string) bool {
	return k.IsClaimed() && *k.ClaimedBy == userID
}

// IsReusable reports whether a colliding code's slot can be handed to a new device.
func (k *EntryKey) IsReusable(now time.Time) bool {
	return k.IsExpired(now) && !k.IsClaimed()
}

type GeneratedEntryKey struct {
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expiresAt"`
}

type ClaimResult struct {
	Serial string `json:"serial"`
}
