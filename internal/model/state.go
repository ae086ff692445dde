package model

import (
	"time"

	"github.com/nolongerevil/state-server-go/internal/value"
)

// StateRecord is the merged document a device keeps under one object key.
type StateRecord struct {
	ID        string      `db:"id" json:"-"`
	Serial    string      `db:"serial" json:"serial"`
	ObjectKey string      `db:"object_key" json:"object_key"`
	Revision  int64       `db:"object_revision" json:"object_revision"`
	Timestamp int64       `db:"object_timestamp" json:"object_timestamp"`
	Value     value.Value `db:"value" json:"value"`
	UpdatedAt time.Time   `db:"updated_at" json:"updatedAt"`
}

type UpsertStateParams struct {
	Serial    string
	ObjectKey string
	Revision  int64
	Timestamp int64
	Value     value.Value
}

// DeviceState maps object key to record for a single device.
type DeviceState map[string]StateRecord

// StateSnapshot groups records by serial and lists the devices seen.
type StateSnapshot struct {
	Devices     []string               `json:"devices"`
	DeviceState map[string]DeviceState `json:"deviceState"`
}

// DeviceStateView is one device's state as seen by a user.
type DeviceStateView struct {
	Serial         string      `json:"serial"`
	State          DeviceState `json:"state"`
	HasWriteAccess bool        `json:"hasWriteAccess"`
}

// StateEvent is published after a committed write.
type StateEvent struct {
	Serial    string      `json:"serial"`
	ObjectKey string      `json:"object_key"`
	Revision  int64       `json:"object_revision"`
	Timestamp int64       `json:"object_timestamp"`
	Value     value.Value `json:"value"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func NewStateEvent(r *StateRecord) StateEvent {
	return StateEvent{
		Serial:    r.Serial,
		ObjectKey: r.ObjectKey,
		Revision:  r.Revision,
		Timestamp: r.Timestamp,
		Value:     r.Value,
		UpdatedAt: r.UpdatedAt,
	}
}
