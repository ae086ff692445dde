package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nolongerevil/state-server-go/internal/model"
)

type DeviceOwnerRepository interface {
	FindBySerial(ctx context.Context, serial string) (*model.DeviceOwner, error)
	FindByUserID(ctx context.Context, userID string) ([]model.DeviceOwner, error)
	FindAll(ctx context.Context) ([]model.DeviceOwner, error)
	// CreateIfAbsent returns the new owner row, or nil if the device is already owned.
	CreateIfAbsent(ctx context.Context, serial, userID string, now time.Time) (*model.DeviceOwner, error)
	BackfillCreatedAt(ctx context.Context, serial string, now time.Time) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) DeviceOwnerRepository
}

type deviceOwnerRepo struct {
	db queryer
}

func NewDeviceOwnerRepository(db *sqlx.DB) DeviceOwnerRepository {
	return &deviceOwnerRepo{db: db}
}

func (r *deviceOwnerRepo) WithTx(tx *sqlx.Tx) DeviceOwnerRepository {
	return &deviceOwnerRepo{db: tx}
}

func (r *deviceOwnerRepo) FindBySerial(ctx context.Context, serial string) (*model.DeviceOwner, error) {
	var owner model.DeviceOwner
	err := r.db.GetContext(ctx, &owner, `
		SELECT * FROM device_owners WHERE serial = $1
	`, serial)
	return HandleNotFound(&owner, err)
}

func (r *deviceOwnerRepo) FindByUserID(ctx context.Context, userID string) ([]model.DeviceOwner, error) {
	var owners []model.DeviceOwner
	err := r.db.SelectContext(ctx, &owners, `
		SELECT * FROM device_owners WHERE user_id = $1
		ORDER BY serial
	`, userID)
	return owners, err
}

func (r *deviceOwnerRepo) FindAll(ctx context.Context) ([]model.DeviceOwner, error) {
	var owners []model.DeviceOwner
	err := r.db.SelectContext(ctx, &owners, `
		SELECT * FROM device_owners ORDER BY serial
	`)
	return owners, err
}

func (r *deviceOwnerRepo) CreateIfAbsent(ctx context.Context, serial, userID string, now time.Time) (*model.DeviceOwner, error) {
	var owner model.DeviceOwner
	err := r.db.GetContext(ctx, &owner, `
		INSERT INTO device_owners (id, serial, user_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (serial) DO NOTHING
		RETURNING *
	`, uuid.NewString(), serial, userID, now)
	return HandleNotFound(&owner, err)
}

func (r *deviceOwnerRepo) BackfillCreatedAt(ctx context.Context, serial string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE device_owners SET created_at = $2
		WHERE serial = $1 AND created_at IS NULL
	`, serial, now)
	return err
}
