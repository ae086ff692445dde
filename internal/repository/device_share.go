package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/nolongerevil/state-server-go/internal/model"
)

// DeviceShareRepository is read-only; shares are granted outside this server.
type DeviceShareRepository interface {
	FindBySerialAndUser(ctx context.Context, serial, userID string) (*model.DeviceShare, error)
	FindBySharedUser(ctx context.Context, userID string) ([]model.DeviceShare, error)
}

type deviceShareRepo struct {
	db queryer
}

func NewDeviceShareRepository(db *sqlx.DB) DeviceShareRepository {
	return &deviceShareRepo{db: db}
}

func (r *deviceShareRepo) FindBySerialAndUser(ctx context.Context, serial, userID string) (*model.DeviceShare, error) {
	var share model.DeviceShare
	err := r.db.GetContext(ctx, &share, `
		SELECT * FROM device_shares
		WHERE serial = $1 AND shared_with_user_id = $2
	`, serial, userID)
	return HandleNotFound(&share, err)
}

func (r *deviceShareRepo) FindBySharedUser(ctx context.Context, userID string) ([]model.DeviceShare, error) {
	var shares []model.DeviceShare
	err := r.db.SelectContext(ctx, &shares, `
		SELECT * FROM device_shares WHERE shared_with_user_id = $1
		ORDER BY serial
	`, userID)
	return shares, err
}
