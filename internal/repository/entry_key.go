package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nolongerevil/state-server-go/internal/model"
)

type EntryKeyRepository interface {
	FindByCode(ctx context.Context, code string) (*model.EntryKey, error)
	LockByCode(ctx context.Context, code string) (*model.EntryKey, error)
	DeleteBySerial(ctx context.Context, serial string) (int64, error)
	// Insert returns false when the code is already taken.
	Insert(ctx context.Context, params model.CreateEntryKeyParams) (bool, error)
	// Reassign hands an expired, unclaimed code to a new device. Returns false
	// if the slot stopped being reusable before the update ran.
	Reassign(ctx context.Context, params model.CreateEntryKeyParams, nowUnix int64) (bool, error)
	MarkClaimed(ctx context.Context, code string, userID string, claimedAt time.Time) error
	DeleteExpired(ctx context.Context, nowUnix int64) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) EntryKeyRepository
}

type entryKeyRepo struct {
	db queryer
}

func NewEntryKeyRepository(db *sqlx.DB) EntryKeyRepository {
	return &entryKeyRepo{db: db}
}

func (r *entryKeyRepo) WithTx(tx *sqlx.Tx) EntryKeyRepository {
	return &entryKeyRepo{db: tx}
}

func (r *entryKeyRepo) FindByCode(ctx context.Context, code string) (*model.EntryKey, error) {
	var key model.EntryKey
	err := r.db.GetContext(ctx, &key, `
		SELECT * FROM entry_keys WHERE code = $1
	`, code)
	return HandleNotFound(&key, err)
}

func (r *entryKeyRepo) LockByCode(ctx context.Context, code string) (*model.EntryKey, error) {
	var key model.EntryKey
	err := r.db.GetContext(ctx, &key, `
		SELECT * FROM entry_keys WHERE code = $1
		FOR UPDATE
	`, code)
	return HandleNotFound(&key, err)
}

func (r *entryKeyRepo) DeleteBySerial(ctx context.Context, serial string) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx, `
		DELETE FROM entry_keys WHERE serial = $1
	`, serial))
}

func (r *entryKeyRepo) Insert(ctx context.Context, params model.CreateEntryKeyParams) (bool, error) {
	n, err := rowsAffected(r.db.ExecContext(ctx, `
		INSERT INTO entry_keys (code, serial, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO NOTHING
	`, params.Code, params.Serial, params.CreatedAt, params.ExpiresAt))
	return n == 1, err
}

func (r *entryKeyRepo) Reassign(ctx context.Context, params model.CreateEntryKeyParams, nowUnix int64) (bool, error) {
	n, err := rowsAffected(r.db.ExecContext(ctx, `
		UPDATE entry_keys SET
			serial = $2,
			created_at = $3,
			expires_at = $4,
			claimed_by = NULL,
			claimed_at = NULL
		WHERE code = $1 AND expires_at < $5 AND claimed_by IS NULL
	`, params.Code, params.Serial, params.CreatedAt, params.ExpiresAt, nowUnix))
	return n == 1, err
}

func (r *entryKeyRepo) MarkClaimed(ctx context.Context, code string, userID string, claimedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE entry_keys SET
			claimed_by = $2,
			claimed_at = $3
		WHERE code = $1
	`, code, userID, claimedAt)
	return err
}

func (r *entryKeyRepo) DeleteExpired(ctx context.Context, nowUnix int64) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx, `
		DELETE FROM entry_keys WHERE expires_at <= $1
	`, nowUnix))
}
