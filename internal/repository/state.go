package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nolongerevil/state-server-go/internal/model"
)

type StateRepository interface {
	FindByKey(ctx context.Context, serial, objectKey string) (*model.StateRecord, error)
	// LockByKey reads the record with a row lock held until the transaction ends.
	LockByKey(ctx context.Context, serial, objectKey string) (*model.StateRecord, error)
	FindBySerial(ctx context.Context, serial string) ([]model.StateRecord, error)
	FindBySerials(ctx context.Context, serials []string) ([]model.StateRecord, error)
	FindAll(ctx context.Context) ([]model.StateRecord, error)
	// InsertIfAbsent returns the new record, or nil if (serial, objectKey) already exists.
	InsertIfAbsent(ctx context.Context, params model.UpsertStateParams, now time.Time) (*model.StateRecord, error)
	Update(ctx context.Context, params model.UpsertStateParams, now time.Time) (*model.StateRecord, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) StateRepository
}

type stateRepo struct {
	db queryer
}

func NewStateRepository(db *sqlx.DB) StateRepository {
	return &stateRepo{db: db}
}

func (r *stateRepo) WithTx(tx *sqlx.Tx) StateRepository {
	return &stateRepo{db: tx}
}

func (r *stateRepo) FindByKey(ctx context.Context, serial, objectKey string) (*model.StateRecord, error) {
	var rec model.StateRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT * FROM states WHERE serial = $1 AND object_key = $2
	`, serial, objectKey)
	return HandleNotFound(&rec, err)
}

func (r *stateRepo) LockByKey(ctx context.Context, serial, objectKey string) (*model.StateRecord, error) {
	var rec model.StateRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT * FROM states WHERE serial = $1 AND object_key = $2
		FOR UPDATE
	`, serial, objectKey)
	return HandleNotFound(&rec, err)
}

func (r *stateRepo) FindBySerial(ctx context.Context, serial string) ([]model.StateRecord, error) {
	var records []model.StateRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM states WHERE serial = $1
		ORDER BY object_key
	`, serial)
	return records, err
}

func (r *stateRepo) FindBySerials(ctx context.Context, serials []string) ([]model.StateRecord, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	var records []model.StateRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM states WHERE serial = ANY($1)
		ORDER BY serial, object_key
	`, pq.Array(serials))
	return records, err
}

func (r *stateRepo) FindAll(ctx context.Context) ([]model.StateRecord, error) {
	var records []model.StateRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM states ORDER BY serial, object_key
	`)
	return records, err
}

func (r *stateRepo) InsertIfAbsent(ctx context.Context, params model.UpsertStateParams, now time.Time) (*model.StateRecord, error) {
	var rec model.StateRecord
	err := r.db.GetContext(ctx, &rec, `
		INSERT INTO states (id, serial, object_key, object_revision, object_timestamp, value, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (serial, object_key) DO NOTHING
		RETURNING *
	`, uuid.NewString(), params.Serial, params.ObjectKey, params.Revision, params.Timestamp, params.Value.OrEmpty(), now)
	return HandleNotFound(&rec, err)
}

func (r *stateRepo) Update(ctx context.Context, params model.UpsertStateParams, now time.Time) (*model.StateRecord, error) {
	var rec model.StateRecord
	err := r.db.GetContext(ctx, &rec, `
		UPDATE states SET
			object_revision = $3,
			object_timestamp = $4,
			value = $5,
			updated_at = $6
		WHERE serial = $1 AND object_key = $2
		RETURNING *
	`, params.Serial, params.ObjectKey, params.Revision, params.Timestamp, params.Value.OrEmpty(), now)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
