package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nolongerevil/state-server-go/internal/model"
)

type UserRepository interface {
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)
	// CreateIfAbsent returns the new user, or nil if externalID is already known.
	CreateIfAbsent(ctx context.Context, externalID, email string, now time.Time) (*model.User, error)
	UpdateEmail(ctx context.Context, externalID, email string) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) UserRepository
}

type userRepo struct {
	db queryer
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) WithTx(tx *sqlx.Tx) UserRepository {
	return &userRepo{db: tx}
}

func (r *userRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE external_id = $1
	`, externalID)
	return HandleNotFound(&user, err)
}

func (r *userRepo) CreateIfAbsent(ctx context.Context, externalID, email string, now time.Time) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO users (id, external_id, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING *
	`, uuid.NewString(), externalID, email, now)
	return HandleNotFound(&user, err)
}

func (r *userRepo) UpdateEmail(ctx context.Context, externalID, email string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET email = $2 WHERE external_id = $1
	`, externalID, email)
	return err
}
