package service

import (
	"context"

	"github.com/nolongerevil/state-server-go/internal/database"
	apperrors "github.com/nolongerevil/state-server-go/internal/errors"
)

// Transactor runs fn inside one database transaction. *database.DB satisfies it.
type Transactor interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

var _ Transactor = (*database.DB)(nil)

// asServiceError passes AppErrors through and wraps anything else as a database error.
func asServiceError(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.Database(err)
}
