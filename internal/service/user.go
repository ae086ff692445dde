package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/nolongerevil/state-server-go/internal/errors"
	"github.com/nolongerevil/state-server-go/internal/model"
	"github.com/nolongerevil/state-server-go/internal/repository"
)

type UserService struct {
	userRepo repository.UserRepository
	now      func() time.Time
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo, now: time.Now}
}

// EnsureUser records an identity-provider account, refreshing its email when a
// different non-empty one is presented.
func (s *UserService) EnsureUser(ctx context.Context, externalID, email string) (*model.User, error) {
	if externalID == "" {
		return nil, apperrors.MissingRequired("userId")
	}

	created, err := s.userRepo.CreateIfAbsent(ctx, externalID, email, s.now())
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if created != nil {
		log.Info().Str("userId", externalID).Msg("user created")
		return created, nil
	}

	user, err := s.userRepo.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.NotFound("User")
	}

	if email != "" && user.Email != email {
		if err := s.userRepo.UpdateEmail(ctx, externalID, email); err != nil {
			return nil, apperrors.Database(err)
		}
		user.Email = email
	}
	return user, nil
}
