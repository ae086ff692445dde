package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/nolongerevil/state-server-go/internal/audit"
	apperrors "github.com/nolongerevil/state-server-go/internal/errors"
	"github.com/nolongerevil/state-server-go/internal/model"
	"github.com/nolongerevil/state-server-go/internal/repository"
	"github.com/nolongerevil/state-server-go/internal/util"
)

const (
	entryKeyDigits        = "0123456789"
	entryKeyLetters       = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	DefaultEntryKeyTTL    = 3600
	maxAllocationAttempts = 20
)

// PairingService issues entry keys to devices and links devices to the accounts that claim them.
type PairingService struct {
	tx        Transactor
	keyRepo   repository.EntryKeyRepository
	ownerRepo repository.DeviceOwnerRepository
	stateRepo repository.StateRepository
	userRepo  repository.UserRepository
	defaults  *Defaults
	now       func() time.Time
	newCode   func() (string, error)
}

func NewPairingService(
	tx Transactor,
	keyRepo repository.EntryKeyRepository,
	ownerRepo repository.DeviceOwnerRepository,
	stateRepo repository.StateRepository,
	userRepo repository.UserRepository,
	defaults *Defaults,
) *PairingService {
	return &PairingService{
		tx:        tx,
		keyRepo:   keyRepo,
		ownerRepo: ownerRepo,
		stateRepo: stateRepo,
		userRepo:  userRepo,
		defaults:  defaults,
		now:       time.Now,
		newCode:   generateEntryKeyCode,
	}
}

// GenerateCode replaces every code the device holds with a fresh one.
// Codes share one namespace across devices; a colliding code is retried unless
// its row is expired and unclaimed, in which case the slot is taken over.
func (s *PairingService) GenerateCode(ctx context.Context, serial string, ttlSeconds int) (*model.GeneratedEntryKey, error) {
	if !util.IsValidSerial(serial) {
		return nil, apperrors.ValidationError("Invalid serial")
	}
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultEntryKeyTTL
	}

	now := s.now()
	params := model.CreateEntryKeyParams{
		Serial:    serial,
		CreatedAt: now,
		ExpiresAt: now.Unix() + int64(ttlSeconds),
	}

	var attempts int
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		keys := s.keyRepo.WithTx(tx)

		if _, err := keys.DeleteBySerial(ctx, serial); err != nil {
			return fmt.Errorf("delete previous codes: %w", err)
		}

		for attempts = 1; attempts <= maxAllocationAttempts; attempts++ {
			code, err := s.newCode()
			if err != nil {
				return fmt.Errorf("generate code: %w", err)
			}
			params.Code = code

			ok, err := s.allocate(ctx, keys, params, now)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
		return apperrors.AllocationExhausted("Unable to allocate entry key")
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeAllocationExhausted) {
			log.Error().Str("serial", serial).Int("attempts", maxAllocationAttempts).Msg("entry key allocation exhausted")
		}
		return nil, asServiceError(err)
	}

	audit.Log(ctx, audit.Event{
		Type:   audit.EventCodeGenerate,
		Serial: serial,
		Details: map[string]interface{}{
			"code":      util.MaskCode(params.Code),
			"expiresAt": params.ExpiresAt,
			"attempts":  attempts,
		},
	})

	return &model.GeneratedEntryKey{Code: params.Code, ExpiresAt: params.ExpiresAt}, nil
}

// allocate tries to take params.Code. It reports false when the code is held by another live row.
func (s *PairingService) allocate(ctx context.Context, keys repository.EntryKeyRepository, params model.CreateEntryKeyParams, now time.Time) (bool, error) {
	existing, err := keys.FindByCode(ctx, params.Code)
	if err != nil {
		return false, fmt.Errorf("find code: %w", err)
	}

	if existing == nil {
		ok, err := keys.Insert(ctx, params)
		if err != nil {
			return false, fmt.Errorf("insert code: %w", err)
		}
		return ok, nil
	}

	if !existing.IsReusable(now) {
		return false, nil
	}
	ok, err := keys.Reassign(ctx, params, now.Unix())
	if err != nil {
		return false, fmt.Errorf("reassign code: %w", err)
	}
	return ok, nil
}

// Claim links the code's device to userID. Re-claiming by the same user is a
// no-op success until the code expires. The claim, the ownership row and the
// seeded defaults commit together: if the device already belongs to someone
// else nothing is written.
func (s *PairingService) Claim(ctx context.Context, code, userID string) (*model.ClaimResult, error) {
	if userID == "" {
		return nil, apperrors.MissingRequired("userId")
	}
	code = strings.ToUpper(code)
	now := s.now()

	var serial string
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		keys := s.keyRepo.WithTx(tx)

		key, err := keys.LockByCode(ctx, code)
		if err != nil {
			return fmt.Errorf("find code: %w", err)
		}
		if key == nil {
			return apperrors.New(apperrors.ErrCodeNotFound, "Invalid entry key")
		}
		serial = key.Serial
		if key.IsClaimed() && !key.IsClaimedBy(userID) {
			return apperrors.Conflict("Entry key already claimed")
		}
		if key.IsExpired(now) {
			return apperrors.Expired("Entry key expired")
		}

		if err := keys.MarkClaimed(ctx, code, userID, now); err != nil {
			return fmt.Errorf("mark claimed: %w", err)
		}

		if err := s.linkOwner(ctx, s.ownerRepo.WithTx(tx), key.Serial, userID, now); err != nil {
			return err
		}

		_, err = s.seedDefaults(ctx, tx, key.Serial, userID, now)
		return err
	})
	if err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code != apperrors.ErrCodeDatabase {
			audit.Log(ctx, audit.Event{
				Type:    audit.EventClaimDenied,
				UserID:  userID,
				Serial:  serial,
				Details: map[string]interface{}{"code": util.MaskCode(code), "reason": appErr.Message},
			})
		}
		return nil, asServiceError(err)
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventCodeClaim,
		UserID:  userID,
		Serial:  serial,
		Details: map[string]interface{}{"code": util.MaskCode(code)},
	})

	return &model.ClaimResult{Serial: serial}, nil
}

func (s *PairingService) linkOwner(ctx context.Context, owners repository.DeviceOwnerRepository, serial, userID string, now time.Time) error {
	created, err := owners.CreateIfAbsent(ctx, serial, userID, now)
	if err != nil {
		return fmt.Errorf("create owner: %w", err)
	}
	if created != nil {
		log.Info().Str("serial", serial).Str("userId", userID).Msg("device linked")
		return nil
	}

	owner, err := owners.FindBySerial(ctx, serial)
	if err != nil {
		return fmt.Errorf("find owner: %w", err)
	}
	if owner == nil {
		return fmt.Errorf("owner for %s missing after conflict", serial)
	}
	if owner.UserID != userID {
		return apperrors.Conflict("Device already linked to another account")
	}
	if owner.CreatedAt == nil {
		if err := owners.BackfillCreatedAt(ctx, serial, now); err != nil {
			return fmt.Errorf("backfill owner createdAt: %w", err)
		}
	}
	return nil
}

// seedDefaults writes the alert dialog and, when ownerID is set, the owner's
// profile object. Existing objects are left untouched.
func (s *PairingService) seedDefaults(ctx context.Context, tx *sqlx.Tx, serial, ownerID string, now time.Time) (model.DefaultsResult, error) {
	var result model.DefaultsResult
	states := s.stateRepo.WithTx(tx)

	dialog, err := states.InsertIfAbsent(ctx, model.UpsertStateParams{
		Serial:    serial,
		ObjectKey: s.defaults.AlertDialogKey(serial),
		Revision:  1,
		Timestamp: now.UnixMilli(),
		Value:     s.defaults.AlertDialogValue(),
	}, now)
	if err != nil {
		return result, fmt.Errorf("seed alert dialog: %w", err)
	}
	result.DialogCreated = dialog != nil

	if ownerID == "" {
		return result, nil
	}

	var email string
	user, err := s.userRepo.WithTx(tx).FindByExternalID(ctx, ownerID)
	if err != nil {
		return result, fmt.Errorf("find user: %w", err)
	}
	if user != nil {
		email = user.Email
	}

	profile, err := states.InsertIfAbsent(ctx, model.UpsertStateParams{
		Serial:    serial,
		ObjectKey: s.defaults.ProfileKey(ownerID),
		Revision:  1,
		Timestamp: now.UnixMilli(),
		Value:     s.defaults.ProfileValue(email),
	}, now)
	if err != nil {
		return result, fmt.Errorf("seed user profile: %w", err)
	}
	result.UserCreated = profile != nil

	return result, nil
}

// EnsureDeviceDefaults seeds the bootstrap objects for one device. The profile
// object is only written when the device has an owner.
func (s *PairingService) EnsureDeviceDefaults(ctx context.Context, serial string) (*model.DefaultsResult, error) {
	if !util.IsValidSerial(serial) {
		return nil, apperrors.ValidationError("Invalid serial")
	}

	now := s.now()
	var result model.DefaultsResult
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		owner, err := s.ownerRepo.WithTx(tx).FindBySerial(ctx, serial)
		if err != nil {
			return fmt.Errorf("find owner: %w", err)
		}
		var ownerID string
		if owner != nil {
			ownerID = owner.UserID
		}
		result, err = s.seedDefaults(ctx, tx, serial, ownerID, now)
		return err
	})
	if err != nil {
		return nil, asServiceError(err)
	}

	if result.DialogCreated || result.UserCreated {
		audit.Log(ctx, audit.Event{
			Type:   audit.EventDefaultsSeeded,
			Serial: serial,
			Details: map[string]interface{}{
				"dialogCreated": result.DialogCreated,
				"userCreated":   result.UserCreated,
			},
		})
	}
	return &result, nil
}

// BackfillDefaults runs EnsureDeviceDefaults for every owned device, one
// transaction per device. It stops at the first failure.
func (s *PairingService) BackfillDefaults(ctx context.Context) (*model.BackfillResult, error) {
	owners, err := s.ownerRepo.FindAll(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	result := &model.BackfillResult{Total: len(owners)}
	for _, owner := range owners {
		r, err := s.EnsureDeviceDefaults(ctx, owner.Serial)
		if err != nil {
			return result, fmt.Errorf("backfill %s: %w", owner.Serial, err)
		}
		if r.DialogCreated {
			result.DialogsCreated++
		} else {
			result.DialogsSkipped++
		}
		if r.UserCreated {
			result.UsersCreated++
		} else {
			result.UsersSkipped++
		}
	}

	log.Info().
		Int("total", result.Total).
		Int("dialogsCreated", result.DialogsCreated).
		Int("usersCreated", result.UsersCreated).
		Msg("defaults backfill complete")
	return result, nil
}

// Sweep deletes every code whose expiry has passed, claimed or not.
func (s *PairingService) Sweep(ctx context.Context) (int64, error) {
	count, err := s.keyRepo.DeleteExpired(ctx, s.now().Unix())
	if err != nil {
		return 0, apperrors.Database(err)
	}
	if count > 0 {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventSweep,
			Details: map[string]interface{}{"deletedCount": count},
		})
	}
	return count, nil
}

// generateEntryKeyCode returns three digits followed by four uppercase letters.
func generateEntryKeyCode() (string, error) {
	var b strings.Builder
	b.Grow(util.EntryKeyLength)
	for i := 0; i < 3; i++ {
		c, err := randomChar(entryKeyDigits)
		if err != nil {
			return "", err
		}
		b.WriteByte(c)
	}
	for i := 0; i < 4; i++ {
		c, err := randomChar(entryKeyLetters)
		if err != nil {
			return "", err
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

func randomChar(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, err
	}
	return alphabet[n.Int64()], nil
}
