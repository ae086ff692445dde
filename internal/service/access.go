package service

import (
	"context"
	"sort"

	"github.com/nolongerevil/state-server-go/internal/audit"
	apperrors "github.com/nolongerevil/state-server-go/internal/errors"
	"github.com/nolongerevil/state-server-go/internal/model"
	"github.com/nolongerevil/state-server-go/internal/repository"
)

// AccessService decides what a user may do with a device from ownership and shares.
type AccessService struct {
	ownerRepo repository.DeviceOwnerRepository
	shareRepo repository.DeviceShareRepository
}

func NewAccessService(
	ownerRepo repository.DeviceOwnerRepository,
	shareRepo repository.DeviceShareRepository,
) *AccessService {
	return &AccessService{
		ownerRepo: ownerRepo,
		shareRepo: shareRepo,
	}
}

// Resolve returns the user's access to serial. Owners can always write;
// share holders can write only with the control permission.
func (s *AccessService) Resolve(ctx context.Context, userID, serial string) (model.Access, error) {
	owner, err := s.ownerRepo.FindBySerial(ctx, serial)
	if err != nil {
		return model.Access{}, apperrors.Database(err)
	}
	if owner != nil && owner.UserID == userID {
		return model.Access{Allowed: true, CanWrite: true}, nil
	}

	share, err := s.shareRepo.FindBySerialAndUser(ctx, serial, userID)
	if err != nil {
		return model.Access{}, apperrors.Database(err)
	}
	if share != nil {
		return model.Access{Allowed: true, CanWrite: share.Has(model.PermissionControl)}, nil
	}

	return model.Access{}, nil
}

// Authorize resolves access and fails with AccessDenied when it is insufficient.
func (s *AccessService) Authorize(ctx context.Context, userID, serial string, write bool) (model.Access, error) {
	access, err := s.Resolve(ctx, userID, serial)
	if err != nil {
		return access, err
	}
	if !access.Allowed || (write && !access.CanWrite) {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventAccessDenied,
			UserID:  userID,
			Serial:  serial,
			Details: map[string]interface{}{"write": write},
		})
	}
	if !access.Allowed {
		return access, apperrors.AccessDenied("Access denied: you do not have permission to view this device")
	}
	if write && !access.CanWrite {
		return access, apperrors.AccessDenied("Access denied: you do not have permission to control this device")
	}
	return access, nil
}

// ListAccessibleSerials returns owned and shared serials, sorted and deduplicated.
func (s *AccessService) ListAccessibleSerials(ctx context.Context, userID string) ([]string, error) {
	owned, err := s.ownerRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	shared, err := s.shareRepo.FindBySharedUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	seen := make(map[string]struct{}, len(owned)+len(shared))
	for _, o := range owned {
		seen[o.Serial] = struct{}{}
	}
	for _, sh := range shared {
		seen[sh.Serial] = struct{}{}
	}

	serials := make([]string, 0, len(seen))
	for serial := range seen {
		serials = append(serials, serial)
	}
	sort.Strings(serials)
	return serials, nil
}

// ListOwnedDevices returns the devices the user has claimed.
func (s *AccessService) ListOwnedDevices(ctx context.Context, userID string) ([]model.OwnedDevice, error) {
	owned, err := s.ownerRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	devices := make([]model.OwnedDevice, 0, len(owned))
	for _, o := range owned {
		devices = append(devices, model.OwnedDevice{Serial: o.Serial, LinkedAt: o.CreatedAt})
	}
	return devices, nil
}
