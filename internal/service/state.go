package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/nolongerevil/state-server-go/internal/config"
	apperrors "github.com/nolongerevil/state-server-go/internal/errors"
	"github.com/nolongerevil/state-server-go/internal/model"
	"github.com/nolongerevil/state-server-go/internal/repository"
	"github.com/nolongerevil/state-server-go/internal/util"
	"github.com/nolongerevil/state-server-go/internal/value"
)

// StatePublisher fans committed writes out to live subscribers.
type StatePublisher interface {
	PublishState(ctx context.Context, event model.StateEvent) error
}

// HistoryRecorder keeps a time series of committed writes.
type HistoryRecorder interface {
	RecordState(ctx context.Context, rec *model.StateRecord) error
}

type StateService struct {
	tx        Transactor
	stateRepo repository.StateRepository
	access    *AccessService
	publisher StatePublisher
	history   HistoryRecorder
	now       func() time.Time
}

// NewStateService wires the store. publisher and history may be nil.
func NewStateService(
	tx Transactor,
	stateRepo repository.StateRepository,
	access *AccessService,
	publisher StatePublisher,
	history HistoryRecorder,
) *StateService {
	return &StateService{
		tx:        tx,
		stateRepo: stateRepo,
		access:    access,
		publisher: publisher,
		history:   history,
		now:       time.Now,
	}
}

// Upsert creates the record or deep-merges params.Value into it. Revision,
// timestamp and updatedAt always take the new values. The read-merge-write runs
// under a row lock so concurrent writers to one key serialize.
func (s *StateService) Upsert(ctx context.Context, params model.UpsertStateParams) (*model.StateRecord, error) {
	if !util.IsValidSerial(params.Serial) {
		return nil, apperrors.ValidationError("Invalid serial")
	}
	if !util.IsValidObjectKey(params.ObjectKey) {
		return nil, apperrors.ValidationError("Invalid object key")
	}

	params.Value = params.Value.AsPayload()

	now := s.now()
	var rec *model.StateRecord
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		repo := s.stateRepo.WithTx(tx)

		created, err := repo.InsertIfAbsent(ctx, params, now)
		if err != nil {
			return fmt.Errorf("insert state: %w", err)
		}
		if created != nil {
			rec = created
			return nil
		}

		existing, err := repo.LockByKey(ctx, params.Serial, params.ObjectKey)
		if err != nil {
			return fmt.Errorf("lock state: %w", err)
		}
		if existing == nil {
			return fmt.Errorf("state %s/%s missing after conflict", params.Serial, params.ObjectKey)
		}

		merged := params
		merged.Value = value.Merge(existing.Value, params.Value)
		rec, err = repo.Update(ctx, merged, now)
		if err != nil {
			return fmt.Errorf("update state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, asServiceError(err)
	}

	log.Debug().
		Str("serial", rec.Serial).
		Str("objectKey", rec.ObjectKey).
		Int64("revision", rec.Revision).
		Msg("state written")

	s.afterWrite(ctx, rec)
	return rec, nil
}

// afterWrite publishes and records a committed write. Failures are logged only.
func (s *StateService) afterWrite(ctx context.Context, rec *model.StateRecord) {
	if s.publisher == nil && s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.SideEffectTimeout)
	defer cancel()

	if s.publisher != nil {
		if err := s.publisher.PublishState(ctx, model.NewStateEvent(rec)); err != nil {
			log.Warn().Err(err).Str("serial", rec.Serial).Msg("failed to publish state event")
		}
	}
	if s.history != nil {
		if err := s.history.RecordState(ctx, rec); err != nil {
			log.Warn().Err(err).Str("serial", rec.Serial).Msg("failed to record state history")
		}
	}
}

func (s *StateService) Get(ctx context.Context, serial, objectKey string) (*model.StateRecord, error) {
	rec, err := s.stateRepo.FindByKey(ctx, serial, objectKey)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if rec == nil {
		return nil, apperrors.NotFound("State")
	}
	return rec, nil
}

func (s *StateService) GetAllForDevice(ctx context.Context, serial string) (model.DeviceState, error) {
	records, err := s.stateRepo.FindBySerial(ctx, serial)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	state := make(model.DeviceState, len(records))
	for _, r := range records {
		state[r.ObjectKey] = r
	}
	return state, nil
}

// GetAll returns every record grouped by device.
func (s *StateService) GetAll(ctx context.Context) (*model.StateSnapshot, error) {
	records, err := s.stateRepo.FindAll(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return buildSnapshot(records), nil
}

// GetForUser returns the snapshot restricted to devices the user owns or has been shared.
func (s *StateService) GetForUser(ctx context.Context, userID string) (*model.StateSnapshot, error) {
	serials, err := s.access.ListAccessibleSerials(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(serials) == 0 {
		return buildSnapshot(nil), nil
	}

	records, err := s.stateRepo.FindBySerials(ctx, serials)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return buildSnapshot(records), nil
}

func (s *StateService) GetDeviceForUser(ctx context.Context, userID, serial string) (*model.DeviceStateView, error) {
	access, err := s.access.Authorize(ctx, userID, serial, false)
	if err != nil {
		return nil, err
	}

	state, err := s.GetAllForDevice(ctx, serial)
	if err != nil {
		return nil, err
	}
	return &model.DeviceStateView{
		Serial:         serial,
		State:          state,
		HasWriteAccess: access.CanWrite,
	}, nil
}

// UpsertForUser writes on behalf of a user who must own the device or hold control.
func (s *StateService) UpsertForUser(ctx context.Context, userID string, params model.UpsertStateParams) (*model.StateRecord, error) {
	if _, err := s.access.Authorize(ctx, userID, params.Serial, true); err != nil {
		return nil, err
	}
	return s.Upsert(ctx, params)
}

func buildSnapshot(records []model.StateRecord) *model.StateSnapshot {
	snapshot := &model.StateSnapshot{
		Devices:     []string{},
		DeviceState: map[string]model.DeviceState{},
	}
	for _, r := range records {
		bucket, ok := snapshot.DeviceState[r.Serial]
		if !ok {
			bucket = model.DeviceState{}
			snapshot.DeviceState[r.Serial] = bucket
			snapshot.Devices = append(snapshot.Devices, r.Serial)
		}
		bucket[r.ObjectKey] = r
	}
	sort.Strings(snapshot.Devices)
	return snapshot
}
