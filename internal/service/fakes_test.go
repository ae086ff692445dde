package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nolongerevil/state-server-go/internal/database"
	"github.com/nolongerevil/state-server-go/internal/model"
	"github.com/nolongerevil/state-server-go/internal/repository"
)

// memStore backs the in-memory repositories. memTx snapshots it before each
// transaction and restores the snapshot when the transaction fails.
type memStore struct {
	states map[string]model.StateRecord
	keys   map[string]model.EntryKey
	owners map[string]model.DeviceOwner
	shares []model.DeviceShare
	users  map[string]model.User
}

// isClaimed reports whether the stored key for code has been claimed.
func (s *memStore) isClaimed(code string) bool {
	key, ok := s.keys[code]
	return ok && key.IsClaimed()
}

func newMemStore() *memStore {
	return &memStore{
		states: map[string]model.StateRecord{},
		keys:   map[string]model.EntryKey{},
		owners: map[string]model.DeviceOwner{},
		users:  map[string]model.User{},
	}
}

func (m *memStore) clone() memStore {
	c := memStore{
		states: make(map[string]model.StateRecord, len(m.states)),
		keys:   make(map[string]model.EntryKey, len(m.keys)),
		owners: make(map[string]model.DeviceOwner, len(m.owners)),
		shares: append([]model.DeviceShare(nil), m.shares...),
		users:  make(map[string]model.User, len(m.users)),
	}
	for k, v := range m.states {
		c.states[k] = v
	}
	for k, v := range m.keys {
		c.keys[k] = v
	}
	for k, v := range m.owners {
		c.owners[k] = v
	}
	for k, v := range m.users {
		c.users[k] = v
	}
	return c
}

func stateKey(serial, objectKey string) string {
	return serial + "\x00" + objectKey
}

type memTx struct {
	mu    sync.Mutex
	store *memStore
	calls int
}

func (t *memTx) WithTx(ctx context.Context, fn database.TxFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++

	snapshot := t.store.clone()
	if err := fn(nil); err != nil {
		*t.store = snapshot
		return err
	}
	return nil
}

// state

type memStateRepo struct {
	s   *memStore
	err error
}

func (r *memStateRepo) WithTx(tx *sqlx.Tx) repository.StateRepository { return r }

func (r *memStateRepo) FindByKey(ctx context.Context, serial, objectKey string) (*model.StateRecord, error) {
	if r.err != nil {
		return nil, r.err
	}
	rec, ok := r.s.states[stateKey(serial, objectKey)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *memStateRepo) LockByKey(ctx context.Context, serial, objectKey string) (*model.StateRecord, error) {
	return r.FindByKey(ctx, serial, objectKey)
}

func (r *memStateRepo) FindBySerial(ctx context.Context, serial string) ([]model.StateRecord, error) {
	return r.filter(func(rec model.StateRecord) bool { return rec.Serial == serial })
}

func (r *memStateRepo) FindBySerials(ctx context.Context, serials []string) ([]model.StateRecord, error) {
	want := map[string]bool{}
	for _, s := range serials {
		want[s] = true
	}
	return r.filter(func(rec model.StateRecord) bool { return want[rec.Serial] })
}

func (r *memStateRepo) FindAll(ctx context.Context) ([]model.StateRecord, error) {
	return r.filter(func(model.StateRecord) bool { return true })
}

func (r *memStateRepo) filter(keep func(model.StateRecord) bool) ([]model.StateRecord, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []model.StateRecord
	for _, rec := range r.s.states {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Serial != out[j].Serial {
			return out[i].Serial < out[j].Serial
		}
		return out[i].ObjectKey < out[j].ObjectKey
	})
	return out, nil
}

func (r *memStateRepo) InsertIfAbsent(ctx context.Context, params model.UpsertStateParams, now time.Time) (*model.StateRecord, error) {
	if r.err != nil {
		return nil, r.err
	}
	k := stateKey(params.Serial, params.ObjectKey)
	if _, ok := r.s.states[k]; ok {
		return nil, nil
	}
	rec := model.StateRecord{
		ID:        k,
		Serial:    params.Serial,
		ObjectKey: params.ObjectKey,
		Revision:  params.Revision,
		Timestamp: params.Timestamp,
		Value:     params.Value.OrEmpty(),
		UpdatedAt: now,
	}
	r.s.states[k] = rec
	return &rec, nil
}

func (r *memStateRepo) Update(ctx context.Context, params model.UpsertStateParams, now time.Time) (*model.StateRecord, error) {
	if r.err != nil {
		return nil, r.err
	}
	k := stateKey(params.Serial, params.ObjectKey)
	rec := r.s.states[k]
	rec.Revision = params.Revision
	rec.Timestamp = params.Timestamp
	rec.Value = params.Value.OrEmpty()
	rec.UpdatedAt = now
	r.s.states[k] = rec
	return &rec, nil
}

// entry keys

type memEntryKeyRepo struct {
	s   *memStore
	err error
}

func (r *memEntryKeyRepo) WithTx(tx *sqlx.Tx) repository.EntryKeyRepository { return r }

func (r *memEntryKeyRepo) FindByCode(ctx context.Context, code string) (*model.EntryKey, error) {
	if r.err != nil {
		return nil, r.err
	}
	key, ok := r.s.keys[code]
	if !ok {
		return nil, nil
	}
	return &key, nil
}

func (r *memEntryKeyRepo) LockByCode(ctx context.Context, code string) (*model.EntryKey, error) {
	return r.FindByCode(ctx, code)
}

func (r *memEntryKeyRepo) DeleteBySerial(ctx context.Context, serial string) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	for code, key := range r.s.keys {
		if key.Serial == serial {
			delete(r.s.keys, code)
			n++
		}
	}
	return n, nil
}

func (r *memEntryKeyRepo) Insert(ctx context.Context, params model.CreateEntryKeyParams) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.s.keys[params.Code]; ok {
		return false, nil
	}
	r.s.keys[params.Code] = model.EntryKey{
		Code:      params.Code,
		Serial:    params.Serial,
		CreatedAt: params.CreatedAt,
		ExpiresAt: params.ExpiresAt,
	}
	return true, nil
}

func (r *memEntryKeyRepo) Reassign(ctx context.Context, params model.CreateEntryKeyParams, nowUnix int64) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	key, ok := r.s.keys[params.Code]
	if !ok || key.ExpiresAt >= nowUnix || key.ClaimedBy != nil {
		return false, nil
	}
	r.s.keys[params.Code] = model.EntryKey{
		Code:      params.Code,
		Serial:    params.Serial,
		CreatedAt: params.CreatedAt,
		ExpiresAt: params.ExpiresAt,
	}
	return true, nil
}

func (r *memEntryKeyRepo) MarkClaimed(ctx context.Context, code string, userID string, claimedAt time.Time) error {
	if r.err != nil {
		return r.err
	}
	key := r.s.keys[code]
	key.ClaimedBy = &userID
	key.ClaimedAt = &claimedAt
	r.s.keys[code] = key
	return nil
}

func (r *memEntryKeyRepo) DeleteExpired(ctx context.Context, nowUnix int64) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	for code, key := range r.s.keys {
		if key.ExpiresAt <= nowUnix {
			delete(r.s.keys, code)
			n++
		}
	}
	return n, nil
}

// owners

type memOwnerRepo struct {
	s   *memStore
	err error
}

func (r *memOwnerRepo) WithTx(tx *sqlx.Tx) repository.DeviceOwnerRepository { return r }

func (r *memOwnerRepo) FindBySerial(ctx context.Context, serial string) (*model.DeviceOwner, error) {
	if r.err != nil {
		return nil, r.err
	}
	owner, ok := r.s.owners[serial]
	if !ok {
		return nil, nil
	}
	return &owner, nil
}

func (r *memOwnerRepo) FindByUserID(ctx context.Context, userID string) ([]model.DeviceOwner, error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.DeviceOwner
	for _, o := range all {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memOwnerRepo) FindAll(ctx context.Context) ([]model.DeviceOwner, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []model.DeviceOwner
	for _, o := range r.s.owners {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out, nil
}

func (r *memOwnerRepo) CreateIfAbsent(ctx context.Context, serial, userID string, now time.Time) (*model.DeviceOwner, error) {
	if r.err != nil {
		return nil, r.err
	}
	if _, ok := r.s.owners[serial]; ok {
		return nil, nil
	}
	owner := model.DeviceOwner{ID: "owner-" + serial, Serial: serial, UserID: userID, CreatedAt: &now}
	r.s.owners[serial] = owner
	return &owner, nil
}

func (r *memOwnerRepo) BackfillCreatedAt(ctx context.Context, serial string, now time.Time) error {
	if r.err != nil {
		return r.err
	}
	owner, ok := r.s.owners[serial]
	if ok && owner.CreatedAt == nil {
		owner.CreatedAt = &now
		r.s.owners[serial] = owner
	}
	return nil
}

// shares

type memShareRepo struct {
	s   *memStore
	err error
}

func (r *memShareRepo) FindBySerialAndUser(ctx context.Context, serial, userID string) (*model.DeviceShare, error) {
	if r.err != nil {
		return nil, r.err
	}
	for _, sh := range r.s.shares {
		if sh.Serial == serial && sh.SharedWithUserID == userID {
			share := sh
			return &share, nil
		}
	}
	return nil, nil
}

func (r *memShareRepo) FindBySharedUser(ctx context.Context, userID string) ([]model.DeviceShare, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []model.DeviceShare
	for _, sh := range r.s.shares {
		if sh.SharedWithUserID == userID {
			out = append(out, sh)
		}
	}
	return out, nil
}

// users

type memUserRepo struct {
	s   *memStore
	err error
}

func (r *memUserRepo) WithTx(tx *sqlx.Tx) repository.UserRepository { return r }

func (r *memUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	user, ok := r.s.users[externalID]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (r *memUserRepo) CreateIfAbsent(ctx context.Context, externalID, email string, now time.Time) (*model.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	if _, ok := r.s.users[externalID]; ok {
		return nil, nil
	}
	user := model.User{ID: "id-" + externalID, ExternalID: externalID, Email: email, CreatedAt: now}
	r.s.users[externalID] = user
	return &user, nil
}

func (r *memUserRepo) UpdateEmail(ctx context.Context, externalID, email string) error {
	if r.err != nil {
		return r.err
	}
	user := r.s.users[externalID]
	user.Email = email
	r.s.users[externalID] = user
	return nil
}

// fixture wires every service over one memStore.
type fixture struct {
	store  *memStore
	tx     *memTx
	states *memStateRepo
	keys   *memEntryKeyRepo
	owners *memOwnerRepo
	shares *memShareRepo
	users  *memUserRepo

	access  *AccessService
	state   *StateService
	pairing *PairingService

	now time.Time
}

func newFixture() *fixture {
	store := newMemStore()
	f := &fixture{
		store:  store,
		tx:     &memTx{store: store},
		states: &memStateRepo{s: store},
		keys:   &memEntryKeyRepo{s: store},
		owners: &memOwnerRepo{s: store},
		shares: &memShareRepo{s: store},
		users:  &memUserRepo{s: store},
		now:    time.Unix(1_700_000_000, 0).UTC(),
	}
	clock := func() time.Time { return f.now }

	f.access = NewAccessService(f.owners, f.shares)
	f.state = NewStateService(f.tx, f.states, f.access, nil, nil)
	f.state.now = clock
	f.pairing = NewPairingService(f.tx, f.keys, f.owners, f.states, f.users, MustLoadDefaults())
	f.pairing.now = clock
	return f
}

// codes makes newCode return the given codes in order, then repeat the last one.
func codes(list ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		c := list[i]
		if i < len(list)-1 {
			i++
		}
		return c, nil
	}
}

type recordingPublisher struct {
	events []model.StateEvent
	err    error
}

func (p *recordingPublisher) PublishState(ctx context.Context, event model.StateEvent) error {
	p.events = append(p.events, event)
	return p.err
}

type recordingHistory struct {
	records []model.StateRecord
	err     error
}

func (h *recordingHistory) RecordState(ctx context.Context, rec *model.StateRecord) error {
	h.records = append(h.records, *rec)
	return h.err
}
