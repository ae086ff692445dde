package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/nolongerevil/state-server-go/internal/middleware"
	"github.com/nolongerevil/state-server-go/internal/model"
	"github.com/nolongerevil/state-server-go/internal/sse"
)

type mockStateStore struct {
	mock.Mock
}

func (m *mockStateStore) Upsert(ctx context.Context, params model.UpsertStateParams) (*model.StateRecord, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StateRecord), args.Error(1)
}

func (m *mockStateStore) Get(ctx context.Context, serial, objectKey string) (*model.StateRecord, error) {
	args := m.Called(ctx, serial, objectKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StateRecord), args.Error(1)
}

func (m *mockStateStore) GetAllForDevice(ctx context.Context, serial string) (model.DeviceState, error) {
	args := m.Called(ctx, serial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.DeviceState), args.Error(1)
}

func (m *mockStateStore) GetAll(ctx context.Context) (*model.StateSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StateSnapshot), args.Error(1)
}

func (m *mockStateStore) GetForUser(ctx context.Context, userID string) (*model.StateSnapshot, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StateSnapshot), args.Error(1)
}

func (m *mockStateStore) GetDeviceForUser(ctx context.Context, userID, serial string) (*model.DeviceStateView, error) {
	args := m.Called(ctx, userID, serial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeviceStateView), args.Error(1)
}

func (m *mockStateStore) UpsertForUser(ctx context.Context, userID string, params model.UpsertStateParams) (*model.StateRecord, error) {
	args := m.Called(ctx, userID, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StateRecord), args.Error(1)
}

type mockPairing struct {
	mock.Mock
}

func (m *mockPairing) GenerateCode(ctx context.Context, serial string, ttlSeconds int) (*model.GeneratedEntryKey, error) {
	args := m.Called(ctx, serial, ttlSeconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GeneratedEntryKey), args.Error(1)
}

func (m *mockPairing) Claim(ctx context.Context, code, userID string) (*model.ClaimResult, error) {
	args := m.Called(ctx, code, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ClaimResult), args.Error(1)
}

func (m *mockPairing) EnsureDeviceDefaults(ctx context.Context, serial string) (*model.DefaultsResult, error) {
	args := m.Called(ctx, serial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DefaultsResult), args.Error(1)
}

func (m *mockPairing) BackfillDefaults(ctx context.Context) (*model.BackfillResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BackfillResult), args.Error(1)
}

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) EnsureUser(ctx context.Context, externalID, email string) (*model.User, error) {
	args := m.Called(ctx, externalID, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

type mockAccess struct {
	mock.Mock
}

func (m *mockAccess) Authorize(ctx context.Context, userID, serial string, write bool) (model.Access, error) {
	args := m.Called(ctx, userID, serial, write)
	return args.Get(0).(model.Access), args.Error(1)
}

func (m *mockAccess) ListOwnedDevices(ctx context.Context, userID string) ([]model.OwnedDevice, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.OwnedDevice), args.Error(1)
}

// fakeBroker hands out one client per Subscribe and records unsubscribes.
type fakeBroker struct {
	client       *sse.Client
	subscribed   chan string
	unsubscribed bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		client:     &sse.Client{Events: make(chan sse.Event, 4), Done: make(chan struct{})},
		subscribed: make(chan string, 1),
	}
}

func (b *fakeBroker) Subscribe(serial string) *sse.Client {
	b.client.Serial = serial
	b.subscribed <- serial
	return b.client
}

func (b *fakeBroker) Unsubscribe(client *sse.Client) {
	b.unsubscribed = true
}

func withUser(r *http.Request, userID string) *http.Request {
	ctx := middleware.WithIdentity(r.Context(), &middleware.Identity{UserID: userID, Email: userID + "@example.com"})
	return r.WithContext(ctx)
}

func newRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	return httptest.NewRequest(method, target, reader)
}
