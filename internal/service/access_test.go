package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nolongerevil/state-server-go/internal/errors"
	"github.com/nolongerevil/state-server-go/internal/model"
)

func TestAccessService(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	linked := time.Unix(1_690_000_000, 0).UTC()
	f.store.owners["A1"] = model.DeviceOwner{Serial: "A1", UserID: "user_a", CreatedAt: &linked}
	f.store.owners["B2"] = model.DeviceOwner{Serial: "B2", UserID: "user_b"}
	f.store.shares = []model.DeviceShare{
		{Serial: "B2", SharedWithUserID: "user_a", Permissions: []string{model.PermissionRead}},
		{Serial: "A1", SharedWithUserID: "user_c", Permissions: []string{model.PermissionRead, model.PermissionControl}},
		{Serial: "A1", SharedWithUserID: "user_a", Permissions: []string{model.PermissionRead}},
	}

	t.Run("Resolve", func(t *testing.T) {
		tests := []struct {
			name     string
			userID   string
			serial   string
			expected model.Access
		}{
			{"owner", "user_a", "A1", model.Access{Allowed: true, CanWrite: true}},
			{"read share", "user_a", "B2", model.Access{Allowed: true, CanWrite: false}},
			{"control share", "user_c", "A1", model.Access{Allowed: true, CanWrite: true}},
			{"stranger", "user_c", "B2", model.Access{}},
			{"unknown device", "user_a", "Z9", model.Access{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := f.access.Resolve(ctx, tt.userID, tt.serial)
				require.NoError(t, err)
				assert.Equal(t, tt.expected, got)
			})
		}
	})

	t.Run("Authorize", func(t *testing.T) {
		_, err := f.access.Authorize(ctx, "user_a", "B2", false)
		assert.NoError(t, err)

		_, err = f.access.Authorize(ctx, "user_a", "B2", true)
		require.Error(t, err)
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeAccessDenied, appErr.Code)
		assert.Contains(t, appErr.Message, "control")

		_, err = f.access.Authorize(ctx, "user_c", "B2", false)
		appErr, _ = apperrors.AsAppError(err)
		assert.Contains(t, appErr.Message, "view")
	})

	t.Run("ListAccessibleSerials dedupes owned and shared", func(t *testing.T) {
		serials, err := f.access.ListAccessibleSerials(ctx, "user_a")
		require.NoError(t, err)
		assert.Equal(t, []string{"A1", "B2"}, serials)

		none, err := f.access.ListAccessibleSerials(ctx, "user_z")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ListOwnedDevices", func(t *testing.T) {
		devices, err := f.access.ListOwnedDevices(ctx, "user_a")
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "A1", devices[0].Serial)
		assert.Equal(t, &linked, devices[0].LinkedAt)
	})

	t.Run("storage failure", func(t *testing.T) {
		f.shares.err = errors.New("boom")
		defer func() { f.shares.err = nil }()

		_, err := f.access.Resolve(ctx, "user_c", "A1")
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeDatabase))
	})
}
