package override

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careaccess/go-core/internal/audit"
	"github.com/careaccess/go-core/internal/notify"
	"github.com/careaccess/go-core/internal/repository"
	"github.com/careaccess/go-core/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *notify.Dispatcher) {
	t.Helper()

	auditor, err := audit.NewLogger(&audit.Config{Enabled: false})
	require.NoError(t, err)

	dispatcher := notify.NewDispatcher(nil)
	m := NewManager(repository.NewMemoryRepository(), &Config{MaxDuration: 4 * time.Hour}, auditor, dispatcher, nil)
	m.now = func() time.Time { return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) }
	return m, dispatcher
}

func validRequest() *ActivationRequest {
	return &ActivationRequest{
		TriggeredBy:     "dr-smith",
		AffectedSubject: "alice",
		Reason:          types.ReasonMedicalEmergency,
		PermissionIDs:   []string{"perm-medical-read"},
		Duration:        time.Hour,
		Recipients:      []string{"family-admin"},
	}
}

func TestActivate(t *testing.T) {
	m, _ := newTestManager(t)

	o, err := m.Activate(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, o.ID)
	assert.True(t, o.ActiveAt(m.now()), "overrides are created already active")
	assert.Equal(t, m.now().Add(time.Hour), o.ExpiresAt)
	assert.True(t, o.GrantsPermission("perm-medical-read"))
	assert.False(t, o.GrantsPermission("perm-other"))
}

func TestActivate_ValidationFailures(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(*ActivationRequest)
		wantErr error
	}{
		{
			"unknown reason",
			func(r *ActivationRequest) { r.Reason = "because" },
			ErrUnknownReason,
		},
		{
			"duration over ceiling",
			func(r *ActivationRequest) { r.Duration = 5 * time.Hour },
			ErrDurationTooLong,
		},
		{
			"zero duration",
			func(r *ActivationRequest) { r.Duration = 0 },
			ErrDurationTooLong,
		},
		{
			"admin override with short justification",
			func(r *ActivationRequest) {
				r.Reason = types.ReasonAdminOverride
				r.Justification = "because"
			},
			ErrJustificationTooShort,
		},
		{
			"no permissions",
			func(r *ActivationRequest) { r.PermissionIDs = nil },
			ErrNoPermissions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			_, err := m.Activate(ctx, req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestActivate_AdminOverrideWithJustification(t *testing.T) {
	m, _ := newTestManager(t)

	req := validRequest()
	req.Reason = types.ReasonAdminOverride
	req.Justification = "account recovery for incapacitated family member"

	_, err := m.Activate(context.Background(), req)
	assert.NoError(t, err)
}

func TestActivate_NotifiesRecipientsSynchronously(t *testing.T) {
	m, dispatcher := newTestManager(t)

	var notified []string
	dispatcher.Subscribe(notify.NotifyOverrideActivated, func(event notify.Event) {
		notified = event.Recipients
	})

	_, err := m.Activate(context.Background(), validRequest())
	require.NoError(t, err)

	// PublishSync means fan-out completed before Activate returned
	assert.Equal(t, []string{"family-admin"}, notified)
}

func TestDeactivate_FreezesRecord(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	o, err := m.Activate(ctx, validRequest())
	require.NoError(t, err)

	ended, err := m.Deactivate(ctx, o.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "admin-1", ended.DeactivatedBy)
	require.NotNil(t, ended.DeactivatedAt)
	assert.False(t, ended.ActiveAt(m.now()))

	_, err = m.Deactivate(ctx, o.ID, "admin-1")
	assert.ErrorIs(t, err, ErrAlreadyEnded)
}

func TestSweepExpired(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	o, err := m.Activate(ctx, validRequest())
	require.NoError(t, err)

	// Nothing to sweep while the override is in force
	swept, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	m.now = func() time.Time { return o.ExpiresAt.Add(time.Minute) }
	swept, err = m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	stored, err := m.store.GetOverride(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SystemIdentity, stored.DeactivatedBy)
	require.NotNil(t, stored.DeactivatedAt)
	assert.Equal(t, o.ExpiresAt, *stored.DeactivatedAt)
}
