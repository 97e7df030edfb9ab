package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionMatches(t *testing.T) {
	tests := []struct {
		name   string
		perm   Permission
		action string
		class  string
		want   bool
	}{
		{"exact match", Permission{Action: "read", Resource: "schedule"}, "read", "schedule", true},
		{"action wildcard", Permission{Action: "*", Resource: "schedule"}, "delete", "schedule", true},
		{"resource wildcard", Permission{Action: "read", Resource: "*"}, "read", "document", true},
		{"full wildcard", Permission{Action: "*", Resource: "*"}, "admin", "anything", true},
		{"action mismatch", Permission{Action: "read", Resource: "schedule"}, "write", "schedule", false},
		{"resource mismatch", Permission{Action: "read", Resource: "schedule"}, "read", "document", false},
		{"case insensitive", Permission{Action: "Read", Resource: "Schedule"}, "read", "schedule", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.perm.Matches(tt.action, tt.class))
		})
	}
}

func TestGrantValidate(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	tests := []struct {
		name    string
		grant   UserRoleGrant
		wantErr bool
	}{
		{
			name:  "open ended grant",
			grant: UserRoleGrant{Subject: "alice", RoleID: "caregiver", StartsAt: now},
		},
		{
			name:    "end before start",
			grant:   UserRoleGrant{Subject: "alice", RoleID: "caregiver", StartsAt: now, EndsAt: &past},
			wantErr: true,
		},
		{
			name:    "missing subject",
			grant:   UserRoleGrant{RoleID: "caregiver", StartsAt: now},
			wantErr: true,
		},
		{
			name:    "missing role",
			grant:   UserRoleGrant{Subject: "alice", StartsAt: now},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.grant.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGrantEffectiveAt(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) // a Wednesday
	end := now.Add(24 * time.Hour)

	base := UserRoleGrant{
		Subject:  "alice",
		RoleID:   "caregiver",
		State:    GrantStateActive,
		StartsAt: now.Add(-time.Hour),
		EndsAt:   &end,
	}

	t.Run("active inside window", func(t *testing.T) {
		assert.True(t, base.EffectiveAt(now))
	})

	t.Run("pending grant never effective", func(t *testing.T) {
		g := base
		g.State = GrantStatePendingApproval
		assert.False(t, g.EffectiveAt(now))
	})

	t.Run("before window", func(t *testing.T) {
		assert.False(t, base.EffectiveAt(now.Add(-2*time.Hour)))
	})

	t.Run("at end of window", func(t *testing.T) {
		assert.False(t, base.EffectiveAt(end))
	})

	t.Run("schedule filters hours", func(t *testing.T) {
		g := base
		g.Schedule = &RecurringSchedule{
			DaysOfWeek: []time.Weekday{time.Wednesday},
			StartTime:  "09:00",
			EndTime:    "17:00",
			Timezone:   "UTC",
		}
		assert.True(t, g.EffectiveAt(now))

		// Same day, outside hours
		assert.False(t, g.EffectiveAt(time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC)))
	})

	t.Run("schedule filters days", func(t *testing.T) {
		g := base
		g.Schedule = &RecurringSchedule{
			DaysOfWeek: []time.Weekday{time.Monday},
			StartTime:  "00:00",
			EndTime:    "23:59",
			Timezone:   "UTC",
		}
		assert.False(t, g.EffectiveAt(now))
	})

	t.Run("bad timezone is non-matching", func(t *testing.T) {
		g := base
		g.Schedule = &RecurringSchedule{
			DaysOfWeek: []time.Weekday{time.Wednesday},
			StartTime:  "00:00",
			EndTime:    "23:59",
			Timezone:   "Not/AZone",
		}
		assert.False(t, g.EffectiveAt(now))
	})
}

func TestDelegationValidate(t *testing.T) {
	now := time.Now()

	valid := Delegation{
		FromSubject: "alice",
		ToSubject:   "bob",
		RoleID:      "caregiver",
		StartsAt:    now,
		EndsAt:      now.Add(time.Hour),
	}
	require.NoError(t, valid.Validate())

	t.Run("self delegation rejected", func(t *testing.T) {
		d := valid
		d.ToSubject = d.FromSubject
		err := d.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "self-delegation")
	})

	t.Run("inverted window rejected", func(t *testing.T) {
		d := valid
		d.EndsAt = d.StartsAt.Add(-time.Minute)
		assert.Error(t, d.Validate())
	})
}

func TestDelegationEffectiveAt(t *testing.T) {
	now := time.Now()
	d := Delegation{
		FromSubject: "alice",
		ToSubject:   "bob",
		RoleID:      "caregiver",
		State:       DelegationStateActive,
		StartsAt:    now.Add(-time.Hour),
		EndsAt:      now.Add(time.Hour),
	}

	assert.True(t, d.EffectiveAt(now))

	d.State = DelegationStatePending
	assert.False(t, d.EffectiveAt(now))

	d.State = DelegationStateActive
	assert.False(t, d.EffectiveAt(now.Add(2*time.Hour)), "expired window")
	assert.False(t, d.EffectiveAt(now.Add(-2*time.Hour)), "before window")
}

func TestOverrideActiveAt(t *testing.T) {
	now := time.Now()
	o := EmergencyOverride{
		ID:                   "ov-1",
		TriggeredBy:          "admin",
		AffectedSubject:      "bob",
		Reason:               ReasonMedicalEmergency,
		GrantedPermissionIDs: []string{"perm-1"},
		ActivatedAt:          now.Add(-time.Minute),
		ExpiresAt:            now.Add(time.Minute),
	}

	assert.True(t, o.ActiveAt(now))

	t.Run("past expiry never active even without deactivation", func(t *testing.T) {
		assert.False(t, o.ActiveAt(now.Add(2*time.Minute)))
	})

	t.Run("deactivated", func(t *testing.T) {
		d := o
		deact := now
		d.DeactivatedAt = &deact
		assert.False(t, d.ActiveAt(now))
	})

	t.Run("only enumerated permissions granted", func(t *testing.T) {
		assert.True(t, o.GrantsPermission("perm-1"))
		assert.False(t, o.GrantsPermission("perm-2"))
		assert.False(t, o.GrantsPermission("*"))
	})
}

func TestCachedDecisionFresh(t *testing.T) {
	now := time.Now()
	entry := CachedDecision{
		Decision: &Decision{Allowed: true, Reason: ReasonDirectRoleAllow},
		StoredAt: now,
		TTL:      time.Minute,
		Epoch:    3,
	}

	assert.True(t, entry.Fresh(now.Add(30*time.Second), 3))
	assert.False(t, entry.Fresh(now.Add(2*time.Minute), 3), "age past TTL")
	assert.False(t, entry.Fresh(now.Add(time.Second), 4), "epoch mismatch beats unexpired TTL")
}
