package types

import (
	"errors"
	"fmt"
	"time"
)

// GrantState represents the lifecycle state of a role grant.
// Transitions are forward-only: pending_approval -> active -> expired|revoked.
type GrantState string

const (
	GrantStatePendingApproval GrantState = "pending_approval"
	GrantStateActive          GrantState = "active"
	GrantStateExpired         GrantState = "expired"
	GrantStateRevoked         GrantState = "revoked"
)

// RecurringSchedule narrows a grant's effective hours to a weekly window.
// StartTime and EndTime are "HH:MM" in the schedule's timezone.
type RecurringSchedule struct {
	DaysOfWeek []time.Weekday `json:"daysOfWeek"`
	StartTime  string         `json:"startTime"`
	EndTime    string         `json:"endTime"`
	Timezone   string         `json:"timezone"`
}

// Contains reports whether t falls inside the schedule window.
// An unparseable timezone or time bound makes the schedule non-matching
// rather than wide open.
func (s *RecurringSchedule) Contains(t time.Time) bool {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return false
	}
	local := t.In(loc)

	dayOK := false
	for _, d := range s.DaysOfWeek {
		if local.Weekday() == d {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}

	start, err := parseClock(s.StartTime)
	if err != nil {
		return false
	}
	end, err := parseClock(s.EndTime)
	if err != nil {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= start && minute < end
}

func parseClock(v string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value out of range: %s", v)
	}
	return h*60 + m, nil
}

// UserRoleGrant assigns a role to a subject for a validity window
type UserRoleGrant struct {
	ID        string             `json:"id"`
	Subject   string             `json:"subject"`
	RoleID    string             `json:"roleId"`
	GrantedBy string             `json:"grantedBy"`
	StartsAt  time.Time          `json:"startsAt"`
	EndsAt    *time.Time         `json:"endsAt,omitempty"`
	State     GrantState         `json:"state"`
	Scopes    []string           `json:"scopes,omitempty"`
	Schedule  *RecurringSchedule `json:"schedule,omitempty"`
}

// Validate checks structural invariants of the grant
func (g *UserRoleGrant) Validate() error {
	if g.Subject == "" {
		return errors.New("grant subject required")
	}
	if g.RoleID == "" {
		return errors.New("grant role ID required")
	}
	if g.EndsAt != nil && !g.EndsAt.After(g.StartsAt) {
		return fmt.Errorf("grant end time %v must be after start time %v", g.EndsAt, g.StartsAt)
	}
	return nil
}

// EffectiveAt reports whether the grant is usable at t: active state, inside
// the validity window, and inside the recurring schedule when one is set.
func (g *UserRoleGrant) EffectiveAt(t time.Time) bool {
	if g.State != GrantStateActive {
		return false
	}
	if t.Before(g.StartsAt) {
		return false
	}
	if g.EndsAt != nil && !t.Before(*g.EndsAt) {
		return false
	}
	if g.Schedule != nil && !g.Schedule.Contains(t) {
		return false
	}
	return true
}
