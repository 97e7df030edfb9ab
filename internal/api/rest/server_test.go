package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careaccess/go-core/internal/audit"
	"github.com/careaccess/go-core/internal/cache"
	"github.com/careaccess/go-core/internal/delegation"
	"github.com/careaccess/go-core/internal/engine"
	"github.com/careaccess/go-core/internal/notify"
	"github.com/careaccess/go-core/internal/override"
	"github.com/careaccess/go-core/internal/ratelimit"
	"github.com/careaccess/go-core/internal/repository"
	"github.com/careaccess/go-core/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *repository.MemoryRepository) {
	t.Helper()

	repo := repository.NewMemoryRepository()

	decisionCache, err := cache.NewDecisionCache(&cache.Config{
		Capacity:    100,
		TTL:         time.Minute,
		TouchOnRead: true,
	}, nil, nil)
	require.NoError(t, err)

	limiter, err := ratelimit.NewLimiter(ratelimit.DefaultConfig(), nil, ratelimit.NewLocalStore(), nil)
	require.NoError(t, err)

	auditor, err := audit.NewLogger(&audit.Config{Enabled: false})
	require.NoError(t, err)

	dispatcher := notify.NewDispatcher(nil)
	dispatcher.Start()
	t.Cleanup(dispatcher.Stop)

	eng := engine.New(engine.DefaultConfig(), repo, decisionCache, limiter, auditor, nil, nil)

	isAdmin := func(ctx context.Context, subject string) bool { return subject == "admin-1" }
	delegations := delegation.NewManager(repo, auditor, dispatcher, isAdmin, nil)
	overrides := override.NewManager(repo, nil, auditor, dispatcher, nil)

	srv, err := New(DefaultConfig(), eng, delegations, overrides, nil, nil)
	require.NoError(t, err)
	return srv, repo
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func seedSubjectAccess(t *testing.T, repo *repository.MemoryRepository, subject, roleID string, perms ...types.Permission) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, repo.PutPermissionSet(ctx, &types.PermissionSet{
		ID:          roleID + "-set",
		Permissions: perms,
	}))
	require.NoError(t, repo.PutRole(ctx, &types.Role{
		ID:               roleID,
		Name:             roleID,
		Type:             types.RoleTypeCaregiver,
		State:            types.RoleStateActive,
		PermissionSetIDs: []string{roleID + "-set"},
		Priority:         50,
	}))
	ends := time.Now().Add(time.Hour)
	require.NoError(t, repo.CreateGrant(ctx, &types.UserRoleGrant{
		ID:        roleID + "-grant-" + subject,
		Subject:   subject,
		RoleID:    roleID,
		GrantedBy: "admin-1",
		StartsAt:  time.Now().Add(-time.Hour),
		EndsAt:    &ends,
		State:     types.GrantStateActive,
	}))
}

func TestAuthorizeEndpoint(t *testing.T) {
	srv, repo := newTestServer(t)
	seedSubjectAccess(t, repo, "alice", "caregiver",
		types.Permission{ID: "p1", Resource: "schedule", Action: "schedule.read", Effect: types.EffectAllow})

	rec := doJSON(t, srv, http.MethodPost, "/v1/authorize", AuthorizeRequest{
		Subject: "alice", Action: "schedule.read", ResourceID: "sch-1", ResourceClass: "schedule",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthorizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Allowed)
	assert.Equal(t, "DIRECT_ROLE_ALLOW", resp.Reason)

	// A denial is still a 200 with the decision body
	rec = doJSON(t, srv, http.MethodPost, "/v1/authorize", AuthorizeRequest{
		Subject: "alice", Action: "document.delete", ResourceID: "doc-1", ResourceClass: "document",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Allowed)
	assert.Equal(t, "NO_PERMISSION", resp.Reason)
}

func TestAuthorizeEndpoint_BadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/authorize", map[string]string{"subject": "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchAuthorizeEndpoint(t *testing.T) {
	srv, repo := newTestServer(t)
	seedSubjectAccess(t, repo, "alice", "caregiver",
		types.Permission{ID: "p1", Resource: "schedule", Action: "schedule.read", Effect: types.EffectAllow})

	rec := doJSON(t, srv, http.MethodPost, "/v1/authorize/batch", BatchAuthorizeRequest{
		Subject: "alice",
		Checks: []BatchAuthorizeCheck{
			{Action: "schedule.read", ResourceID: "sch-1", ResourceClass: "schedule"},
			{Action: "document.delete", ResourceID: "doc-1", ResourceClass: "document"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BatchAuthorizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].Allowed)
	assert.False(t, resp.Results[1].Allowed)
}

func TestDelegationLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/delegations", DelegationRequest{
		FromSubject: "bob",
		ToSubject:   "alice",
		RoleID:      "caregiver",
		EndsAt:      time.Now().Add(2 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var d types.Delegation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	require.NotEmpty(t, d.ID)
	assert.Equal(t, types.DelegationStatePending, d.State)

	rec = doJSON(t, srv, http.MethodPost, "/v1/delegations/"+d.ID+"/approve", ApproveRequest{Approver: "admin-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, types.DelegationStateActive, d.State)

	rec = doJSON(t, srv, http.MethodPost, "/v1/delegations/"+d.ID+"/revoke", RevokeRequest{Actor: "bob", Reason: "trip over"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, types.DelegationStateRevoked, d.State)
}

func TestDelegation_EmergencyAutoApproves(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/delegations", DelegationRequest{
		FromSubject: "bob",
		ToSubject:   "alice",
		RoleID:      "caregiver",
		EndsAt:      time.Now().Add(time.Hour),
		Priority:    "emergency",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var d types.Delegation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, types.DelegationStateActive, d.State)
	assert.Equal(t, types.SystemIdentity, d.ApprovedBy)
}

func TestDelegationRevoke_Forbidden(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/delegations", DelegationRequest{
		FromSubject: "bob",
		ToSubject:   "alice",
		RoleID:      "caregiver",
		EndsAt:      time.Now().Add(time.Hour),
		Priority:    "emergency",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var d types.Delegation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))

	rec = doJSON(t, srv, http.MethodPost, "/v1/delegations/"+d.ID+"/revoke", RevokeRequest{Actor: "mallory"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDelegation_SelfDelegationRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/delegations", DelegationRequest{
		FromSubject: "bob",
		ToSubject:   "bob",
		RoleID:      "caregiver",
		EndsAt:      time.Now().Add(time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOverrideLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/overrides", OverrideRequest{
		TriggeredBy:     "dr-smith",
		AffectedSubject: "alice",
		Reason:          "medical_emergency",
		PermissionIDs:   []string{"perm-medical-read"},
		DurationSeconds: 3600,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var o types.EmergencyOverride
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	require.NotEmpty(t, o.ID)
	assert.True(t, o.ActiveAt(time.Now()))

	rec = doJSON(t, srv, http.MethodPost, "/v1/overrides/"+o.ID+"/deactivate", DeactivateRequest{Actor: "dr-smith"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Ended overrides are immutable
	rec = doJSON(t, srv, http.MethodPost, "/v1/overrides/"+o.ID+"/deactivate", DeactivateRequest{Actor: "dr-smith"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOverride_UnknownReason(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/overrides", OverrideRequest{
		TriggeredBy:     "dr-smith",
		AffectedSubject: "alice",
		Reason:          "because",
		PermissionIDs:   []string{"perm-1"},
		DurationSeconds: 600,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidateCacheEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/admin/cache/invalidate", InvalidateRequest{
		Trigger: "role_revoked", ID: "alice",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/admin/cache/invalidate", InvalidateRequest{
		Trigger: "REBOOT", ID: "alice",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetLimitsEndpoint(t *testing.T) {
	srv, repo := newTestServer(t)
	seedSubjectAccess(t, repo, "root", "admin-role",
		types.Permission{ID: "admin-exec", Resource: "admin", Action: "admin.execute", Effect: types.EffectAllow})

	rec := doJSON(t, srv, http.MethodPost, "/v1/admin/ratelimit/reset", AdminResetRequest{
		Actor: "root", Subject: "alice",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/admin/ratelimit/reset", AdminResetRequest{
		Actor: "mallory", Subject: "alice",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
