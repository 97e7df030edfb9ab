package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/careaccess/go-core/pkg/types"
)

// MemoryRepository is a concurrency-safe in-memory Repository used in tests
// and single-node deployments.
type MemoryRepository struct {
	mu sync.RWMutex

	roles       map[string]*types.Role
	sets        map[string]*types.PermissionSet
	permissions map[string]types.Permission

	grants       map[string]*types.UserRoleGrant
	grantsBySubj map[string][]string

	delegations map[string]*types.Delegation
	delegsTo    map[string][]string

	overrides map[string]*types.EmergencyOverride
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		roles:        make(map[string]*types.Role),
		sets:         make(map[string]*types.PermissionSet),
		permissions:  make(map[string]types.Permission),
		grants:       make(map[string]*types.UserRoleGrant),
		grantsBySubj: make(map[string][]string),
		delegations:  make(map[string]*types.Delegation),
		delegsTo:     make(map[string][]string),
		overrides:    make(map[string]*types.EmergencyOverride),
	}
}

// FetchActiveRoleGrants returns grants for the subject that are active and
// inside their validity window now. Schedule filtering happens in the engine.
func (r *MemoryRepository) FetchActiveRoleGrants(ctx context.Context, subject string) ([]*types.UserRoleGrant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var result []*types.UserRoleGrant
	for _, id := range r.grantsBySubj[subject] {
		g, ok := r.grants[id]
		if !ok {
			continue
		}
		if g.State != types.GrantStateActive {
			continue
		}
		if now.Before(g.StartsAt) {
			continue
		}
		if g.EndsAt != nil && !now.Before(*g.EndsAt) {
			continue
		}
		cp := *g
		result = append(result, &cp)
	}
	return result, nil
}

// FetchActiveDelegations returns delegations targeting the subject that are
// active and inside their validity window now.
func (r *MemoryRepository) FetchActiveDelegations(ctx context.Context, subject string) ([]*types.Delegation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var result []*types.Delegation
	for _, id := range r.delegsTo[subject] {
		d, ok := r.delegations[id]
		if !ok {
			continue
		}
		if !d.EffectiveAt(now) {
			continue
		}
		cp := *d
		result = append(result, &cp)
	}
	return result, nil
}

// FetchActiveEmergencyOverride returns the override currently in force for
// the subject, or (nil, nil) when there is none.
func (r *MemoryRepository) FetchActiveEmergencyOverride(ctx context.Context, subject string) (*types.EmergencyOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	for _, o := range r.overrides {
		if o.AffectedSubject == subject && o.ActiveAt(now) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

// FetchSubjectsForPermissionSet returns subjects whose effective access
// includes the permission set, directly or through a role grant. Used for
// bulk cache invalidation on policy edits.
func (r *MemoryRepository) FetchSubjectsForPermissionSet(ctx context.Context, setID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rolesWithSet := make(map[string]bool)
	for id, role := range r.roles {
		for _, sid := range role.PermissionSetIDs {
			if sid == setID {
				rolesWithSet[id] = true
				break
			}
		}
	}

	seen := make(map[string]bool)
	var subjects []string
	for _, g := range r.grants {
		if rolesWithSet[g.RoleID] && !seen[g.Subject] {
			seen[g.Subject] = true
			subjects = append(subjects, g.Subject)
		}
	}
	for _, d := range r.delegations {
		if rolesWithSet[d.RoleID] && !seen[d.ToSubject] {
			seen[d.ToSubject] = true
			subjects = append(subjects, d.ToSubject)
		}
	}
	return subjects, nil
}

// GetRole retrieves a role definition by ID
func (r *MemoryRepository) GetRole(ctx context.Context, id string) (*types.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.roles[id]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	cp := *role
	return &cp, nil
}

// GetPermissionSet retrieves a permission set by ID
func (r *MemoryRepository) GetPermissionSet(ctx context.Context, id string) (*types.PermissionSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sets[id]
	if !ok {
		return nil, fmt.Errorf("permission set %s: %w", id, ErrNotFound)
	}
	cp := *set
	return &cp, nil
}

// GetPermissionsByIDs resolves permission IDs to definitions, skipping
// unknown IDs.
func (r *MemoryRepository) GetPermissionsByIDs(ctx context.Context, ids []string) ([]types.Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]types.Permission, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.permissions[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

// CreateGrant stores a new role grant
func (r *MemoryRepository) CreateGrant(ctx context.Context, grant *types.UserRoleGrant) error {
	if err := grant.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.grants[grant.ID]; exists {
		return fmt.Errorf("grant %s: %w", grant.ID, ErrAlreadyExists)
	}
	cp := *grant
	r.grants[grant.ID] = &cp
	r.grantsBySubj[grant.Subject] = append(r.grantsBySubj[grant.Subject], grant.ID)
	return nil
}

// UpdateGrant replaces an existing grant
func (r *MemoryRepository) UpdateGrant(ctx context.Context, grant *types.UserRoleGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.grants[grant.ID]; !exists {
		return fmt.Errorf("grant %s: %w", grant.ID, ErrNotFound)
	}
	cp := *grant
	r.grants[grant.ID] = &cp
	return nil
}

// CreateDelegation stores a new delegation
func (r *MemoryRepository) CreateDelegation(ctx context.Context, d *types.Delegation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.delegations[d.ID]; exists {
		return fmt.Errorf("delegation %s: %w", d.ID, ErrAlreadyExists)
	}
	cp := *d
	r.delegations[d.ID] = &cp
	r.delegsTo[d.ToSubject] = append(r.delegsTo[d.ToSubject], d.ID)
	return nil
}

// UpdateDelegation replaces an existing delegation
func (r *MemoryRepository) UpdateDelegation(ctx context.Context, d *types.Delegation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.delegations[d.ID]; !exists {
		return fmt.Errorf("delegation %s: %w", d.ID, ErrNotFound)
	}
	cp := *d
	r.delegations[d.ID] = &cp
	return nil
}

// GetDelegation retrieves a delegation by ID
func (r *MemoryRepository) GetDelegation(ctx context.Context, id string) (*types.Delegation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.delegations[id]
	if !ok {
		return nil, fmt.Errorf("delegation %s: %w", id, ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

// ListDelegations returns all delegations
func (r *MemoryRepository) ListDelegations(ctx context.Context) ([]*types.Delegation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*types.Delegation, 0, len(r.delegations))
	for _, d := range r.delegations {
		cp := *d
		result = append(result, &cp)
	}
	return result, nil
}

// CreateOverride stores a new emergency override
func (r *MemoryRepository) CreateOverride(ctx context.Context, o *types.EmergencyOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.overrides[o.ID]; exists {
		return fmt.Errorf("override %s: %w", o.ID, ErrAlreadyExists)
	}
	cp := *o
	r.overrides[o.ID] = &cp
	return nil
}

// UpdateOverride replaces an existing override. Deactivated overrides are
// immutable audit records.
func (r *MemoryRepository) UpdateOverride(ctx context.Context, o *types.EmergencyOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.overrides[o.ID]
	if !ok {
		return fmt.Errorf("override %s: %w", o.ID, ErrNotFound)
	}
	if existing.DeactivatedAt != nil {
		return fmt.Errorf("override %s is deactivated and immutable", o.ID)
	}
	cp := *o
	r.overrides[o.ID] = &cp
	return nil
}

// GetOverride retrieves an override by ID
func (r *MemoryRepository) GetOverride(ctx context.Context, id string) (*types.EmergencyOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.overrides[id]
	if !ok {
		return nil, fmt.Errorf("override %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

// ListOverrides returns all overrides
func (r *MemoryRepository) ListOverrides(ctx context.Context) ([]*types.EmergencyOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*types.EmergencyOverride, 0, len(r.overrides))
	for _, o := range r.overrides {
		cp := *o
		result = append(result, &cp)
	}
	return result, nil
}

// PutRole stores or replaces a role definition
func (r *MemoryRepository) PutRole(ctx context.Context, role *types.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *role
	r.roles[role.ID] = &cp
	return nil
}

// PutPermissionSet stores or replaces a permission set
func (r *MemoryRepository) PutPermissionSet(ctx context.Context, set *types.PermissionSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *set
	r.sets[set.ID] = &cp
	for _, p := range set.Permissions {
		if p.ID != "" {
			r.permissions[p.ID] = p
		}
	}
	return nil
}

// PutPermission registers a standalone permission definition
func (r *MemoryRepository) PutPermission(ctx context.Context, perm types.Permission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.permissions[perm.ID] = perm
	return nil
}

// Ping always succeeds for the in-memory repository
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}
