// Package repository provides persistence for roles, permission sets, grants,
// delegations, and emergency overrides, and the lookup queries the
// authorization engine consumes.
package repository

import (
	"context"
	"errors"

	"github.com/careaccess/go-core/pkg/types"
)

var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyExists indicates a duplicate create
	ErrAlreadyExists = errors.New("repository: already exists")
)

// Repository is the queryable permission store. Anticipated absence of data
// is reported as empty results or ErrNotFound, never as an engine fault;
// FetchActiveEmergencyOverride returns (nil, nil) when no override is in
// force.
type Repository interface {
	// Engine read path
	FetchActiveRoleGrants(ctx context.Context, subject string) ([]*types.UserRoleGrant, error)
	FetchActiveDelegations(ctx context.Context, subject string) ([]*types.Delegation, error)
	FetchActiveEmergencyOverride(ctx context.Context, subject string) (*types.EmergencyOverride, error)
	FetchSubjectsForPermissionSet(ctx context.Context, setID string) ([]string, error)

	// Definition lookups
	GetRole(ctx context.Context, id string) (*types.Role, error)
	GetPermissionSet(ctx context.Context, id string) (*types.PermissionSet, error)
	GetPermissionsByIDs(ctx context.Context, ids []string) ([]types.Permission, error)

	// Grant lifecycle
	CreateGrant(ctx context.Context, grant *types.UserRoleGrant) error
	UpdateGrant(ctx context.Context, grant *types.UserRoleGrant) error

	// Delegation lifecycle
	CreateDelegation(ctx context.Context, d *types.Delegation) error
	UpdateDelegation(ctx context.Context, d *types.Delegation) error
	GetDelegation(ctx context.Context, id string) (*types.Delegation, error)
	ListDelegations(ctx context.Context) ([]*types.Delegation, error)

	// Emergency override lifecycle
	CreateOverride(ctx context.Context, o *types.EmergencyOverride) error
	UpdateOverride(ctx context.Context, o *types.EmergencyOverride) error
	GetOverride(ctx context.Context, id string) (*types.EmergencyOverride, error)
	ListOverrides(ctx context.Context) ([]*types.EmergencyOverride, error)

	// Definition management
	PutRole(ctx context.Context, role *types.Role) error
	PutPermissionSet(ctx context.Context, set *types.PermissionSet) error
	PutPermission(ctx context.Context, perm types.Permission) error

	// Ping verifies connectivity for health reporting
	Ping(ctx context.Context) error
}
