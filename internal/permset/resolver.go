// Package permset expands permission sets, following parent inheritance
// cycle-safely.
package permset

import (
	"context"
	"fmt"

	"github.com/careaccess/go-core/pkg/types"
)

// SetSource looks up permission set definitions
type SetSource interface {
	GetPermissionSet(ctx context.Context, id string) (*types.PermissionSet, error)
}

// Resolver expands permission sets into flat permission lists
type Resolver struct {
	source SetSource
}

// NewResolver creates a resolver over the given set source
func NewResolver(source SetSource) *Resolver {
	return &Resolver{source: source}
}

// Expand resolves the given set IDs and their parent chains into a flat
// permission list. A visited-id set guarantees no set is ever revisited, so
// self-referential or circular parent chains terminate and contribute each
// permission at most once. Unknown set IDs are skipped.
func (r *Resolver) Expand(ctx context.Context, setIDs []string) ([]types.Permission, error) {
	visited := make(map[string]bool)
	seen := make(map[string]bool)
	var out []types.Permission

	for _, id := range setIDs {
		if err := r.expand(ctx, id, visited, seen, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Resolver) expand(ctx context.Context, setID string, visited, seen map[string]bool, out *[]types.Permission) error {
	if setID == "" || visited[setID] {
		return nil
	}
	visited[setID] = true

	set, err := r.source.GetPermissionSet(ctx, setID)
	if err != nil {
		// Missing definitions narrow the expansion instead of failing it
		return nil
	}

	for _, p := range set.Permissions {
		key := permissionKey(p)
		if seen[key] {
			continue
		}
		seen[key] = true
		*out = append(*out, p)
	}

	return r.expand(ctx, set.ParentID, visited, seen, out)
}

func permissionKey(p types.Permission) string {
	if p.ID != "" {
		return p.ID
	}
	return fmt.Sprintf("%s|%s|%s|%s", p.Resource, p.Action, p.Effect, p.Scope)
}
