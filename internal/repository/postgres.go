package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/careaccess/go-core/pkg/types"
)

// PostgresRepository implements Repository on PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a PostgreSQL-backed repository
func NewPostgresRepository(db *sql.DB) (*PostgresRepository, error) {
	if db == nil {
		return nil, errors.New("database connection is nil")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

// FetchActiveRoleGrants returns grants active and window-valid now
func (s *PostgresRepository) FetchActiveRoleGrants(ctx context.Context, subject string) ([]*types.UserRoleGrant, error) {
	query := `
		SELECT id, subject, role_id, granted_by, starts_at, ends_at, state, scopes, schedule
		FROM role_grants
		WHERE subject = $1
		  AND state = 'active'
		  AND starts_at <= now()
		  AND (ends_at IS NULL OR ends_at > now())
	`
	rows, err := s.db.QueryContext(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("query role grants: %w", err)
	}
	defer rows.Close()

	var grants []*types.UserRoleGrant
	for rows.Next() {
		var (
			g            types.UserRoleGrant
			endsAt       sql.NullTime
			scheduleJSON []byte
		)
		if err := rows.Scan(&g.ID, &g.Subject, &g.RoleID, &g.GrantedBy, &g.StartsAt,
			&endsAt, &g.State, pq.Array(&g.Scopes), &scheduleJSON); err != nil {
			return nil, fmt.Errorf("scan role grant: %w", err)
		}
		if endsAt.Valid {
			t := endsAt.Time
			g.EndsAt = &t
		}
		if len(scheduleJSON) > 0 {
			var sched types.RecurringSchedule
			if err := json.Unmarshal(scheduleJSON, &sched); err != nil {
				return nil, fmt.Errorf("unmarshal schedule for grant %s: %w", g.ID, err)
			}
			g.Schedule = &sched
		}
		grants = append(grants, &g)
	}
	return grants, rows.Err()
}

// FetchActiveDelegations returns delegations targeting the subject that are
// active and window-valid now
func (s *PostgresRepository) FetchActiveDelegations(ctx context.Context, subject string) ([]*types.Delegation, error) {
	query := `
		SELECT id, from_subject, to_subject, role_id, starts_at, ends_at, state, priority,
		       approved_by, approved_at, permission_subset, scopes,
		       revoked_by, revoked_at, revocation_reason
		FROM delegations
		WHERE to_subject = $1
		  AND state = 'active'
		  AND starts_at <= now()
		  AND ends_at > now()
	`
	rows, err := s.db.QueryContext(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("query delegations: %w", err)
	}
	defer rows.Close()

	var delegations []*types.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		delegations = append(delegations, d)
	}
	return delegations, rows.Err()
}

// FetchActiveEmergencyOverride returns the override in force for the subject,
// or (nil, nil) when there is none
func (s *PostgresRepository) FetchActiveEmergencyOverride(ctx context.Context, subject string) (*types.EmergencyOverride, error) {
	query := `
		SELECT id, triggered_by, affected_subject, reason, justification,
		       granted_permission_ids, notified_subjects,
		       activated_at, expires_at, deactivated_at, deactivated_by
		FROM emergency_overrides
		WHERE affected_subject = $1
		  AND deactivated_at IS NULL
		  AND activated_at <= now()
		  AND expires_at > now()
		ORDER BY activated_at DESC
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, query, subject)
	o, err := scanOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// FetchSubjectsForPermissionSet returns subjects with a grant or delegation
// on any role carrying the permission set
func (s *PostgresRepository) FetchSubjectsForPermissionSet(ctx context.Context, setID string) ([]string, error) {
	query := `
		SELECT DISTINCT subject FROM (
			SELECT g.subject
			FROM role_grants g
			JOIN roles r ON r.id = g.role_id
			WHERE $1 = ANY(r.permission_set_ids)
			UNION
			SELECT d.to_subject AS subject
			FROM delegations d
			JOIN roles r ON r.id = d.role_id
			WHERE $1 = ANY(r.permission_set_ids)
		) s
	`
	rows, err := s.db.QueryContext(ctx, query, setID)
	if err != nil {
		return nil, fmt.Errorf("query subjects for permission set: %w", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, subject)
	}
	return subjects, rows.Err()
}

// GetRole retrieves a role definition
func (s *PostgresRepository) GetRole(ctx context.Context, id string) (*types.Role, error) {
	query := `
		SELECT id, name, type, state, permission_set_ids, priority, tags
		FROM roles WHERE id = $1
	`
	var role types.Role
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&role.ID, &role.Name, &role.Type, &role.State,
		pq.Array(&role.PermissionSetIDs), &role.Priority, pq.Array(&role.Tags),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query role: %w", err)
	}
	return &role, nil
}

// GetPermissionSet retrieves a permission set
func (s *PostgresRepository) GetPermissionSet(ctx context.Context, id string) (*types.PermissionSet, error) {
	query := `SELECT id, name, parent_id, permissions FROM permission_sets WHERE id = $1`

	var (
		set       types.PermissionSet
		parentID  sql.NullString
		permsJSON []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&set.ID, &set.Name, &parentID, &permsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("permission set %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query permission set: %w", err)
	}
	if parentID.Valid {
		set.ParentID = parentID.String
	}
	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, &set.Permissions); err != nil {
			return nil, fmt.Errorf("unmarshal permissions for set %s: %w", id, err)
		}
	}
	return &set, nil
}

// GetPermissionsByIDs resolves permission IDs, skipping unknown IDs
func (s *PostgresRepository) GetPermissionsByIDs(ctx context.Context, ids []string) ([]types.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, resource, action, effect, scope FROM permissions WHERE id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	var perms []types.Permission
	for rows.Next() {
		var (
			p     types.Permission
			scope sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &p.Effect, &scope); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		if scope.Valid {
			p.Scope = scope.String
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CreateGrant inserts a role grant
func (s *PostgresRepository) CreateGrant(ctx context.Context, grant *types.UserRoleGrant) error {
	if err := grant.Validate(); err != nil {
		return err
	}
	scheduleJSON, err := marshalNullable(grant.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	query := `
		INSERT INTO role_grants (id, subject, role_id, granted_by, starts_at, ends_at, state, scopes, schedule)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		grant.ID, grant.Subject, grant.RoleID, grant.GrantedBy,
		grant.StartsAt, nullableTime(grant.EndsAt), grant.State,
		pq.Array(grant.Scopes), scheduleJSON,
	)
	if isDuplicateKeyError(err) {
		return fmt.Errorf("grant %s: %w", grant.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

// UpdateGrant replaces a grant's mutable fields
func (s *PostgresRepository) UpdateGrant(ctx context.Context, grant *types.UserRoleGrant) error {
	query := `
		UPDATE role_grants
		SET state = $2, ends_at = $3, scopes = $4
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		grant.ID, grant.State, nullableTime(grant.EndsAt), pq.Array(grant.Scopes))
	if err != nil {
		return fmt.Errorf("update grant: %w", err)
	}
	return requireRow(res, fmt.Sprintf("grant %s", grant.ID))
}

// CreateDelegation inserts a delegation
func (s *PostgresRepository) CreateDelegation(ctx context.Context, d *types.Delegation) error {
	subsetJSON, err := marshalNullable(d.PermissionSubset)
	if err != nil {
		return fmt.Errorf("marshal permission subset: %w", err)
	}
	query := `
		INSERT INTO delegations (id, from_subject, to_subject, role_id, starts_at, ends_at,
			state, priority, approved_by, approved_at, permission_subset, scopes,
			revoked_by, revoked_at, revocation_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.db.ExecContext(ctx, query,
		d.ID, d.FromSubject, d.ToSubject, d.RoleID, d.StartsAt, d.EndsAt,
		d.State, d.Priority, nullableString(d.ApprovedBy), nullableTime(d.ApprovedAt),
		subsetJSON, pq.Array(d.Scopes),
		nullableString(d.RevokedBy), nullableTime(d.RevokedAt), nullableString(d.RevocationReason),
	)
	if isDuplicateKeyError(err) {
		return fmt.Errorf("delegation %s: %w", d.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert delegation: %w", err)
	}
	return nil
}

// UpdateDelegation replaces a delegation's mutable fields
func (s *PostgresRepository) UpdateDelegation(ctx context.Context, d *types.Delegation) error {
	query := `
		UPDATE delegations
		SET state = $2, approved_by = $3, approved_at = $4,
		    revoked_by = $5, revoked_at = $6, revocation_reason = $7
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		d.ID, d.State, nullableString(d.ApprovedBy), nullableTime(d.ApprovedAt),
		nullableString(d.RevokedBy), nullableTime(d.RevokedAt), nullableString(d.RevocationReason))
	if err != nil {
		return fmt.Errorf("update delegation: %w", err)
	}
	return requireRow(res, fmt.Sprintf("delegation %s", d.ID))
}

// GetDelegation retrieves a delegation by ID
func (s *PostgresRepository) GetDelegation(ctx context.Context, id string) (*types.Delegation, error) {
	query := `
		SELECT id, from_subject, to_subject, role_id, starts_at, ends_at, state, priority,
		       approved_by, approved_at, permission_subset, scopes,
		       revoked_by, revoked_at, revocation_reason
		FROM delegations WHERE id = $1
	`
	d, err := scanDelegation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("delegation %s: %w", id, ErrNotFound)
	}
	return d, err
}

// ListDelegations returns all delegations
func (s *PostgresRepository) ListDelegations(ctx context.Context) ([]*types.Delegation, error) {
	query := `
		SELECT id, from_subject, to_subject, role_id, starts_at, ends_at, state, priority,
		       approved_by, approved_at, permission_subset, scopes,
		       revoked_by, revoked_at, revocation_reason
		FROM delegations
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query delegations: %w", err)
	}
	defer rows.Close()

	var delegations []*types.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		delegations = append(delegations, d)
	}
	return delegations, rows.Err()
}

// CreateOverride inserts an emergency override
func (s *PostgresRepository) CreateOverride(ctx context.Context, o *types.EmergencyOverride) error {
	query := `
		INSERT INTO emergency_overrides (id, triggered_by, affected_subject, reason, justification,
			granted_permission_ids, notified_subjects, activated_at, expires_at,
			deactivated_at, deactivated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.TriggeredBy, o.AffectedSubject, o.Reason, nullableString(o.Justification),
		pq.Array(o.GrantedPermissionIDs), pq.Array(o.NotifiedSubjects),
		o.ActivatedAt, o.ExpiresAt, nullableTime(o.DeactivatedAt), nullableString(o.DeactivatedBy),
	)
	if isDuplicateKeyError(err) {
		return fmt.Errorf("override %s: %w", o.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert override: %w", err)
	}
	return nil
}

// UpdateOverride stamps deactivation on an override that is not yet frozen
func (s *PostgresRepository) UpdateOverride(ctx context.Context, o *types.EmergencyOverride) error {
	query := `
		UPDATE emergency_overrides
		SET deactivated_at = $2, deactivated_by = $3
		WHERE id = $1 AND deactivated_at IS NULL
	`
	res, err := s.db.ExecContext(ctx, query,
		o.ID, nullableTime(o.DeactivatedAt), nullableString(o.DeactivatedBy))
	if err != nil {
		return fmt.Errorf("update override: %w", err)
	}
	return requireRow(res, fmt.Sprintf("override %s", o.ID))
}

// GetOverride retrieves an override by ID
func (s *PostgresRepository) GetOverride(ctx context.Context, id string) (*types.EmergencyOverride, error) {
	query := `
		SELECT id, triggered_by, affected_subject, reason, justification,
		       granted_permission_ids, notified_subjects,
		       activated_at, expires_at, deactivated_at, deactivated_by
		FROM emergency_overrides WHERE id = $1
	`
	o, err := scanOverride(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("override %s: %w", id, ErrNotFound)
	}
	return o, err
}

// ListOverrides returns all overrides
func (s *PostgresRepository) ListOverrides(ctx context.Context) ([]*types.EmergencyOverride, error) {
	query := `
		SELECT id, triggered_by, affected_subject, reason, justification,
		       granted_permission_ids, notified_subjects,
		       activated_at, expires_at, deactivated_at, deactivated_by
		FROM emergency_overrides
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	var overrides []*types.EmergencyOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// PutRole upserts a role definition
func (s *PostgresRepository) PutRole(ctx context.Context, role *types.Role) error {
	query := `
		INSERT INTO roles (id, name, type, state, permission_set_ids, priority, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = $2, type = $3, state = $4, permission_set_ids = $5, priority = $6, tags = $7
	`
	_, err := s.db.ExecContext(ctx, query,
		role.ID, role.Name, role.Type, role.State,
		pq.Array(role.PermissionSetIDs), role.Priority, pq.Array(role.Tags))
	if err != nil {
		return fmt.Errorf("upsert role: %w", err)
	}
	return nil
}

// PutPermissionSet upserts a permission set and registers its permissions
func (s *PostgresRepository) PutPermissionSet(ctx context.Context, set *types.PermissionSet) error {
	permsJSON, err := json.Marshal(set.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	query := `
		INSERT INTO permission_sets (id, name, parent_id, permissions)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = $2, parent_id = $3, permissions = $4
	`
	_, err = s.db.ExecContext(ctx, query,
		set.ID, set.Name, nullableString(set.ParentID), permsJSON)
	if err != nil {
		return fmt.Errorf("upsert permission set: %w", err)
	}
	for _, p := range set.Permissions {
		if p.ID == "" {
			continue
		}
		if err := s.PutPermission(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// PutPermission upserts a permission definition
func (s *PostgresRepository) PutPermission(ctx context.Context, perm types.Permission) error {
	query := `
		INSERT INTO permissions (id, resource, action, effect, scope)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET resource = $2, action = $3, effect = $4, scope = $5
	`
	_, err := s.db.ExecContext(ctx, query,
		perm.ID, perm.Resource, perm.Action, perm.Effect, nullableString(perm.Scope))
	if err != nil {
		return fmt.Errorf("upsert permission: %w", err)
	}
	return nil
}

// Ping verifies database connectivity
func (s *PostgresRepository) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// scanner abstracts *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDelegation(row scanner) (*types.Delegation, error) {
	var (
		d                types.Delegation
		approvedBy       sql.NullString
		approvedAt       sql.NullTime
		subsetJSON       []byte
		revokedBy        sql.NullString
		revokedAt        sql.NullTime
		revocationReason sql.NullString
	)
	err := row.Scan(&d.ID, &d.FromSubject, &d.ToSubject, &d.RoleID, &d.StartsAt, &d.EndsAt,
		&d.State, &d.Priority, &approvedBy, &approvedAt, &subsetJSON, pq.Array(&d.Scopes),
		&revokedBy, &revokedAt, &revocationReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan delegation: %w", err)
	}
	d.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		t := approvedAt.Time
		d.ApprovedAt = &t
	}
	if len(subsetJSON) > 0 {
		if err := json.Unmarshal(subsetJSON, &d.PermissionSubset); err != nil {
			return nil, fmt.Errorf("unmarshal permission subset for delegation %s: %w", d.ID, err)
		}
	}
	d.RevokedBy = revokedBy.String
	if revokedAt.Valid {
		t := revokedAt.Time
		d.RevokedAt = &t
	}
	d.RevocationReason = revocationReason.String
	return &d, nil
}

func scanOverride(row scanner) (*types.EmergencyOverride, error) {
	var (
		o             types.EmergencyOverride
		justification sql.NullString
		deactivatedAt sql.NullTime
		deactivatedBy sql.NullString
	)
	err := row.Scan(&o.ID, &o.TriggeredBy, &o.AffectedSubject, &o.Reason, &justification,
		pq.Array(&o.GrantedPermissionIDs), pq.Array(&o.NotifiedSubjects),
		&o.ActivatedAt, &o.ExpiresAt, &deactivatedAt, &deactivatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan override: %w", err)
	}
	o.Justification = justification.String
	if deactivatedAt.Valid {
		t := deactivatedAt.Time
		o.DeactivatedAt = &t
	}
	o.DeactivatedBy = deactivatedBy.String
	return &o, nil
}

func marshalNullable(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case *types.RecurringSchedule:
		if val == nil {
			return nil, nil
		}
	case []types.Permission:
		if len(val) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
