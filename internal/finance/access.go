package finance

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hongminglow/vip-ledger/internal/models"
	"github.com/hongminglow/vip-ledger/internal/storage"
)

// AccessControl resolves caller roles and gates mutating operations.
type AccessControl struct {
	roles storage.RoleStore
}

// NewAccessControl builds an AccessControl over the given role store.
func NewAccessControl(roles storage.RoleStore) *AccessControl {
	return &AccessControl{roles: roles}
}

// RoleOf returns the role of user. An empty identity is a guest; an
// identity without an explicit assignment is a user.
func (a *AccessControl) RoleOf(ctx context.Context, user string) (models.Role, error) {
	if strings.TrimSpace(user) == "" {
		return models.RoleGuest, nil
	}
	role, err := a.roles.GetRole(ctx, user)
	if errors.Is(err, storage.ErrNotFound) {
		return models.RoleUser, nil
	}
	if err != nil {
		return "", fmt.Errorf("load role of %s: %w", user, err)
	}
	if !role.Valid() {
		return "", fmt.Errorf("%w: stored role %q for %s", ErrInvalidRole, role, user)
	}
	return role, nil
}

// Require fails with ErrForbidden unless caller holds one of allowed. Any
// failure to resolve the role is also reported as ErrForbidden.
func (a *AccessControl) Require(ctx context.Context, caller string, allowed ...models.Role) error {
	role, err := a.RoleOf(ctx, caller)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	if !slices.Contains(allowed, role) {
		return fmt.Errorf("%w: role %s may not perform this operation", ErrForbidden, role)
	}
	return nil
}

// AssignRole sets the role of target. Only admins may assign roles.
func (a *AccessControl) AssignRole(ctx context.Context, caller, target string, role models.Role) error {
	if err := a.Require(ctx, caller, models.RoleAdmin); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return fmt.Errorf("%w: empty target identity", ErrInvalidRole)
	}
	return a.roles.SetRole(ctx, target, role)
}

// Grant writes a role without an authorization check. It exists for
// out-of-band provisioning such as seeding the first admin.
func (a *AccessControl) Grant(ctx context.Context, user string, role models.Role) error {
	user = strings.TrimSpace(user)
	if user == "" || !role.Valid() {
		return fmt.Errorf("%w: cannot grant %q to %q", ErrInvalidRole, role, user)
	}
	return a.roles.SetRole(ctx, user, role)
}
