package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ScopeResolver decides the branch scope of an actor.
type ScopeResolver interface {
	ResolveScope(ctx context.Context, actorID uuid.UUID) (BranchScope, error)
}

// PostgresScopeResolver reads the actor's role and home branch from the users table.
type PostgresScopeResolver struct {
	pool        *pgxpool.Pool
	globalRoles []string
}

// NewScopeResolver constructs a resolver; actors holding any of globalRoles are global.
func NewScopeResolver(pool *pgxpool.Pool, globalRoles []string) *PostgresScopeResolver {
	return &PostgresScopeResolver{pool: pool, globalRoles: globalRoles}
}

// ResolveScope looks up the actor profile. Unknown actors get an unrestricted,
// non-global scope.
func (r *PostgresScopeResolver) ResolveScope(ctx context.Context, actorID uuid.UUID) (BranchScope, error) {
	const query = `SELECT role, branch_id FROM users WHERE id = $1`
	var (
		role     *string
		branchID *uuid.UUID
	)
	if err := r.pool.QueryRow(ctx, query, actorID).Scan(&role, &branchID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BranchScope{}, nil
		}
		return BranchScope{}, fmt.Errorf("auth: resolve scope: %w", err)
	}
	var roleName string
	if role != nil {
		roleName = *role
	}
	return ScopeFor(roleName, branchID, r.globalRoles), nil
}

// ScopeFor applies the global-role rule to a profile.
func ScopeFor(role string, branchID *uuid.UUID, globalRoles []string) BranchScope {
	role = strings.TrimSpace(role)
	for _, global := range globalRoles {
		if role != "" && strings.EqualFold(role, strings.TrimSpace(global)) {
			return BranchScope{Global: true}
		}
	}
	return BranchScope{BranchID: branchID}
}
