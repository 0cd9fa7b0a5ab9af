package policy

import (
	"context"
	"net/http"
	"time"

	"github.com/diewo77/go-assistance/auth"
	"github.com/diewo77/go-assistance/gate"
	"github.com/diewo77/go-assistance/httpx"
	"gorm.io/gorm"
)

// AuthGate holds the configured Gate with caching.
// It is the single authorization point used by the services and the router.
type AuthGate struct {
	Gate          *gate.Gate[uint]
	CacheResolver *gate.CachedResolver[uint]
}

// NewAuthGate creates the gate backed by database profiles, cached for
// cacheTTL, with the budget pool and demande policies registered.
func NewAuthGate(db *gorm.DB, cacheTTL time.Duration) *AuthGate {
	cachedResolver := gate.NewCachedResolver[uint](NewDBProfileResolver(db), cacheTTL)
	ag := &AuthGate{
		Gate:          gate.NewGate[uint](cachedResolver),
		CacheResolver: cachedResolver,
	}

	// Pool mutations are scoped to the actor's department; admins are not.
	ag.RegisterPolicy(ResourceBudgetPool, NewBypassPolicy(NewDepartmentPolicy(db), ag.isAdmin))
	// Demandes belong to their applicant; staff may read them and reviewers
	// may act on them.
	ag.RegisterPolicy(ResourceDemande, NewBypassPolicy(NewOwnershipPolicy(), ag.isDemandeStaff))
	return ag
}

// RegisterPolicy adds a resource policy for a resource type.
func (ag *AuthGate) RegisterPolicy(resourceType string, p gate.Policy[uint]) {
	ag.Gate.Register(resourceType, p)
}

func (ag *AuthGate) isAdmin(ctx context.Context, userID uint, _ gate.Action) bool {
	profile, err := ag.CacheResolver.Resolve(ctx, userID)
	return err == nil && profile != nil && profile.HasPermission(gate.PermissionSuperAdmin)
}

func (ag *AuthGate) isDemandeStaff(ctx context.Context, userID uint, action gate.Action) bool {
	if action == gate.ActionView || action == gate.ActionList {
		return ag.Has(ctx, userID, CapListDemandes)
	}
	return ag.Has(ctx, userID, CapReviewDemande)
}

// Check authorizes actor for capability c on resource (nil for
// collection-level checks). Returns gate.ErrUnauthorized or gate.ErrForbidden.
func (ag *AuthGate) Check(ctx context.Context, actor uint, c gate.Capability, resource any) error {
	return ag.Gate.AuthorizeCapability(ctx, actor, c, resource)
}

// Has checks only the profile permission, without resource policies.
func (ag *AuthGate) Has(ctx context.Context, actor uint, c gate.Capability) bool {
	return ag.Gate.CanProfile(ctx, actor, c.Action, c.Resource)
}

// CanProfile checks the profile permission of the user in ctx.
// Useful before a specific resource is loaded.
func (ag *AuthGate) CanProfile(ctx context.Context, c gate.Capability) bool {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return false
	}
	return ag.Has(ctx, userID, c)
}

// InvalidateUser clears the cache for a specific user.
// Call this when a user's profile is changed.
func (ag *AuthGate) InvalidateUser(userID uint) {
	ag.CacheResolver.Invalidate(userID)
}

// InvalidateAll clears the entire profile cache.
// Call this when profile permissions are modified.
func (ag *AuthGate) InvalidateAll() {
	ag.CacheResolver.InvalidateAll()
}

// RequirePermission returns middleware that checks profile permission.
// Blocks access if user doesn't have the required permission.
func (ag *AuthGate) RequirePermission(c gate.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.UserIDFromContext(r.Context()); !ok {
				httpx.JSONError(w, r, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			if !ag.CanProfile(r.Context(), c) {
				httpx.JSONError(w, r, http.StatusForbidden, "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin returns middleware that only allows users holding "*:*".
func (ag *AuthGate) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				httpx.JSONError(w, r, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			if !ag.isAdmin(r.Context(), userID, "") {
				httpx.JSONError(w, r, http.StatusForbidden, "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
