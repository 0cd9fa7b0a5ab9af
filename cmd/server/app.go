package main

import (
	"net/http"

	"github.com/diewo77/go-assistance/auth"
	"github.com/diewo77/go-assistance/gate"
	"github.com/diewo77/go-assistance/httpx"
	"github.com/diewo77/go-assistance/i18n"
	"github.com/diewo77/go-assistance/internal/db"
	"github.com/diewo77/go-assistance/internal/handlers"
	"github.com/diewo77/go-assistance/internal/logger"
	"github.com/diewo77/go-assistance/internal/metrics"
	"github.com/diewo77/go-assistance/internal/policy"
	"github.com/diewo77/go-assistance/internal/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	DB       *gorm.DB
	AuthGate *policy.AuthGate
	Budgets  *services.BudgetService
	Demandes *services.DemandeService
	Log      *zap.Logger
}

// App is the main application handler that sets up all routes.
type App struct {
	mux     *http.ServeMux
	deps    Deps
	handler http.Handler
}

// NewApp creates a new application with all routes configured.
func NewApp(deps Deps) *App {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	app := &App{
		mux:  http.NewServeMux(),
		deps: deps,
	}
	app.setupRoutes()
	// Outermost first: metrics, request log, identity, language.
	app.handler = metrics.InstrumentHandler(
		logger.Requests(deps.Log, auth.Middleware(withLanguage(app.mux))),
	)
	return app
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// setupRoutes configures all application routes.
func (a *App) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Public routes (no auth required)
	// ─────────────────────────────────────────────────────────────────────────
	a.mux.HandleFunc("GET /health", a.health)
	a.mux.HandleFunc("GET /healthz", a.ready)
	a.mux.Handle("GET /metrics", metrics.Handler())

	// ─────────────────────────────────────────────────────────────────────────
	// Budget pools (require auth + capability; pool scope is checked by the service)
	// ─────────────────────────────────────────────────────────────────────────
	ph := handlers.NewBudgetPoolHandler(a.deps.Budgets)

	a.mux.Handle("POST /budget-pools",
		a.requireAuth(a.requirePermission(policy.CapCreatePool)(http.HandlerFunc(ph.Create))))
	a.mux.Handle("GET /budget-pools",
		a.requireAuth(a.requirePermission(policy.CapListPools)(http.HandlerFunc(ph.List))))
	a.mux.Handle("GET /budget-pools/dashboard-stats",
		a.requireAuth(a.requirePermission(policy.CapPoolAnalytics)(http.HandlerFunc(ph.DashboardStats))))
	a.mux.Handle("GET /budget-pools/{id}",
		a.requireAuth(a.requirePermission(policy.CapViewPool)(http.HandlerFunc(ph.Get))))
	a.mux.Handle("PATCH /budget-pools/{id}",
		a.requireAuth(a.requirePermission(policy.CapUpdatePool)(http.HandlerFunc(ph.Update))))
	a.mux.Handle("DELETE /budget-pools/{id}",
		a.requireAuth(a.requirePermission(policy.CapDeletePool)(http.HandlerFunc(ph.Delete))))
	a.mux.Handle("GET /budget-pools/{id}/analytics",
		a.requireAuth(a.requirePermission(policy.CapPoolAnalytics)(http.HandlerFunc(ph.Analytics))))

	// Allocations
	a.mux.Handle("POST /budget-pools/{id}/allocate",
		a.requireAuth(a.requirePermission(policy.CapAllocate)(http.HandlerFunc(ph.Allocate))))
	a.mux.Handle("PATCH /budget-pools/{id}/allocations/{allocationId}",
		a.requireAuth(a.requirePermission(policy.CapAllocate)(http.HandlerFunc(ph.UpdateAllocation))))

	// Transfers
	a.mux.Handle("POST /budget-pools/{id}/transfer",
		a.requireAuth(a.requirePermission(policy.CapTransfer)(http.HandlerFunc(ph.Transfer))))
	a.mux.Handle("POST /budget-pools/transfers/{reference}/approve",
		a.requireAuth(a.requirePermission(policy.CapApproveFunds)(ph.DecideTransfer(true))))
	a.mux.Handle("POST /budget-pools/transfers/{reference}/reject",
		a.requireAuth(a.requirePermission(policy.CapApproveFunds)(ph.DecideTransfer(false))))

	// ─────────────────────────────────────────────────────────────────────────
	// Demandes (ownership is checked by the service)
	// ─────────────────────────────────────────────────────────────────────────
	dh := handlers.NewDemandeHandler(a.deps.Demandes)

	a.mux.Handle("POST /demandes",
		a.requireAuth(a.requirePermission(policy.CapCreateDemande)(http.HandlerFunc(dh.Create))))
	a.mux.Handle("GET /demandes/{id}",
		a.requireAuth(a.requirePermission(policy.CapViewDemande)(http.HandlerFunc(dh.Get))))
	a.mux.Handle("PATCH /demandes/{id}/status",
		a.requireAuth(a.requirePermission(policy.CapUpdateDemande)(http.HandlerFunc(dh.Transition))))

	// ─────────────────────────────────────────────────────────────────────────
	// Admin routes (require admin profile with *:* permission)
	// ─────────────────────────────────────────────────────────────────────────
	uh := handlers.NewAdminUserHandler(a.deps.DB, a.deps.AuthGate, a.deps.Log)

	a.mux.Handle("GET /admin/users",
		a.requireAuth(a.requireAdmin(http.HandlerFunc(uh.List))))
	a.mux.Handle("POST /admin/users/{id}/profile",
		a.requireAuth(a.requireAdmin(http.HandlerFunc(uh.AssignProfile))))
}

// ─────────────────────────────────────────────────────────────────────────────
// Middleware
// ─────────────────────────────────────────────────────────────────────────────

// requireAuth wraps a handler to require authentication.
func (a *App) requireAuth(next http.Handler) http.Handler {
	return auth.RequireAuth(next)
}

// requireAdmin wraps a handler to require admin permissions.
func (a *App) requireAdmin(next http.Handler) http.Handler {
	return a.deps.AuthGate.RequireAdmin()(next)
}

// requirePermission wraps a handler to require a profile capability.
func (a *App) requirePermission(c gate.Capability) func(http.Handler) http.Handler {
	return a.deps.AuthGate.RequirePermission(c)
}

// withLanguage picks the response language from the lang query parameter,
// then the Accept-Language header.
func withLanguage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang := r.URL.Query().Get("lang")
		if lang != "fr" && lang != "en" {
			lang = i18n.DetectLanguage(r.Header.Get("Accept-Language"))
		}
		next.ServeHTTP(w, r.WithContext(i18n.WithLang(r.Context(), lang)))
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Probes
// ─────────────────────────────────────────────────────────────────────────────

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) ready(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := a.deps.DB.DB()
	if err == nil {
		err = db.Healthy(r.Context(), sqlDB)
	}
	if err != nil {
		a.deps.Log.Warn("readiness check failed", zap.Error(err))
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
