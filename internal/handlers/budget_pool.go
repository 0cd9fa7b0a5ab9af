package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/diewo77/go-assistance/auth"
	"github.com/diewo77/go-assistance/httpx"
	"github.com/diewo77/go-assistance/internal/models"
	"github.com/diewo77/go-assistance/internal/services"
	"github.com/diewo77/go-assistance/validation"
	"github.com/google/uuid"
)

// BudgetPoolHandler exposes the budget pool service over JSON.
// Authorization happens in the service; handlers only decode and encode.
type BudgetPoolHandler struct {
	svc *services.BudgetService
}

func NewBudgetPoolHandler(svc *services.BudgetService) *BudgetPoolHandler {
	return &BudgetPoolHandler{svc: svc}
}

func actor(r *http.Request) uint {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// pathID parses a positive numeric path parameter.
func pathID(r *http.Request, name string) (uint, error) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil || id == 0 {
		return 0, validation.Violations{name: "invalid_format"}
	}
	return uint(id), nil
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return false
	}
	return true
}

// Create handles POST /budget-pools.
func (h *BudgetPoolHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.PoolInput
	if !decode(w, r, &in) {
		return
	}
	pool, err := h.svc.CreatePool(r.Context(), actor(r), in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.Message(w, r, http.StatusCreated, "pool_created", "budgetPool", pool)
}

// List handles GET /budget-pools.
func (h *BudgetPoolHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v := validation.Violations{}
	atoi := func(key string) int {
		s := q.Get(key)
		if s == "" {
			return 0
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			v[key] = "invalid_format"
		}
		return n
	}
	f := services.PoolFilter{
		Department: q.Get("department"),
		Status:     models.PoolStatus(q.Get("status")),
		Search:     q.Get("search"),
		FiscalYear: atoi("fiscalYear"),
		Page:       atoi("page"),
		Limit:      atoi("limit"),
	}
	if f.Status != "" && !f.Status.IsValid() {
		v["status"] = "invalid_format"
	}
	if err := v.Err(); err != nil {
		httpx.Error(w, r, err)
		return
	}
	list, err := h.svc.ListPools(r.Context(), actor(r), f)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

// Get handles GET /budget-pools/{id}.
func (h *BudgetPoolHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	pool, err := h.svc.GetPool(r.Context(), actor(r), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"budgetPool": pool,
		"metrics":    services.MetricsFor(pool, time.Now()),
	})
}

// Update handles PATCH /budget-pools/{id}.
func (h *BudgetPoolHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var patch services.PoolPatch
	if !decode(w, r, &patch) {
		return
	}
	pool, err := h.svc.UpdatePool(r.Context(), actor(r), id, patch)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.Message(w, r, http.StatusOK, "pool_updated", "budgetPool", pool)
}

// Delete handles DELETE /budget-pools/{id}.
func (h *BudgetPoolHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.svc.DeletePool(r.Context(), actor(r), id); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.Message(w, r, http.StatusOK, "pool_deleted", "", nil)
}

// Allocate handles POST /budget-pools/{id}/allocate.
func (h *BudgetPoolHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in services.AllocateInput
	if !decode(w, r, &in) {
		return
	}
	alloc, err := h.svc.Allocate(r.Context(), actor(r), id, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.Message(w, r, http.StatusCreated, "funds_allocated", "allocation", alloc)
}

// UpdateAllocation handles PATCH /budget-pools/{id}/allocations/{allocationId}.
func (h *BudgetPoolHandler) UpdateAllocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	allocationID, err := pathID(r, "allocationId")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in services.AllocationStatusInput
	if !decode(w, r, &in) {
		return
	}
	alloc, err := h.svc.UpdateAllocationStatus(r.Context(), actor(r), id, allocationID, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.Message(w, r, http.StatusOK, "allocation_updated", "allocation", alloc)
}

// Transfer handles POST /budget-pools/{id}/transfer. Pending transfers
// answer 202.
func (h *BudgetPoolHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in services.TransferInput
	if !decode(w, r, &in) {
		return
	}
	res, err := h.svc.TransferFunds(r.Context(), actor(r), id, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if res.Status == models.TransferStatusPending {
		httpx.Message(w, r, http.StatusAccepted, "transfer_pending", "transfer", res)
		return
	}
	httpx.Message(w, r, http.StatusCreated, "transfer_completed", "transfer", res)
}

type rejectBody struct {
	Reason string `json:"reason"`
}

// DecideTransfer handles POST /budget-pools/transfers/{reference}/approve
// and /reject.
func (h *BudgetPoolHandler) DecideTransfer(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := uuid.Parse(r.PathValue("reference"))
		if err != nil {
			httpx.Error(w, r, validation.Violations{"reference": "invalid_format"})
			return
		}
		if approve {
			res, err := h.svc.ApproveTransfer(r.Context(), actor(r), ref)
			if err != nil {
				httpx.Error(w, r, err)
				return
			}
			httpx.Message(w, r, http.StatusOK, "transfer_approved", "transfer", res)
			return
		}
		var body rejectBody
		if r.ContentLength != 0 && !decode(w, r, &body) {
			return
		}
		res, err := h.svc.RejectTransfer(r.Context(), actor(r), ref, body.Reason)
		if err != nil {
			httpx.Error(w, r, err)
			return
		}
		httpx.Message(w, r, http.StatusOK, "transfer_rejected", "transfer", res)
	}
}

// Analytics handles GET /budget-pools/{id}/analytics.
func (h *BudgetPoolHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out, err := h.svc.PoolAnalytics(r.Context(), actor(r), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

// DashboardStats handles GET /budget-pools/dashboard-stats.
func (h *BudgetPoolHandler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.DashboardStats(r.Context(), actor(r))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
