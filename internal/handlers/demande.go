package handlers

import (
	"net/http"

	"github.com/diewo77/go-assistance/httpx"
	"github.com/diewo77/go-assistance/internal/services"
)

type DemandeHandler struct {
	svc *services.DemandeService
}

func NewDemandeHandler(svc *services.DemandeService) *DemandeHandler {
	return &DemandeHandler{svc: svc}
}

// Create handles POST /demandes.
func (h *DemandeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.DemandeInput
	if !decode(w, r, &in) {
		return
	}
	d, err := h.svc.CreateDemande(r.Context(), actor(r), in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.Message(w, r, http.StatusCreated, "demande_created", "demande", d)
}

// Get handles GET /demandes/{id}.
func (h *DemandeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	d, err := h.svc.GetDemande(r.Context(), actor(r), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"demande": d})
}

// Transition handles PATCH /demandes/{id}/status.
func (h *DemandeHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var in services.DemandeTransition
	if !decode(w, r, &in) {
		return
	}
	d, err := h.svc.TransitionDemande(r.Context(), actor(r), id, in)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.Message(w, r, http.StatusOK, "demande_updated", "demande", d)
}
