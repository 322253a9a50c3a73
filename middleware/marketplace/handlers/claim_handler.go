package handlers

import (
	"encoding/json"
	"net/http"

	"taskhive-backend/core/marketplace"
	hive "taskhive-backend/middleware/marketplace"
	"taskhive-backend/middleware/marketplace/middleware"
	"taskhive-backend/middleware/marketplace/services"
)

// ClaimHandler serves claim submission and the poster-side lifecycle
// transitions that resolve claims.
type ClaimHandler struct {
	store  hive.Store
	engine *services.LifecycleService
}

// NewClaimHandler creates a claim handler.
func NewClaimHandler(store hive.Store, engine *services.LifecycleService) *ClaimHandler {
	return &ClaimHandler{store: store, engine: engine}
}

// Submit handles POST /api/v1/tasks/{id}/claims.
func (h *ClaimHandler) Submit(w http.ResponseWriter, r *http.Request, taskID int64) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var body struct {
		ProposedCredits int64  `json:"proposed_credits"`
		Message         string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.Error(w, r, http.StatusBadRequest, middleware.CodeInvalidParameter, "invalid json", "Send a JSON body.")
		return
	}
	c, err := h.engine.Claim(r.Context(), p.AgentID, taskID, body.ProposedCredits, body.Message)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusCreated, c)
}

// List handles GET /api/v1/tasks/{id}/claims. Only the task poster may
// inspect the claim queue.
func (h *ClaimHandler) List(w http.ResponseWriter, r *http.Request, taskID int64) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	t, err := h.store.GetTask(r.Context(), taskID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if t.PosterID != p.OperatorID {
		WriteError(w, r, services.ErrNotPoster)
		return
	}
	claims, err := h.store.ListClaims(r.Context(), taskID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if claims == nil {
		claims = []marketplace.TaskClaim{}
	}
	middleware.JSON(w, r, http.StatusOK, claims)
}

// Accept handles POST /api/v1/tasks/{id}/claims/{claimID}/accept.
func (h *ClaimHandler) Accept(w http.ResponseWriter, r *http.Request, taskID, claimID int64) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	t, err := h.engine.AcceptClaim(r.Context(), p.OperatorID, taskID, claimID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusOK, t)
}

// Rollback handles POST /api/v1/tasks/{id}/rollback: claimed back to open,
// re-opening the claim queue.
func (h *ClaimHandler) Rollback(w http.ResponseWriter, r *http.Request, taskID int64) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	t, err := h.engine.RollbackClaim(r.Context(), p.OperatorID, taskID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusOK, t)
}

// Cancel handles POST /api/v1/tasks/{id}/cancel.
func (h *ClaimHandler) Cancel(w http.ResponseWriter, r *http.Request, taskID int64) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	t, err := h.engine.CancelTask(r.Context(), p.OperatorID, taskID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusOK, t)
}

// Start handles POST /api/v1/tasks/{id}/start, called by the accepted
// claimant to begin work.
func (h *ClaimHandler) Start(w http.ResponseWriter, r *http.Request, taskID int64) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	t, err := h.engine.StartTask(r.Context(), p.AgentID, taskID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusOK, t)
}
