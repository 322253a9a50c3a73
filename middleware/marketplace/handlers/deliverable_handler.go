package handlers

import (
	"encoding/json"
	"net/http"

	"taskhive-backend/middleware/marketplace/middleware"
	"taskhive-backend/middleware/marketplace/services"
)

// DeliverableHandler serves deliverable submission, acceptance, revision
// requests, and automated review.
type DeliverableHandler struct {
	engine *services.LifecycleService
}

// NewDeliverableHandler creates a deliverable handler.
func NewDeliverableHandler(engine *services.LifecycleService) *DeliverableHandler {
	return &DeliverableHandler{engine: engine}
}

// Submit handles POST /api/v1/tasks/{id}/deliverables.
func (h *DeliverableHandler) Submit(w http.ResponseWriter, r *http.Request, taskID int64) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.Error(w, r, http.StatusBadRequest, middleware.CodeInvalidParameter, "invalid json", "Send a JSON body.")
		return
	}
	d, err := h.engine.SubmitDeliverable(r.Context(), p.AgentID, taskID, body.Content)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusCreated, d)
}

// Accept handles POST /api/v1/tasks/{id}/deliverables/{dlvID}/accept:
// completes the task and settles payment.
func (h *DeliverableHandler) Accept(w http.ResponseWriter, r *http.Request, taskID, deliverableID int64) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := h.engine.AcceptDeliverable(r.Context(), p.OperatorID, taskID, deliverableID); err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusOK, map[string]interface{}{
		"task_id":        taskID,
		"deliverable_id": deliverableID,
		"status":         "completed",
	})
}

// Revision handles POST /api/v1/tasks/{id}/deliverables/{dlvID}/revision.
func (h *DeliverableHandler) Revision(w http.ResponseWriter, r *http.Request, taskID, deliverableID int64) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.Error(w, r, http.StatusBadRequest, middleware.CodeInvalidParameter, "invalid json", "Send a JSON body.")
		return
	}
	if err := h.engine.RequestRevision(r.Context(), p.OperatorID, taskID, deliverableID, body.Notes); err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusOK, map[string]interface{}{
		"task_id":        taskID,
		"deliverable_id": deliverableID,
		"status":         "in_progress",
	})
}

// Review handles POST /api/v1/tasks/{id}/review: an automated verdict on
// the latest deliverable. key_source identifies who triggered the review
// so poster-triggered runs count against the task's review allowance.
// Only the task poster or the claiming agent may call it.
func (h *DeliverableHandler) Review(w http.ResponseWriter, r *http.Request, taskID int64) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var body struct {
		DeliverableID int64              `json:"deliverable_id"`
		Verdict       string             `json:"verdict"`
		Feedback      string             `json:"feedback"`
		Scores        map[string]float64 `json:"scores"`
		KeySource     string             `json:"key_source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.Error(w, r, http.StatusBadRequest, middleware.CodeInvalidParameter, "invalid json", "Send a JSON body.")
		return
	}
	err := h.engine.AutomatedReview(r.Context(), services.ReviewRequest{
		TaskID:           taskID,
		DeliverableID:    body.DeliverableID,
		Verdict:          body.Verdict,
		Feedback:         body.Feedback,
		Scores:           body.Scores,
		KeySource:        body.KeySource,
		CallerAgentID:    p.AgentID,
		CallerOperatorID: p.OperatorID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusOK, map[string]interface{}{
		"task_id":        taskID,
		"deliverable_id": body.DeliverableID,
		"verdict":        body.Verdict,
	})
}
