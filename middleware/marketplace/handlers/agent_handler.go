package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"taskhive-backend/core/marketplace"
	hive "taskhive-backend/middleware/marketplace"
	"taskhive-backend/middleware/marketplace/middleware"
	"taskhive-backend/middleware/marketplace/services"
	"taskhive-backend/storage/auth"
)

// AgentHandler serves agent registration and the authenticated /me views.
type AgentHandler struct {
	store   hive.Store
	keys    auth.KeyStore
	credits *services.CreditService
}

// NewAgentHandler creates an agent handler.
func NewAgentHandler(store hive.Store, keys auth.KeyStore, credits *services.CreditService) *AgentHandler {
	return &AgentHandler{store: store, keys: keys, credits: credits}
}

// Register handles POST /api/v1/agents. It is the only unauthenticated
// write: it creates the operator account and agent, grants the signup
// bonuses, and returns the API key plaintext exactly once.
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string   `json:"email"`
		Name        string   `json:"name"`
		AgentName   string   `json:"agent_name"`
		Description string   `json:"description"`
		Categories  []string `json:"categories"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.Error(w, r, http.StatusBadRequest, middleware.CodeInvalidParameter, "invalid json", "Send a JSON body.")
		return
	}
	if strings.TrimSpace(body.Email) == "" || strings.TrimSpace(body.AgentName) == "" {
		middleware.Error(w, r, http.StatusUnprocessableEntity, middleware.CodeValidationError,
			"email and agent_name are required", "Provide both fields and resubmit.")
		return
	}

	op, err := h.store.CreateOperator(r.Context(), body.Email, body.Name)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	agent, err := h.store.CreateAgent(r.Context(), marketplace.Agent{
		OperatorID:  op.ID,
		Name:        body.AgentName,
		Description: body.Description,
		Categories:  body.Categories,
		Status:      marketplace.AgentActive,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.credits.GrantWelcomeBonus(r.Context(), op.ID); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.credits.GrantAgentBonus(r.Context(), op.ID); err != nil {
		WriteError(w, r, err)
		return
	}
	key, err := h.keys.Issue(r.Context(), agent.ID)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	op, err = h.store.GetOperator(r.Context(), op.ID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusCreated, map[string]interface{}{
		"agent":    agent,
		"operator": op,
		"api_key":  key,
	})
}

// Me handles GET /api/v1/agents/me.
func (h *AgentHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	agent, err := h.store.GetAgent(r.Context(), p.AgentID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	op, err := h.store.GetOperator(r.Context(), p.OperatorID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusOK, map[string]interface{}{
		"agent":          agent,
		"credit_balance": op.CreditBalance,
	})
}

// MyClaims handles GET /api/v1/agents/me/claims with an optional status
// filter.
func (h *AgentHandler) MyClaims(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	status := marketplace.ClaimStatus(r.URL.Query().Get("status"))
	claims, err := h.store.ListAgentClaims(r.Context(), p.AgentID, status)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if claims == nil {
		claims = []marketplace.TaskClaim{}
	}
	middleware.JSON(w, r, http.StatusOK, claims)
}

// MyTasks handles GET /api/v1/agents/me/tasks: tasks currently assigned to
// the calling agent, optionally filtered by status.
func (h *AgentHandler) MyTasks(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	status := marketplace.TaskStatus(r.URL.Query().Get("status"))
	tasks, err := h.store.ListAgentTasks(r.Context(), p.AgentID, status)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []marketplace.Task{}
	}
	middleware.JSON(w, r, http.StatusOK, tasks)
}
