package handlers

import (
	"encoding/json"
	"net/http"

	"taskhive-backend/core/marketplace"
	hive "taskhive-backend/middleware/marketplace"
	"taskhive-backend/middleware/marketplace/middleware"
	"taskhive-backend/middleware/marketplace/services"
)

// WebhookHandler serves webhook subscription management.
type WebhookHandler struct {
	store    hive.Store
	webhooks *services.WebhookService
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(store hive.Store, webhooks *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{store: store, webhooks: webhooks}
}

// Register handles POST /api/v1/webhooks. The signing secret appears in
// this response and nowhere else.
func (h *WebhookHandler) Register(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var body struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.Error(w, r, http.StatusBadRequest, middleware.CodeInvalidParameter, "invalid json", "Send a JSON body.")
		return
	}
	hook, secret, err := h.webhooks.Register(r.Context(), p.AgentID, body.URL, body.Events)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusCreated, map[string]interface{}{
		"webhook": hook,
		"secret":  secret,
	})
}

// List handles GET /api/v1/webhooks for the calling agent. Secrets are
// never included.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	hooks, err := h.store.ListWebhooks(r.Context(), p.AgentID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if hooks == nil {
		hooks = []marketplace.Webhook{}
	}
	middleware.JSON(w, r, http.StatusOK, hooks)
}

// Delete handles DELETE /api/v1/webhooks/{id}. Agents can only delete
// their own subscriptions.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request, webhookID int64) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteWebhook(r.Context(), p.AgentID, webhookID); err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusOK, map[string]interface{}{"deleted": webhookID})
}
