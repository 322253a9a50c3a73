package marketplace_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	hive "taskhive-backend/middleware/marketplace"
	"taskhive-backend/middleware/marketplace/handlers"
	"taskhive-backend/middleware/marketplace/middleware"
	"taskhive-backend/middleware/marketplace/services"
	"taskhive-backend/storage/auth"
	hivestore "taskhive-backend/storage/marketplace"
)

func newTestServer(t *testing.T) *http.ServeMux {
	t.Helper()
	store := hivestore.NewMemoryStore()
	keys := auth.NewMemoryKeyStore(store.GetAgent)
	credits := services.NewCreditService(store, 10, 100, 25)
	webhooks := services.NewWebhookService(store, 0, 0)
	engine := services.NewLifecycleService(store, credits, webhooks)

	srv := hive.NewServer(
		keys,
		handlers.NewAgentHandler(store, keys, credits),
		handlers.NewTaskHandler(store, engine),
		handlers.NewClaimHandler(store, engine),
		handlers.NewDeliverableHandler(engine),
		handlers.NewWebhookHandler(store, webhooks),
		handlers.NewCreditHandler(store),
	)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, key string, body interface{}) (*httptest.ResponseRecorder, middleware.Envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if key != "" {
		r.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)

	var env middleware.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: bad envelope: %v: %s", method, path, err, w.Body.String())
	}
	return w, env
}

func registerAgent(t *testing.T, mux *http.ServeMux, email, name string) string {
	t.Helper()
	w, env := doJSON(t, mux, http.MethodPost, "/api/v1/agents", "", map[string]interface{}{
		"email":      email,
		"name":       name,
		"agent_name": name + "-bot",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d: %s", w.Code, w.Body.String())
	}
	data := env.Data.(map[string]interface{})
	key, _ := data["api_key"].(string)
	if !auth.ValidKeyFormat(key) {
		t.Fatalf("register returned malformed key %q", key)
	}
	return key
}

func TestRegisterGrantsBonusesAndKey(t *testing.T) {
	mux := newTestServer(t)
	key := registerAgent(t, mux, "ada@example.com", "ada")

	w, env := doJSON(t, mux, http.MethodGet, "/api/v1/agents/me", key, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: %d: %s", w.Code, w.Body.String())
	}
	data := env.Data.(map[string]interface{})
	if bal, _ := data["credit_balance"].(float64); bal != 125 {
		t.Fatalf("expected 125 credits after welcome+agent bonus, got %v", data["credit_balance"])
	}
	if env.Meta.RequestID == "" {
		t.Fatalf("missing request id in meta")
	}
}

func TestAuthRejections(t *testing.T) {
	mux := newTestServer(t)

	w, env := doJSON(t, mux, http.MethodGet, "/api/v1/agents/me", "", nil)
	if w.Code != http.StatusUnauthorized || env.Error == nil || env.Error.Code != middleware.CodeUnauthorized {
		t.Fatalf("missing key: %d %+v", w.Code, env.Error)
	}

	w, env = doJSON(t, mux, http.MethodGet, "/api/v1/agents/me", "thk_short", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("malformed key: %d", w.Code)
	}

	unknown := auth.KeyPrefix + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	w, env = doJSON(t, mux, http.MethodGet, "/api/v1/agents/me", unknown, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown key: %d", w.Code)
	}
	if env.OK {
		t.Fatalf("error envelope marked ok")
	}
}

func TestTaskBrowsingIsPublic(t *testing.T) {
	mux := newTestServer(t)
	key := registerAgent(t, mux, "ada@example.com", "ada")

	w, _ := doJSON(t, mux, http.MethodPost, "/api/v1/tasks", key, map[string]interface{}{
		"title":          "summarize a paper",
		"budget_credits": 50,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create task: %d: %s", w.Code, w.Body.String())
	}

	// No key: list and detail still readable.
	w, env := doJSON(t, mux, http.MethodGet, "/api/v1/tasks", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("public list: %d", w.Code)
	}
	if env.Meta.HasMore == nil || env.Meta.Count == nil || *env.Meta.Count != 1 {
		t.Fatalf("missing pagination meta: %+v", env.Meta)
	}
	tasks := env.Data.([]interface{})
	id := int64(tasks[0].(map[string]interface{})["id"].(float64))

	w, _ = doJSON(t, mux, http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d", id), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("public detail: %d", w.Code)
	}

	// Writes stay protected.
	w, _ = doJSON(t, mux, http.MethodPost, "/api/v1/tasks", "", map[string]interface{}{"title": "x", "budget_credits": 1})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated create: %d", w.Code)
	}
}

func TestClaimFlowOverHTTP(t *testing.T) {
	mux := newTestServer(t)
	posterKey := registerAgent(t, mux, "poster@example.com", "poster")
	workerKey := registerAgent(t, mux, "worker@example.com", "worker")

	_, env := doJSON(t, mux, http.MethodPost, "/api/v1/tasks", posterKey, map[string]interface{}{
		"title":          "port the parser",
		"budget_credits": 100,
		"max_revisions":  1,
	})
	taskID := int64(env.Data.(map[string]interface{})["id"].(float64))

	w, env := doJSON(t, mux, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/claims", taskID), workerKey, map[string]interface{}{
		"proposed_credits": 90,
		"message":          "can do",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("claim: %d: %s", w.Code, w.Body.String())
	}
	claimID := int64(env.Data.(map[string]interface{})["id"].(float64))

	// The worker is not the poster: accept is forbidden.
	w, _ = doJSON(t, mux, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/claims/%d/accept", taskID, claimID), workerKey, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-poster accept: %d", w.Code)
	}

	w, env = doJSON(t, mux, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/claims/%d/accept", taskID, claimID), posterKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: %d: %s", w.Code, w.Body.String())
	}
	if status := env.Data.(map[string]interface{})["status"]; status != "claimed" {
		t.Fatalf("expected claimed, got %v", status)
	}

	// Double accept conflicts.
	w, env = doJSON(t, mux, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/claims/%d/accept", taskID, claimID), posterKey, nil)
	if w.Code != http.StatusConflict || env.Error == nil || env.Error.Code != middleware.CodeConflict {
		t.Fatalf("double accept: %d %+v", w.Code, env.Error)
	}

	w, _ = doJSON(t, mux, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/start", taskID), workerKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start: %d: %s", w.Code, w.Body.String())
	}

	// The worker sees the task under /agents/me/tasks.
	_, env = doJSON(t, mux, http.MethodGet, "/api/v1/agents/me/tasks", workerKey, nil)
	mine := env.Data.([]interface{})
	if len(mine) != 1 {
		t.Fatalf("expected 1 assigned task, got %d", len(mine))
	}
}

func TestWebhookEndpoints(t *testing.T) {
	mux := newTestServer(t)
	key := registerAgent(t, mux, "ada@example.com", "ada")

	w, env := doJSON(t, mux, http.MethodPost, "/api/v1/webhooks", key, map[string]interface{}{
		"url":    "https://example.com/hooks",
		"events": []string{"claim.accepted"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register webhook: %d: %s", w.Code, w.Body.String())
	}
	data := env.Data.(map[string]interface{})
	secret, _ := data["secret"].(string)
	if secret == "" {
		t.Fatalf("secret missing from registration response")
	}
	hookID := int64(data["webhook"].(map[string]interface{})["id"].(float64))

	// The list never echoes the secret.
	w, env = doJSON(t, mux, http.MethodGet, "/api/v1/webhooks", key, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list webhooks: %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte(secret)) {
		t.Fatalf("secret leaked in webhook list")
	}

	w, _ = doJSON(t, mux, http.MethodPost, "/api/v1/webhooks", key, map[string]interface{}{
		"url":    "http://example.com/hooks",
		"events": []string{"claim.accepted"},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("plain-http webhook accepted: %d", w.Code)
	}

	w, _ = doJSON(t, mux, http.MethodDelete, fmt.Sprintf("/api/v1/webhooks/%d", hookID), key, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete webhook: %d", w.Code)
	}
}

func TestCreditTransactionsEndpoint(t *testing.T) {
	mux := newTestServer(t)
	key := registerAgent(t, mux, "ada@example.com", "ada")

	w, env := doJSON(t, mux, http.MethodGet, "/api/v1/credits/transactions", key, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transactions: %d: %s", w.Code, w.Body.String())
	}
	txs := env.Data.([]interface{})
	if len(txs) != 2 {
		t.Fatalf("expected welcome + agent bonus rows, got %d", len(txs))
	}
	first := txs[0].(map[string]interface{})
	if first["type"] != "bonus" {
		t.Fatalf("unexpected transaction %+v", first)
	}
}
