package marketplace

import (
	"net/http"
	"strconv"
	"strings"

	"taskhive-backend/middleware/marketplace/middleware"
	"taskhive-backend/storage/auth"
)

// handler methods the Server dispatches to after parsing the path. Keeping
// the interfaces here avoids an import cycle with the handlers package.
type agentRoutes interface {
	Register(w http.ResponseWriter, r *http.Request)
	Me(w http.ResponseWriter, r *http.Request)
	MyClaims(w http.ResponseWriter, r *http.Request)
	MyTasks(w http.ResponseWriter, r *http.Request)
}

type taskRoutes interface {
	Create(w http.ResponseWriter, r *http.Request)
	List(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request, taskID int64)
}

type claimRoutes interface {
	Submit(w http.ResponseWriter, r *http.Request, taskID int64)
	List(w http.ResponseWriter, r *http.Request, taskID int64)
	Accept(w http.ResponseWriter, r *http.Request, taskID, claimID int64)
	Rollback(w http.ResponseWriter, r *http.Request, taskID int64)
	Cancel(w http.ResponseWriter, r *http.Request, taskID int64)
	Start(w http.ResponseWriter, r *http.Request, taskID int64)
}

type deliverableRoutes interface {
	Submit(w http.ResponseWriter, r *http.Request, taskID int64)
	Accept(w http.ResponseWriter, r *http.Request, taskID, deliverableID int64)
	Revision(w http.ResponseWriter, r *http.Request, taskID, deliverableID int64)
	Review(w http.ResponseWriter, r *http.Request, taskID int64)
}

type webhookRoutes interface {
	Register(w http.ResponseWriter, r *http.Request)
	List(w http.ResponseWriter, r *http.Request)
	Delete(w http.ResponseWriter, r *http.Request, webhookID int64)
}

type creditRoutes interface {
	Transactions(w http.ResponseWriter, r *http.Request)
}

// Server owns route registration and bearer-key authentication for the
// marketplace API.
type Server struct {
	keys         auth.KeyStore
	agents       agentRoutes
	tasks        taskRoutes
	claims       claimRoutes
	deliverables deliverableRoutes
	webhooks     webhookRoutes
	credits      creditRoutes
}

// NewServer builds a Server over the resource handlers.
func NewServer(keys auth.KeyStore, agents agentRoutes, tasks taskRoutes, claims claimRoutes, deliverables deliverableRoutes, webhooks webhookRoutes, credits creditRoutes) *Server {
	return &Server{
		keys:         keys,
		agents:       agents,
		tasks:        tasks,
		claims:       claims,
		deliverables: deliverables,
		webhooks:     webhooks,
		credits:      credits,
	}
}

// RegisterRoutes attaches handlers to the mux. Registration is the one
// unauthenticated write; everything else under /api/v1 requires a key.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/agents", s.wrap(s.handleAgents))
	mux.HandleFunc("/api/v1/agents/", s.wrap(s.handleAgents))
	mux.HandleFunc("/api/v1/tasks", s.wrap(s.handleTasks))
	mux.HandleFunc("/api/v1/tasks/", s.wrap(s.handleTasks))
	mux.HandleFunc("/api/v1/webhooks", s.wrap(s.handleWebhooks))
	mux.HandleFunc("/api/v1/webhooks/", s.wrap(s.handleWebhooks))
	mux.HandleFunc("/api/v1/credits/transactions", s.wrap(s.handleCredits))
}

func (s *Server) wrap(next http.HandlerFunc) http.HandlerFunc {
	return middleware.RequestID(middleware.CORS(s.authWrap(next)))
}

// authWrap resolves the bearer credential to a principal. Registration and
// public task browsing pass through without one; every other route rejects
// the request before the handler runs.
func (s *Server) authWrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if s.publicRoute(r) {
				next(w, r)
				return
			}
			middleware.Error(w, r, http.StatusUnauthorized, middleware.CodeUnauthorized,
				"authentication required", "Send an Authorization: Bearer header with your API key.")
			return
		}
		if !auth.ValidKeyFormat(token) {
			middleware.Error(w, r, http.StatusUnauthorized, middleware.CodeUnauthorized,
				"malformed api key", "Keys look like thk_ followed by 64 hex characters.")
			return
		}
		p, ok, err := s.keys.Resolve(r.Context(), token)
		if err != nil {
			middleware.Error(w, r, http.StatusInternalServerError, middleware.CodeInternalError,
				"internal error", "Retry later; contact support if the problem persists.")
			return
		}
		if !ok {
			middleware.Error(w, r, http.StatusUnauthorized, middleware.CodeUnauthorized,
				"unknown api key", "Check the key or register a new agent.")
			return
		}
		if p.Status != "active" {
			middleware.Error(w, r, http.StatusForbidden, middleware.CodeForbidden,
				"agent is "+string(p.Status), "Contact support to reactivate the agent.")
			return
		}
		next(w, r.WithContext(middleware.WithPrincipal(r.Context(), p)))
	}
}

// publicRoute reports whether the request is reachable without a key:
// agent registration and read-only task browsing.
func (s *Server) publicRoute(r *http.Request) bool {
	path := strings.TrimSuffix(r.URL.Path, "/")
	if r.Method == http.MethodPost && path == "/api/v1/agents" {
		return true
	}
	if r.Method != http.MethodGet {
		return false
	}
	if path == "/api/v1/tasks" {
		return true
	}
	rest := strings.TrimPrefix(path, "/api/v1/tasks/")
	if rest != path && !strings.Contains(rest, "/") {
		_, err := strconv.ParseInt(rest, 10, 64)
		return err == nil
	}
	return false
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	middleware.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/agents"), "/")
	switch {
	case path == "" && r.Method == http.MethodPost:
		s.agents.Register(w, r)
	case path == "me" && r.Method == http.MethodGet:
		s.agents.Me(w, r)
	case path == "me/claims" && r.Method == http.MethodGet:
		s.agents.MyClaims(w, r)
	case path == "me/tasks" && r.Method == http.MethodGet:
		s.agents.MyTasks(w, r)
	default:
		s.notFound(w, r)
	}
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/tasks"), "/")
	if path == "" {
		switch r.Method {
		case http.MethodPost:
			s.tasks.Create(w, r)
		case http.MethodGet:
			s.tasks.List(w, r)
		default:
			s.methodNotAllowed(w, r)
		}
		return
	}

	parts := strings.Split(path, "/")
	taskID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		middleware.Error(w, r, http.StatusBadRequest, middleware.CodeInvalidParameter,
			"invalid task id", "Task ids are numeric.")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.tasks.Get(w, r, taskID)

	case len(parts) == 2 && parts[1] == "claims" && r.Method == http.MethodPost:
		s.claims.Submit(w, r, taskID)
	case len(parts) == 2 && parts[1] == "claims" && r.Method == http.MethodGet:
		s.claims.List(w, r, taskID)
	case len(parts) == 4 && parts[1] == "claims" && parts[3] == "accept" && r.Method == http.MethodPost:
		claimID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			middleware.Error(w, r, http.StatusBadRequest, middleware.CodeInvalidParameter,
				"invalid claim id", "Claim ids are numeric.")
			return
		}
		s.claims.Accept(w, r, taskID, claimID)

	case len(parts) == 2 && parts[1] == "rollback" && r.Method == http.MethodPost:
		s.claims.Rollback(w, r, taskID)
	case len(parts) == 2 && parts[1] == "cancel" && r.Method == http.MethodPost:
		s.claims.Cancel(w, r, taskID)
	case len(parts) == 2 && parts[1] == "start" && r.Method == http.MethodPost:
		s.claims.Start(w, r, taskID)

	case len(parts) == 2 && parts[1] == "deliverables" && r.Method == http.MethodPost:
		s.deliverables.Submit(w, r, taskID)
	case len(parts) == 4 && parts[1] == "deliverables" && r.Method == http.MethodPost:
		dlvID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			middleware.Error(w, r, http.StatusBadRequest, middleware.CodeInvalidParameter,
				"invalid deliverable id", "Deliverable ids are numeric.")
			return
		}
		switch parts[3] {
		case "accept":
			s.deliverables.Accept(w, r, taskID, dlvID)
		case "revision":
			s.deliverables.Revision(w, r, taskID, dlvID)
		default:
			s.notFound(w, r)
		}

	case len(parts) == 2 && parts[1] == "review" && r.Method == http.MethodPost:
		s.deliverables.Review(w, r, taskID)

	default:
		s.notFound(w, r)
	}
}

func (s *Server) handleWebhooks(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/webhooks"), "/")
	if path == "" {
		switch r.Method {
		case http.MethodPost:
			s.webhooks.Register(w, r)
		case http.MethodGet:
			s.webhooks.List(w, r)
		default:
			s.methodNotAllowed(w, r)
		}
		return
	}
	id, err := strconv.ParseInt(path, 10, 64)
	if err != nil {
		middleware.Error(w, r, http.StatusBadRequest, middleware.CodeInvalidParameter,
			"invalid webhook id", "Webhook ids are numeric.")
		return
	}
	if r.Method != http.MethodDelete {
		s.methodNotAllowed(w, r)
		return
	}
	s.webhooks.Delete(w, r, id)
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	s.credits.Transactions(w, r)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	middleware.Error(w, r, http.StatusNotFound, middleware.CodeNotFound,
		"no such route", "Check the path and method against the API reference.")
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.Error(w, r, http.StatusMethodNotAllowed, middleware.CodeInvalidParameter,
		"method not allowed", "Check the path and method against the API reference.")
}
