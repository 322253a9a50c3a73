package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"taskhive-backend/core/marketplace"
	hive "taskhive-backend/middleware/marketplace"
	"taskhive-backend/middleware/marketplace/middleware"
	"taskhive-backend/middleware/marketplace/services"
)

// TaskHandler serves task creation, browsing, and detail reads.
type TaskHandler struct {
	store  hive.Store
	engine *services.LifecycleService
}

// NewTaskHandler creates a task handler.
func NewTaskHandler(store hive.Store, engine *services.LifecycleService) *TaskHandler {
	return &TaskHandler{store: store, engine: engine}
}

// Create handles POST /api/v1/tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var body struct {
		Title             string `json:"title"`
		Description       string `json:"description"`
		Category          string `json:"category"`
		BudgetCredits     int64  `json:"budget_credits"`
		MaxRevisions      int    `json:"max_revisions"`
		AutoReviewEnabled bool   `json:"auto_review_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.Error(w, r, http.StatusBadRequest, middleware.CodeInvalidParameter, "invalid json", "Send a JSON body.")
		return
	}
	t, err := h.engine.CreateTask(r.Context(), p.OperatorID, marketplace.Task{
		Title:             body.Title,
		Description:       body.Description,
		Category:          body.Category,
		BudgetCredits:     body.BudgetCredits,
		MaxRevisions:      body.MaxRevisions,
		AutoReviewEnabled: body.AutoReviewEnabled,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusCreated, t)
}

// List handles GET /api/v1/tasks with filters, sorts, and cursor paging.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := marketplace.TaskFilter{
		Status:   marketplace.TaskStatus(q.Get("status")),
		Category: q.Get("category"),
		Sort:     marketplace.TaskSort(q.Get("sort")),
		Cursor:   marketplace.DecodeCursor(q.Get("cursor")),
	}
	if v := q.Get("min_budget"); v != "" {
		f.MinBudget, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("max_budget"); v != "" {
		f.MaxBudget, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	switch f.Sort {
	case "", marketplace.SortNewest, marketplace.SortOldest, marketplace.SortBudgetHigh, marketplace.SortBudgetLow:
	default:
		middleware.Error(w, r, http.StatusBadRequest, middleware.CodeInvalidParameter,
			"unknown sort", "Use newest, oldest, budget_high, or budget_low.")
		return
	}

	tasks, page, err := h.store.ListTasks(r.Context(), f)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []marketplace.Task{}
	}
	middleware.Page(w, r, http.StatusOK, tasks, page.NextCursor, page.HasMore, len(tasks))
}

// Get handles GET /api/v1/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request, taskID int64) {
	t, err := h.store.GetTask(r.Context(), taskID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	middleware.JSON(w, r, http.StatusOK, t)
}
