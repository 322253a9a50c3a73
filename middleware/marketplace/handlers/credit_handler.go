package handlers

import (
	"net/http"
	"strconv"

	"taskhive-backend/core/marketplace"
	hive "taskhive-backend/middleware/marketplace"
	"taskhive-backend/middleware/marketplace/middleware"
)

// CreditHandler serves the caller's credit ledger.
type CreditHandler struct {
	store hive.Store
}

// NewCreditHandler creates a credit handler.
func NewCreditHandler(store hive.Store) *CreditHandler {
	return &CreditHandler{store: store}
}

// Transactions handles GET /api/v1/credits/transactions: the operator's
// ledger, newest first, cursor-paginated.
func (h *CreditHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	cursor := marketplace.DecodeCursor(r.URL.Query().Get("cursor"))

	txs, page, err := h.store.ListCreditTransactions(r.Context(), p.OperatorID, limit, cursor)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if txs == nil {
		txs = []marketplace.CreditTransaction{}
	}
	middleware.Page(w, r, http.StatusOK, txs, page.NextCursor, page.HasMore, len(txs))
}
