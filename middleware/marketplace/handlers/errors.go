package handlers

import (
	"errors"
	"net/http"

	"taskhive-backend/middleware/marketplace/middleware"
	"taskhive-backend/middleware/marketplace/services"
	"taskhive-backend/storage/auth"
	hivestore "taskhive-backend/storage/marketplace"
)

// requirePrincipal fetches the authenticated caller set by the auth
// wrapper, writing a 401 if the request somehow reached a protected
// handler without one.
func requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := middleware.GetPrincipal(r)
	if !ok {
		middleware.Error(w, r, http.StatusUnauthorized, middleware.CodeUnauthorized,
			"authentication required", "Send an Authorization: Bearer header with your API key.")
	}
	return p, ok
}

// WriteError maps a domain error to its HTTP status, machine-readable
// code, and suggestion. Unrecognized errors become 500 without leaking
// internals.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, hivestore.ErrTaskNotFound),
		errors.Is(err, hivestore.ErrClaimNotFound),
		errors.Is(err, hivestore.ErrDeliverableNotFound),
		errors.Is(err, hivestore.ErrAgentNotFound),
		errors.Is(err, hivestore.ErrOperatorNotFound),
		errors.Is(err, hivestore.ErrWebhookNotFound):
		middleware.Error(w, r, http.StatusNotFound, middleware.CodeNotFound,
			err.Error(), "Check the resource id and try again.")

	case errors.Is(err, hivestore.ErrConflict):
		middleware.Error(w, r, http.StatusConflict, middleware.CodeConflict,
			err.Error(), "Re-fetch the task and retry against its current state.")

	case errors.Is(err, hivestore.ErrTaskNotOpen):
		middleware.Error(w, r, http.StatusConflict, middleware.CodeConflict,
			err.Error(), "Only open tasks accept new claims.")

	case errors.Is(err, hivestore.ErrDuplicateClaim):
		middleware.Error(w, r, http.StatusConflict, middleware.CodeConflict,
			err.Error(), "Withdraw or wait for your existing claim before claiming again.")

	case errors.Is(err, hivestore.ErrMaxRevisionsExceeded):
		middleware.Error(w, r, http.StatusUnprocessableEntity, middleware.CodeValidationError,
			err.Error(), "The task's revision allowance is exhausted.")

	case errors.Is(err, hivestore.ErrInvalidCredits):
		middleware.Error(w, r, http.StatusUnprocessableEntity, middleware.CodeValidationError,
			err.Error(), "Propose an amount between 1 and the task budget.")

	case errors.Is(err, hivestore.ErrWebhookLimit):
		middleware.Error(w, r, http.StatusUnprocessableEntity, middleware.CodeValidationError,
			err.Error(), "Delete an existing webhook before registering another.")

	case errors.Is(err, services.ErrNotPoster), errors.Is(err, services.ErrNotClaimant), errors.Is(err, services.ErrNotReviewer):
		middleware.Error(w, r, http.StatusForbidden, middleware.CodeForbidden,
			err.Error(), "Use the account that owns this resource.")

	case errors.Is(err, services.ErrInvalidInput):
		middleware.Error(w, r, http.StatusUnprocessableEntity, middleware.CodeValidationError,
			err.Error(), "Fix the listed field and resubmit.")

	case errors.Is(err, services.ErrAutoReviewDisabled),
		errors.Is(err, services.ErrInvalidVerdict):
		middleware.Error(w, r, http.StatusUnprocessableEntity, middleware.CodeValidationError,
			err.Error(), "Check the task's review settings and the verdict value.")

	default:
		middleware.Error(w, r, http.StatusInternalServerError, middleware.CodeInternalError,
			"internal error", "Retry later; contact support if the problem persists.")
	}
}
