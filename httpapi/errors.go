package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"orderflow/approval"
	"orderflow/auth"
	"orderflow/handoff"
	"orderflow/order"
	"orderflow/settlement"
	"orderflow/wallet"
)

// Error kinds surfaced to clients. Stable values; clients branch on them.
const (
	KindValidation    = "ValidationError"
	KindAuthorization = "AuthorizationError"
	KindState         = "StateError"
	KindCode          = "CodeError"
	KindLedger        = "LedgerError"
	KindNotFound      = "NotFoundError"
	KindTransient     = "TransientError"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	State   string `json:"state,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// classify maps domain sentinels onto (kind, status). Unrecognized errors
// are transient: the caller retries the whole call.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return KindAuthorization, http.StatusUnauthorized
	case errors.Is(err, order.ErrActorNotAuthorized),
		errors.Is(err, approval.ErrAdminOnly):
		return KindAuthorization, http.StatusForbidden
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, approval.ErrRequestNotFound):
		return KindNotFound, http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrAlreadyTerminal),
		errors.Is(err, order.ErrAlreadyClaimed),
		errors.Is(err, order.ErrVersionConflict),
		errors.Is(err, handoff.ErrStageNotReady),
		errors.Is(err, approval.ErrRequestNotPending):
		return KindState, http.StatusConflict
	case errors.Is(err, handoff.ErrInvalidOrExpiredCode):
		return KindCode, http.StatusUnprocessableEntity
	case errors.Is(err, approval.ErrInsufficientLedgerBalance),
		errors.Is(err, approval.ErrApprovalExceedsTotal),
		errors.Is(err, wallet.ErrInsufficientBalance),
		errors.Is(err, settlement.ErrNoAgentRate):
		return KindLedger, http.StatusConflict
	case errors.Is(err, approval.ErrNotesRequired):
		return KindValidation, http.StatusBadRequest
	default:
		return KindTransient, http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error, state string) {
	kind, status := classify(err)
	if kind == KindTransient {
		s.log.Error("request failed", zap.Error(err))
	}
	msg := err.Error()
	if kind == KindTransient {
		// Internal details stay in the log.
		msg = "temporary failure, retry the whole call"
	}
	writeJSON(w, status, errorEnvelope{Error: errorBody{Kind: kind, Message: msg, State: state}})
}

func (s *Server) writeValidationError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{Kind: KindValidation, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
