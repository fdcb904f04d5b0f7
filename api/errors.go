package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRange        = "INVALID_RANGE"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotFound            = "NOT_FOUND"
	CodeOverlappingRequest  = "OVERLAPPING_REQUEST"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeLockContention      = "LOCK_CONTENTION"
	CodeAuditWriteFailed    = "AUDIT_WRITE_FAILED"
	CodeProcessing          = "PROCESSING"
	CodeInternal            = "INTERNAL"
)

// retryAfterSeconds is sent with 503 on lock contention.
const retryAfterSeconds = 1

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// errorMapping pairs a sentinel with its HTTP status and code. Order
// matters: the first match wins.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{leave.ErrInvalidRange, http.StatusBadRequest, CodeInvalidRange},
	{leave.ErrInvalidInput, http.StatusBadRequest, CodeInvalidInput},
	{leave.ErrUnauthorized, http.StatusForbidden, CodeUnauthorized},
	{leave.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{leave.ErrOverlappingRequest, http.StatusConflict, CodeOverlappingRequest},
	{leave.ErrInvalidTransition, http.StatusConflict, CodeInvalidTransition},
	{leave.ErrInsufficientBalance, http.StatusUnprocessableEntity, CodeInsufficientBalance},
	{leave.ErrLockContention, http.StatusServiceUnavailable, CodeLockContention},
	{leave.ErrAuditWriteFailed, http.StatusInternalServerError, CodeAuditWriteFailed},
}

// toErrorResponse maps an engine error onto a status and body.
func toErrorResponse(err error) (int, ErrorResponse) {
	status, resp := http.StatusInternalServerError, ErrorResponse{Code: CodeInternal, Message: "internal error"}
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			status, resp = m.status, ErrorResponse{Code: m.code, Message: err.Error()}
			break
		}
	}

	// Lock and storage internals never reach clients.
	switch resp.Code {
	case CodeLockContention:
		resp.Message = "the balance is busy, retry the request"
	case CodeAuditWriteFailed:
		resp.Message = "the change could not be recorded and was not applied"
	}

	var reqErr *leave.RequestError
	if errors.As(err, &reqErr) {
		resp.RequestID = string(reqErr.RequestID)
		resp.Status = string(reqErr.Status)
	}

	var balErr *leave.InsufficientBalanceError
	if errors.As(err, &balErr) {
		resp.Stage = string(balErr.Stage)
		if resp.RequestID == "" {
			resp.RequestID = string(balErr.RequestID)
		}
		if resp.Status == "" {
			resp.Status = string(balErr.Status)
		}
		resp.Details = map[string]any{
			"balance":   balErr.Key,
			"available": balErr.Available.String(),
			"requested": balErr.Requested.String(),
			"shortfall": balErr.Shortfall().String(),
		}
	}

	var overlapErr *leave.OverlapError
	if errors.As(err, &overlapErr) {
		resp.Details = map[string]any{
			"conflicting_request_id": overlapErr.ConflictingID,
			"conflicting_status":     overlapErr.ConflictingStatus,
			"range":                  overlapErr.Range.String(),
		}
	}

	return status, resp
}

// =============================================================================
// WRITERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps err and logs anything that is not the caller's fault.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := toErrorResponse(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

// writeBadRequest reports body and query problems. Validation failures list
// every offending field.
func writeBadRequest(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Code: CodeInvalidInput, Message: err.Error()}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]any, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		resp.Message = "request body failed validation"
		resp.Details = map[string]any{"fields": fields}
	}
	writeJSON(w, http.StatusBadRequest, resp)
}
