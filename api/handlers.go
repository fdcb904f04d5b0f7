/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the leave engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every decision to leave.Service. The
  acting identity always comes from the bearer token, never the body.

ENDPOINTS:
  Requests:
    POST   /api/requests                         Submit (Idempotency-Key aware)
    GET    /api/requests                         List visible requests
    GET    /api/requests/{id}                    Get one request
    POST   /api/requests/{id}/approve            Approve {comment}
    POST   /api/requests/{id}/reject             Reject {reason}
    POST   /api/requests/{id}/cancel             Cancel {comment}

  Balances:
    GET    /api/employees/{id}/balances/{type}   Availability (?year=)

  Configuration (HR/Admin for writes):
    GET    /api/leave-types                      List leave types
    PUT    /api/leave-types/{id}                 Create or update a type
    DELETE /api/leave-types/{id}                 Deactivate a type
    PUT    /api/employees/{id}                   Create or update an employee
    GET    /api/holidays                         List holidays
    POST   /api/holidays                         Add a holiday
    DELETE /api/holidays/{id}                    Remove a holiday

  Admin (HR/Admin):
    POST   /api/admin/balances                   Initialize a balance row
    POST   /api/admin/rollover                   Roll one key or a whole year

  Audit:
    GET    /api/audit                            History (?entity_type=&entity_id=&limit=)

ERROR HANDLING:
  Engine errors are mapped by errors.go:
  - 400: InvalidRange, InvalidInput, malformed body
  - 403: Unauthorized
  - 404: NotFound
  - 409: OverlappingRequest, InvalidTransition
  - 422: InsufficientBalance (with stage)
  - 503: LockContention (with Retry-After)
  - 500: AuditWriteFailed, anything unexpected

SEE ALSO:
  - dto.go: Request bodies and envelopes
  - server.go: Router setup and middleware
  - leave/service.go: The operations behind every handler
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *leave.Service
	Store   leave.Reader
	Logger  *zap.Logger

	// DefaultRolloverWorkers bounds POST /api/admin/rollover fan-out when
	// the body does not say.
	DefaultRolloverWorkers int

	catalog  *factory.CatalogFactory
	validate *validator.Validate
	now      func() time.Time
}

// NewHandler creates a handler over svc. store serves the configuration
// reads that need no authorization decision.
func NewHandler(svc *leave.Service, store leave.Reader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:                svc,
		Store:                  store,
		Logger:                 logger.Named("api"),
		DefaultRolloverWorkers: 4,
		catalog:                factory.NewCatalogFactory(),
		validate:               newValidator(),
		now:                    time.Now,
	}
}

// actor returns the identity Authenticate attached.
func actor(r *http.Request) leave.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// SubmitRequest creates a pending request.
// POST /api/requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequestBody
	if err := h.decode(r, &body, false); err != nil {
		writeBadRequest(w, err)
		return
	}
	start, err := calendar.ParseDate(body.StartDate)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	end, err := calendar.ParseDate(body.EndDate)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	req, err := h.Service.Submit(r.Context(), actor(r), leave.SubmitInput{
		RequesterID: leave.EmployeeID(body.EmployeeID),
		LeaveTypeID: leave.LeaveTypeID(body.LeaveTypeID),
		StartDate:   start,
		EndDate:     end,
		StartHalf:   body.StartHalf,
		EndHalf:     body.EndHalf,
		Reason:      body.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/requests/"+string(req.ID))
	writeJSON(w, http.StatusCreated, req)
}

// ListRequests returns the requests the actor may see.
// GET /api/requests?status=&employee_id=&leave_type_id=&year=&limit=
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := leave.RequestFilter{
		RequesterID: leave.EmployeeID(q.Get("employee_id")),
		LeaveTypeID: leave.LeaveTypeID(q.Get("leave_type_id")),
	}
	if s := q.Get("status"); s != "" {
		st, err := leave.ParseStatus(s)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		f.Status = st
	}
	var err error
	if f.Year, err = intParam(q.Get("year"), 0); err != nil {
		writeBadRequest(w, err)
		return
	}
	if f.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		writeBadRequest(w, err)
		return
	}

	reqs, err := h.Service.List(r.Context(), actor(r), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []leave.LeaveRequest{}
	}
	writeJSON(w, http.StatusOK, RequestListResponse{Requests: reqs, Count: len(reqs)})
}

// GetRequest returns one request.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.Get(r.Context(), actor(r), leave.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// transition is one of the service's decision operations.
type transition func(r *http.Request, a leave.Actor, id leave.RequestID, text string) (leave.LeaveRequest, error)

// decide runs one of approve, reject or cancel.
func (h *Handler) decide(w http.ResponseWriter, r *http.Request, op transition) {
	var body DecisionBody
	if err := h.decode(r, &body, true); err != nil {
		writeBadRequest(w, err)
		return
	}
	req, err := op(r, actor(r), leave.RequestID(chi.URLParam(r, "id")), body.Text())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ApproveRequest commits the request's days to the balance.
// POST /api/requests/{id}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(r *http.Request, a leave.Actor, id leave.RequestID, text string) (leave.LeaveRequest, error) {
		return h.Service.Approve(r.Context(), a, id, text)
	})
}

// RejectRequest rejects a pending request.
// POST /api/requests/{id}/reject
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(r *http.Request, a leave.Actor, id leave.RequestID, text string) (leave.LeaveRequest, error) {
		return h.Service.Reject(r.Context(), a, id, text)
	})
}

// CancelRequest cancels a pending or approved request.
// POST /api/requests/{id}/cancel
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(r *http.Request, a leave.Actor, id leave.RequestID, text string) (leave.LeaveRequest, error) {
		return h.Service.Cancel(r.Context(), a, id, text)
	})
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetAvailability reports a balance including pending reservations. The
// year defaults to the current leave year.
// GET /api/employees/{id}/balances/{type}?year=
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	current := h.Service.FiscalYear().YearOf(calendar.DateOf(h.now().UTC()))
	year, err := intParam(r.URL.Query().Get("year"), current)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	av, err := h.Service.Availability(r.Context(), actor(r), leave.BalanceKey{
		EmployeeID:  leave.EmployeeID(chi.URLParam(r, "id")),
		LeaveTypeID: leave.LeaveTypeID(chi.URLParam(r, "type")),
		Year:        year,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

// InitializeBalance creates a balance row from the type's accrual rule.
// POST /api/admin/balances
func (h *Handler) InitializeBalance(w http.ResponseWriter, r *http.Request) {
	var body BalanceKeyBody
	if err := h.decode(r, &body, false); err != nil {
		writeBadRequest(w, err)
		return
	}
	bal, err := h.Service.InitializeBalance(r.Context(), actor(r), body.Key())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// TriggerRollover rolls one key into body.Year, or every key of the
// previous year when no employee is given.
// POST /api/admin/rollover
func (h *Handler) TriggerRollover(w http.ResponseWriter, r *http.Request) {
	var body RolloverBody
	if err := h.decode(r, &body, false); err != nil {
		writeBadRequest(w, err)
		return
	}

	if body.EmployeeID != "" {
		bal, err := h.Service.Rollover(r.Context(), actor(r), leave.BalanceKey{
			EmployeeID:  leave.EmployeeID(body.EmployeeID),
			LeaveTypeID: leave.LeaveTypeID(body.LeaveTypeID),
			Year:        body.Year,
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bal)
		return
	}

	workers := body.Workers
	if workers == 0 {
		workers = h.DefaultRolloverWorkers
	}
	report, err := h.Service.RolloverYear(r.Context(), actor(r), body.Year, workers)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAudit returns audit history.
// GET /api/audit?entity_type=&entity_id=&limit=
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	entries, err := h.Service.History(r.Context(), actor(r), leave.AuditFilter{
		EntityType: leave.EntityType(q.Get("entity_type")),
		EntityID:   q.Get("entity_id"),
		Limit:      limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []leave.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, AuditListResponse{Entries: entries, Count: len(entries)})
}

// =============================================================================
// CONFIGURATION HANDLERS
// =============================================================================

// ListLeaveTypes returns every leave type.
// GET /api/leave-types
func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Store.ListLeaveTypes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if types == nil {
		types = []leave.LeaveType{}
	}
	writeJSON(w, http.StatusOK, LeaveTypeListResponse{LeaveTypes: types})
}

// SaveLeaveType creates or updates a leave type from its catalog JSON.
// PUT /api/leave-types/{id}
func (h *Handler) SaveLeaveType(w http.ResponseWriter, r *http.Request) {
	var body factory.LeaveTypeJSON
	if err := h.decode(r, &body, false); err != nil {
		writeBadRequest(w, err)
		return
	}
	body.ID = chi.URLParam(r, "id")
	lt, err := h.catalog.LeaveTypeFromJSON(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Service.SaveLeaveType(r.Context(), actor(r), lt); err != nil {
		h.writeError(w, r, err)
		return
	}
	saved, err := h.Store.GetLeaveType(r.Context(), lt.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// DeactivateLeaveType stops new submissions against a type.
// DELETE /api/leave-types/{id}
func (h *Handler) DeactivateLeaveType(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeactivateLeaveType(r.Context(), actor(r), leave.LeaveTypeID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SaveEmployee creates or updates a directory record.
// PUT /api/employees/{id}
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var body EmployeeBody
	if err := h.decode(r, &body, false); err != nil {
		writeBadRequest(w, err)
		return
	}
	e := leave.Employee{
		ID:        leave.EmployeeID(chi.URLParam(r, "id")),
		Name:      body.Name,
		Email:     body.Email,
		Role:      leave.Role(body.Role),
		ManagerID: leave.EmployeeID(body.ManagerID),
	}
	if body.HireDate != "" {
		d, err := calendar.ParseDate(body.HireDate)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		e.HireDate = d
	}
	if err := h.Service.SaveEmployee(r.Context(), actor(r), e); err != nil {
		h.writeError(w, r, err)
		return
	}
	saved, err := h.Store.GetEmployee(r.Context(), e.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// ListHolidays returns configured holidays.
// GET /api/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Store.ListHolidays(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if holidays == nil {
		holidays = []calendar.Holiday{}
	}
	writeJSON(w, http.StatusOK, HolidayListResponse{Holidays: holidays})
}

// CreateHoliday adds a holiday. Requests already submitted keep their
// day count until approval re-resolves it.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var body HolidayBody
	if err := h.decode(r, &body, false); err != nil {
		writeBadRequest(w, err)
		return
	}
	d, err := calendar.ParseDate(body.Date)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	hol, err := h.Service.AddHoliday(r.Context(), actor(r), calendar.Holiday{Date: d, Name: body.Name, Recurring: body.Recurring})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, hol)
}

// DeleteHoliday removes a holiday.
// DELETE /api/holidays/{id}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteHoliday(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func intParam(s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, &paramError{value: s}
	}
	return v, nil
}

type paramError struct{ value string }

func (e *paramError) Error() string { return "invalid numeric parameter " + strconv.Quote(e.value) }
