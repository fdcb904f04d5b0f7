/*
service.go - Request state machine and balance administration

PURPOSE:
  The four core operations (Submit, Approve, Reject, Cancel) plus the
  read models and the balance initialization/rollover primitives used by
  the batch collaborator. Each operation is one bounded transaction that
  takes its locks in a fixed order, writes its audit entries, and only
  then returns.

TRANSACTION FLOW:
  Submit:  requester lock -> overlap check -> soft balance check -> insert
  Approve: request lock -> authority -> pending? -> recompute days ->
           balance lock -> hard check -> used += days
  Reject:  request lock -> authority -> pending? -> reason required
  Cancel:  request lock -> pending/approved? -> who may cancel ->
           (approved only) balance lock -> used -= days

RETRIES:
  ErrLockContention aborts the attempt; the whole transaction is retried
  up to LockRetries times with jittered backoff before it is surfaced.

NOTIFICATIONS:
  Sent after commit. Failures are logged only.

SEE ALSO:
  - validator.go, ledger.go, authority.go, machine.go, audit.go
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/calendar"
)

// HolidayProvider supplies the current holiday set.
type HolidayProvider interface {
	Set(ctx context.Context) (calendar.HolidaySet, error)
}

// =============================================================================
// SERVICE
// =============================================================================

// Service is the leave engine.
type Service struct {
	store     Store
	directory Directory
	holidays  HolidayProvider
	weekend   calendar.Weekend
	validator Validator
	ledger    Ledger
	auditor   *Auditor
	notifier  Notifier
	logger    *zap.Logger

	lockRetries int
	backoff     time.Duration
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger; the service logs as "leave.service".
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNotifier sets the post-commit notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithDirectory sets the identity provider used to resolve requesters.
// Without one, the store's employees are used.
func WithDirectory(d Directory) Option {
	return func(s *Service) { s.directory = d }
}

// WithHolidays sets the holiday provider. Without one, holidays are read
// from the store on every resolution.
func WithHolidays(h HolidayProvider) Option {
	return func(s *Service) { s.holidays = h }
}

// WithWeekend sets the non-working weekdays.
func WithWeekend(w calendar.Weekend) Option {
	return func(s *Service) { s.weekend = w }
}

// WithFiscalYear sets the leave-year boundaries.
func WithFiscalYear(fy calendar.FiscalYear) Option {
	return func(s *Service) { s.validator.Fiscal = fy }
}

// WithLockRetries bounds how often a contended transaction is retried.
func WithLockRetries(n int, backoff time.Duration) Option {
	return func(s *Service) {
		if n >= 0 {
			s.lockRetries = n
		}
		s.backoff = backoff
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the engine over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		weekend:     calendar.DefaultWeekend(),
		validator:   Validator{Fiscal: calendar.CalendarYear},
		notifier:    nopNotifier{},
		logger:      zap.NewNop(),
		lockRetries: 3,
		backoff:     20 * time.Millisecond,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.holidays == nil {
		s.holidays = calendar.NewCachedHolidays(store, 0)
	}
	s.auditor = NewAuditor(s.logger)
	s.logger = s.logger.Named("leave.service")
	return s
}

// FiscalYear returns the configured leave-year boundaries.
func (s *Service) FiscalYear() calendar.FiscalYear { return s.validator.Fiscal }

// Resolver returns a calendar resolver over the current holiday set.
func (s *Service) Resolver(ctx context.Context) (calendar.Resolver, error) {
	set, err := s.holidays.Set(ctx)
	if err != nil {
		return calendar.Resolver{}, fmt.Errorf("load holidays: %w", err)
	}
	return calendar.NewResolver(set, s.weekend), nil
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitInput is a new request. RequesterID defaults to the actor; only
// HR and Admin may submit on someone else's behalf.
type SubmitInput struct {
	RequesterID EmployeeID
	LeaveTypeID LeaveTypeID
	StartDate   calendar.Date
	EndDate     calendar.Date
	StartHalf   bool
	EndHalf     bool
	Reason      string
}

// Submit validates and creates a Pending request. No balance row changes.
func (s *Service) Submit(ctx context.Context, actor Actor, in SubmitInput) (LeaveRequest, error) {
	requester := in.RequesterID
	if requester == "" {
		requester = actor.ID
	}
	if requester == "" {
		return LeaveRequest{}, fmt.Errorf("%w: requester is required", ErrInvalidInput)
	}
	if in.LeaveTypeID == "" {
		return LeaveRequest{}, fmt.Errorf("%w: leave type is required", ErrInvalidInput)
	}
	if requester != actor.ID && !actor.IsPrivileged() {
		return LeaveRequest{}, fmt.Errorf("%w: %s may not submit for %s", ErrUnauthorized, actor.ID, requester)
	}
	if _, err := calendar.NewDateRange(in.StartDate, in.EndDate); err != nil {
		return LeaveRequest{}, err
	}

	resolver, err := s.Resolver(ctx)
	if err != nil {
		return LeaveRequest{}, err
	}

	var out LeaveRequest
	err = s.inTx(ctx, "submit", func(tx Tx) error {
		lt, err := tx.GetLeaveType(ctx, in.LeaveTypeID)
		if err != nil {
			return fmt.Errorf("leave type %s: %w", in.LeaveTypeID, err)
		}
		if !lt.IsActive {
			return fmt.Errorf("%w: leave type %s is inactive", ErrInvalidInput, lt.ID)
		}

		now := s.now().UTC()
		req := LeaveRequest{
			ID:          RequestID(uuid.NewString()),
			RequesterID: requester,
			LeaveTypeID: lt.ID,
			StartDate:   in.StartDate,
			EndDate:     in.EndDate,
			StartHalf:   in.StartHalf,
			EndHalf:     in.EndHalf,
			Reason:      strings.TrimSpace(in.Reason),
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.validator.Validate(ctx, tx, resolver, lt, &req); err != nil {
			return err
		}
		if err := tx.InsertRequest(ctx, req); err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		if err := s.auditor.Record(ctx, tx, EntityRequest, string(req.ID), actor, ActionSubmit, nil, req, req.Reason); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return LeaveRequest{}, s.fail("submit", "", err)
	}

	s.logger.Info("request submitted",
		zap.String("request_id", string(out.ID)),
		zap.String("requester_id", string(out.RequesterID)),
		zap.String("leave_type_id", string(out.LeaveTypeID)),
		zap.String("days", out.DaysCount.String()),
	)
	s.notify(ctx, EventSubmitted, out, actor)
	return out, nil
}

// =============================================================================
// APPROVE
// =============================================================================

// Approve commits the request's days to the balance. The day count is
// recomputed from the current calendar; if it differs from the stored
// value the fresh value is committed and the drift noted in the audit.
func (s *Service) Approve(ctx context.Context, approver Actor, id RequestID, comment string) (LeaveRequest, error) {
	resolver, err := s.Resolver(ctx)
	if err != nil {
		return LeaveRequest{}, err
	}
	comment = strings.TrimSpace(comment)

	var out LeaveRequest
	err = s.inTx(ctx, "approve", func(tx Tx) error {
		req, err := tx.LockRequest(ctx, id)
		if err != nil {
			return fmt.Errorf("request %s: %w", id, err)
		}
		requester, err := s.requesterActor(ctx, tx, req.RequesterID)
		if err != nil {
			return err
		}
		if !CanApprove(approver, requester) {
			return requestError(ErrUnauthorized, req, "%s may not approve requests by %s", approver.ID, req.RequesterID)
		}
		if err := checkTransition(req, StatusApproved); err != nil {
			return err
		}

		lt, err := tx.GetLeaveType(ctx, req.LeaveTypeID)
		if err != nil {
			return fmt.Errorf("leave type %s: %w", req.LeaveTypeID, err)
		}
		days, _, err := s.validator.DaysFor(resolver, req)
		if err != nil {
			return requestError(ErrInvalidRange, req, "recompute days: %v", err)
		}
		auditComment := comment
		if !days.Equal(req.DaysCount) {
			s.logger.Warn("day count drift at approval",
				zap.String("request_id", string(req.ID)),
				zap.String("submitted_days", req.DaysCount.String()),
				zap.String("current_days", days.String()),
			)
			auditComment = joinComment(comment, fmt.Sprintf("days recomputed from %s to %s", req.DaysCount, days))
		}

		change, err := s.ledger.Commit(ctx, tx, req, lt, days)
		if err != nil {
			return err
		}

		before := req
		decided := s.now().UTC()
		req.Status = StatusApproved
		req.ApproverID = approver.ID
		req.DecisionAt = &decided
		req.DecisionComment = comment
		req.DaysCount = days
		req.UpdatedAt = decided
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("update request: %w", err)
		}

		if err := s.auditor.Record(ctx, tx, EntityRequest, string(req.ID), approver, ActionApprove, before, req, auditComment); err != nil {
			return err
		}
		if err := s.auditor.Record(ctx, tx, EntityBalance, change.After.BalanceKey.String(), approver, ActionCommit,
			change.Before, change.After, "request "+string(req.ID)); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return LeaveRequest{}, s.fail("approve", id, err)
	}

	s.logger.Info("request approved",
		zap.String("request_id", string(out.ID)),
		zap.String("approver_id", string(approver.ID)),
		zap.String("days", out.DaysCount.String()),
	)
	s.notify(ctx, EventApproved, out, approver)
	return out, nil
}

// =============================================================================
// REJECT
// =============================================================================

// Reject closes a Pending request. The reason is mandatory.
func (s *Service) Reject(ctx context.Context, approver Actor, id RequestID, reason string) (LeaveRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return LeaveRequest{}, &RequestError{Kind: ErrInvalidInput, RequestID: id, Message: "rejection reason is required"}
	}

	var out LeaveRequest
	err := s.inTx(ctx, "reject", func(tx Tx) error {
		req, err := tx.LockRequest(ctx, id)
		if err != nil {
			return fmt.Errorf("request %s: %w", id, err)
		}
		requester, err := s.requesterActor(ctx, tx, req.RequesterID)
		if err != nil {
			return err
		}
		if !CanApprove(approver, requester) {
			return requestError(ErrUnauthorized, req, "%s may not reject requests by %s", approver.ID, req.RequesterID)
		}
		if err := checkTransition(req, StatusRejected); err != nil {
			return err
		}

		before := req
		decided := s.now().UTC()
		req.Status = StatusRejected
		req.ApproverID = approver.ID
		req.DecisionAt = &decided
		req.DecisionComment = reason
		req.UpdatedAt = decided
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		if err := s.auditor.Record(ctx, tx, EntityRequest, string(req.ID), approver, ActionReject, before, req, reason); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return LeaveRequest{}, s.fail("reject", id, err)
	}

	s.logger.Info("request rejected",
		zap.String("request_id", string(out.ID)),
		zap.String("approver_id", string(approver.ID)),
	)
	s.notify(ctx, EventRejected, out, approver)
	return out, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel withdraws a Pending request or, for HR/Admin, revokes an
// Approved one and releases its committed days.
func (s *Service) Cancel(ctx context.Context, actor Actor, id RequestID, comment string) (LeaveRequest, error) {
	comment = strings.TrimSpace(comment)

	var out LeaveRequest
	err := s.inTx(ctx, "cancel", func(tx Tx) error {
		req, err := tx.LockRequest(ctx, id)
		if err != nil {
			return fmt.Errorf("request %s: %w", id, err)
		}
		if err := checkTransition(req, StatusCancelled); err != nil {
			return err
		}
		requester, err := s.requesterActor(ctx, tx, req.RequesterID)
		if err != nil {
			return err
		}
		if !CanCancel(actor, requester, req.Status) {
			return requestError(ErrUnauthorized, req, "%s may not cancel this request", actor.ID)
		}

		before := req
		var release *BalanceChange
		if req.Status == StatusApproved {
			change, err := s.ledger.Release(ctx, tx, req, req.DaysCount)
			if err != nil {
				return err
			}
			release = &change
		}

		req.Status = StatusCancelled
		req.UpdatedAt = s.now().UTC()
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		if err := s.auditor.Record(ctx, tx, EntityRequest, string(req.ID), actor, ActionCancel, before, req, comment); err != nil {
			return err
		}
		if release != nil {
			if err := s.auditor.Record(ctx, tx, EntityBalance, release.After.BalanceKey.String(), actor, ActionRelease,
				release.Before, release.After, "request "+string(req.ID)); err != nil {
				return err
			}
		}
		out = req
		return nil
	})
	if err != nil {
		return LeaveRequest{}, s.fail("cancel", id, err)
	}

	s.logger.Info("request cancelled",
		zap.String("request_id", string(out.ID)),
		zap.String("actor_id", string(actor.ID)),
	)
	s.notify(ctx, EventCancelled, out, actor)
	return out, nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns one request if actor may see it.
func (s *Service) Get(ctx context.Context, actor Actor, id RequestID) (LeaveRequest, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return LeaveRequest{}, fmt.Errorf("request %s: %w", id, err)
	}
	requester, err := s.requesterActor(ctx, s.store, req.RequesterID)
	if err != nil {
		return LeaveRequest{}, err
	}
	if !CanView(actor, requester) {
		return LeaveRequest{}, requestError(ErrUnauthorized, req, "%s may not view this request", actor.ID)
	}
	return req, nil
}

// List returns the requests matching f that actor may see.
func (s *Service) List(ctx context.Context, actor Actor, f RequestFilter) ([]LeaveRequest, error) {
	reqs, err := s.store.ListRequests(ctx, f)
	if err != nil {
		return nil, err
	}
	if actor.IsPrivileged() {
		return reqs, nil
	}

	visible := make(map[EmployeeID]bool)
	out := make([]LeaveRequest, 0, len(reqs))
	for _, r := range reqs {
		ok, seen := visible[r.RequesterID]
		if !seen {
			requester, err := s.requesterActor(ctx, s.store, r.RequesterID)
			if err != nil {
				return nil, err
			}
			ok = CanView(actor, requester)
			visible[r.RequesterID] = ok
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Availability reports entitlement, usage and pending reservations for key.
func (s *Service) Availability(ctx context.Context, actor Actor, key BalanceKey) (Availability, error) {
	employee, err := s.requesterActor(ctx, s.store, key.EmployeeID)
	if err != nil {
		return Availability{}, err
	}
	if !CanView(actor, employee) {
		return Availability{}, fmt.Errorf("%w: %s may not view balances of %s", ErrUnauthorized, actor.ID, key.EmployeeID)
	}
	lt, err := s.store.GetLeaveType(ctx, key.LeaveTypeID)
	if err != nil {
		return Availability{}, fmt.Errorf("leave type %s: %w", key.LeaveTypeID, err)
	}
	bal, err := s.store.GetBalance(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		bal = LeaveBalance{BalanceKey: key}
	case err != nil:
		return Availability{}, err
	}
	pending, err := s.store.SumPending(ctx, key, "")
	if err != nil {
		return Availability{}, err
	}
	return Availability{
		BalanceKey:     key,
		Allocated:      bal.AllocatedDays,
		CarriedForward: bal.CarriedForwardDays,
		Used:           bal.UsedDays,
		Pending:        pending,
		Available:      Available(bal, pending),
		AllowsNegative: lt.AllowsNegativeBalance,
	}, nil
}

// History returns audit entries. Non-privileged actors may only read the
// history of a request they can see.
func (s *Service) History(ctx context.Context, actor Actor, f AuditFilter) ([]AuditEntry, error) {
	if !actor.IsPrivileged() {
		if f.EntityType != EntityRequest || f.EntityID == "" {
			return nil, fmt.Errorf("%w: audit history requires HR or Admin", ErrUnauthorized)
		}
		if _, err := s.Get(ctx, actor, RequestID(f.EntityID)); err != nil {
			return nil, err
		}
	}
	return s.store.ListAudit(ctx, f)
}

// =============================================================================
// BALANCE ADMINISTRATION
// =============================================================================

// InitializeBalance creates key's row from the leave type's accrual rule,
// prorated by hire date. An existing row is returned unchanged.
func (s *Service) InitializeBalance(ctx context.Context, actor Actor, key BalanceKey) (LeaveBalance, error) {
	if !actor.IsPrivileged() {
		return LeaveBalance{}, fmt.Errorf("%w: balance initialization requires HR or Admin", ErrUnauthorized)
	}

	var out LeaveBalance
	err := s.inTx(ctx, "initialize", func(tx Tx) error {
		lt, err := tx.GetLeaveType(ctx, key.LeaveTypeID)
		if err != nil {
			return fmt.Errorf("leave type %s: %w", key.LeaveTypeID, err)
		}
		allocated := Allocation(lt, s.validator.Fiscal, key.Year, s.hireDate(ctx, tx, key.EmployeeID))
		change, created, err := s.ledger.Initialize(ctx, tx, key, allocated)
		if err != nil {
			return err
		}
		if created {
			if err := s.auditor.Record(ctx, tx, EntityBalance, key.String(), actor, ActionInitialize, nil, change.After, ""); err != nil {
				return err
			}
		}
		out = change.After
		return nil
	})
	if err != nil {
		return LeaveBalance{}, s.fail("initialize", "", err)
	}
	return out, nil
}

// Rollover carries the previous year's remaining days into key's row,
// creating it if needed.
func (s *Service) Rollover(ctx context.Context, actor Actor, key BalanceKey) (LeaveBalance, error) {
	if !actor.IsPrivileged() {
		return LeaveBalance{}, fmt.Errorf("%w: rollover requires HR or Admin", ErrUnauthorized)
	}

	var out LeaveBalance
	err := s.inTx(ctx, "rollover", func(tx Tx) error {
		lt, err := tx.GetLeaveType(ctx, key.LeaveTypeID)
		if err != nil {
			return fmt.Errorf("leave type %s: %w", key.LeaveTypeID, err)
		}
		allocated := Allocation(lt, s.validator.Fiscal, key.Year, s.hireDate(ctx, tx, key.EmployeeID))
		change, err := s.ledger.Rollover(ctx, tx, key, lt, allocated)
		if err != nil {
			return err
		}
		if change.Before == nil || change.Before.Version != change.After.Version {
			comment := fmt.Sprintf("carried forward %s from %d", change.After.CarriedForwardDays, key.Year-1)
			if change.Note != "" {
				comment += "; " + change.Note
			}
			if err := s.auditor.Record(ctx, tx, EntityBalance, key.String(), actor, ActionRollover, change.Before, change.After, comment); err != nil {
				return err
			}
		}
		out = change.After
		return nil
	})
	if err != nil {
		return LeaveBalance{}, s.fail("rollover", "", err)
	}
	return out, nil
}

// =============================================================================
// CONFIGURATION DATA
// =============================================================================

// SaveLeaveType creates or updates a leave type. Once any request
// references a type, only its name and active flag may change.
func (s *Service) SaveLeaveType(ctx context.Context, actor Actor, lt LeaveType) error {
	if !actor.IsPrivileged() {
		return fmt.Errorf("%w: leave type changes require HR or Admin", ErrUnauthorized)
	}
	if lt.ID == "" || strings.TrimSpace(lt.Name) == "" {
		return fmt.Errorf("%w: leave type id and name are required", ErrInvalidInput)
	}
	if lt.DefaultAllocationDays.IsNegative() || lt.MaxCarryoverDays.IsNegative() || lt.Accrual.Rate.IsNegative() {
		return fmt.Errorf("%w: leave type amounts must not be negative", ErrInvalidInput)
	}
	switch lt.Accrual.Kind {
	case "":
		lt.Accrual.Kind = AccrualAnnual
	case AccrualAnnual, AccrualMonthly, AccrualPerPayPeriod:
	default:
		return fmt.Errorf("%w: unknown accrual kind %q", ErrInvalidInput, lt.Accrual.Kind)
	}

	return s.inTx(ctx, "save_leave_type", func(tx Tx) error {
		existing, err := tx.GetLeaveType(ctx, lt.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			if lt.CreatedAt.IsZero() {
				lt.CreatedAt = s.now().UTC()
			}
			return tx.SaveLeaveType(ctx, lt)
		case err != nil:
			return err
		}

		lt.CreatedAt = existing.CreatedAt
		refs, err := tx.ListRequests(ctx, RequestFilter{LeaveTypeID: lt.ID, Limit: 1})
		if err != nil {
			return err
		}
		if len(refs) > 0 && !sameTerms(existing, lt) {
			return fmt.Errorf("%w: leave type %s is referenced by requests; only name and active flag may change", ErrInvalidInput, lt.ID)
		}
		return tx.SaveLeaveType(ctx, lt)
	})
}

// DeactivateLeaveType stops new submissions against a type.
func (s *Service) DeactivateLeaveType(ctx context.Context, actor Actor, id LeaveTypeID) error {
	if !actor.IsPrivileged() {
		return fmt.Errorf("%w: leave type changes require HR or Admin", ErrUnauthorized)
	}
	return s.inTx(ctx, "deactivate_leave_type", func(tx Tx) error {
		lt, err := tx.GetLeaveType(ctx, id)
		if err != nil {
			return fmt.Errorf("leave type %s: %w", id, err)
		}
		lt.IsActive = false
		return tx.SaveLeaveType(ctx, lt)
	})
}

// SaveEmployee creates or updates a directory record.
func (s *Service) SaveEmployee(ctx context.Context, actor Actor, e Employee) error {
	if !actor.IsPrivileged() {
		return fmt.Errorf("%w: employee changes require HR or Admin", ErrUnauthorized)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: employee id is required", ErrInvalidInput)
	}
	if e.ManagerID == e.ID {
		return fmt.Errorf("%w: employee cannot manage themselves", ErrInvalidInput)
	}
	if e.Role == "" {
		e.Role = RoleEmployee
	}
	if _, err := ParseRole(string(e.Role)); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	return s.inTx(ctx, "save_employee", func(tx Tx) error {
		return tx.SaveEmployee(ctx, e)
	})
}

// AddHoliday stores a holiday and invalidates the cached holiday set.
func (s *Service) AddHoliday(ctx context.Context, actor Actor, h calendar.Holiday) (calendar.Holiday, error) {
	if !actor.IsPrivileged() {
		return calendar.Holiday{}, fmt.Errorf("%w: holiday changes require HR or Admin", ErrUnauthorized)
	}
	if h.Date.IsZero() {
		return calendar.Holiday{}, fmt.Errorf("%w: holiday date is required", ErrInvalidInput)
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if err := s.inTx(ctx, "add_holiday", func(tx Tx) error { return tx.SaveHoliday(ctx, h) }); err != nil {
		return calendar.Holiday{}, err
	}
	s.invalidateHolidays()
	return h, nil
}

// DeleteHoliday removes a holiday and invalidates the cached holiday set.
func (s *Service) DeleteHoliday(ctx context.Context, actor Actor, id string) error {
	if !actor.IsPrivileged() {
		return fmt.Errorf("%w: holiday changes require HR or Admin", ErrUnauthorized)
	}
	if err := s.inTx(ctx, "delete_holiday", func(tx Tx) error { return tx.DeleteHoliday(ctx, id) }); err != nil {
		return err
	}
	s.invalidateHolidays()
	return nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// inTx runs fn in a store transaction, retrying on lock contention.
func (s *Service) inTx(ctx context.Context, op string, fn func(tx Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.store.WithTx(ctx, fn)
		if err == nil || !IsRetryable(err) || attempt >= s.lockRetries {
			return err
		}
		wait := s.backoffFor(attempt)
		s.logger.Warn("lock contention, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
		)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
	}
}

func (s *Service) backoffFor(attempt int) time.Duration {
	if s.backoff <= 0 {
		return 0
	}
	base := s.backoff << attempt
	return base + rand.N(s.backoff)
}

// fail logs err and hides lock details behind a RequestError.
func (s *Service) fail(op string, id RequestID, err error) error {
	if IsRetryable(err) {
		s.logger.Warn("lock contention exhausted retries", zap.String("op", op), zap.String("request_id", string(id)))
		var re *RequestError
		if errors.As(err, &re) {
			return err
		}
		return &RequestError{Kind: ErrLockContention, RequestID: id, Message: "resource busy, retry the operation"}
	}
	if IsClientError(err) || errors.Is(err, ErrUnauthorized) || IsNotFound(err) {
		s.logger.Info("operation refused", zap.String("op", op), zap.String("request_id", string(id)), zap.Error(err))
		return err
	}
	s.logger.Error("operation failed", zap.String("op", op), zap.String("request_id", string(id)), zap.Error(err))
	return err
}

func (s *Service) notify(ctx context.Context, typ EventType, req LeaveRequest, actor Actor) {
	ev := Event{Type: typ, Request: req, Actor: actor, OccurredAt: s.now().UTC()}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Warn("notification failed",
			zap.String("event", string(typ)),
			zap.String("request_id", string(req.ID)),
			zap.Error(err),
		)
	}
}

// requesterActor resolves an employee through the directory, falling back
// to r. Unknown employees resolve to a plain employee with no manager, so
// only HR and Admin can act on their requests.
func (s *Service) requesterActor(ctx context.Context, r Reader, id EmployeeID) (Actor, error) {
	var dir Directory = r
	if s.directory != nil {
		dir = s.directory
	}
	e, err := dir.GetEmployee(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return Actor{ID: id, Role: RoleEmployee}, nil
	case err != nil:
		return Actor{}, fmt.Errorf("resolve employee %s: %w", id, err)
	}
	return e.Actor(), nil
}

func (s *Service) hireDate(ctx context.Context, r Reader, id EmployeeID) calendar.Date {
	e, err := r.GetEmployee(ctx, id)
	if err != nil {
		return calendar.Date{}
	}
	return e.HireDate
}

func (s *Service) invalidateHolidays() {
	if inv, ok := s.holidays.(interface{ Invalidate() }); ok {
		inv.Invalidate()
	}
}

func sameTerms(a, b LeaveType) bool {
	return a.DefaultAllocationDays.Equal(b.DefaultAllocationDays) &&
		a.MaxCarryoverDays.Equal(b.MaxCarryoverDays) &&
		a.Accrual.Kind == b.Accrual.Kind &&
		a.Accrual.Rate.Equal(b.Accrual.Rate) &&
		a.AllowsNegativeBalance == b.AllowsNegativeBalance
}

func joinComment(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "; ")
}
