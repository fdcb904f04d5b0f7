package leave_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/store/storetest"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	hr           = leave.Actor{ID: "hr", Role: leave.RoleHR}
	admin        = leave.Actor{ID: "admin", Role: leave.RoleAdmin}
	manager      = leave.Actor{ID: "mgr", Role: leave.RoleManager}
	otherManager = leave.Actor{ID: "mgr2", Role: leave.RoleManager}
	employee     = leave.Actor{ID: "emp", Role: leave.RoleEmployee, ManagerID: "mgr"}
	peer         = leave.Actor{ID: "peer", Role: leave.RoleEmployee, ManagerID: "mgr2"}
)

var (
	annualType = leave.LeaveType{
		ID: "annual", Name: "Annual Leave",
		DefaultAllocationDays: decimal.NewFromInt(20),
		MaxCarryoverDays:      decimal.NewFromInt(5),
		Accrual:               leave.AccrualRule{Kind: leave.AccrualAnnual},
		IsActive:              true,
	}
	smallType = leave.LeaveType{
		ID: "study", Name: "Study Leave",
		DefaultAllocationDays: decimal.NewFromInt(5),
		Accrual:               leave.AccrualRule{Kind: leave.AccrualAnnual},
		IsActive:              true,
	}
	unpaidType = leave.LeaveType{
		ID: "unpaid", Name: "Unpaid Leave",
		Accrual:               leave.AccrualRule{Kind: leave.AccrualAnnual},
		AllowsNegativeBalance: true,
		IsActive:              true,
	}
)

func d(s string) calendar.Date { return calendar.MustParseDate(s) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func key(emp leave.EmployeeID, typ leave.LeaveTypeID, year int) leave.BalanceKey {
	return leave.BalanceKey{EmployeeID: emp, LeaveTypeID: typ, Year: year}
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store leave.Store
	svc   *leave.Service

	mu     sync.Mutex
	events []leave.Event
}

// newFixture seeds leave types, a small org chart and initialized 2025
// balances for emp and peer.
func newFixture(t *testing.T, store leave.Store, opts ...leave.Option) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), store: store}
	opts = append([]leave.Option{
		leave.WithLockRetries(3, time.Millisecond),
		leave.WithNotifier(leave.NotifierFunc(func(_ context.Context, ev leave.Event) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.events = append(f.events, ev)
			return nil
		})),
	}, opts...)
	f.svc = leave.NewService(store, opts...)

	storetest.Seed(t, store, []leave.LeaveType{annualType, smallType, unpaidType}, []leave.Employee{
		{ID: "hr", Name: "Hana", Role: leave.RoleHR},
		{ID: "admin", Name: "Ada", Role: leave.RoleAdmin},
		{ID: "mgr", Name: "Maria", Role: leave.RoleManager},
		{ID: "mgr2", Name: "Mo", Role: leave.RoleManager},
		{ID: "emp", Name: "Erik", Role: leave.RoleEmployee, ManagerID: "mgr"},
		{ID: "peer", Name: "Pia", Role: leave.RoleEmployee, ManagerID: "mgr2"},
	})
	for _, k := range []leave.BalanceKey{
		key("emp", "annual", 2025), key("emp", "study", 2025), key("peer", "annual", 2025),
	} {
		_, err := f.svc.InitializeBalance(f.ctx, hr, k)
		require.NoError(t, err)
	}
	return f
}

func newMemoryFixture(t *testing.T, opts ...leave.Option) *fixture {
	return newFixture(t, memory.New(), opts...)
}

func (f *fixture) submit(actor leave.Actor, typ leave.LeaveTypeID, start, end string) (leave.LeaveRequest, error) {
	return f.svc.Submit(f.ctx, actor, leave.SubmitInput{
		LeaveTypeID: typ,
		StartDate:   d(start),
		EndDate:     d(end),
		Reason:      "time off",
	})
}

func (f *fixture) mustSubmit(actor leave.Actor, typ leave.LeaveTypeID, start, end string) leave.LeaveRequest {
	f.t.Helper()
	req, err := f.submit(actor, typ, start, end)
	require.NoError(f.t, err)
	return req
}

func (f *fixture) balance(k leave.BalanceKey) leave.LeaveBalance {
	f.t.Helper()
	b, err := f.store.GetBalance(f.ctx, k)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) audit(typ leave.EntityType, id string) []leave.AuditEntry {
	f.t.Helper()
	entries, err := f.store.ListAudit(f.ctx, leave.AuditFilter{EntityType: typ, EntityID: id})
	require.NoError(f.t, err)
	return entries
}

func (f *fixture) eventTypes() []leave.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []leave.EventType
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_SubmitApproveOverlapCancel(t *testing.T) {
	f := newMemoryFixture(t)
	annual := key("emp", "annual", 2025)

	// Scenario A: 5-day Mon-Fri submission leaves the balance untouched.
	req := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")
	assert.Equal(t, "5", req.DaysCount.String())
	assert.Equal(t, leave.StatusPending, req.Status)
	assert.Equal(t, 2025, req.Year)
	bal := f.balance(annual)
	assert.Equal(t, "20", bal.AllocatedDays.String())
	assert.True(t, bal.UsedDays.IsZero())

	// Scenario B: the manager approves.
	approved, err := f.svc.Approve(f.ctx, manager, req.ID, "enjoy")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, approved.Status)
	assert.Equal(t, leave.EmployeeID("mgr"), approved.ApproverID)
	require.NotNil(t, approved.DecisionAt)
	assert.Equal(t, "5", f.balance(annual).UsedDays.String())

	// Scenario C: an overlapping 3-day request is refused.
	_, err = f.submit(employee, "annual", "2025-03-13", "2025-03-17")
	require.ErrorIs(t, err, leave.ErrOverlappingRequest)
	var overlap *leave.OverlapError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, req.ID, overlap.ConflictingID)
	assert.Equal(t, leave.StatusApproved, overlap.ConflictingStatus)

	// Scenario E: HR cancels the approved request and usage is released.
	cancelled, err := f.svc.Cancel(f.ctx, hr, req.ID, "project moved")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusCancelled, cancelled.Status)
	assert.True(t, f.balance(annual).UsedDays.IsZero())

	balanceAudit := f.audit(leave.EntityBalance, annual.String())
	require.Len(t, balanceAudit, 3)
	assert.Equal(t, leave.ActionInitialize, balanceAudit[0].Action)
	assert.Equal(t, leave.ActionCommit, balanceAudit[1].Action)
	assert.Equal(t, leave.ActionRelease, balanceAudit[2].Action)
	assert.Equal(t, leave.EmployeeID("hr"), balanceAudit[2].ActorID)
	assert.Contains(t, string(balanceAudit[2].Before), `"used_days":"5"`)

	requestAudit := f.audit(leave.EntityRequest, string(req.ID))
	require.Len(t, requestAudit, 3)
	assert.Equal(t, leave.ActionSubmit, requestAudit[0].Action)
	assert.Equal(t, "null", string(requestAudit[0].Before))
	assert.Equal(t, leave.ActionApprove, requestAudit[1].Action)
	assert.Equal(t, "enjoy", requestAudit[1].Comment)
	assert.Equal(t, leave.ActionCancel, requestAudit[2].Action)

	assert.Equal(t, []leave.EventType{leave.EventSubmitted, leave.EventApproved, leave.EventCancelled}, f.eventTypes())
	storetest.AssertLedgerInvariant(t, f.store, annual)
}

func TestScenario_InsufficientBalanceAtSubmission(t *testing.T) {
	// GIVEN: allocated=5, used=5
	f := newMemoryFixture(t)
	study := key("emp", "study", 2025)
	req := f.mustSubmit(employee, "study", "2025-03-10", "2025-03-14")
	_, err := f.svc.Approve(f.ctx, manager, req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "5", f.balance(study).UsedDays.String())

	// WHEN: a 1-day request is submitted
	_, err = f.submit(employee, "study", "2025-04-01", "2025-04-01")

	// THEN: it is refused at submission
	require.ErrorIs(t, err, leave.ErrInsufficientBalance)
	var ibe *leave.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, leave.StageSubmission, ibe.Stage)
	assert.Empty(t, ibe.RequestID, "no stored request to point at")
	assert.Empty(t, ibe.Status)
	assert.True(t, ibe.Available.IsZero())
	assert.Equal(t, "1", ibe.Shortfall().String())

	reqs, err := f.store.ListRequests(f.ctx, leave.RequestFilter{RequesterID: "emp", LeaveTypeID: "study"})
	require.NoError(t, err)
	assert.Len(t, reqs, 1, "refused submission leaves no request behind")
}

// =============================================================================
// SUBMISSION
// =============================================================================

func TestSubmit_PendingRequestsReserveBalance(t *testing.T) {
	// GIVEN: 20 days, 15 already pending
	f := newMemoryFixture(t)
	f.mustSubmit(employee, "annual", "2025-03-03", "2025-03-14")
	f.mustSubmit(employee, "annual", "2025-05-05", "2025-05-09")

	avail, err := f.svc.Availability(f.ctx, employee, key("emp", "annual", 2025))
	require.NoError(t, err)
	assert.Equal(t, "15", avail.Pending.String())
	assert.Equal(t, "5", avail.Available.String())

	// WHEN: six more days are requested
	_, err = f.submit(employee, "annual", "2025-06-02", "2025-06-09")

	// THEN: the soft check counts the pending reservations
	var ibe *leave.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, "5", ibe.Available.String())
	assert.Equal(t, "6", ibe.Requested.String())

	// AND: exactly the remaining five days still fit
	f.mustSubmit(employee, "annual", "2025-06-02", "2025-06-06")
}

func TestSubmit_DayCounting(t *testing.T) {
	f := newMemoryFixture(t)
	_, err := f.svc.AddHoliday(f.ctx, hr, calendar.Holiday{Date: d("2025-04-18"), Name: "Good Friday"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		start     string
		end       string
		startHalf bool
		endHalf   bool
		want      string
	}{
		{"single day", "2025-03-10", "2025-03-10", false, false, "1"},
		{"weekend excluded", "2025-03-14", "2025-03-17", false, false, "2"},
		{"holiday excluded", "2025-04-14", "2025-04-18", false, false, "4"},
		{"end half", "2025-05-05", "2025-05-06", false, true, "1.5"},
		{"both halves", "2025-06-02", "2025-06-04", true, true, "2"},
		{"single half day", "2025-07-01", "2025-07-01", true, false, "0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := f.svc.Submit(f.ctx, employee, leave.SubmitInput{
				LeaveTypeID: "unpaid",
				StartDate:   d(tt.start),
				EndDate:     d(tt.end),
				StartHalf:   tt.startHalf,
				EndHalf:     tt.endHalf,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.DaysCount.String())
		})
	}
}

func TestSubmit_InvalidRanges(t *testing.T) {
	f := newMemoryFixture(t)
	tests := []struct {
		name  string
		input leave.SubmitInput
	}{
		{"end before start", leave.SubmitInput{LeaveTypeID: "annual", StartDate: d("2025-03-14"), EndDate: d("2025-03-10")}},
		{"weekend only", leave.SubmitInput{LeaveTypeID: "annual", StartDate: d("2025-03-08"), EndDate: d("2025-03-09")}},
		{"both halves on one day", leave.SubmitInput{LeaveTypeID: "annual", StartDate: d("2025-03-10"), EndDate: d("2025-03-10"), StartHalf: true, EndHalf: true}},
		{"crosses leave year", leave.SubmitInput{LeaveTypeID: "annual", StartDate: d("2025-12-29"), EndDate: d("2026-01-02")}},
		{"missing dates", leave.SubmitInput{LeaveTypeID: "annual"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(f.ctx, employee, tt.input)
			assert.ErrorIs(t, err, leave.ErrInvalidRange)
		})
	}
}

func TestSubmit_FiscalYearAssignsLeaveYear(t *testing.T) {
	f := newMemoryFixture(t, leave.WithFiscalYear(calendar.FiscalYear{StartMonth: time.April}))
	_, err := f.svc.InitializeBalance(f.ctx, hr, key("emp", "annual", 2024))
	require.NoError(t, err)

	req := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")
	assert.Equal(t, 2024, req.Year)

	_, err = f.submit(employee, "annual", "2025-03-31", "2025-04-01")
	assert.ErrorIs(t, err, leave.ErrInvalidRange)
}

func TestSubmit_Authorization(t *testing.T) {
	f := newMemoryFixture(t)

	_, err := f.svc.Submit(f.ctx, peer, leave.SubmitInput{
		RequesterID: "emp", LeaveTypeID: "annual", StartDate: d("2025-03-10"), EndDate: d("2025-03-10"),
	})
	assert.ErrorIs(t, err, leave.ErrUnauthorized)

	req, err := f.svc.Submit(f.ctx, hr, leave.SubmitInput{
		RequesterID: "emp", LeaveTypeID: "annual", StartDate: d("2025-03-10"), EndDate: d("2025-03-10"),
	})
	require.NoError(t, err)
	assert.Equal(t, leave.EmployeeID("emp"), req.RequesterID)
}

func TestSubmit_RejectedAndCancelledDoNotBlock(t *testing.T) {
	f := newMemoryFixture(t)
	first := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")
	_, err := f.svc.Reject(f.ctx, manager, first.ID, "busy week")
	require.NoError(t, err)

	second := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")
	_, err = f.svc.Cancel(f.ctx, employee, second.ID, "")
	require.NoError(t, err)

	f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")
	storetest.AssertNoOverlap(t, f.store, "emp")
}

func TestSubmit_InactiveLeaveType(t *testing.T) {
	f := newMemoryFixture(t)
	require.NoError(t, f.svc.DeactivateLeaveType(f.ctx, admin, "study"))

	_, err := f.submit(employee, "study", "2025-03-10", "2025-03-10")
	assert.ErrorIs(t, err, leave.ErrInvalidInput)

	_, err = f.submit(employee, "missing", "2025-03-10", "2025-03-10")
	assert.ErrorIs(t, err, leave.ErrNotFound)
}

// =============================================================================
// APPROVAL
// =============================================================================

func TestApprove_Authority(t *testing.T) {
	f := newMemoryFixture(t)
	req := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")

	for _, actor := range []leave.Actor{employee, peer, otherManager} {
		_, err := f.svc.Approve(f.ctx, actor, req.ID, "")
		require.ErrorIs(t, err, leave.ErrUnauthorized, "actor %s", actor.ID)
		var re *leave.RequestError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, req.ID, re.RequestID)
		assert.Equal(t, leave.StatusPending, re.Status)
	}
	assert.True(t, f.balance(key("emp", "annual", 2025)).UsedDays.IsZero())

	_, err := f.svc.Approve(f.ctx, admin, req.ID, "")
	require.NoError(t, err)
}

func TestApprove_NoSelfApprovalForHR(t *testing.T) {
	f := newMemoryFixture(t)
	_, err := f.svc.InitializeBalance(f.ctx, admin, key("hr", "annual", 2025))
	require.NoError(t, err)
	req := f.mustSubmit(hr, "annual", "2025-03-10", "2025-03-14")

	_, err = f.svc.Approve(f.ctx, hr, req.ID, "")
	assert.ErrorIs(t, err, leave.ErrUnauthorized)

	_, err = f.svc.Approve(f.ctx, admin, req.ID, "")
	assert.NoError(t, err)
}

func TestApprove_CommitIsIdempotent(t *testing.T) {
	// GIVEN: an approved request
	f := newMemoryFixture(t)
	annual := key("emp", "annual", 2025)
	req := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")
	_, err := f.svc.Approve(f.ctx, manager, req.ID, "")
	require.NoError(t, err)
	version := f.balance(annual).Version

	// WHEN: it is approved again
	_, err = f.svc.Approve(f.ctx, manager, req.ID, "")

	// THEN: the second approval is an invalid transition and nothing moves
	require.ErrorIs(t, err, leave.ErrInvalidTransition)
	var re *leave.RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, leave.StatusApproved, re.Status)
	bal := f.balance(annual)
	assert.Equal(t, "5", bal.UsedDays.String())
	assert.Equal(t, version, bal.Version)
	assert.Len(t, f.audit(leave.EntityRequest, string(req.ID)), 2)
}

func TestApprove_HardCheckIgnoresPendingReservations(t *testing.T) {
	f := newMemoryFixture(t)
	// 20 allocated: 10 + 10 pending fits the soft check exactly.
	first := f.mustSubmit(employee, "annual", "2025-03-03", "2025-03-14")
	second := f.mustSubmit(employee, "annual", "2025-05-05", "2025-05-16")

	_, err := f.svc.Approve(f.ctx, manager, second.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Approve(f.ctx, manager, first.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "20", f.balance(key("emp", "annual", 2025)).UsedDays.String())
}

func TestApprove_InsufficientAtApproval(t *testing.T) {
	// GIVEN: two pending requests that slipped past the soft check
	f := newMemoryFixture(t)
	first := f.mustSubmit(employee, "study", "2025-03-10", "2025-03-13")
	require.NoError(t, f.store.WithTx(f.ctx, func(tx leave.Tx) error {
		return tx.InsertRequest(f.ctx, leave.LeaveRequest{
			ID: "raced", RequesterID: "emp", LeaveTypeID: "study",
			StartDate: d("2025-06-02"), EndDate: d("2025-06-03"),
			DaysCount: dec("2"), Year: 2025, Status: leave.StatusPending,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		})
	}))
	_, err := f.svc.Approve(f.ctx, manager, first.ID, "")
	require.NoError(t, err)

	// WHEN: the second is approved with only one day left
	_, err = f.svc.Approve(f.ctx, manager, "raced", "")

	// THEN: the hard check refuses it and the request stays pending
	var ibe *leave.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, leave.StageApproval, ibe.Stage)
	assert.Equal(t, leave.StatusPending, ibe.Status)
	assert.Equal(t, "1", ibe.Available.String())

	raced, err := f.store.GetRequest(f.ctx, "raced")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, raced.Status)
	storetest.AssertLedgerInvariant(t, f.store, key("emp", "study", 2025))
}

func TestApprove_MissingBalanceRow(t *testing.T) {
	f := newMemoryFixture(t)
	require.NoError(t, f.store.WithTx(f.ctx, func(tx leave.Tx) error {
		return tx.InsertRequest(f.ctx, leave.LeaveRequest{
			ID: "orphan", RequesterID: "emp", LeaveTypeID: "annual",
			StartDate: d("2026-03-02"), EndDate: d("2026-03-02"),
			DaysCount: dec("1"), Year: 2026, Status: leave.StatusPending,
		})
	}))

	_, err := f.svc.Approve(f.ctx, manager, "orphan", "")
	var ibe *leave.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, leave.StageApproval, ibe.Stage)
	assert.True(t, ibe.Available.IsZero())
}

func TestApprove_NegativeBalanceTypeCreatesRow(t *testing.T) {
	f := newMemoryFixture(t)
	unpaid := key("emp", "unpaid", 2025)
	req := f.mustSubmit(employee, "unpaid", "2025-03-10", "2025-03-12")

	_, err := f.svc.Approve(f.ctx, manager, req.ID, "")
	require.NoError(t, err)

	bal := f.balance(unpaid)
	assert.Equal(t, "3", bal.UsedDays.String())
	assert.Equal(t, "-3", bal.Remaining().String())
	storetest.AssertLedgerInvariant(t, f.store, unpaid)
}

func TestApprove_RecomputesDaysOnCalendarDrift(t *testing.T) {
	// GIVEN: a 5-day request submitted before a holiday was added
	f := newMemoryFixture(t)
	req := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")
	_, err := f.svc.AddHoliday(f.ctx, hr, calendar.Holiday{Date: d("2025-03-12"), Name: "Company Day"})
	require.NoError(t, err)

	// WHEN: it is approved
	approved, err := f.svc.Approve(f.ctx, manager, req.ID, "ok")
	require.NoError(t, err)

	// THEN: the fresh count is committed and the drift is on record
	assert.Equal(t, "4", approved.DaysCount.String())
	assert.Equal(t, "4", f.balance(key("emp", "annual", 2025)).UsedDays.String())
	entries := f.audit(leave.EntityRequest, string(req.ID))
	require.Len(t, entries, 2)
	assert.Contains(t, entries[1].Comment, "ok")
	assert.Contains(t, entries[1].Comment, "days recomputed from 5 to 4")
	storetest.AssertLedgerInvariant(t, f.store, key("emp", "annual", 2025))
}

// =============================================================================
// REJECTION & CANCELLATION
// =============================================================================

func TestReject(t *testing.T) {
	f := newMemoryFixture(t)
	req := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")

	_, err := f.svc.Reject(f.ctx, manager, req.ID, "  ")
	assert.ErrorIs(t, err, leave.ErrInvalidInput)

	_, err = f.svc.Reject(f.ctx, otherManager, req.ID, "no")
	assert.ErrorIs(t, err, leave.ErrUnauthorized)

	rejected, err := f.svc.Reject(f.ctx, manager, req.ID, "release week")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, rejected.Status)
	assert.Equal(t, "release week", rejected.DecisionComment)
	assert.True(t, f.balance(key("emp", "annual", 2025)).UsedDays.IsZero())

	_, err = f.svc.Approve(f.ctx, manager, req.ID, "")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
	_, err = f.svc.Cancel(f.ctx, employee, req.ID, "")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
}

func TestCancel_Rules(t *testing.T) {
	f := newMemoryFixture(t)

	pending := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-10")
	_, err := f.svc.Cancel(f.ctx, peer, pending.ID, "")
	assert.ErrorIs(t, err, leave.ErrUnauthorized)
	_, err = f.svc.Cancel(f.ctx, employee, pending.ID, "changed plans")
	require.NoError(t, err)

	byManager := f.mustSubmit(employee, "annual", "2025-03-11", "2025-03-11")
	_, err = f.svc.Cancel(f.ctx, manager, byManager.ID, "")
	require.NoError(t, err)

	approved := f.mustSubmit(employee, "annual", "2025-03-12", "2025-03-13")
	_, err = f.svc.Approve(f.ctx, manager, approved.ID, "")
	require.NoError(t, err)
	for _, actor := range []leave.Actor{employee, manager} {
		_, err = f.svc.Cancel(f.ctx, actor, approved.ID, "")
		assert.ErrorIs(t, err, leave.ErrUnauthorized, "actor %s", actor.ID)
	}
	assert.Equal(t, "2", f.balance(key("emp", "annual", 2025)).UsedDays.String())

	_, err = f.svc.Cancel(f.ctx, admin, approved.ID, "")
	require.NoError(t, err)
	assert.True(t, f.balance(key("emp", "annual", 2025)).UsedDays.IsZero())

	_, err = f.svc.Cancel(f.ctx, admin, approved.ID, "")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)

	_, err = f.svc.Cancel(f.ctx, admin, "missing", "")
	assert.ErrorIs(t, err, leave.ErrNotFound)
}

// =============================================================================
// FAILURE HANDLING
// =============================================================================

// flakyStore fails LockBalance with ErrLockContention a set number of times.
type flakyStore struct {
	*memory.Store
	mu       sync.Mutex
	failures int
	attempts int
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx leave.Tx) error { return fn(&flakyTx{Tx: tx, s: s}) })
}

type flakyTx struct {
	leave.Tx
	s *flakyStore
}

func (tx *flakyTx) LockBalance(ctx context.Context, k leave.BalanceKey) (leave.LeaveBalance, error) {
	tx.s.mu.Lock()
	tx.s.attempts++
	fail := tx.s.failures > 0
	if fail {
		tx.s.failures--
	}
	tx.s.mu.Unlock()
	if fail {
		return leave.LeaveBalance{}, fmt.Errorf("%w: row busy", leave.ErrLockContention)
	}
	return tx.Tx.LockBalance(ctx, k)
}

func TestApprove_RetriesLockContention(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	f := newFixture(t, store)
	req := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")

	store.failures = 2
	store.attempts = 0
	_, err := f.svc.Approve(f.ctx, manager, req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 3, store.attempts)
	assert.Equal(t, "5", f.balance(key("emp", "annual", 2025)).UsedDays.String())
}

func TestApprove_SurfacesLockContentionAfterRetries(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	f := newFixture(t, store, leave.WithLockRetries(2, time.Millisecond))
	req := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")

	store.failures = 100
	store.attempts = 0
	_, err := f.svc.Approve(f.ctx, manager, req.ID, "")

	require.ErrorIs(t, err, leave.ErrLockContention)
	assert.True(t, leave.IsRetryable(err))
	var re *leave.RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, req.ID, re.RequestID)
	assert.NotContains(t, err.Error(), "row busy")
	assert.Equal(t, 3, store.attempts)

	got, err := f.store.GetRequest(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, got.Status)
}

// auditFailStore fails every audit append for one action.
type auditFailStore struct {
	*memory.Store
	action string
}

func (s *auditFailStore) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx leave.Tx) error { return fn(&auditFailTx{Tx: tx, action: s.action}) })
}

type auditFailTx struct {
	leave.Tx
	action string
}

func (tx *auditFailTx) AppendAudit(ctx context.Context, e leave.AuditEntry) error {
	if e.Action == tx.action {
		return errors.New("disk full")
	}
	return tx.Tx.AppendAudit(ctx, e)
}

func TestApprove_AuditFailureRollsBack(t *testing.T) {
	// GIVEN: balance audit writes fail
	store := &auditFailStore{Store: memory.New()}
	f := newFixture(t, store)
	req := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")
	store.action = leave.ActionCommit

	// WHEN: the request is approved
	_, err := f.svc.Approve(f.ctx, manager, req.ID, "")

	// THEN: the whole transition is undone
	require.ErrorIs(t, err, leave.ErrAuditWriteFailed)
	assert.False(t, leave.IsRetryable(err))
	var awe *leave.AuditWriteError
	require.ErrorAs(t, err, &awe)
	assert.Equal(t, leave.EntityBalance, awe.EntityType)

	got, err := f.store.GetRequest(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, got.Status)
	assert.True(t, f.balance(key("emp", "annual", 2025)).UsedDays.IsZero())
	assert.Len(t, f.audit(leave.EntityRequest, string(req.ID)), 1)
	assert.Equal(t, []leave.EventType{leave.EventSubmitted}, f.eventTypes())
}

func TestNotifierFailureDoesNotUndoTransition(t *testing.T) {
	f := newMemoryFixture(t, leave.WithNotifier(leave.NotifierFunc(func(context.Context, leave.Event) error {
		return errors.New("broker down")
	})))
	req := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")

	approved, err := f.svc.Approve(f.ctx, manager, req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, approved.Status)
}

// =============================================================================
// READS
// =============================================================================

func TestReads_Visibility(t *testing.T) {
	f := newMemoryFixture(t)
	mine := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")
	theirs := f.mustSubmit(peer, "annual", "2025-03-10", "2025-03-14")

	_, err := f.svc.Get(f.ctx, employee, mine.ID)
	require.NoError(t, err)
	_, err = f.svc.Get(f.ctx, employee, theirs.ID)
	assert.ErrorIs(t, err, leave.ErrUnauthorized)
	_, err = f.svc.Get(f.ctx, manager, mine.ID)
	require.NoError(t, err)

	list, err := f.svc.List(f.ctx, manager, leave.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	list, err = f.svc.List(f.ctx, hr, leave.RequestFilter{Status: leave.StatusPending})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.svc.Availability(f.ctx, peer, key("emp", "annual", 2025))
	assert.ErrorIs(t, err, leave.ErrUnauthorized)

	history, err := f.svc.History(f.ctx, employee, leave.AuditFilter{EntityType: leave.EntityRequest, EntityID: string(mine.ID)})
	require.NoError(t, err)
	assert.Len(t, history, 1)
	_, err = f.svc.History(f.ctx, employee, leave.AuditFilter{})
	assert.ErrorIs(t, err, leave.ErrUnauthorized)
	all, err := f.svc.History(f.ctx, hr, leave.AuditFilter{EntityType: leave.EntityRequest})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// =============================================================================
// BALANCE ADMINISTRATION
// =============================================================================

func TestInitializeBalance(t *testing.T) {
	f := newMemoryFixture(t)

	_, err := f.svc.InitializeBalance(f.ctx, manager, key("emp", "annual", 2026))
	assert.ErrorIs(t, err, leave.ErrUnauthorized)

	// Mid-year hire is prorated by remaining months.
	require.NoError(t, f.svc.SaveEmployee(f.ctx, hr, leave.Employee{
		ID: "new", Role: leave.RoleEmployee, ManagerID: "mgr", HireDate: d("2025-07-15"),
	}))
	bal, err := f.svc.InitializeBalance(f.ctx, hr, key("new", "annual", 2025))
	require.NoError(t, err)
	assert.Equal(t, "10", bal.AllocatedDays.String())

	// Initializing again leaves the row alone.
	again, err := f.svc.InitializeBalance(f.ctx, hr, key("emp", "annual", 2025))
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Version)
	assert.Len(t, f.audit(leave.EntityBalance, key("emp", "annual", 2025).String()), 1)
}

func TestRollover(t *testing.T) {
	// GIVEN: 20 allocated, 5 used in 2025, carryover capped at 5
	f := newMemoryFixture(t)
	req := f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-14")
	_, err := f.svc.Approve(f.ctx, manager, req.ID, "")
	require.NoError(t, err)

	// WHEN: 2026 is rolled over twice
	bal, err := f.svc.Rollover(f.ctx, hr, key("emp", "annual", 2026))
	require.NoError(t, err)
	again, err := f.svc.Rollover(f.ctx, hr, key("emp", "annual", 2026))
	require.NoError(t, err)

	// THEN: the new row carries the capped remainder once
	assert.Equal(t, "20", bal.AllocatedDays.String())
	assert.Equal(t, "5", bal.CarriedForwardDays.String())
	assert.Equal(t, "25", bal.Entitlement().String())
	assert.Equal(t, bal.Version, again.Version)
	entries := f.audit(leave.EntityBalance, key("emp", "annual", 2026).String())
	require.Len(t, entries, 1)
	assert.Equal(t, leave.ActionRollover, entries[0].Action)
}

func TestRollover_RerunNeverLeavesUsageUncovered(t *testing.T) {
	// GIVEN: 2025 uses 15 of 20 with 3 days still pending
	f := newMemoryFixture(t)
	used := f.mustSubmit(employee, "annual", "2025-03-03", "2025-03-21")
	_, err := f.svc.Approve(f.ctx, manager, used.ID, "")
	require.NoError(t, err)
	late := f.mustSubmit(employee, "annual", "2025-04-07", "2025-04-09")

	// AND: 5 days carried into 2026, of which 23 of 25 are then used
	_, err = f.svc.Rollover(f.ctx, hr, key("emp", "annual", 2026))
	require.NoError(t, err)
	big := f.mustSubmit(employee, "annual", "2026-03-02", "2026-04-01")
	assert.Equal(t, "23", big.DaysCount.String())
	_, err = f.svc.Approve(f.ctx, manager, big.ID, "")
	require.NoError(t, err)

	// WHEN: the late 2025 request is approved and rollover reruns
	_, err = f.svc.Approve(f.ctx, manager, late.ID, "")
	require.NoError(t, err)
	bal, err := f.svc.Rollover(f.ctx, hr, key("emp", "annual", 2026))
	require.NoError(t, err)

	// THEN: carry stays high enough to cover what 2026 already used
	assert.Equal(t, "3", bal.CarriedForwardDays.String())
	assert.True(t, bal.Remaining().IsZero(), "remaining %s", bal.Remaining())
	storetest.AssertLedgerInvariant(t, f.store, key("emp", "annual", 2026))
	assert.False(t, bal.UsedDays.GreaterThan(bal.Entitlement()), "used exceeds allocated+carried")

	entries := f.audit(leave.EntityBalance, key("emp", "annual", 2026).String())
	last := entries[len(entries)-1]
	assert.Equal(t, leave.ActionRollover, last.Action)
	assert.Contains(t, last.Comment, "raised to 3")
}

func TestRolloverYear(t *testing.T) {
	f := newMemoryFixture(t)

	_, err := f.svc.RolloverYear(f.ctx, employee, 2026, 2)
	assert.ErrorIs(t, err, leave.ErrUnauthorized)

	report, err := f.svc.RolloverYear(f.ctx, admin, 2026, 2)
	require.NoError(t, err)
	assert.Equal(t, 2026, report.Year)
	assert.Equal(t, 3, report.Processed)
	assert.Empty(t, report.Failed)

	study := f.balance(key("emp", "study", 2026))
	assert.Equal(t, "5", study.AllocatedDays.String())
	assert.True(t, study.CarriedForwardDays.IsZero(), "study leave has no carryover")
	assert.Equal(t, "5", f.balance(key("peer", "annual", 2026)).CarriedForwardDays.String())
}

func TestSaveLeaveType_TermsFrozenOnceReferenced(t *testing.T) {
	f := newMemoryFixture(t)
	f.mustSubmit(employee, "annual", "2025-03-10", "2025-03-10")

	changed := annualType
	changed.DefaultAllocationDays = decimal.NewFromInt(25)
	err := f.svc.SaveLeaveType(f.ctx, hr, changed)
	assert.ErrorIs(t, err, leave.ErrInvalidInput)

	renamed := annualType
	renamed.Name = "Vacation"
	require.NoError(t, f.svc.SaveLeaveType(f.ctx, hr, renamed))
	lt, err := f.store.GetLeaveType(f.ctx, "annual")
	require.NoError(t, err)
	assert.Equal(t, "Vacation", lt.Name)

	fresh := smallType
	fresh.DefaultAllocationDays = decimal.NewFromInt(8)
	require.NoError(t, f.svc.SaveLeaveType(f.ctx, hr, fresh), "unreferenced types may change terms")

	assert.ErrorIs(t, f.svc.SaveLeaveType(f.ctx, employee, renamed), leave.ErrUnauthorized)
}

// =============================================================================
// PROPERTIES
// =============================================================================

// TestProperty_RandomWorkload runs a random mix of concurrent operations
// and then checks the ledger invariant and the no-overlap invariant.
func TestProperty_RandomWorkload(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := f.ctx
	rng := rand.New(rand.NewPCG(7, 11))

	type op struct {
		kind  int
		start calendar.Date
		span  int
	}
	ops := make([]op, 200)
	base := d("2025-01-06")
	for i := range ops {
		ops[i] = op{kind: rng.IntN(4), start: base.AddDays(rng.IntN(300)), span: rng.IntN(5)}
	}

	var wg sync.WaitGroup
	for i, o := range ops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch o.kind {
			case 0, 1:
				_, _ = f.svc.Submit(ctx, employee, leave.SubmitInput{
					LeaveTypeID: "annual", StartDate: o.start, EndDate: o.start.AddDays(o.span),
				})
			default:
				reqs, err := f.store.ListRequests(ctx, leave.RequestFilter{RequesterID: "emp", Status: leave.StatusPending})
				if err != nil || len(reqs) == 0 {
					return
				}
				target := reqs[i%len(reqs)]
				if o.kind == 2 {
					_, _ = f.svc.Approve(ctx, manager, target.ID, "")
				} else {
					_, _ = f.svc.Cancel(ctx, hr, target.ID, "")
				}
			}
		}()
	}
	wg.Wait()

	annual := key("emp", "annual", 2025)
	storetest.AssertLedgerInvariant(t, f.store, annual)
	storetest.AssertNoOverlap(t, f.store, "emp")
	bal := f.balance(annual)
	assert.True(t, bal.UsedDays.LessThanOrEqual(bal.Entitlement()), "used %s exceeds entitlement", bal.UsedDays)

	// Commits minus releases in the audit trail equals live approvals.
	approved, err := f.store.ListRequests(ctx, leave.RequestFilter{RequesterID: "emp", Status: leave.StatusApproved})
	require.NoError(t, err)
	net := 0
	for _, e := range f.audit(leave.EntityBalance, annual.String()) {
		if !strings.HasPrefix(e.Comment, "request ") {
			continue
		}
		switch e.Action {
		case leave.ActionCommit:
			net++
		case leave.ActionRelease:
			net--
		}
	}
	assert.Equal(t, len(approved), net)
}
