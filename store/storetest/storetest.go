// Package storetest is a conformance suite run against every leave.Store
// implementation, plus the engine-level properties that depend on the
// store's locking (no lost updates under concurrent approvals).
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/leave"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) leave.Store

// Run executes the whole suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("LeaveTypesAndEmployees", func(t *testing.T) { testLeaveTypesAndEmployees(t, newStore(t)) })
	t.Run("Requests", func(t *testing.T) { testRequests(t, newStore(t)) })
	t.Run("Balances", func(t *testing.T) { testBalances(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, newStore(t)) })
	t.Run("Holidays", func(t *testing.T) { testHolidays(t, newStore(t)) })
	t.Run("ConcurrentApprovals", func(t *testing.T) { testConcurrentApprovals(t, newStore(t)) })
	t.Run("ConcurrentSubmissions", func(t *testing.T) { testConcurrentSubmissions(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

func d(s string) calendar.Date { return calendar.MustParseDate(s) }

func days(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

var annual = leave.LeaveType{
	ID:                    "annual",
	Name:                  "Annual Leave",
	DefaultAllocationDays: days(20),
	MaxCarryoverDays:      days(5),
	Accrual:               leave.AccrualRule{Kind: leave.AccrualAnnual},
	IsActive:              true,
	CreatedAt:             time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
}

// Seed writes leave types and employees in one transaction.
func Seed(t *testing.T, s leave.Store, types []leave.LeaveType, employees []leave.Employee) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx leave.Tx) error {
		for _, lt := range types {
			if err := tx.SaveLeaveType(context.Background(), lt); err != nil {
				return err
			}
		}
		for _, e := range employees {
			if err := tx.SaveEmployee(context.Background(), e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func request(requester leave.EmployeeID, start, end string, n float64, status leave.Status) leave.LeaveRequest {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return leave.LeaveRequest{
		ID:          leave.RequestID(uuid.NewString()),
		RequesterID: requester,
		LeaveTypeID: annual.ID,
		StartDate:   d(start),
		EndDate:     d(end),
		DaysCount:   days(n),
		Year:        d(start).Year(),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func insert(t *testing.T, s leave.Store, reqs ...leave.LeaveRequest) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(tx leave.Tx) error {
		for _, r := range reqs {
			if err := tx.InsertRequest(context.Background(), r); err != nil {
				return err
			}
		}
		return nil
	}))
}

// =============================================================================
// CRUD
// =============================================================================

func testLeaveTypesAndEmployees(t *testing.T, s leave.Store) {
	ctx := context.Background()
	sick := annual
	sick.ID = "sick"
	sick.Name = "Sick Leave"
	sick.AllowsNegativeBalance = true
	sick.Accrual = leave.AccrualRule{Kind: leave.AccrualMonthly, Rate: days(1.5)}

	Seed(t, s, []leave.LeaveType{annual, sick}, []leave.Employee{
		{ID: "mgr", Name: "Maria", Role: leave.RoleManager, CreatedAt: time.Now()},
		{ID: "emp", Name: "Erik", Role: leave.RoleEmployee, ManagerID: "mgr", HireDate: d("2024-02-01"), CreatedAt: time.Now()},
	})

	got, err := s.GetLeaveType(ctx, "sick")
	require.NoError(t, err)
	assert.True(t, got.AllowsNegativeBalance)
	assert.Equal(t, leave.AccrualMonthly, got.Accrual.Kind)
	assert.True(t, days(1.5).Equal(got.Accrual.Rate))
	assert.True(t, days(20).Equal(got.DefaultAllocationDays))

	types, err := s.ListLeaveTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 2)

	_, err = s.GetLeaveType(ctx, "missing")
	assert.ErrorIs(t, err, leave.ErrNotFound)

	emp, err := s.GetEmployee(ctx, "emp")
	require.NoError(t, err)
	assert.Equal(t, leave.EmployeeID("mgr"), emp.ManagerID)
	assert.Equal(t, "2024-02-01", emp.HireDate.String())
	assert.Equal(t, leave.RoleEmployee, emp.Role)

	_, err = s.GetEmployee(ctx, "nobody")
	assert.ErrorIs(t, err, leave.ErrNotFound)

	emps, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, emps, 2)
}

func testRequests(t *testing.T, s leave.Store) {
	ctx := context.Background()
	Seed(t, s, []leave.LeaveType{annual}, nil)

	a := request("emp", "2025-03-10", "2025-03-14", 5, leave.StatusApproved)
	b := request("emp", "2025-04-07", "2025-04-08", 1.5, leave.StatusPending)
	b.StartHalf = true
	c := request("emp", "2025-05-05", "2025-05-05", 1, leave.StatusPending)
	other := request("someone", "2025-03-10", "2025-03-14", 5, leave.StatusPending)
	rejected := request("emp", "2025-03-12", "2025-03-12", 1, leave.StatusRejected)
	insert(t, s, a, b, c, other, rejected)

	got, err := s.GetRequest(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.StartHalf)
	assert.True(t, days(1.5).Equal(got.DaysCount))
	assert.Equal(t, "2025-04-07", got.StartDate.String())
	assert.Equal(t, leave.StatusPending, got.Status)

	_, err = s.GetRequest(ctx, "missing")
	assert.ErrorIs(t, err, leave.ErrNotFound)

	// Overlap is inclusive: a range touching the last approved day collides.
	overlapping, err := s.FindOverlapping(ctx, "emp", calendar.DateRange{Start: d("2025-03-14"), End: d("2025-03-20")},
		leave.StatusPending, leave.StatusApproved)
	require.NoError(t, err)
	require.Len(t, overlapping, 1)
	assert.Equal(t, a.ID, overlapping[0].ID)

	// Rejected requests never block.
	overlapping, err = s.FindOverlapping(ctx, "emp", calendar.DateRange{Start: d("2025-03-12"), End: d("2025-03-12")},
		leave.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, overlapping)

	key := leave.BalanceKey{EmployeeID: "emp", LeaveTypeID: annual.ID, Year: 2025}
	pending, err := s.SumPending(ctx, key, "")
	require.NoError(t, err)
	assert.Equal(t, "2.5", pending.String())

	pending, err = s.SumPending(ctx, key, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", pending.String())

	list, err := s.ListRequests(ctx, leave.RequestFilter{RequesterID: "emp", Status: leave.StatusPending})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID, "ordered by start date")

	list, err = s.ListRequests(ctx, leave.RequestFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	decided := time.Now().UTC().Truncate(time.Millisecond)
	b.Status = leave.StatusRejected
	b.ApproverID = "mgr"
	b.DecisionAt = &decided
	b.DecisionComment = "team offsite"
	require.NoError(t, s.WithTx(ctx, func(tx leave.Tx) error {
		locked, err := tx.LockRequest(ctx, b.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, leave.StatusPending, locked.Status)
		return tx.UpdateRequest(ctx, b)
	}))
	got, err = s.GetRequest(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, got.Status)
	assert.Equal(t, leave.EmployeeID("mgr"), got.ApproverID)
	assert.Equal(t, "team offsite", got.DecisionComment)
	require.NotNil(t, got.DecisionAt)
	assert.True(t, decided.Equal(*got.DecisionAt))
}

func testBalances(t *testing.T, s leave.Store) {
	ctx := context.Background()
	Seed(t, s, []leave.LeaveType{annual}, nil)
	key := leave.BalanceKey{EmployeeID: "emp", LeaveTypeID: annual.ID, Year: 2025}

	_, err := s.GetBalance(ctx, key)
	assert.ErrorIs(t, err, leave.ErrNotFound)

	var created bool
	require.NoError(t, s.WithTx(ctx, func(tx leave.Tx) error {
		var err error
		created, err = tx.CreateBalance(ctx, leave.LeaveBalance{BalanceKey: key, AllocatedDays: days(20)})
		return err
	}))
	assert.True(t, created)

	// A second create is a no-op and leaves the row untouched.
	require.NoError(t, s.WithTx(ctx, func(tx leave.Tx) error {
		var err error
		created, err = tx.CreateBalance(ctx, leave.LeaveBalance{BalanceKey: key, AllocatedDays: days(99)})
		return err
	}))
	assert.False(t, created)

	bal, err := s.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "20", bal.AllocatedDays.String())
	assert.True(t, bal.UsedDays.IsZero())
	assert.Equal(t, int64(1), bal.Version)

	require.NoError(t, s.WithTx(ctx, func(tx leave.Tx) error {
		locked, err := tx.LockBalance(ctx, key)
		if err != nil {
			return err
		}
		locked.UsedDays = locked.UsedDays.Add(days(2.5))
		updated, err := tx.UpdateBalance(ctx, locked)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(2), updated.Version)
		return nil
	}))

	bal, err = s.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "2.5", bal.UsedDays.String())
	assert.Equal(t, int64(2), bal.Version)

	// A stale version is refused.
	stale := bal
	stale.Version = 1
	err = s.WithTx(ctx, func(tx leave.Tx) error {
		_, err := tx.UpdateBalance(ctx, stale)
		return err
	})
	assert.ErrorIs(t, err, leave.ErrLockContention)

	err = s.WithTx(ctx, func(tx leave.Tx) error {
		_, err := tx.LockBalance(ctx, leave.BalanceKey{EmployeeID: "emp", LeaveTypeID: annual.ID, Year: 1999})
		return err
	})
	assert.ErrorIs(t, err, leave.ErrNotFound)

	list, err := s.ListBalances(ctx, leave.BalanceFilter{Year: 2025})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = s.ListBalances(ctx, leave.BalanceFilter{Year: 2026})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testRollback(t *testing.T, s leave.Store) {
	ctx := context.Background()
	Seed(t, s, []leave.LeaveType{annual}, nil)
	key := leave.BalanceKey{EmployeeID: "emp", LeaveTypeID: annual.ID, Year: 2025}
	req := request("emp", "2025-03-10", "2025-03-10", 1, leave.StatusPending)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx leave.Tx) error {
		if _, err := tx.CreateBalance(ctx, leave.LeaveBalance{BalanceKey: key, AllocatedDays: days(20)}); err != nil {
			return err
		}
		if err := tx.InsertRequest(ctx, req); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, leave.AuditEntry{
			ID: uuid.NewString(), EntityType: leave.EntityRequest, EntityID: string(req.ID),
			ActorID: "emp", Action: leave.ActionSubmit, Before: json.RawMessage("null"),
			After: json.RawMessage("{}"), Timestamp: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetBalance(ctx, key)
	assert.ErrorIs(t, err, leave.ErrNotFound)
	_, err = s.GetRequest(ctx, req.ID)
	assert.ErrorIs(t, err, leave.ErrNotFound)
	entries, err := s.ListAudit(ctx, leave.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testAudit(t *testing.T, s leave.Store) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.WithTx(ctx, func(tx leave.Tx) error {
		for i, action := range []string{leave.ActionSubmit, leave.ActionApprove, leave.ActionCancel} {
			if err := tx.AppendAudit(ctx, leave.AuditEntry{
				ID:         uuid.NewString(),
				EntityType: leave.EntityRequest,
				EntityID:   "req-1",
				ActorID:    "emp",
				Action:     action,
				Before:     json.RawMessage("null"),
				After:      json.RawMessage(`{"status":"pending"}`),
				Timestamp:  base.Add(time.Duration(i) * time.Minute),
				Comment:    "c" + action,
			}); err != nil {
				return err
			}
		}
		return tx.AppendAudit(ctx, leave.AuditEntry{
			ID: uuid.NewString(), EntityType: leave.EntityBalance, EntityID: "emp/annual/2025",
			ActorID: "mgr", Action: leave.ActionCommit, Before: json.RawMessage("null"),
			After: json.RawMessage("{}"), Timestamp: base,
		})
	}))

	entries, err := s.ListAudit(ctx, leave.AuditFilter{EntityType: leave.EntityRequest, EntityID: "req-1"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, leave.ActionSubmit, entries[0].Action)
	assert.Equal(t, leave.ActionCancel, entries[2].Action)
	assert.JSONEq(t, `{"status":"pending"}`, string(entries[0].After))
	assert.True(t, base.Equal(entries[0].Timestamp))

	latest, err := s.ListAudit(ctx, leave.AuditFilter{EntityType: leave.EntityRequest, Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, leave.ActionCancel, latest[0].Action)

	all, err := s.ListAudit(ctx, leave.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func testHolidays(t *testing.T, s leave.Store) {
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx leave.Tx) error {
		if err := tx.SaveHoliday(ctx, calendar.Holiday{ID: "xmas", Date: d("2025-12-25"), Name: "Christmas", Recurring: true}); err != nil {
			return err
		}
		return tx.SaveHoliday(ctx, calendar.Holiday{ID: "ny", Date: d("2025-01-01"), Name: "New Year"})
	}))

	hs, err := s.ListHolidays(ctx)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, "ny", hs[0].ID)
	assert.True(t, hs[1].Recurring)

	require.NoError(t, s.WithTx(ctx, func(tx leave.Tx) error { return tx.DeleteHoliday(ctx, "ny") }))
	hs, err = s.ListHolidays(ctx)
	require.NoError(t, err)
	assert.Len(t, hs, 1)
}

// =============================================================================
// ENGINE PROPERTIES OVER THE STORE'S LOCKING
// =============================================================================

// testConcurrentApprovals: two pending requests that individually fit but
// together exceed the balance, approved concurrently by two approvers.
// Exactly one must win.
func testConcurrentApprovals(t *testing.T, s leave.Store) {
	ctx := context.Background()
	Seed(t, s, []leave.LeaveType{annual}, []leave.Employee{
		{ID: "mgr", Role: leave.RoleManager, CreatedAt: time.Now()},
		{ID: "hr", Role: leave.RoleHR, CreatedAt: time.Now()},
		{ID: "emp", Role: leave.RoleEmployee, ManagerID: "mgr", CreatedAt: time.Now()},
	})
	svc := leave.NewService(s, leave.WithLockRetries(10, time.Millisecond))
	key := leave.BalanceKey{EmployeeID: "emp", LeaveTypeID: annual.ID, Year: 2025}

	hr := leave.Actor{ID: "hr", Role: leave.RoleHR}
	_, err := svc.InitializeBalance(ctx, hr, key)
	require.NoError(t, err)

	// 20 days allocated; two 15-day pending requests, inserted directly to
	// simulate two submissions that raced past the soft check.
	first := request("emp", "2025-03-03", "2025-03-21", 15, leave.StatusPending)
	second := request("emp", "2025-06-02", "2025-06-20", 15, leave.StatusPending)
	insert(t, s, first, second)

	approvers := []leave.Actor{{ID: "mgr", Role: leave.RoleManager}, hr}
	ids := []leave.RequestID{first.ID, second.ID}
	errs := make([]error, 2)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Approve(ctx, approvers[i], ids[i], "")
		}(i)
	}
	close(start)
	wg.Wait()

	var approved, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			approved++
		case errors.Is(err, leave.ErrInsufficientBalance):
			refused++
			var ibe *leave.InsufficientBalanceError
			require.ErrorAs(t, err, &ibe)
			assert.Equal(t, leave.StageApproval, ibe.Stage)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, approved)
	assert.Equal(t, 1, refused)

	AssertLedgerInvariant(t, s, key)
}

// testConcurrentSubmissions: overlapping submissions by one employee
// racing each other. At most one may be admitted.
func testConcurrentSubmissions(t *testing.T, s leave.Store) {
	ctx := context.Background()
	Seed(t, s, []leave.LeaveType{annual}, []leave.Employee{
		{ID: "hr", Role: leave.RoleHR, CreatedAt: time.Now()},
		{ID: "emp", Role: leave.RoleEmployee, CreatedAt: time.Now()},
	})
	svc := leave.NewService(s, leave.WithLockRetries(10, time.Millisecond))
	hr := leave.Actor{ID: "hr", Role: leave.RoleHR}
	_, err := svc.InitializeBalance(ctx, hr, leave.BalanceKey{EmployeeID: "emp", LeaveTypeID: annual.ID, Year: 2025})
	require.NoError(t, err)

	emp := leave.Actor{ID: "emp", Role: leave.RoleEmployee}
	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Submit(ctx, emp, leave.SubmitInput{
				LeaveTypeID: annual.ID,
				StartDate:   d("2025-03-10").AddDays(i),
				EndDate:     d("2025-03-14").AddDays(i),
			})
		}(i)
	}
	close(start)
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
			continue
		}
		assert.ErrorIs(t, err, leave.ErrOverlappingRequest)
	}
	assert.Equal(t, 1, admitted)
	AssertNoOverlap(t, s, "emp")
}

// AssertLedgerInvariant checks used_days == sum of approved days_count.
func AssertLedgerInvariant(t *testing.T, s leave.Reader, key leave.BalanceKey) {
	t.Helper()
	ctx := context.Background()
	bal, err := s.GetBalance(ctx, key)
	require.NoError(t, err)
	approved, err := s.ListRequests(ctx, leave.RequestFilter{
		RequesterID: key.EmployeeID, LeaveTypeID: key.LeaveTypeID, Year: key.Year, Status: leave.StatusApproved,
	})
	require.NoError(t, err)
	sum := decimal.Zero
	for _, r := range approved {
		sum = sum.Add(r.DaysCount)
	}
	assert.True(t, sum.Equal(bal.UsedDays), "used_days %s != approved sum %s", bal.UsedDays, sum)
}

// AssertNoOverlap checks that no two live requests of employee intersect.
func AssertNoOverlap(t *testing.T, s leave.Reader, employee leave.EmployeeID) {
	t.Helper()
	reqs, err := s.ListRequests(context.Background(), leave.RequestFilter{RequesterID: employee})
	require.NoError(t, err)
	var live []leave.LeaveRequest
	for _, r := range reqs {
		if r.Status == leave.StatusPending || r.Status == leave.StatusApproved {
			live = append(live, r)
		}
	}
	for i := range live {
		for j := i + 1; j < len(live); j++ {
			assert.False(t, live[i].Range().Overlaps(live[j].Range()),
				"%s overlaps %s", live[i].ID, live[j].ID)
		}
	}
}
