// Package memory provides an in-memory leave.Store for tests and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store holds all data in maps. A transaction holds the write lock for
// its whole duration, so transactions are serialized and every row lock
// is trivially granted.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	leaveTypes map[leave.LeaveTypeID]leave.LeaveType
	employees  map[leave.EmployeeID]leave.Employee
	requests   map[leave.RequestID]leave.LeaveRequest
	balances   map[leave.BalanceKey]leave.LeaveBalance
	holidays   map[string]calendar.Holiday
	audit      []leave.AuditEntry
	now        func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{st: &state{
		leaveTypes: make(map[leave.LeaveTypeID]leave.LeaveType),
		employees:  make(map[leave.EmployeeID]leave.Employee),
		requests:   make(map[leave.RequestID]leave.LeaveRequest),
		balances:   make(map[leave.BalanceKey]leave.LeaveBalance),
		holidays:   make(map[string]calendar.Holiday),
		now:        time.Now,
	}}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store, this is simulated with a snapshot + rollback on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&txView{state: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (st *state) clone() *state {
	c := &state{
		leaveTypes: make(map[leave.LeaveTypeID]leave.LeaveType, len(st.leaveTypes)),
		employees:  make(map[leave.EmployeeID]leave.Employee, len(st.employees)),
		requests:   make(map[leave.RequestID]leave.LeaveRequest, len(st.requests)),
		balances:   make(map[leave.BalanceKey]leave.LeaveBalance, len(st.balances)),
		holidays:   make(map[string]calendar.Holiday, len(st.holidays)),
		audit:      append([]leave.AuditEntry(nil), st.audit...),
		now:        st.now,
	}
	for k, v := range st.leaveTypes {
		c.leaveTypes[k] = v
	}
	for k, v := range st.employees {
		c.employees[k] = v
	}
	for k, v := range st.requests {
		c.requests[k] = v
	}
	for k, v := range st.balances {
		c.balances[k] = v
	}
	for k, v := range st.holidays {
		c.holidays[k] = v
	}
	return c
}

// txView is the leave.Tx handed to WithTx callbacks. The store lock is
// already held.
type txView struct {
	*state
}

func (tv *txView) LockRequester(ctx context.Context, _ leave.EmployeeID) error {
	return ctx.Err()
}

func (tv *txView) LockRequest(ctx context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	return tv.getRequest(id)
}

func (tv *txView) LockBalance(ctx context.Context, key leave.BalanceKey) (leave.LeaveBalance, error) {
	if err := ctx.Err(); err != nil {
		return leave.LeaveBalance{}, err
	}
	return tv.getBalance(key)
}

func (tv *txView) InsertRequest(_ context.Context, r leave.LeaveRequest) error {
	if _, ok := tv.requests[r.ID]; ok {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	tv.requests[r.ID] = r
	return nil
}

func (tv *txView) UpdateRequest(_ context.Context, r leave.LeaveRequest) error {
	if _, ok := tv.requests[r.ID]; !ok {
		return fmt.Errorf("request %s: %w", r.ID, leave.ErrNotFound)
	}
	tv.requests[r.ID] = r
	return nil
}

func (tv *txView) CreateBalance(_ context.Context, b leave.LeaveBalance) (bool, error) {
	if _, ok := tv.balances[b.BalanceKey]; ok {
		return false, nil
	}
	now := tv.now().UTC()
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	tv.balances[b.BalanceKey] = b
	return true, nil
}

func (tv *txView) UpdateBalance(_ context.Context, b leave.LeaveBalance) (leave.LeaveBalance, error) {
	cur, ok := tv.balances[b.BalanceKey]
	if !ok {
		return leave.LeaveBalance{}, fmt.Errorf("balance %s: %w", b.BalanceKey, leave.ErrNotFound)
	}
	if cur.Version != b.Version {
		return leave.LeaveBalance{}, fmt.Errorf("%w: balance %s changed concurrently", leave.ErrLockContention, b.BalanceKey)
	}
	b.Version++
	b.CreatedAt = cur.CreatedAt
	b.UpdatedAt = tv.now().UTC()
	tv.balances[b.BalanceKey] = b
	return b, nil
}

func (tv *txView) SaveLeaveType(_ context.Context, lt leave.LeaveType) error {
	tv.leaveTypes[lt.ID] = lt
	return nil
}

func (tv *txView) SaveEmployee(_ context.Context, e leave.Employee) error {
	tv.employees[e.ID] = e
	return nil
}

func (tv *txView) SaveHoliday(_ context.Context, h calendar.Holiday) error {
	tv.holidays[h.ID] = h
	return nil
}

func (tv *txView) DeleteHoliday(_ context.Context, id string) error {
	delete(tv.holidays, id)
	return nil
}

func (tv *txView) AppendAudit(_ context.Context, e leave.AuditEntry) error {
	tv.audit = append(tv.audit, e)
	return nil
}

// =============================================================================
// READS - shared by Store (under read lock) and txView (lock already held)
// =============================================================================

func (st *state) GetLeaveType(_ context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	lt, ok := st.leaveTypes[id]
	if !ok {
		return leave.LeaveType{}, leave.ErrNotFound
	}
	return lt, nil
}

func (st *state) ListLeaveTypes(context.Context) ([]leave.LeaveType, error) {
	out := make([]leave.LeaveType, 0, len(st.leaveTypes))
	for _, lt := range st.leaveTypes {
		out = append(out, lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *state) GetEmployee(_ context.Context, id leave.EmployeeID) (leave.Employee, error) {
	e, ok := st.employees[id]
	if !ok {
		return leave.Employee{}, leave.ErrNotFound
	}
	return e, nil
}

func (st *state) ListEmployees(context.Context) ([]leave.Employee, error) {
	out := make([]leave.Employee, 0, len(st.employees))
	for _, e := range st.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *state) getRequest(id leave.RequestID) (leave.LeaveRequest, error) {
	r, ok := st.requests[id]
	if !ok {
		return leave.LeaveRequest{}, leave.ErrNotFound
	}
	return r, nil
}

func (st *state) GetRequest(_ context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	return st.getRequest(id)
}

func (st *state) ListRequests(_ context.Context, f leave.RequestFilter) ([]leave.LeaveRequest, error) {
	var out []leave.LeaveRequest
	for _, r := range st.requests {
		if f.RequesterID != "" && r.RequesterID != f.RequesterID {
			continue
		}
		if f.LeaveTypeID != "" && r.LeaveTypeID != f.LeaveTypeID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Year != 0 && r.Year != f.Year {
			continue
		}
		out = append(out, r)
	}
	sortRequests(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (st *state) FindOverlapping(_ context.Context, requester leave.EmployeeID, rng calendar.DateRange, statuses ...leave.Status) ([]leave.LeaveRequest, error) {
	var out []leave.LeaveRequest
	for _, r := range st.requests {
		if r.RequesterID != requester || !hasStatus(r.Status, statuses) {
			continue
		}
		if r.Range().Overlaps(rng) {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func (st *state) SumPending(_ context.Context, key leave.BalanceKey, exclude leave.RequestID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, r := range st.requests {
		if r.Status != leave.StatusPending || r.ID == exclude || r.BalanceKey() != key {
			continue
		}
		total = total.Add(r.DaysCount)
	}
	return total, nil
}

func (st *state) getBalance(key leave.BalanceKey) (leave.LeaveBalance, error) {
	b, ok := st.balances[key]
	if !ok {
		return leave.LeaveBalance{}, leave.ErrNotFound
	}
	return b, nil
}

func (st *state) GetBalance(_ context.Context, key leave.BalanceKey) (leave.LeaveBalance, error) {
	return st.getBalance(key)
}

func (st *state) ListBalances(_ context.Context, f leave.BalanceFilter) ([]leave.LeaveBalance, error) {
	var out []leave.LeaveBalance
	for k, b := range st.balances {
		if f.EmployeeID != "" && k.EmployeeID != f.EmployeeID {
			continue
		}
		if f.LeaveTypeID != "" && k.LeaveTypeID != f.LeaveTypeID {
			continue
		}
		if f.Year != 0 && k.Year != f.Year {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].BalanceKey, out[j].BalanceKey
		if a.EmployeeID != b.EmployeeID {
			return a.EmployeeID < b.EmployeeID
		}
		if a.LeaveTypeID != b.LeaveTypeID {
			return a.LeaveTypeID < b.LeaveTypeID
		}
		return a.Year < b.Year
	})
	return out, nil
}

func (st *state) ListAudit(_ context.Context, f leave.AuditFilter) ([]leave.AuditEntry, error) {
	var out []leave.AuditEntry
	for _, e := range st.audit {
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (st *state) ListHolidays(context.Context) ([]calendar.Holiday, error) {
	out := make([]calendar.Holiday, 0, len(st.holidays))
	for _, h := range st.holidays {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// =============================================================================
// STORE READS - read lock around the shared implementations
// =============================================================================

func (s *Store) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetLeaveType(ctx, id)
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListLeaveTypes(ctx)
}

func (s *Store) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetEmployee(ctx, id)
}

func (s *Store) ListEmployees(ctx context.Context) ([]leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListEmployees(ctx)
}

func (s *Store) GetRequest(ctx context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetRequest(ctx, id)
}

func (s *Store) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListRequests(ctx, f)
}

func (s *Store) FindOverlapping(ctx context.Context, requester leave.EmployeeID, rng calendar.DateRange, statuses ...leave.Status) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.FindOverlapping(ctx, requester, rng, statuses...)
}

func (s *Store) SumPending(ctx context.Context, key leave.BalanceKey, exclude leave.RequestID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.SumPending(ctx, key, exclude)
}

func (s *Store) GetBalance(ctx context.Context, key leave.BalanceKey) (leave.LeaveBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetBalance(ctx, key)
}

func (s *Store) ListBalances(ctx context.Context, f leave.BalanceFilter) ([]leave.LeaveBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListBalances(ctx, f)
}

func (s *Store) ListAudit(ctx context.Context, f leave.AuditFilter) ([]leave.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListAudit(ctx, f)
}

func (s *Store) ListHolidays(ctx context.Context) ([]calendar.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListHolidays(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

func hasStatus(s leave.Status, statuses []leave.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

func sortRequests(rs []leave.LeaveRequest) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].StartDate.Equal(rs[j].StartDate) {
			return rs[i].StartDate.Before(rs[j].StartDate)
		}
		return rs[i].ID < rs[j].ID
	})
}

var (
	_ leave.Store = (*Store)(nil)
	_ leave.Tx    = (*txView)(nil)
)
