/*
Package postgres provides a PostgreSQL-backed implementation of leave.Store.

PURPOSE:
  The production store. Unlike SQLite, PostgreSQL lets independent balance
  rows be written concurrently, so this store takes real row locks and
  maps lock failures to leave.ErrLockContention.

LOCKING:
  LockRequester: pg_advisory_xact_lock on the requester id
  LockRequest:   SELECT ... FOR UPDATE on the request row
  LockBalance:   SELECT ... FOR UPDATE on the balance row
  Each transaction sets lock_timeout; a lock not granted in time fails
  with SQLSTATE 55P03, as do deadlocks (40P01) and serialization failures
  (40001). All three surface as leave.ErrLockContention.

MIGRATIONS:
  Embedded goose migrations under migrations/ run on New.

SEE ALSO:
  - store/sqlite: single-node store with the same contract
  - store/storetest: conformance suite
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/leave"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements leave.Store over a pgx pool.
type Store struct {
	queries
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// Option configures New.
type Option func(*Store)

// WithLockTimeout bounds how long a transaction waits for a row lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// New connects to databaseURL and applies pending migrations.
func New(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{queries: queries{q: pool}, pool: pool, lockTimeout: 2 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Pool exposes the connection pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// WithTx runs fn in a READ COMMITTED transaction with lock_timeout set.
func (s *Store) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return dbErr(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		ms := strconv.FormatInt(s.lockTimeout.Milliseconds(), 10) + "ms"
		if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", ms); err != nil {
			return dbErr(err)
		}
	}

	if err := fn(&txStore{queries: queries{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return dbErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL WRITES
// =============================================================================

type txStore struct {
	queries
}

func (ts *txStore) LockRequester(ctx context.Context, id leave.EmployeeID) error {
	_, err := ts.q.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", string(id))
	return dbErr(err)
}

func (ts *txStore) LockRequest(ctx context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	row := ts.q.QueryRow(ctx, "SELECT "+requestColumns+" FROM leave_requests WHERE id = $1 FOR UPDATE", string(id))
	return oneRequest(row)
}

func (ts *txStore) LockBalance(ctx context.Context, key leave.BalanceKey) (leave.LeaveBalance, error) {
	row := ts.q.QueryRow(ctx, "SELECT "+balanceColumns+` FROM leave_balances
		WHERE employee_id = $1 AND leave_type_id = $2 AND year = $3 FOR UPDATE`,
		string(key.EmployeeID), string(key.LeaveTypeID), key.Year)
	return oneBalance(row)
}

func (ts *txStore) InsertRequest(ctx context.Context, r leave.LeaveRequest) error {
	_, err := ts.q.Exec(ctx, `
		INSERT INTO leave_requests
		(id, requester_id, leave_type_id, start_date, end_date, start_half, end_half,
		 days_count, year, reason, status, approver_id, decision_at, decision_comment,
		 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		string(r.ID), string(r.RequesterID), string(r.LeaveTypeID),
		r.StartDate.Time(), r.EndDate.Time(), r.StartHalf, r.EndHalf,
		r.DaysCount.String(), r.Year, r.Reason, string(r.Status),
		nullable(string(r.ApproverID)), r.DecisionAt, r.DecisionComment,
		r.CreatedAt, r.UpdatedAt,
	)
	return dbErr(err)
}

func (ts *txStore) UpdateRequest(ctx context.Context, r leave.LeaveRequest) error {
	tag, err := ts.q.Exec(ctx, `
		UPDATE leave_requests SET
			days_count = $1, status = $2, approver_id = $3, decision_at = $4,
			decision_comment = $5, updated_at = $6
		WHERE id = $7`,
		r.DaysCount.String(), string(r.Status), nullable(string(r.ApproverID)), r.DecisionAt,
		r.DecisionComment, r.UpdatedAt, string(r.ID),
	)
	if err != nil {
		return dbErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request %s: %w", r.ID, leave.ErrNotFound)
	}
	return nil
}

func (ts *txStore) CreateBalance(ctx context.Context, b leave.LeaveBalance) (bool, error) {
	tag, err := ts.q.Exec(ctx, `
		INSERT INTO leave_balances
		(employee_id, leave_type_id, year, allocated_days, carried_forward_days, used_days, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT (employee_id, leave_type_id, year) DO NOTHING`,
		string(b.EmployeeID), string(b.LeaveTypeID), b.Year,
		b.AllocatedDays.String(), b.CarriedForwardDays.String(), b.UsedDays.String(),
	)
	if err != nil {
		return false, dbErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (ts *txStore) UpdateBalance(ctx context.Context, b leave.LeaveBalance) (leave.LeaveBalance, error) {
	row := ts.q.QueryRow(ctx, `
		UPDATE leave_balances SET
			allocated_days = $1, carried_forward_days = $2, used_days = $3,
			version = version + 1, updated_at = now()
		WHERE employee_id = $4 AND leave_type_id = $5 AND year = $6 AND version = $7
		RETURNING `+balanceColumns,
		b.AllocatedDays.String(), b.CarriedForwardDays.String(), b.UsedDays.String(),
		string(b.EmployeeID), string(b.LeaveTypeID), b.Year, b.Version,
	)
	updated, err := oneBalance(row)
	if errors.Is(err, leave.ErrNotFound) {
		if _, err := ts.GetBalance(ctx, b.BalanceKey); err != nil {
			return leave.LeaveBalance{}, err
		}
		return leave.LeaveBalance{}, fmt.Errorf("%w: balance %s changed concurrently", leave.ErrLockContention, b.BalanceKey)
	}
	return updated, err
}

func (ts *txStore) AppendAudit(ctx context.Context, e leave.AuditEntry) error {
	_, err := ts.q.Exec(ctx, `
		INSERT INTO audit_entries
		(id, entity_type, entity_id, actor_id, action, before_json, after_json, "timestamp", comment)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9)`,
		e.ID, string(e.EntityType), e.EntityID, string(e.ActorID), e.Action,
		jsonText(e.Before), jsonText(e.After), e.Timestamp, e.Comment,
	)
	return dbErr(err)
}

func (ts *txStore) SaveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	_, err := ts.q.Exec(ctx, `
		INSERT INTO leave_types
		(id, name, default_allocation_days, max_carryover_days, accrual_kind, accrual_rate,
		 allows_negative_balance, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			default_allocation_days = EXCLUDED.default_allocation_days,
			max_carryover_days = EXCLUDED.max_carryover_days,
			accrual_kind = EXCLUDED.accrual_kind,
			accrual_rate = EXCLUDED.accrual_rate,
			allows_negative_balance = EXCLUDED.allows_negative_balance,
			is_active = EXCLUDED.is_active`,
		string(lt.ID), lt.Name, lt.DefaultAllocationDays.String(), lt.MaxCarryoverDays.String(),
		string(lt.Accrual.Kind), lt.Accrual.Rate.String(), lt.AllowsNegativeBalance, lt.IsActive,
		createdAt(lt.CreatedAt),
	)
	return dbErr(err)
}

func (ts *txStore) SaveEmployee(ctx context.Context, e leave.Employee) error {
	var hire *time.Time
	if !e.HireDate.IsZero() {
		t := e.HireDate.Time()
		hire = &t
	}
	_, err := ts.q.Exec(ctx, `
		INSERT INTO employees (id, name, email, role, manager_id, hire_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			manager_id = EXCLUDED.manager_id,
			hire_date = EXCLUDED.hire_date`,
		string(e.ID), e.Name, e.Email, string(e.Role), nullable(string(e.ManagerID)), hire,
		createdAt(e.CreatedAt),
	)
	return dbErr(err)
}

func (ts *txStore) SaveHoliday(ctx context.Context, h calendar.Holiday) error {
	_, err := ts.q.Exec(ctx, `
		INSERT INTO holidays (id, date, name, recurring)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			date = EXCLUDED.date,
			name = EXCLUDED.name,
			recurring = EXCLUDED.recurring`,
		h.ID, h.Date.Time(), h.Name, h.Recurring,
	)
	return dbErr(err)
}

func (ts *txStore) DeleteHoliday(ctx context.Context, id string) error {
	_, err := ts.q.Exec(ctx, "DELETE FROM holidays WHERE id = $1", id)
	return dbErr(err)
}

// =============================================================================
// QUERIES
// =============================================================================

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	q querier
}

const leaveTypeColumns = `id, name, default_allocation_days::text, max_carryover_days::text,
	accrual_kind, accrual_rate::text, allows_negative_balance, is_active, created_at`

func (qs queries) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	row := qs.q.QueryRow(ctx, "SELECT "+leaveTypeColumns+" FROM leave_types WHERE id = $1", string(id))
	lt, err := scanLeaveType(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.LeaveType{}, leave.ErrNotFound
	}
	return lt, dbErr(err)
}

func (qs queries) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	rows, err := qs.q.Query(ctx, "SELECT "+leaveTypeColumns+" FROM leave_types ORDER BY id")
	if err != nil {
		return nil, dbErr(err)
	}
	return collect(rows, scanLeaveType)
}

const employeeColumns = `id, name, email, role, manager_id, hire_date, created_at`

func (qs queries) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	row := qs.q.QueryRow(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = $1", string(id))
	e, err := scanEmployee(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.Employee{}, leave.ErrNotFound
	}
	return e, dbErr(err)
}

func (qs queries) ListEmployees(ctx context.Context) ([]leave.Employee, error) {
	rows, err := qs.q.Query(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY id")
	if err != nil {
		return nil, dbErr(err)
	}
	return collect(rows, scanEmployee)
}

const requestColumns = `id, requester_id, leave_type_id, start_date, end_date, start_half, end_half,
	days_count::text, year, reason, status, approver_id, decision_at, decision_comment, created_at, updated_at`

func (qs queries) GetRequest(ctx context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	row := qs.q.QueryRow(ctx, "SELECT "+requestColumns+" FROM leave_requests WHERE id = $1", string(id))
	return oneRequest(row)
}

func (qs queries) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.LeaveRequest, error) {
	var w where
	if f.RequesterID != "" {
		w.add("requester_id = $%d", string(f.RequesterID))
	}
	if f.LeaveTypeID != "" {
		w.add("leave_type_id = $%d", string(f.LeaveTypeID))
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if f.Year != 0 {
		w.add("year = $%d", f.Year)
	}
	query := "SELECT " + requestColumns + " FROM leave_requests" + w.clause() + " ORDER BY start_date, id"
	if f.Limit > 0 {
		query += w.limit(f.Limit)
	}
	rows, err := qs.q.Query(ctx, query, w.args...)
	if err != nil {
		return nil, dbErr(err)
	}
	return collect(rows, scanRequest)
}

func (qs queries) FindOverlapping(ctx context.Context, requester leave.EmployeeID, rng calendar.DateRange, statuses ...leave.Status) ([]leave.LeaveRequest, error) {
	var w where
	w.add("requester_id = $%d", string(requester))
	w.add("start_date <= $%d", rng.End.Time())
	w.add("end_date >= $%d", rng.Start.Time())
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		w.add("status = ANY($%d)", names)
	}
	rows, err := qs.q.Query(ctx, "SELECT "+requestColumns+" FROM leave_requests"+w.clause()+" ORDER BY start_date, id", w.args...)
	if err != nil {
		return nil, dbErr(err)
	}
	return collect(rows, scanRequest)
}

func (qs queries) SumPending(ctx context.Context, key leave.BalanceKey, exclude leave.RequestID) (decimal.Decimal, error) {
	var total string
	err := qs.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(days_count), 0)::text FROM leave_requests
		WHERE requester_id = $1 AND leave_type_id = $2 AND year = $3 AND status = $4 AND id <> $5`,
		string(key.EmployeeID), string(key.LeaveTypeID), key.Year, string(leave.StatusPending), string(exclude),
	).Scan(&total)
	if err != nil {
		return decimal.Zero, dbErr(err)
	}
	return decimal.NewFromString(total)
}

const balanceColumns = `employee_id, leave_type_id, year, allocated_days::text, carried_forward_days::text,
	used_days::text, version, created_at, updated_at`

func (qs queries) GetBalance(ctx context.Context, key leave.BalanceKey) (leave.LeaveBalance, error) {
	row := qs.q.QueryRow(ctx, "SELECT "+balanceColumns+` FROM leave_balances
		WHERE employee_id = $1 AND leave_type_id = $2 AND year = $3`,
		string(key.EmployeeID), string(key.LeaveTypeID), key.Year)
	return oneBalance(row)
}

func (qs queries) ListBalances(ctx context.Context, f leave.BalanceFilter) ([]leave.LeaveBalance, error) {
	var w where
	if f.EmployeeID != "" {
		w.add("employee_id = $%d", string(f.EmployeeID))
	}
	if f.LeaveTypeID != "" {
		w.add("leave_type_id = $%d", string(f.LeaveTypeID))
	}
	if f.Year != 0 {
		w.add("year = $%d", f.Year)
	}
	rows, err := qs.q.Query(ctx, "SELECT "+balanceColumns+" FROM leave_balances"+w.clause()+
		" ORDER BY employee_id, leave_type_id, year", w.args...)
	if err != nil {
		return nil, dbErr(err)
	}
	return collect(rows, scanBalance)
}

func (qs queries) ListAudit(ctx context.Context, f leave.AuditFilter) ([]leave.AuditEntry, error) {
	var w where
	if f.EntityType != "" {
		w.add("entity_type = $%d", string(f.EntityType))
	}
	if f.EntityID != "" {
		w.add("entity_id = $%d", f.EntityID)
	}
	inner := `SELECT seq, id, entity_type, entity_id, actor_id, action,
		COALESCE(before_json::text, 'null') AS before_json, COALESCE(after_json::text, 'null') AS after_json,
		"timestamp", comment FROM audit_entries` + w.clause() + " ORDER BY seq DESC"
	if f.Limit > 0 {
		inner += w.limit(f.Limit)
	}
	query := `SELECT id, entity_type, entity_id, actor_id, action, before_json, after_json, "timestamp", comment
		FROM (` + inner + `) AS recent ORDER BY seq ASC`

	rows, err := qs.q.Query(ctx, query, w.args...)
	if err != nil {
		return nil, dbErr(err)
	}
	return collect(rows, func(row pgx.Row) (leave.AuditEntry, error) {
		var e leave.AuditEntry
		var entityType, actor, before, after string
		if err := row.Scan(&e.ID, &entityType, &e.EntityID, &actor, &e.Action, &before, &after, &e.Timestamp, &e.Comment); err != nil {
			return leave.AuditEntry{}, err
		}
		e.EntityType = leave.EntityType(entityType)
		e.ActorID = leave.EmployeeID(actor)
		e.Before = []byte(before)
		e.After = []byte(after)
		return e, nil
	})
}

func (qs queries) ListHolidays(ctx context.Context) ([]calendar.Holiday, error) {
	rows, err := qs.q.Query(ctx, "SELECT id, date, name, recurring FROM holidays ORDER BY date ASC")
	if err != nil {
		return nil, dbErr(err)
	}
	return collect(rows, func(row pgx.Row) (calendar.Holiday, error) {
		var h calendar.Holiday
		var date time.Time
		if err := row.Scan(&h.ID, &date, &h.Name, &h.Recurring); err != nil {
			return calendar.Holiday{}, err
		}
		h.Date = calendar.DateOf(date)
		return h, nil
	})
}

// =============================================================================
// SCANNING
// =============================================================================

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, dbErr(rows.Err())
}

func oneRequest(row pgx.Row) (leave.LeaveRequest, error) {
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.LeaveRequest{}, leave.ErrNotFound
	}
	return r, dbErr(err)
}

func oneBalance(row pgx.Row) (leave.LeaveBalance, error) {
	b, err := scanBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.LeaveBalance{}, leave.ErrNotFound
	}
	return b, dbErr(err)
}

func scanLeaveType(row pgx.Row) (leave.LeaveType, error) {
	var lt leave.LeaveType
	var id, kind, alloc, carry, rate string
	if err := row.Scan(&id, &lt.Name, &alloc, &carry, &kind, &rate,
		&lt.AllowsNegativeBalance, &lt.IsActive, &lt.CreatedAt); err != nil {
		return leave.LeaveType{}, err
	}
	lt.ID = leave.LeaveTypeID(id)
	lt.Accrual.Kind = leave.AccrualKind(kind)
	lt.DefaultAllocationDays = parseDecimal(alloc)
	lt.MaxCarryoverDays = parseDecimal(carry)
	lt.Accrual.Rate = parseDecimal(rate)
	return lt, nil
}

func scanEmployee(row pgx.Row) (leave.Employee, error) {
	var e leave.Employee
	var id, role string
	var manager *string
	var hire *time.Time
	if err := row.Scan(&id, &e.Name, &e.Email, &role, &manager, &hire, &e.CreatedAt); err != nil {
		return leave.Employee{}, err
	}
	e.ID = leave.EmployeeID(id)
	e.Role = leave.Role(role)
	if manager != nil {
		e.ManagerID = leave.EmployeeID(*manager)
	}
	if hire != nil {
		e.HireDate = calendar.DateOf(*hire)
	}
	return e, nil
}

func scanRequest(row pgx.Row) (leave.LeaveRequest, error) {
	var r leave.LeaveRequest
	var id, requester, typeID, days, status string
	var start, end time.Time
	var approver *string
	if err := row.Scan(&id, &requester, &typeID, &start, &end, &r.StartHalf, &r.EndHalf,
		&days, &r.Year, &r.Reason, &status, &approver, &r.DecisionAt, &r.DecisionComment,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return leave.LeaveRequest{}, err
	}
	r.ID = leave.RequestID(id)
	r.RequesterID = leave.EmployeeID(requester)
	r.LeaveTypeID = leave.LeaveTypeID(typeID)
	r.StartDate = calendar.DateOf(start)
	r.EndDate = calendar.DateOf(end)
	r.DaysCount = parseDecimal(days)
	r.Status = leave.Status(status)
	if approver != nil {
		r.ApproverID = leave.EmployeeID(*approver)
	}
	return r, nil
}

func scanBalance(row pgx.Row) (leave.LeaveBalance, error) {
	var b leave.LeaveBalance
	var employee, typeID, alloc, carry, used string
	if err := row.Scan(&employee, &typeID, &b.Year, &alloc, &carry, &used,
		&b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return leave.LeaveBalance{}, err
	}
	b.EmployeeID = leave.EmployeeID(employee)
	b.LeaveTypeID = leave.LeaveTypeID(typeID)
	b.AllocatedDays = parseDecimal(alloc)
	b.CarriedForwardDays = parseDecimal(carry)
	b.UsedDays = parseDecimal(used)
	return b, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// where accumulates numbered predicates.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(format, len(w.args)))
}

func (w *where) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *where) limit(n int) string {
	w.args = append(w.args, n)
	return fmt.Sprintf(" LIMIT $%d", len(w.args))
}

// lockContentionCodes are SQLSTATEs that mean "try again".
var lockContentionCodes = map[string]bool{
	"55P03": true, // lock_not_available
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

func dbErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && lockContentionCodes[pgErr.Code] {
		return fmt.Errorf("%w: %s", leave.ErrLockContention, pgErr.Message)
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func jsonText(raw []byte) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var (
	_ leave.Store = (*Store)(nil)
	_ leave.Tx    = (*txStore)(nil)
)
