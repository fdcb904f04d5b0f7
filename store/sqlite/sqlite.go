/*
Package sqlite provides a SQLite-backed implementation of leave.Store.

PURPOSE:
  The default store for single-node deployments and for tests. The same
  contract is implemented for PostgreSQL in store/postgres; only the
  locking mechanism differs.

KEY TABLES:
  leave_types:    Leave categories and accrual rules
  employees:      Directory (role, manager) used for approval authority
  leave_balances: One row per (employee, leave type, year), versioned
  leave_requests: Requests, never deleted
  audit_entries:  Append-only; UPDATE and DELETE are rejected by triggers
  holidays:       Holiday calendar configuration

LOCKING:
  Transactions are opened with BEGIN IMMEDIATE (_txlock=immediate), so a
  transaction holds the database write lock from its first statement.
  That makes LockRequester, LockRequest and LockBalance plain reads: no
  other writer can run until commit. A writer that cannot get the lock
  within the busy timeout fails with leave.ErrLockContention.

DECIMALS:
  Day quantities are stored as TEXT and parsed with shopspring/decimal so
  half days never pass through float64.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - leave/store.go: interface definitions
  - store/memory: in-memory implementation for tests
  - store/storetest: conformance suite run against every store
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/leave"
)

const timeLayout = time.RFC3339Nano

// Store implements leave.Store using SQLite.
type Store struct {
	queries
	db *sql.DB
}

// Option configures New.
type Option func(*options)

type options struct {
	busyTimeout time.Duration
}

// WithBusyTimeout bounds how long a transaction waits for the write lock.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	o := options{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate",
		dbPath, o.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// DB exposes the underlying handle for maintenance tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		default_allocation_days TEXT NOT NULL,
		max_carryover_days TEXT NOT NULL,
		accrual_kind TEXT NOT NULL,
		accrual_rate TEXT NOT NULL,
		allows_negative_balance BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		manager_id TEXT,
		hire_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leave_balances (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
		year INTEGER NOT NULL,
		allocated_days TEXT NOT NULL,
		carried_forward_days TEXT NOT NULL,
		used_days TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id, year)
	);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		requester_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		start_half BOOLEAN NOT NULL DEFAULT FALSE,
		end_half BOOLEAN NOT NULL DEFAULT FALSE,
		days_count TEXT NOT NULL,
		year INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		approver_id TEXT,
		decision_at TEXT,
		decision_comment TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Overlap checks scan one requester's ranges
	CREATE INDEX IF NOT EXISTS idx_leave_requests_requester_dates
		ON leave_requests(requester_id, start_date, end_date);
	-- Pending reservations are summed per balance key
	CREATE INDEX IF NOT EXISTS idx_leave_requests_balance
		ON leave_requests(requester_id, leave_type_id, year, status);

	CREATE TABLE IF NOT EXISTS audit_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		before_json TEXT NOT NULL,
		after_json TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entries_entity
		ON audit_entries(entity_type, entity_id);

	CREATE TRIGGER IF NOT EXISTS audit_entries_no_update
		BEFORE UPDATE ON audit_entries
		BEGIN SELECT RAISE(ABORT, 'audit entries are append-only'); END;

	CREATE TRIGGER IF NOT EXISTS audit_entries_no_delete
		BEFORE DELETE ON audit_entries
		BEGIN SELECT RAISE(ABORT, 'audit entries are append-only'); END;

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		recurring BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (leave.Store interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{q: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return dbErr(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type txStore struct {
	queries
}

// LockRequester is a no-op: the transaction already holds the write lock.
func (ts *txStore) LockRequester(ctx context.Context, _ leave.EmployeeID) error {
	return ctx.Err()
}

func (ts *txStore) LockRequest(ctx context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	return ts.GetRequest(ctx, id)
}

func (ts *txStore) LockBalance(ctx context.Context, key leave.BalanceKey) (leave.LeaveBalance, error) {
	return ts.GetBalance(ctx, key)
}

func (ts *txStore) InsertRequest(ctx context.Context, r leave.LeaveRequest) error {
	query := `
		INSERT INTO leave_requests
		(id, requester_id, leave_type_id, start_date, end_date, start_half, end_half,
		 days_count, year, reason, status, approver_id, decision_at, decision_comment,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ts.q.ExecContext(ctx, query,
		r.ID, r.RequesterID, r.LeaveTypeID,
		r.StartDate.String(), r.EndDate.String(), r.StartHalf, r.EndHalf,
		r.DaysCount.String(), r.Year, r.Reason, r.Status,
		nullString(string(r.ApproverID)), nullTime(r.DecisionAt), r.DecisionComment,
		r.CreatedAt.UTC().Format(timeLayout), r.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return dbErr(fmt.Errorf("failed to insert request: %w", err))
	}
	return nil
}

func (ts *txStore) UpdateRequest(ctx context.Context, r leave.LeaveRequest) error {
	query := `
		UPDATE leave_requests SET
			days_count = ?, status = ?, approver_id = ?, decision_at = ?,
			decision_comment = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := ts.q.ExecContext(ctx, query,
		r.DaysCount.String(), r.Status, nullString(string(r.ApproverID)), nullTime(r.DecisionAt),
		r.DecisionComment, r.UpdatedAt.UTC().Format(timeLayout), r.ID,
	)
	if err != nil {
		return dbErr(fmt.Errorf("failed to update request: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("request %s: %w", r.ID, leave.ErrNotFound)
	}
	return nil
}

func (ts *txStore) CreateBalance(ctx context.Context, b leave.LeaveBalance) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	query := `
		INSERT INTO leave_balances
		(employee_id, leave_type_id, year, allocated_days, carried_forward_days, used_days,
		 version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(employee_id, leave_type_id, year) DO NOTHING
	`
	res, err := ts.q.ExecContext(ctx, query,
		b.EmployeeID, b.LeaveTypeID, b.Year,
		b.AllocatedDays.String(), b.CarriedForwardDays.String(), b.UsedDays.String(),
		now, now,
	)
	if err != nil {
		return false, dbErr(fmt.Errorf("failed to create balance: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (ts *txStore) UpdateBalance(ctx context.Context, b leave.LeaveBalance) (leave.LeaveBalance, error) {
	now := time.Now().UTC()
	query := `
		UPDATE leave_balances SET
			allocated_days = ?, carried_forward_days = ?, used_days = ?,
			version = version + 1, updated_at = ?
		WHERE employee_id = ? AND leave_type_id = ? AND year = ? AND version = ?
	`
	res, err := ts.q.ExecContext(ctx, query,
		b.AllocatedDays.String(), b.CarriedForwardDays.String(), b.UsedDays.String(),
		now.Format(timeLayout),
		b.EmployeeID, b.LeaveTypeID, b.Year, b.Version,
	)
	if err != nil {
		return leave.LeaveBalance{}, dbErr(fmt.Errorf("failed to update balance: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := ts.GetBalance(ctx, b.BalanceKey); err != nil {
			return leave.LeaveBalance{}, err
		}
		return leave.LeaveBalance{}, fmt.Errorf("%w: balance %s changed concurrently", leave.ErrLockContention, b.BalanceKey)
	}
	b.Version++
	b.UpdatedAt = now
	return b, nil
}

func (ts *txStore) AppendAudit(ctx context.Context, e leave.AuditEntry) error {
	query := `
		INSERT INTO audit_entries
		(id, entity_type, entity_id, actor_id, action, before_json, after_json, timestamp, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ts.q.ExecContext(ctx, query,
		e.ID, e.EntityType, e.EntityID, e.ActorID, e.Action,
		string(e.Before), string(e.After), e.Timestamp.UTC().Format(timeLayout), e.Comment,
	)
	if err != nil {
		return dbErr(fmt.Errorf("failed to append audit entry: %w", err))
	}
	return nil
}

func (ts *txStore) SaveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	query := `
		INSERT INTO leave_types
		(id, name, default_allocation_days, max_carryover_days, accrual_kind, accrual_rate,
		 allows_negative_balance, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			default_allocation_days = excluded.default_allocation_days,
			max_carryover_days = excluded.max_carryover_days,
			accrual_kind = excluded.accrual_kind,
			accrual_rate = excluded.accrual_rate,
			allows_negative_balance = excluded.allows_negative_balance,
			is_active = excluded.is_active
	`
	_, err := ts.q.ExecContext(ctx, query,
		lt.ID, lt.Name, lt.DefaultAllocationDays.String(), lt.MaxCarryoverDays.String(),
		lt.Accrual.Kind, lt.Accrual.Rate.String(), lt.AllowsNegativeBalance, lt.IsActive,
		lt.CreatedAt.UTC().Format(timeLayout),
	)
	return dbErr(err)
}

func (ts *txStore) SaveEmployee(ctx context.Context, e leave.Employee) error {
	query := `
		INSERT INTO employees (id, name, email, role, manager_id, hire_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			manager_id = excluded.manager_id,
			hire_date = excluded.hire_date
	`
	_, err := ts.q.ExecContext(ctx, query,
		e.ID, e.Name, e.Email, e.Role, nullString(string(e.ManagerID)), nullDate(e.HireDate),
		e.CreatedAt.UTC().Format(timeLayout),
	)
	return dbErr(err)
}

func (ts *txStore) SaveHoliday(ctx context.Context, h calendar.Holiday) error {
	query := `
		INSERT INTO holidays (id, date, name, recurring, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			name = excluded.name,
			recurring = excluded.recurring
	`
	_, err := ts.q.ExecContext(ctx, query,
		h.ID, h.Date.String(), h.Name, h.Recurring, time.Now().UTC().Format(timeLayout),
	)
	return dbErr(err)
}

func (ts *txStore) DeleteHoliday(ctx context.Context, id string) error {
	_, err := ts.q.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	return dbErr(err)
}

// =============================================================================
// QUERIES - shared by Store (autocommit) and txStore
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q queryer
}

const leaveTypeColumns = `id, name, default_allocation_days, max_carryover_days, accrual_kind,
	accrual_rate, allows_negative_balance, is_active, created_at`

func (qs queries) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+leaveTypeColumns+" FROM leave_types WHERE id = ?", id)
	lt, err := scanLeaveType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LeaveType{}, leave.ErrNotFound
	}
	return lt, dbErr(err)
}

func (qs queries) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	rows, err := qs.q.QueryContext(ctx, "SELECT "+leaveTypeColumns+" FROM leave_types ORDER BY id")
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	var out []leave.LeaveType
	for rows.Next() {
		lt, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

const employeeColumns = `id, name, email, role, manager_id, hire_date, created_at`

func (qs queries) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Employee{}, leave.ErrNotFound
	}
	return e, dbErr(err)
}

func (qs queries) ListEmployees(ctx context.Context) ([]leave.Employee, error) {
	rows, err := qs.q.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY id")
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	var out []leave.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const requestColumns = `id, requester_id, leave_type_id, start_date, end_date, start_half, end_half,
	days_count, year, reason, status, approver_id, decision_at, decision_comment, created_at, updated_at`

func (qs queries) GetRequest(ctx context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM leave_requests WHERE id = ?", id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LeaveRequest{}, leave.ErrNotFound
	}
	return r, dbErr(err)
}

func (qs queries) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.LeaveRequest, error) {
	var where []string
	var args []any
	if f.RequesterID != "" {
		where = append(where, "requester_id = ?")
		args = append(args, f.RequesterID)
	}
	if f.LeaveTypeID != "" {
		where = append(where, "leave_type_id = ?")
		args = append(args, f.LeaveTypeID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, f.Year)
	}

	query := "SELECT " + requestColumns + " FROM leave_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return qs.queryRequests(ctx, query, args...)
}

func (qs queries) FindOverlapping(ctx context.Context, requester leave.EmployeeID, rng calendar.DateRange, statuses ...leave.Status) ([]leave.LeaveRequest, error) {
	query := "SELECT " + requestColumns + ` FROM leave_requests
		WHERE requester_id = ? AND start_date <= ? AND end_date >= ?`
	args := []any{requester, rng.End.String(), rng.Start.String()}
	if len(statuses) > 0 {
		query += " AND status IN (" + placeholders(len(statuses)) + ")"
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += " ORDER BY start_date, id"
	return qs.queryRequests(ctx, query, args...)
}

func (qs queries) SumPending(ctx context.Context, key leave.BalanceKey, exclude leave.RequestID) (decimal.Decimal, error) {
	rows, err := qs.q.QueryContext(ctx, `
		SELECT days_count FROM leave_requests
		WHERE requester_id = ? AND leave_type_id = ? AND year = ? AND status = ? AND id <> ?`,
		key.EmployeeID, key.LeaveTypeID, key.Year, leave.StatusPending, exclude,
	)
	if err != nil {
		return decimal.Zero, dbErr(err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse days_count %q: %w", s, err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

const balanceColumns = `employee_id, leave_type_id, year, allocated_days, carried_forward_days,
	used_days, version, created_at, updated_at`

func (qs queries) GetBalance(ctx context.Context, key leave.BalanceKey) (leave.LeaveBalance, error) {
	row := qs.q.QueryRowContext(ctx, "SELECT "+balanceColumns+` FROM leave_balances
		WHERE employee_id = ? AND leave_type_id = ? AND year = ?`,
		key.EmployeeID, key.LeaveTypeID, key.Year,
	)
	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LeaveBalance{}, leave.ErrNotFound
	}
	return b, dbErr(err)
}

func (qs queries) ListBalances(ctx context.Context, f leave.BalanceFilter) ([]leave.LeaveBalance, error) {
	var where []string
	var args []any
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.LeaveTypeID != "" {
		where = append(where, "leave_type_id = ?")
		args = append(args, f.LeaveTypeID)
	}
	if f.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, f.Year)
	}
	query := "SELECT " + balanceColumns + " FROM leave_balances"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY employee_id, leave_type_id, year"

	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	var out []leave.LeaveBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (qs queries) ListAudit(ctx context.Context, f leave.AuditFilter) ([]leave.AuditEntry, error) {
	var where []string
	var args []any
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	inner := `SELECT seq, id, entity_type, entity_id, actor_id, action, before_json, after_json, timestamp, comment
		FROM audit_entries`
	if len(where) > 0 {
		inner += " WHERE " + strings.Join(where, " AND ")
	}
	inner += " ORDER BY seq DESC"
	if f.Limit > 0 {
		inner += " LIMIT ?"
		args = append(args, f.Limit)
	}
	query := `SELECT id, entity_type, entity_id, actor_id, action, before_json, after_json, timestamp, comment
		FROM (` + inner + `) ORDER BY seq ASC`

	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	var out []leave.AuditEntry
	for rows.Next() {
		var e leave.AuditEntry
		var before, after, ts string
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.ActorID, &e.Action,
			&before, &after, &ts, &e.Comment); err != nil {
			return nil, err
		}
		e.Before = []byte(before)
		e.After = []byte(after)
		e.Timestamp, _ = time.Parse(timeLayout, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (qs queries) ListHolidays(ctx context.Context) ([]calendar.Holiday, error) {
	rows, err := qs.q.QueryContext(ctx, "SELECT id, date, name, recurring FROM holidays ORDER BY date ASC")
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	var out []calendar.Holiday
	for rows.Next() {
		var h calendar.Holiday
		var date string
		if err := rows.Scan(&h.ID, &date, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		if h.Date, err = calendar.ParseDate(date); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (qs queries) queryRequests(ctx context.Context, query string, args ...any) ([]leave.LeaveRequest, error) {
	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	var out []leave.LeaveRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanLeaveType(row scanner) (leave.LeaveType, error) {
	var lt leave.LeaveType
	var alloc, carry, rate, created string
	if err := row.Scan(&lt.ID, &lt.Name, &alloc, &carry, &lt.Accrual.Kind, &rate,
		&lt.AllowsNegativeBalance, &lt.IsActive, &created); err != nil {
		return leave.LeaveType{}, err
	}
	lt.DefaultAllocationDays = parseDecimal(alloc)
	lt.MaxCarryoverDays = parseDecimal(carry)
	lt.Accrual.Rate = parseDecimal(rate)
	lt.CreatedAt, _ = time.Parse(timeLayout, created)
	return lt, nil
}

func scanEmployee(row scanner) (leave.Employee, error) {
	var e leave.Employee
	var manager, hire sql.NullString
	var created string
	if err := row.Scan(&e.ID, &e.Name, &e.Email, &e.Role, &manager, &hire, &created); err != nil {
		return leave.Employee{}, err
	}
	e.ManagerID = leave.EmployeeID(manager.String)
	if hire.Valid {
		e.HireDate, _ = calendar.ParseDate(hire.String)
	}
	e.CreatedAt, _ = time.Parse(timeLayout, created)
	return e, nil
}

func scanRequest(row scanner) (leave.LeaveRequest, error) {
	var r leave.LeaveRequest
	var start, end, days, created, updated string
	var approver, decisionAt sql.NullString
	if err := row.Scan(&r.ID, &r.RequesterID, &r.LeaveTypeID, &start, &end, &r.StartHalf, &r.EndHalf,
		&days, &r.Year, &r.Reason, &r.Status, &approver, &decisionAt, &r.DecisionComment,
		&created, &updated); err != nil {
		return leave.LeaveRequest{}, err
	}
	var err error
	if r.StartDate, err = calendar.ParseDate(start); err != nil {
		return leave.LeaveRequest{}, err
	}
	if r.EndDate, err = calendar.ParseDate(end); err != nil {
		return leave.LeaveRequest{}, err
	}
	r.DaysCount = parseDecimal(days)
	r.ApproverID = leave.EmployeeID(approver.String)
	if decisionAt.Valid {
		t, err := time.Parse(timeLayout, decisionAt.String)
		if err == nil {
			r.DecisionAt = &t
		}
	}
	r.CreatedAt, _ = time.Parse(timeLayout, created)
	r.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return r, nil
}

func scanBalance(row scanner) (leave.LeaveBalance, error) {
	var b leave.LeaveBalance
	var alloc, carry, used, created, updated string
	if err := row.Scan(&b.EmployeeID, &b.LeaveTypeID, &b.Year, &alloc, &carry, &used,
		&b.Version, &created, &updated); err != nil {
		return leave.LeaveBalance{}, err
	}
	b.AllocatedDays = parseDecimal(alloc)
	b.CarriedForwardDays = parseDecimal(carry)
	b.UsedDays = parseDecimal(used)
	b.CreatedAt, _ = time.Parse(timeLayout, created)
	b.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return b, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// dbErr maps SQLite busy/locked failures to leave.ErrLockContention.
func dbErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: database busy", leave.ErrLockContention)
	}
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func nullDate(d calendar.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var (
	_ leave.Store = (*Store)(nil)
	_ leave.Tx    = (*txStore)(nil)
)
