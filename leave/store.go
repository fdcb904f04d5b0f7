package leave

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/calendar"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// Reader is the read side shared by the store and its transactions.
// Missing rows are reported as ErrNotFound.
type Reader interface {
	GetLeaveType(ctx context.Context, id LeaveTypeID) (LeaveType, error)
	ListLeaveTypes(ctx context.Context) ([]LeaveType, error)

	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)

	GetRequest(ctx context.Context, id RequestID) (LeaveRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]LeaveRequest, error)

	// FindOverlapping returns the requester's requests in one of statuses
	// whose range shares at least one day with rng.
	FindOverlapping(ctx context.Context, requester EmployeeID, rng calendar.DateRange, statuses ...Status) ([]LeaveRequest, error)

	// SumPending totals DaysCount over Pending requests charged to key,
	// excluding the given request id (empty excludes nothing).
	SumPending(ctx context.Context, key BalanceKey, exclude RequestID) (decimal.Decimal, error)

	GetBalance(ctx context.Context, key BalanceKey) (LeaveBalance, error)
	ListBalances(ctx context.Context, f BalanceFilter) ([]LeaveBalance, error)

	ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	// ListHolidays makes every store a calendar.HolidaySource.
	ListHolidays(ctx context.Context) ([]calendar.Holiday, error)
}

// AuditWriter appends audit entries. It is the only audit capability a
// transaction exposes: entries are never updated or deleted.
type AuditWriter interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// Tx is the transactional view handed to WithTx callbacks. Lock methods
// hold until the transaction ends and fail with ErrLockContention when
// the lock cannot be acquired in bounded time.
type Tx interface {
	Reader
	AuditWriter

	// LockRequester serializes submissions by one employee. It never
	// touches balance rows.
	LockRequester(ctx context.Context, id EmployeeID) error

	// LockRequest reads a request row under an exclusive lock.
	LockRequest(ctx context.Context, id RequestID) (LeaveRequest, error)

	// LockBalance reads a balance row under an exclusive lock.
	LockBalance(ctx context.Context, key BalanceKey) (LeaveBalance, error)

	InsertRequest(ctx context.Context, r LeaveRequest) error
	UpdateRequest(ctx context.Context, r LeaveRequest) error

	// CreateBalance inserts b unless a row already exists for its key.
	// It reports whether a row was created.
	CreateBalance(ctx context.Context, b LeaveBalance) (bool, error)

	// UpdateBalance writes b if the stored version still equals b.Version
	// and bumps the version. A version mismatch is ErrLockContention.
	UpdateBalance(ctx context.Context, b LeaveBalance) (LeaveBalance, error)

	SaveLeaveType(ctx context.Context, lt LeaveType) error
	SaveEmployee(ctx context.Context, e Employee) error
	SaveHoliday(ctx context.Context, h calendar.Holiday) error
	DeleteHoliday(ctx context.Context, id string) error
}

// Store is implemented by store/memory, store/sqlite and store/postgres.
type Store interface {
	Reader

	// WithTx runs fn in one transaction. A non-nil error from fn rolls
	// everything back, audit entries included.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Directory resolves an employee id to the identity the engine uses.
type Directory interface {
	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)
}
