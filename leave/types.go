/*
types.go - Core types for the leave balance and approval engine

PURPOSE:
  Defines the leave domain: who is acting (Actor), what can be requested
  (LeaveType), what is owed (LeaveBalance), what was asked for
  (LeaveRequest) and what happened (AuditEntry).

KEY CONCEPTS:
  BalanceKey:   (employee, leave type, leave year), the unit of locking
  DaysCount:    always computed by the engine, never client supplied
  Soft reserve: pending requests reduce availability at submission but
                are never stored as a counter; they are summed on demand

INVARIANT:
  For every BalanceKey, LeaveBalance.UsedDays equals the sum of DaysCount
  over that employee's Approved requests for the same type and year.

SEE ALSO:
  - service.go: state transitions
  - ledger.go: commit/release on locked balance rows
  - store.go: persistence contract
*/
package leave

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/calendar"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	EmployeeID  string
	LeaveTypeID string
	RequestID   string
)

// =============================================================================
// ACTORS & ROLES
// =============================================================================

// Role is the closed set of roles the engine understands.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleHR       Role = "hr"
	RoleAdmin    Role = "admin"
)

// ParseRole normalizes and validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleEmployee, RoleManager, RoleHR, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// Actor is an identity as resolved by the identity provider. The engine
// trusts it and does not re-authenticate.
type Actor struct {
	ID        EmployeeID `json:"id"`
	Role      Role       `json:"role"`
	ManagerID EmployeeID `json:"manager_id,omitempty"`
}

// IsPrivileged reports HR or Admin.
func (a Actor) IsPrivileged() bool {
	return a.Role == RoleHR || a.Role == RoleAdmin
}

// Employee is the directory record behind an Actor.
type Employee struct {
	ID        EmployeeID    `json:"id"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Role      Role          `json:"role"`
	ManagerID EmployeeID    `json:"manager_id,omitempty"`
	HireDate  calendar.Date `json:"hire_date"`
	CreatedAt time.Time     `json:"created_at"`
}

// Actor projects the directory record onto the identity the engine uses.
func (e Employee) Actor() Actor {
	return Actor{ID: e.ID, Role: e.Role, ManagerID: e.ManagerID}
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

// AccrualKind selects how a year's allocation is computed.
type AccrualKind string

const (
	AccrualAnnual       AccrualKind = "annual"
	AccrualMonthly      AccrualKind = "monthly"
	AccrualPerPayPeriod AccrualKind = "per_pay_period"
)

// AccrualRule is {kind, rate}. Rate is days per month or per pay period;
// it is ignored for annual accrual.
type AccrualRule struct {
	Kind AccrualKind     `json:"kind"`
	Rate decimal.Decimal `json:"rate"`
}

// LeaveType is a category of leave. Immutable once referenced except for
// deactivation.
type LeaveType struct {
	ID                    LeaveTypeID     `json:"id"`
	Name                  string          `json:"name"`
	DefaultAllocationDays decimal.Decimal `json:"default_allocation_days"`
	MaxCarryoverDays      decimal.Decimal `json:"max_carryover_days"`
	Accrual               AccrualRule     `json:"accrual"`
	AllowsNegativeBalance bool            `json:"allows_negative_balance"`
	IsActive              bool            `json:"is_active"`
	CreatedAt             time.Time       `json:"created_at"`
}

// =============================================================================
// BALANCES
// =============================================================================

// BalanceKey identifies one balance row.
type BalanceKey struct {
	EmployeeID  EmployeeID  `json:"employee_id"`
	LeaveTypeID LeaveTypeID `json:"leave_type_id"`
	Year        int         `json:"year"`
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.EmployeeID, k.LeaveTypeID, k.Year)
}

// Previous returns the same employee and type one year earlier.
func (k BalanceKey) Previous() BalanceKey {
	k.Year--
	return k
}

// LeaveBalance is the per-key ledger row. Version increases on every write.
type LeaveBalance struct {
	BalanceKey
	AllocatedDays      decimal.Decimal `json:"allocated_days"`
	CarriedForwardDays decimal.Decimal `json:"carried_forward_days"`
	UsedDays           decimal.Decimal `json:"used_days"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Entitlement is allocated plus carried forward.
func (b LeaveBalance) Entitlement() decimal.Decimal {
	return b.AllocatedDays.Add(b.CarriedForwardDays)
}

// Remaining is entitlement minus committed usage.
func (b LeaveBalance) Remaining() decimal.Decimal {
	return b.Entitlement().Sub(b.UsedDays)
}

// Availability is the read model for "how much can this employee still ask for".
type Availability struct {
	BalanceKey
	Allocated      decimal.Decimal `json:"allocated_days"`
	CarriedForward decimal.Decimal `json:"carried_forward_days"`
	Used           decimal.Decimal `json:"used_days"`
	Pending        decimal.Decimal `json:"pending_days"`
	Available      decimal.Decimal `json:"available_days"`
	AllowsNegative bool            `json:"allows_negative_balance"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// Status is a request's position in the state machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

// LeaveRequest is never hard-deleted; cancellation is a status.
type LeaveRequest struct {
	ID              RequestID       `json:"id"`
	RequesterID     EmployeeID      `json:"requester_id"`
	LeaveTypeID     LeaveTypeID     `json:"leave_type_id"`
	StartDate       calendar.Date   `json:"start_date"`
	EndDate         calendar.Date   `json:"end_date"`
	StartHalf       bool            `json:"start_half"`
	EndHalf         bool            `json:"end_half"`
	DaysCount       decimal.Decimal `json:"days_count"`
	Year            int             `json:"year"`
	Reason          string          `json:"reason,omitempty"`
	Status          Status          `json:"status"`
	ApproverID      EmployeeID      `json:"approver_id,omitempty"`
	DecisionAt      *time.Time      `json:"decision_at,omitempty"`
	DecisionComment string          `json:"decision_comment,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Range returns the inclusive date range of the request.
func (r LeaveRequest) Range() calendar.DateRange {
	return calendar.DateRange{Start: r.StartDate, End: r.EndDate}
}

// BalanceKey is the balance row this request is charged to.
func (r LeaveRequest) BalanceKey() BalanceKey {
	return BalanceKey{EmployeeID: r.RequesterID, LeaveTypeID: r.LeaveTypeID, Year: r.Year}
}

// RequestFilter narrows ListRequests. Zero values mean "any".
type RequestFilter struct {
	RequesterID EmployeeID
	LeaveTypeID LeaveTypeID
	Status      Status
	Year        int
	Limit       int
}

// BalanceFilter narrows ListBalances. Zero values mean "any".
type BalanceFilter struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Year        int
}

// =============================================================================
// AUDIT
// =============================================================================

// EntityType names what an audit entry is about.
type EntityType string

const (
	EntityRequest EntityType = "leave_request"
	EntityBalance EntityType = "leave_balance"
)

// Audit actions.
const (
	ActionSubmit     = "submit"
	ActionApprove    = "approve"
	ActionReject     = "reject"
	ActionCancel     = "cancel"
	ActionCommit     = "commit"
	ActionRelease    = "release"
	ActionInitialize = "initialize"
	ActionRollover   = "rollover"
)

// AuditEntry is append-only.
type AuditEntry struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	ActorID    EmployeeID      `json:"actor_id"`
	Action     string          `json:"action"`
	Before     json.RawMessage `json:"before"`
	After      json.RawMessage `json:"after"`
	Timestamp  time.Time       `json:"timestamp"`
	Comment    string          `json:"comment,omitempty"`
}

// AuditFilter narrows ListAudit.
type AuditFilter struct {
	EntityType EntityType
	EntityID   string
	Limit      int
}
