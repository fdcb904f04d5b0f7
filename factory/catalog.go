/*
Package factory provides JSON to Go leave catalog conversion.

PURPOSE:
  Converts JSON leave-type, employee and holiday definitions into the
  leave and calendar types, so HR can describe a catalog in a file and
  seed a fresh deployment without code changes.

JSON SCHEMA:
  {
    "leave_types": [
      {
        "id": "annual",
        "name": "Annual Leave",
        "default_allocation_days": 20,
        "max_carryover_days": 5,
        "accrual": {"kind": "monthly", "rate": 1.67},
        "allows_negative_balance": false,
        "active": true
      }
    ],
    "employees": [
      {"id": "e1", "name": "Ada", "role": "employee", "manager_id": "m1",
       "hire_date": "2024-03-01"}
    ],
    "holidays": [
      {"date": "2025-12-25", "name": "Christmas", "recurring": true}
    ]
  }

DEFAULTS:
  accrual.kind  annual
  active        true (omit to keep a type active)
  role          employee

USAGE:
  f := factory.NewCatalogFactory()
  cat, err := f.LoadFile("leave_types.json")
  res, err := cat.Apply(ctx, svc, admin)

SEE ALSO:
  - leave/types.go: LeaveType, Employee
  - leave/service.go: SaveLeaveType, SaveEmployee, AddHoliday
*/
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the file layout.
type CatalogJSON struct {
	LeaveTypes []LeaveTypeJSON `json:"leave_types"`
	Employees  []EmployeeJSON  `json:"employees,omitempty"`
	Holidays   []HolidayJSON   `json:"holidays,omitempty"`
}

// LeaveTypeJSON is the JSON representation of a leave type.
type LeaveTypeJSON struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	DefaultAllocationDays decimal.Decimal `json:"default_allocation_days"`
	MaxCarryoverDays      decimal.Decimal `json:"max_carryover_days"`
	Accrual               *AccrualJSON    `json:"accrual,omitempty"`
	AllowsNegativeBalance bool            `json:"allows_negative_balance,omitempty"`
	Active                *bool           `json:"active,omitempty"`
}

// AccrualJSON represents accrual configuration.
type AccrualJSON struct {
	Kind string          `json:"kind"` // annual, monthly, per_pay_period
	Rate decimal.Decimal `json:"rate"`
}

// EmployeeJSON represents a directory record.
type EmployeeJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	ManagerID string `json:"manager_id,omitempty"`
	HireDate  string `json:"hire_date,omitempty"` // YYYY-MM-DD
}

// HolidayJSON represents one holiday.
type HolidayJSON struct {
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring,omitempty"`
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// Catalog is a parsed, validated catalog.
type Catalog struct {
	LeaveTypes []leave.LeaveType
	Employees  []leave.Employee
	Holidays   []calendar.Holiday
}

// CatalogFactory converts JSON catalogs to Go structs.
type CatalogFactory struct{}

// NewCatalogFactory creates a new catalog factory.
func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{}
}

// LoadFile reads and parses a catalog file.
func (f *CatalogFactory) LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return f.Parse(data)
}

// Parse parses a JSON document into a Catalog.
func (f *CatalogFactory) Parse(data []byte) (*Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON converts CatalogJSON, collecting every invalid entry.
func (f *CatalogFactory) FromJSON(cj CatalogJSON) (*Catalog, error) {
	cat := &Catalog{}
	var errs []error
	seen := make(map[string]bool)

	for i, tj := range cj.LeaveTypes {
		lt, err := f.LeaveTypeFromJSON(tj)
		if err == nil && seen[tj.ID] {
			err = fmt.Errorf("%w: duplicate leave type id %q", leave.ErrInvalidInput, tj.ID)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("leave_types[%d]: %w", i, err))
			continue
		}
		seen[tj.ID] = true
		cat.LeaveTypes = append(cat.LeaveTypes, lt)
	}

	for i, ej := range cj.Employees {
		e, err := employeeFromJSON(ej)
		if err != nil {
			errs = append(errs, fmt.Errorf("employees[%d]: %w", i, err))
			continue
		}
		cat.Employees = append(cat.Employees, e)
	}

	for i, hj := range cj.Holidays {
		d, err := calendar.ParseDate(hj.Date)
		if err != nil {
			errs = append(errs, fmt.Errorf("holidays[%d]: %w", i, err))
			continue
		}
		cat.Holidays = append(cat.Holidays, calendar.Holiday{Date: d, Name: hj.Name, Recurring: hj.Recurring})
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cat, nil
}

// LeaveTypeFromJSON converts one leave type.
func (f *CatalogFactory) LeaveTypeFromJSON(tj LeaveTypeJSON) (leave.LeaveType, error) {
	if tj.ID == "" || tj.Name == "" {
		return leave.LeaveType{}, fmt.Errorf("%w: id and name are required", leave.ErrInvalidInput)
	}
	if tj.DefaultAllocationDays.IsNegative() || tj.MaxCarryoverDays.IsNegative() {
		return leave.LeaveType{}, fmt.Errorf("%w: %s: amounts must not be negative", leave.ErrInvalidInput, tj.ID)
	}

	rule := leave.AccrualRule{Kind: leave.AccrualAnnual}
	if tj.Accrual != nil {
		kind, err := parseAccrualKind(tj.Accrual.Kind)
		if err != nil {
			return leave.LeaveType{}, fmt.Errorf("%s: %w", tj.ID, err)
		}
		if tj.Accrual.Rate.IsNegative() {
			return leave.LeaveType{}, fmt.Errorf("%w: %s: accrual rate must not be negative", leave.ErrInvalidInput, tj.ID)
		}
		if kind != leave.AccrualAnnual && !tj.Accrual.Rate.IsPositive() {
			return leave.LeaveType{}, fmt.Errorf("%w: %s: %s accrual needs a positive rate", leave.ErrInvalidInput, tj.ID, kind)
		}
		rule = leave.AccrualRule{Kind: kind, Rate: tj.Accrual.Rate}
	}

	active := true
	if tj.Active != nil {
		active = *tj.Active
	}

	return leave.LeaveType{
		ID:                    leave.LeaveTypeID(tj.ID),
		Name:                  tj.Name,
		DefaultAllocationDays: tj.DefaultAllocationDays,
		MaxCarryoverDays:      tj.MaxCarryoverDays,
		Accrual:               rule,
		AllowsNegativeBalance: tj.AllowsNegativeBalance,
		IsActive:              active,
	}, nil
}

// ToJSON converts a LeaveType back to its JSON form.
func (f *CatalogFactory) ToJSON(lt leave.LeaveType) LeaveTypeJSON {
	active := lt.IsActive
	tj := LeaveTypeJSON{
		ID:                    string(lt.ID),
		Name:                  lt.Name,
		DefaultAllocationDays: lt.DefaultAllocationDays,
		MaxCarryoverDays:      lt.MaxCarryoverDays,
		AllowsNegativeBalance: lt.AllowsNegativeBalance,
		Active:                &active,
	}
	if lt.Accrual.Kind != "" && lt.Accrual.Kind != leave.AccrualAnnual {
		tj.Accrual = &AccrualJSON{Kind: string(lt.Accrual.Kind), Rate: lt.Accrual.Rate}
	}
	return tj
}

// =============================================================================
// APPLYING A CATALOG
// =============================================================================

// Seeder is the subset of leave.Service a catalog is applied through.
type Seeder interface {
	SaveLeaveType(ctx context.Context, actor leave.Actor, lt leave.LeaveType) error
	SaveEmployee(ctx context.Context, actor leave.Actor, e leave.Employee) error
	AddHoliday(ctx context.Context, actor leave.Actor, h calendar.Holiday) (calendar.Holiday, error)
}

// ApplyResult counts what was written.
type ApplyResult struct {
	LeaveTypes int `json:"leave_types"`
	Employees  int `json:"employees"`
	Holidays   int `json:"holidays"`
}

// Apply saves the catalog through the service, so authorization, validation
// and the frozen-terms rule for referenced types all apply. Employees are
// saved managers first.
func (c *Catalog) Apply(ctx context.Context, svc Seeder, actor leave.Actor) (ApplyResult, error) {
	var res ApplyResult
	for _, lt := range c.LeaveTypes {
		if err := svc.SaveLeaveType(ctx, actor, lt); err != nil {
			return res, fmt.Errorf("leave type %s: %w", lt.ID, err)
		}
		res.LeaveTypes++
	}
	for _, e := range managersFirst(c.Employees) {
		if err := svc.SaveEmployee(ctx, actor, e); err != nil {
			return res, fmt.Errorf("employee %s: %w", e.ID, err)
		}
		res.Employees++
	}
	for _, h := range c.Holidays {
		if _, err := svc.AddHoliday(ctx, actor, h); err != nil {
			return res, fmt.Errorf("holiday %s: %w", h.Date, err)
		}
		res.Holidays++
	}
	return res, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseAccrualKind(s string) (leave.AccrualKind, error) {
	switch leave.AccrualKind(s) {
	case "", leave.AccrualAnnual:
		return leave.AccrualAnnual, nil
	case leave.AccrualMonthly:
		return leave.AccrualMonthly, nil
	case leave.AccrualPerPayPeriod:
		return leave.AccrualPerPayPeriod, nil
	}
	return "", fmt.Errorf("%w: unknown accrual kind %q", leave.ErrInvalidInput, s)
}

func employeeFromJSON(ej EmployeeJSON) (leave.Employee, error) {
	if ej.ID == "" {
		return leave.Employee{}, fmt.Errorf("%w: employee id is required", leave.ErrInvalidInput)
	}
	role := leave.RoleEmployee
	if ej.Role != "" {
		r, err := leave.ParseRole(ej.Role)
		if err != nil {
			return leave.Employee{}, err
		}
		role = r
	}
	var hire calendar.Date
	if ej.HireDate != "" {
		d, err := calendar.ParseDate(ej.HireDate)
		if err != nil {
			return leave.Employee{}, fmt.Errorf("%s: hire_date: %w", ej.ID, err)
		}
		hire = d
	}
	return leave.Employee{
		ID:        leave.EmployeeID(ej.ID),
		Name:      ej.Name,
		Email:     ej.Email,
		Role:      role,
		ManagerID: leave.EmployeeID(ej.ManagerID),
		HireDate:  hire,
	}, nil
}

// managersFirst orders employees so each manager precedes their reports
// when both are in the list. Cycles fall back to input order.
func managersFirst(in []leave.Employee) []leave.Employee {
	byID := make(map[leave.EmployeeID]leave.Employee, len(in))
	for _, e := range in {
		byID[e.ID] = e
	}
	out := make([]leave.Employee, 0, len(in))
	state := make(map[leave.EmployeeID]int) // 1 visiting, 2 done

	var visit func(e leave.Employee)
	visit = func(e leave.Employee) {
		if state[e.ID] != 0 {
			return
		}
		state[e.ID] = 1
		if m, ok := byID[e.ManagerID]; ok {
			visit(m)
		}
		state[e.ID] = 2
		out = append(out, e)
	}
	for _, e := range in {
		visit(e)
	}
	return out
}
