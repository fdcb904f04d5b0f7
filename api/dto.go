/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON request bodies and list envelopes. Domain types already
  carry JSON tags and are returned as-is; request bodies are separate so
  clients can never set engine-computed fields (days_count, status,
  version).

VALIDATION:
  Bodies carry go-playground/validator tags and are checked by decode()
  before reaching the service. Field names in validation errors are the
  JSON names.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: ErrorResponse
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/leave"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// =============================================================================
// REQUEST BODIES
// =============================================================================

// SubmitRequestBody creates a leave request.
type SubmitRequestBody struct {
	EmployeeID  string `json:"employee_id,omitempty"` // HR/Admin on behalf of someone
	LeaveTypeID string `json:"leave_type_id" validate:"required"`
	StartDate   string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate     string `json:"end_date" validate:"required,datetime=2006-01-02"`
	StartHalf   bool   `json:"start_half,omitempty"`
	EndHalf     bool   `json:"end_half,omitempty"`
	Reason      string `json:"reason,omitempty" validate:"max=500"`
}

// DecisionBody is the optional body of approve, reject and cancel.
type DecisionBody struct {
	Comment string `json:"comment,omitempty" validate:"max=500"`
	Reason  string `json:"reason,omitempty" validate:"max=500"`
}

// Text returns the reason for rejections, otherwise the comment.
func (b DecisionBody) Text() string {
	if b.Reason != "" {
		return b.Reason
	}
	return b.Comment
}

// BalanceKeyBody addresses one balance row.
type BalanceKeyBody struct {
	EmployeeID  string `json:"employee_id" validate:"required"`
	LeaveTypeID string `json:"leave_type_id" validate:"required"`
	Year        int    `json:"year" validate:"required,min=1900,max=9999"`
}

func (b BalanceKeyBody) Key() leave.BalanceKey {
	return leave.BalanceKey{
		EmployeeID:  leave.EmployeeID(b.EmployeeID),
		LeaveTypeID: leave.LeaveTypeID(b.LeaveTypeID),
		Year:        b.Year,
	}
}

// RolloverBody rolls one key, or every key of a year when only Year is set.
type RolloverBody struct {
	EmployeeID  string `json:"employee_id,omitempty" validate:"required_with=LeaveTypeID"`
	LeaveTypeID string `json:"leave_type_id,omitempty" validate:"required_with=EmployeeID"`
	Year        int    `json:"year" validate:"required,min=1900,max=9999"`
	Workers     int    `json:"workers,omitempty" validate:"min=0,max=64"`
}

// HolidayBody adds a holiday.
type HolidayBody struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Name      string `json:"name" validate:"required,max=100"`
	Recurring bool   `json:"recurring,omitempty"`
}

// EmployeeBody creates or updates a directory record.
type EmployeeBody struct {
	Name      string `json:"name" validate:"required,max=200"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	Role      string `json:"role" validate:"required,oneof=employee manager hr admin"`
	ManagerID string `json:"manager_id,omitempty"`
	HireDate  string `json:"hire_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// RESPONSE ENVELOPES
// =============================================================================

type RequestListResponse struct {
	Requests []leave.LeaveRequest `json:"requests"`
	Count    int                  `json:"count"`
}

type AuditListResponse struct {
	Entries []leave.AuditEntry `json:"entries"`
	Count   int                `json:"count"`
}

type HolidayListResponse struct {
	Holidays []calendar.Holiday `json:"holidays"`
}

type LeaveTypeListResponse struct {
	LeaveTypes []leave.LeaveType `json:"leave_types"`
}

// =============================================================================
// DECODING
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. An empty body is
// allowed when optional is set.
func (h *Handler) decode(r *http.Request, dst any, optional bool) error {
	if r.Body == nil || r.Body == http.NoBody {
		if !optional {
			return fmt.Errorf("request body is required")
		}
	} else {
		dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			if !(optional && errors.Is(err, io.EOF)) {
				return fmt.Errorf("invalid request body: %w", err)
			}
		}
	}
	return h.validate.Struct(dst)
}
