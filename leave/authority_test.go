package leave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/leave-engine/leave"
)

func TestCanApprove(t *testing.T) {
	emp := leave.Actor{ID: "emp", Role: leave.RoleEmployee, ManagerID: "mgr"}
	orphan := leave.Actor{ID: "orphan", Role: leave.RoleEmployee}

	tests := []struct {
		name      string
		approver  leave.Actor
		requester leave.Actor
		want      bool
	}{
		{"direct manager", leave.Actor{ID: "mgr", Role: leave.RoleManager}, emp, true},
		{"other manager", leave.Actor{ID: "mgr2", Role: leave.RoleManager}, emp, false},
		{"peer employee", leave.Actor{ID: "peer", Role: leave.RoleEmployee}, emp, false},
		{"hr", leave.Actor{ID: "hr", Role: leave.RoleHR}, emp, true},
		{"admin", leave.Actor{ID: "admin", Role: leave.RoleAdmin}, emp, true},
		{"self", emp, emp, false},
		{"hr self", leave.Actor{ID: "hr", Role: leave.RoleHR}, leave.Actor{ID: "hr", Role: leave.RoleHR}, false},
		{"manager of nobody", leave.Actor{ID: "", Role: leave.RoleManager}, orphan, false},
		{"employee as manager id", leave.Actor{ID: "mgr", Role: leave.RoleEmployee}, emp, true},
		{"no manager on file", leave.Actor{ID: "mgr", Role: leave.RoleManager}, orphan, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, leave.CanApprove(tt.approver, tt.requester))
		})
	}
}

func TestCanCancel(t *testing.T) {
	emp := leave.Actor{ID: "emp", Role: leave.RoleEmployee, ManagerID: "mgr"}
	mgr := leave.Actor{ID: "mgr", Role: leave.RoleManager}
	hr := leave.Actor{ID: "hr", Role: leave.RoleHR}
	peer := leave.Actor{ID: "peer", Role: leave.RoleEmployee}

	tests := []struct {
		name   string
		actor  leave.Actor
		status leave.Status
		want   bool
	}{
		{"requester withdraws pending", emp, leave.StatusPending, true},
		{"manager cancels pending", mgr, leave.StatusPending, true},
		{"hr cancels pending", hr, leave.StatusPending, true},
		{"peer cancels pending", peer, leave.StatusPending, false},
		{"requester cancels approved", emp, leave.StatusApproved, false},
		{"manager cancels approved", mgr, leave.StatusApproved, false},
		{"hr cancels approved", hr, leave.StatusApproved, true},
		{"hr cancels rejected", hr, leave.StatusRejected, false},
		{"requester cancels cancelled", emp, leave.StatusCancelled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, leave.CanCancel(tt.actor, emp, tt.status))
		})
	}
}

func TestCanView(t *testing.T) {
	emp := leave.Actor{ID: "emp", Role: leave.RoleEmployee, ManagerID: "mgr"}
	assert.True(t, leave.CanView(emp, emp))
	assert.True(t, leave.CanView(leave.Actor{ID: "mgr", Role: leave.RoleManager}, emp))
	assert.True(t, leave.CanView(leave.Actor{ID: "hr", Role: leave.RoleHR}, emp))
	assert.False(t, leave.CanView(leave.Actor{ID: "peer", Role: leave.RoleEmployee}, emp))
	assert.False(t, leave.CanView(leave.Actor{}, leave.Actor{}))
}

func TestStateMachine(t *testing.T) {
	all := []leave.Status{leave.StatusPending, leave.StatusApproved, leave.StatusRejected, leave.StatusCancelled}
	allowed := map[[2]leave.Status]bool{
		{leave.StatusPending, leave.StatusApproved}:   true,
		{leave.StatusPending, leave.StatusRejected}:   true,
		{leave.StatusPending, leave.StatusCancelled}:  true,
		{leave.StatusApproved, leave.StatusCancelled}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]leave.Status{from, to}], leave.CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	assert.False(t, leave.StatusPending.IsTerminal())
	assert.False(t, leave.StatusApproved.IsTerminal())
	assert.True(t, leave.StatusRejected.IsTerminal())
	assert.True(t, leave.StatusCancelled.IsTerminal())
}

func TestParseRoleAndStatus(t *testing.T) {
	r, err := leave.ParseRole("hr")
	assert.NoError(t, err)
	assert.Equal(t, leave.RoleHR, r)
	_, err = leave.ParseRole("ceo")
	assert.ErrorIs(t, err, leave.ErrInvalidInput)

	s, err := leave.ParseStatus("approved")
	assert.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, s)
	_, err = leave.ParseStatus("archived")
	assert.ErrorIs(t, err, leave.ErrInvalidInput)
}
