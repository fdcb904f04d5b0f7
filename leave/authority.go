package leave

// CanApprove decides whether approver may approve or reject requests made
// by requester. Self-approval is never permitted, whatever the role.
func CanApprove(approver, requester Actor) bool {
	if approver.ID == "" || approver.ID == requester.ID {
		return false
	}
	if approver.IsPrivileged() {
		return true
	}
	return requester.ManagerID != "" && approver.ID == requester.ManagerID
}

// CanCancel decides whether actor may cancel a request by requester that
// is currently in status. Pending requests may be withdrawn by the
// requester or by anyone who could approve them. Approved requests may
// only be cancelled by HR or Admin.
func CanCancel(actor, requester Actor, status Status) bool {
	switch status {
	case StatusPending:
		return (actor.ID != "" && actor.ID == requester.ID) || CanApprove(actor, requester)
	case StatusApproved:
		return actor.IsPrivileged()
	default:
		return false
	}
}

// CanView decides whether actor may read employee's requests and balances.
func CanView(actor, employee Actor) bool {
	if actor.ID != "" && actor.ID == employee.ID {
		return true
	}
	return CanApprove(actor, employee)
}
