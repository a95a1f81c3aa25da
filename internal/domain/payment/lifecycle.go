package payment

import "fmt"

// Status is a payment lifecycle state.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusProcessing      Status = "PROCESSING"
	StatusCompleted       Status = "COMPLETED"
	StatusRejected        Status = "REJECTED"
	StatusFailed          Status = "FAILED"
)

// Action is a request to move a payment along its lifecycle.
type Action string

const (
	ActionSubmit   Action = "SUBMIT"
	ActionApprove  Action = "APPROVE"
	ActionReject   Action = "REJECT"
	ActionExecute  Action = "EXECUTE"
	ActionComplete Action = "COMPLETE"
	ActionFail     Action = "FAIL"
	ActionRetry    Action = "RETRY"
)

// transitions is the exhaustive set of legal lifecycle edges. Any
// (status, action) pair absent from this table is illegal.
var transitions = map[Status]map[Action]Status{
	StatusDraft: {
		ActionSubmit: StatusPendingApproval,
	},
	StatusPendingApproval: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
	},
	StatusApproved: {
		ActionExecute: StatusProcessing,
	},
	StatusProcessing: {
		ActionComplete: StatusCompleted,
		ActionFail:     StatusFailed,
	},
	StatusFailed: {
		ActionRetry: StatusPendingApproval,
	},
}

// actionOrder fixes the iteration order of AvailableActions so callers get a
// deterministic result.
var actionOrder = []Action{
	ActionSubmit, ActionApprove, ActionReject, ActionExecute, ActionComplete, ActionFail, ActionRetry,
}

// ValidAction reports whether a is one of the defined lifecycle actions.
func ValidAction(a Action) bool {
	for _, action := range actionOrder {
		if a == action {
			return true
		}
	}
	return false
}

// CanTransition reports whether applying action to status is a legal edge.
func CanTransition(status Status, action Action) bool {
	_, ok := transitions[status][action]
	return ok
}

// NextStatus returns the destination of applying action to status, or
// ErrIllegalTransition naming both the status and the action.
func NextStatus(status Status, action Action) (Status, error) {
	next, ok := transitions[status][action]
	if !ok {
		return "", ErrIllegalTransition{From: status, Action: action}
	}
	return next, nil
}

// IsTerminal reports whether the status has no outgoing edges. FAILED is not
// terminal: it can be retried back into PENDING_APPROVAL.
func IsTerminal(status Status) bool {
	return status == StatusCompleted || status == StatusRejected
}

// IsImmutable reports whether the financial fields (amount, currency, vendor)
// of a payment in this status are frozen. Only status-advancing fields may
// change from an immutable status onward.
func IsImmutable(status Status) bool {
	switch status {
	case StatusApproved, StatusProcessing, StatusCompleted:
		return true
	default:
		return false
	}
}

// AvailableActions returns every action with a defined edge from status.
// Terminal states return an empty slice.
func AvailableActions(status Status) []Action {
	edges := transitions[status]
	actions := make([]Action, 0, len(edges))
	for _, action := range actionOrder {
		if _, ok := edges[action]; ok {
			actions = append(actions, action)
		}
	}
	return actions
}

// SequenceResult is the outcome of replaying a sequence of actions against the
// transition table.
type SequenceResult struct {
	Valid bool
	// EndStatus is the final status on success, or the last legal status
	// reached before the first illegal action.
	EndStatus Status
	// FailedAction is set when Valid is false.
	FailedAction Action
	Message      string
}

// ValidateActionSequence replays actions in order starting from start,
// stopping at the first illegal action.
func ValidateActionSequence(start Status, actions []Action) SequenceResult {
	current := start
	for _, action := range actions {
		next, err := NextStatus(current, action)
		if err != nil {
			return SequenceResult{
				Valid:        false,
				EndStatus:    current,
				FailedAction: action,
				Message:      fmt.Sprintf("action %s is not allowed from status %s", action, current),
			}
		}
		current = next
	}
	return SequenceResult{Valid: true, EndStatus: current}
}
