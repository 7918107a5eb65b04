package rma

import "fmt"

// Status is the workflow stage of a return request.
type Status string

const (
	StatusSubmitted   Status = "SUBMITTED"
	StatusValidating  Status = "VALIDATING"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusShipping    Status = "SHIPPING"
	StatusReceived    Status = "RECEIVED"
	StatusInspecting  Status = "INSPECTING"
	StatusInspected   Status = "INSPECTED"
	StatusDisposition Status = "DISPOSITION"
	StatusProcessing  Status = "PROCESSING"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
)

// validTransitions defines allowed state transitions. VALIDATING and
// PROCESSING are optional intermediate stages: an admin may approve a
// submitted request directly, and a disposition without a long-running
// processing step may complete straight away. CANCELLED is reachable from
// every non-terminal state.
var validTransitions = map[Status][]Status{
	StatusSubmitted:   {StatusValidating, StatusApproved, StatusRejected, StatusCancelled},
	StatusValidating:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:    {StatusShipping, StatusCancelled},
	StatusShipping:    {StatusReceived, StatusCancelled},
	StatusReceived:    {StatusInspecting, StatusCancelled},
	StatusInspecting:  {StatusInspected, StatusCancelled},
	StatusInspected:   {StatusDisposition, StatusCancelled},
	StatusDisposition: {StatusProcessing, StatusCompleted, StatusCancelled},
	StatusProcessing:  {StatusCompleted, StatusCancelled},
	StatusRejected:    {}, // terminal
	StatusCompleted:   {}, // terminal
	StatusCancelled:   {}, // terminal
}

// CanTransitionTo checks whether target is a permitted successor.
func (s Status) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}
	for _, t := range allowed {
		if t == target {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// Valid reports whether s is one of the enumerated workflow states.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

func illegalTransition(from, to Status) error {
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrIllegalTransition, from, to)
}
