package domain

import "fmt"

// ValidationError reports bad input. Nothing was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// ForbiddenError reports an actor lacking permission for an action or
// transition edge.
type ForbiddenError struct {
	ActorID string
	Action  string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: actor %s may not %s", e.ActorID, e.Action)
}

// InvalidTransitionError reports a requested edge that does not exist in
// the lifecycle graph.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// TerminalStateError reports a transition attempted from a terminal status.
type TerminalStateError struct {
	Status Status
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("grievance is %s: no further transitions", e.Status)
}

// InvalidStateError reports an operation attempted in the wrong lifecycle
// phase, e.g. assignment while still submitted.
type InvalidStateError struct {
	Status Status
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.Status)
}

// UnknownDepartmentError reports a Directory miss on a department id.
type UnknownDepartmentError struct {
	ID string
}

func (e *UnknownDepartmentError) Error() string {
	return fmt.Sprintf("unknown department %s", e.ID)
}

// UnknownUserError reports a Directory miss on a user id.
type UnknownUserError struct {
	ID string
}

func (e *UnknownUserError) Error() string {
	return fmt.Sprintf("unknown user %s", e.ID)
}
