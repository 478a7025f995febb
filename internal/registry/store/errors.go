package store

import "fmt"

// NotFoundError indicates the document was not found (or the caller lacks access).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation or invalid-state failure,
// e.g. navigating to a branch that was not forked from the target message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates a uniqueness/conflict violation.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ForbiddenError indicates the caller is not the chat owner and the chat is not
// public or collaborative.
type ForbiddenError struct{}

func (e *ForbiddenError) Error() string {
	return "forbidden"
}
