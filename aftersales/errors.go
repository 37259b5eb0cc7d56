package aftersales

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrGuard          = errors.New("transition not allowed")
	ErrConflict       = errors.New("concurrent modification")
	ErrInfrastructure = errors.New("infrastructure error")

	// ErrVersionConflict is returned by repositories when a conditional update matched no row.
	ErrVersionConflict = errors.New("case version conflict")
)

type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// GuardError explains why a transition was rejected.
type GuardError struct {
	Event          string
	CurrentState   Status
	RequiredStates []Status
	RequiredRoles  []Role
	Reason         string
}

func (e *GuardError) Error() string {
	var b strings.Builder
	b.WriteString("cannot ")
	b.WriteString(e.Event)
	if e.CurrentState != "" {
		b.WriteString(" in state ")
		b.WriteString(string(e.CurrentState))
	}
	if len(e.RequiredStates) > 0 {
		states := make([]string, len(e.RequiredStates))
		for i, s := range e.RequiredStates {
			states[i] = string(s)
		}
		b.WriteString(" (requires ")
		b.WriteString(strings.Join(states, " or "))
		b.WriteString(")")
	}
	if len(e.RequiredRoles) > 0 {
		roles := make([]string, len(e.RequiredRoles))
		for i, r := range e.RequiredRoles {
			roles[i] = string(r)
		}
		b.WriteString(" (role must be ")
		b.WriteString(strings.Join(roles, " or "))
		b.WriteString(")")
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *GuardError) Is(target error) bool { return target == ErrGuard }

type ConflictError struct {
	CaseId   string
	Event    string
	Expected Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("case %s was modified concurrently during %s (expected state %s); reload and retry", e.CaseId, e.Event, e.Expected)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func (e *InfrastructureError) Is(target error) bool { return target == ErrInfrastructure }

func infraError(op string, err error) error {
	if err == nil {
		return nil
	}
	// already classified errors pass through untouched
	var (
		v *ValidationError
		n *NotFoundError
		g *GuardError
		c *ConflictError
		i *InfrastructureError
	)
	if errors.As(err, &v) || errors.As(err, &n) || errors.As(err, &g) || errors.As(err, &c) || errors.As(err, &i) {
		return err
	}
	return &InfrastructureError{Op: op, Err: err}
}
