package plugin

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("connector not registered")
	ErrDisabled        = errors.New("connector disabled")
	ErrDuplicate       = errors.New("connector already registered")
	ErrInvalidConfig   = errors.New("invalid connector configuration")
	ErrInvalidRequest  = errors.New("invalid execution request")
	ErrPolicyDenied    = errors.New("capability type denied by policy")
	ErrExecutionFailed = errors.New("connector execution failed")
	ErrTimeout         = errors.New("connector execution timed out")
)

// ExecutionError reports a failed Execute call. errors.Is matches both the
// failure kind (ErrExecutionFailed, ErrTimeout) and the underlying cause.
type ExecutionError struct {
	Type CapabilityType
	Name string
	Verb string
	Kind error
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s/%s %s: %v: %v", e.Type, e.Name, e.Verb, e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// PanicError captures a recovered panic raised inside connector code.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("connector panic: %v", e.Value)
}
