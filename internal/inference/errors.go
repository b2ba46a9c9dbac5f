package inference

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrNumericDegeneracy is logged when sampling falls back to argmax. It
	// is never returned from Generate.
	ErrNumericDegeneracy = errors.New("numeric degeneracy")
	ErrInferenceFailure  = errors.New("inference failure")
	ErrMalformedInput    = errors.New("malformed input")
)

// StepError reports a failure during a decode step. Generated holds the
// tokens produced before the failing step.
type StepError struct {
	Step      int
	Kind      error
	Generated []int
	Err       error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("step %d: %v", e.Step, e.Kind)
	}
	return fmt.Sprintf("step %d: %v: %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stepError(st *State, kind, err error) *StepError {
	return &StepError{
		Step:      st.Step,
		Kind:      kind,
		Generated: append([]int(nil), st.Generated()...),
		Err:       err,
	}
}
