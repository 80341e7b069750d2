package pipeline

import "fmt"

// StageNotRegisteredError is recorded when a message targets a stage with no handler.
type StageNotRegisteredError struct {
	Stage string
}

func (e *StageNotRegisteredError) Error() string {
	return fmt.Sprintf("stage %q not registered", e.Stage)
}

// StageHandlerFailedError wraps an error or panic raised by a stage handler.
type StageHandlerFailedError struct {
	Stage string
	Err   error
}

func (e *StageHandlerFailedError) Error() string {
	return fmt.Sprintf("handler failed: %v", e.Err)
}

func (e *StageHandlerFailedError) Unwrap() error { return e.Err }

// FirstStageFailedError halts a run. Every later stage depends on the
// output of the first one.
type FirstStageFailedError struct {
	Stage string
	Err   error
}

func (e *FirstStageFailedError) Error() string {
	return fmt.Sprintf("first stage %s failed: %v", e.Stage, e.Err)
}

func (e *FirstStageFailedError) Unwrap() error { return e.Err }
