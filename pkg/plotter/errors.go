package plotter

import (
	"errors"
	"fmt"
)

// Rejection errors. They are returned synchronously and leave runtime state
// untouched.
var (
	// ErrAlreadyRunning indicates an execution unit is already in flight.
	ErrAlreadyRunning = errors.New("plotter is already running")

	// ErrNoPlan indicates no plan is installed.
	ErrNoPlan = errors.New("no plot plan exists")

	// ErrPlanExhausted indicates the current index is past the last item.
	ErrPlanExhausted = errors.New("no more items to execute")

	// ErrEmptyBatch indicates a batch without any plot or resume items.
	ErrEmptyBatch = errors.New("no plot items in batch")

	// ErrNoAddress indicates no plotting address is configured.
	ErrNoAddress = errors.New("no plotting address configured")

	// ErrMultipleResumes indicates a batch with more than one resume item.
	// An engine task carries a single resume seed.
	ErrMultipleResumes = errors.New("batch contains more than one resume item")
)

var (
	// ErrStoppedByRequest is the failure reason of an execution aborted by a
	// hard stop.
	ErrStoppedByRequest = errors.New("stopped by request")

	// ErrResumeTargetNotFound indicates a resume directory without a .tmp file.
	ErrResumeTargetNotFound = errors.New("resume target not found")

	// ErrResumeSeedInvalid indicates a .tmp file whose seed is not 32 bytes.
	ErrResumeSeedInvalid = errors.New("resume seed invalid")
)

// ResumeError reports a resume item that could not be resolved to an
// interrupted output. No dispatch happens for such an item.
type ResumeError struct {
	// Path is the resume directory.
	Path string

	// Err is ErrResumeTargetNotFound or ErrResumeSeedInvalid.
	Err error

	// Cause is the underlying lookup error.
	Cause error
}

// Error implements the error interface.
func (e *ResumeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("resume %s: %v: %v", e.Path, e.Err, e.Cause)
	}
	return fmt.Sprintf("resume %s: %v", e.Path, e.Err)
}

// Unwrap returns both the classification and the cause for errors.Is/As support.
func (e *ResumeError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// PanicError is the failure reported when the engine panics.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// IsRejection returns true if err is one of the synchronous rejection errors.
func IsRejection(err error) bool {
	return errors.Is(err, ErrAlreadyRunning) ||
		errors.Is(err, ErrNoPlan) ||
		errors.Is(err, ErrPlanExhausted) ||
		errors.Is(err, ErrEmptyBatch) ||
		errors.Is(err, ErrNoAddress) ||
		errors.Is(err, ErrMultipleResumes)
}

// IsResumeError returns true if err is a resume resolution failure.
func IsResumeError(err error) bool {
	var re *ResumeError
	return errors.As(err, &re)
}

// IsStoppedByRequest returns true if err reports a hard-stopped execution.
func IsStoppedByRequest(err error) bool {
	return errors.Is(err, ErrStoppedByRequest)
}
