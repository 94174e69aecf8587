package environment

import "fmt"

// FaultError describes a fault of the underlying game: a broken frame
// render, an out-of-range action, or any other failure of the step
// interface. Faults abandon the current episode only; collection
// resumes from a fresh Reset().
type FaultError struct {
	Op  string
	Err error
}

// Error satisfies the error interface
func (f *FaultError) Error() string {
	return f.Op + ": " + f.Err.Error()
}

// Unwrap returns the underlying fault
func (f *FaultError) Unwrap() error {
	return f.Err
}

// NewFault returns a new FaultError for operation op
func NewFault(op string, err error) *FaultError {
	return &FaultError{Op: op, Err: err}
}

// NewFaultf returns a new FaultError with a formatted message
func NewFaultf(op, format string, args ...interface{}) *FaultError {
	return &FaultError{Op: op, Err: fmt.Errorf(format, args...)}
}

// IsFault returns whether an error reports an environment fault
func IsFault(err error) bool {
	_, ok := err.(*FaultError)
	return ok
}
