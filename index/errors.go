package index

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBins is returned by New for a negative bin count.
	ErrInvalidBins = errors.New("index: bin count must be >= 0")
	// ErrBinsMismatch is returned when Options.Buckets was opened with a
	// different number of bins than the index.
	ErrBinsMismatch = errors.New("index: bucket store bin count mismatch")
)

// WorkerPanicError reports a flush worker that terminated abnormally.
// It is returned from Orchestrator.Close.
//
// If the panic value is an error it can be reached via errors.Unwrap.
type WorkerPanicError struct {
	Worker int
	Value  any
	Stack  []byte
}

func (e *WorkerPanicError) Error() string {
	return fmt.Sprintf("index: flush worker %d panicked: %v", e.Worker, e.Value)
}

func (e *WorkerPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
