package indexer

import (
	"errors"
	"sync/atomic"
)

// ErrIngestionInProgress is returned when an ingestion run is already active
// on the same pipeline
var ErrIngestionInProgress = errors.New("ingestion already in progress")

// runLock is a non-blocking mutex guarding one ingestion run at a time
type runLock struct {
	state atomic.Int32 // 0 = idle, 1 = running
}

// tryAcquire takes the lock if it is free and reports whether it did
func (l *runLock) tryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// release must only be called by the holder
func (l *runLock) release() {
	l.state.Store(0)
}

// running reports whether a run currently holds the lock
func (l *runLock) running() bool {
	return l.state.Load() == 1
}
