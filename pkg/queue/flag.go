package queue

import "sync/atomic"

// CancelFlag is the shared soft-cancellation signal. The service facade sets
// it; workers observe it at natural boundaries and let in-flight calls
// finish, so their results are still persisted for resume.
type CancelFlag struct {
	requested atomic.Bool
}

// Set marks cancellation as requested. Idempotent.
func (f *CancelFlag) Set() {
	f.requested.Store(true)
}

// Requested reports whether cancellation has been requested.
func (f *CancelFlag) Requested() bool {
	return f.requested.Load()
}
