package lifecycle

import "context"

// Task is the observable contract the scheduler drives. Concrete task
// types (the auction task, or a test double) embed *StateMachine and
// implement Run themselves, favoring composition over an abstract base
// class.
type Task interface {
	// TaskID returns the task's identity, unique within its session.
	TaskID() int

	// SessionID returns the session this task belongs to.
	SessionID() int

	// GetState returns the current lifecycle state.
	GetState() State

	// SetLock installs the Monitor used for this task's state transitions.
	// Must be called only while the task is StateNew.
	SetLock(m *Monitor) error

	// Run is the task's entrypoint, invoked on its own goroutine by the
	// scheduler. Single-shot: a Run call on a non-NEW task returns
	// immediately without effect.
	Run(ctx context.Context)

	// MarkEndable, Resume and TryEnd are the scheduler- and
	// subclass-facing transition triggers; they report success, never error.
	MarkEndable() bool
	Resume() bool
	TryEnd() bool

	// WaitForEnd blocks until GetState() == StateEnded or ctx is done.
	WaitForEnd(ctx context.Context) error
}
