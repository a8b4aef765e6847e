// Package lifecycle implements the five-state task lifecycle shared by
// every auction task and driven by the scheduler. A Task starts NEW,
// becomes RUNNING, oscillates between RUNNING and ENDABLE as its local
// end condition comes and goes, and is finally pushed through ENDING to
// the terminal ENDED state by the scheduler.
//
// Every transition happens under a *Monitor — a mutex plus a condition
// variable exposed as a value rather than relied upon by identity. A task
// owns a private Monitor from construction; the scheduler replaces it
// with a single shared Monitor before it starts driving execution, so
// that any state change in any task wakes every other waiter.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// State is one of the five lifecycle states.
type State int

const (
	StateNew State = iota
	StateRunning
	StateEndable
	StateEnding
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateRunning:
		return "RUNNING"
	case StateEndable:
		return "ENDABLE"
	case StateEnding:
		return "ENDING"
	case StateEnded:
		return "ENDED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// AtLeast reports whether s is the same as or later in the lifecycle
// than other. Used by the scheduler's "≥ ENDABLE" partner checks.
func (s State) AtLeast(other State) bool {
	return s >= other
}

// edges is the transition table: the single source of truth for which
// state changes are legal.
var edges = map[State]State{
	StateNew:     StateRunning,
	StateRunning: StateEndable,
}

// endableEdges additionally allows ENDABLE to go to either RUNNING
// (resume) or ENDING (try-end); that's the one state with two exits.
var endableEdges = map[State]bool{
	StateRunning: true,
	StateEnding:  true,
}

var endingEdges = map[State]bool{
	StateEnded: true,
}

func validEdge(from, to State) bool {
	switch from {
	case StateEndable:
		return endableEdges[to]
	case StateEnding:
		return endingEdges[to]
	default:
		want, ok := edges[from]
		return ok && want == to
	}
}

// Monitor is a mutex and condition variable exposed as a value. Tasks are
// constructed with a private Monitor; the scheduler swaps every task's
// Monitor for one it owns before execution begins (see StateMachine.SetLock),
// so a single Lock/Wait/Broadcast triple coordinates every task in a run.
type Monitor struct {
	mu    sync.Mutex
	cond  *sync.Cond
	epoch uint64 // bumped under mu by every transition on any task sharing this Monitor
}

// NewMonitor returns a ready-to-use Monitor.
func NewMonitor() *Monitor {
	m := &Monitor{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Lock acquires the monitor's mutex.
func (m *Monitor) Lock() { m.mu.Lock() }

// Unlock releases the monitor's mutex.
func (m *Monitor) Unlock() { m.mu.Unlock() }

// Wait releases the mutex and blocks until Broadcast is called, then
// reacquires it. Callers must re-check their condition in a loop:
// Wait may return on a broadcast unrelated to what the caller awaited.
func (m *Monitor) Wait() { m.cond.Wait() }

// Broadcast wakes every goroutine blocked in Wait.
func (m *Monitor) Broadcast() { m.cond.Broadcast() }

// CurrentEpoch returns the number of state transitions observed so far
// by any task sharing this Monitor.
func (m *Monitor) CurrentEpoch() uint64 {
	m.Lock()
	defer m.Unlock()
	return m.epoch
}

// WaitForChange blocks until a transition bumps the epoch past last, or
// ctx is done, returning the epoch observed on return. This is how the
// scheduler waits for any task's state to differ from a prior snapshot
// without needing a reentrant lock: the epoch bump happens inside
// transition, already holding this same Monitor, so no separate
// per-task state read is needed while blocked.
func (m *Monitor) WaitForChange(ctx context.Context, last uint64) uint64 {
	m.Lock()
	defer m.Unlock()

	if ctx != nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, m.Broadcast)
		defer stop()
	}

	for m.epoch == last {
		if ctx != nil && ctx.Err() != nil {
			break
		}
		m.Wait()
	}
	return m.epoch
}

// StateMachine is the embeddable five-state machine. Zero value is not
// usable; construct with NewStateMachine.
type StateMachine struct {
	monitor atomic.Pointer[Monitor]
	state   State // guarded by monitor.Load()
}

// NewStateMachine returns a StateMachine in StateNew with a private Monitor.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{}
	sm.monitor.Store(NewMonitor())
	return sm
}

func (sm *StateMachine) lock() *Monitor { return sm.monitor.Load() }

// SetLock replaces the Monitor guarding this machine's state. Must be
// called only while the state is NEW — the scheduler calls this once per
// task, before any task in the batch has started, to install its own
// shared Monitor in place of each task's private one.
func (sm *StateMachine) SetLock(m *Monitor) error {
	cur := sm.lock()
	cur.Lock()
	defer cur.Unlock()
	if sm.state != StateNew {
		return fmt.Errorf("lifecycle: SetLock called while state is %s, want NEW", sm.state)
	}
	sm.monitor.Store(m)
	return nil
}

// GetState returns the current state, acquiring the lock.
func (sm *StateMachine) GetState() State {
	m := sm.lock()
	m.Lock()
	defer m.Unlock()
	return sm.state
}

// transition performs from->to if sm.state == from and the edge is legal
// in the transition table, waking every waiter on success.
func (sm *StateMachine) transition(from, to State) bool {
	m := sm.lock()
	m.Lock()
	defer m.Unlock()
	if sm.state != from || !validEdge(from, to) {
		return false
	}
	sm.state = to
	m.epoch++
	m.Broadcast()
	return true
}

// Start transitions NEW -> RUNNING. Called once by the auction task's run
// loop entrypoint.
func (sm *StateMachine) Start() bool {
	return sm.transition(StateNew, StateRunning)
}

// MarkEndable transitions RUNNING -> ENDABLE. Called by a subclass when
// its local end condition holds.
func (sm *StateMachine) MarkEndable() bool {
	return sm.transition(StateRunning, StateEndable)
}

// Resume transitions ENDABLE -> RUNNING, e.g. when a late bid extends a
// soft-close timer past its deadline.
func (sm *StateMachine) Resume() bool {
	return sm.transition(StateEndable, StateRunning)
}

// TryEnd transitions ENDABLE -> ENDING. It is idempotent: calling it again
// once the task is already ENDING or ENDED succeeds without effect, since
// the task is already on (or past) its way out.
func (sm *StateMachine) TryEnd() bool {
	m := sm.lock()
	m.Lock()
	if sm.state == StateEnding || sm.state == StateEnded {
		m.Unlock()
		return true
	}
	m.Unlock()
	return sm.transition(StateEndable, StateEnding)
}

// Complete transitions ENDING -> ENDED. Called by the run loop once
// teardown has finished. ENDED is terminal.
func (sm *StateMachine) Complete() bool {
	return sm.transition(StateEnding, StateEnded)
}

// WaitForEnd blocks until the state is ENDED. Spurious wakeups are
// tolerated internally (the wait re-checks the condition in a loop). If
// ctx is cancelled first, WaitForEnd returns ctx.Err() without having
// observed ENDED: the wait point is exited, but the state machine
// itself is left untouched and valid for a subsequent wait.
func (sm *StateMachine) WaitForEnd(ctx context.Context) error {
	m := sm.lock()
	m.Lock()
	defer m.Unlock()

	if ctx != nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, m.Broadcast)
		defer stop()
	}

	for sm.state != StateEnded {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		m.Wait()
	}
	return nil
}
