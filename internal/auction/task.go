// Package auction implements the auction task specialization: a
// message-dispatch loop on top of the generic lifecycle state machine,
// plus the ascending (English) auction in ascending.go.
package auction

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/nugget/auctionhouse/internal/lifecycle"
	"github.com/nugget/auctionhouse/internal/protocol"
	"github.com/nugget/auctionhouse/internal/session"
	"github.com/nugget/auctionhouse/internal/telemetry"
)

// HandlerFunc handles one message type's arguments. A returned error is
// logged and the message dropped; it never changes task state and never
// crosses the dispatch loop boundary.
type HandlerFunc func(args map[string]string) error

// Hooks are the subclass extension points invoked by the run loop.
// Any of them may be nil.
type Hooks struct {
	// Initialize runs once, after registering with clients and before the
	// dispatch loop starts.
	Initialize func()
	// Idle runs whenever the mailbox poll times out (every 50ms of
	// inactivity).
	Idle func()
	// Resolve runs once, after the dispatch loop exits and before
	// unregistering from clients.
	Resolve func()
}

// Config configures a new Task. Handlers and Hooks are set separately
// via RegisterHandler/SetHooks before the task is bound to clients and
// handed to the scheduler; both are treated as immutable once the task
// starts running.
type Config struct {
	ID          int
	SessionID   int
	Params      map[string]string
	GracePeriod time.Duration // default 5s
	Logger      *slog.Logger
	Bus         *telemetry.Bus
}

// Task is the auction task base: it owns a mailbox of raw inbound lines,
// dispatches them by message type to registered handlers, and calls the
// lifecycle hooks around that loop. It embeds *lifecycle.StateMachine so
// it satisfies lifecycle.Task.
type Task struct {
	*lifecycle.StateMachine

	id        int
	sessionID int
	params    map[string]string
	clients   []*session.Client
	mb        *mailbox
	handlers  map[string]HandlerFunc
	hooks     Hooks
	grace     time.Duration
	logger    *slog.Logger
	bus       *telemetry.Bus
}

// NewTask constructs a Task in StateNew with an empty handler set.
func NewTask(cfg Config) *Task {
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	params := cfg.Params
	if params == nil {
		params = map[string]string{}
	}
	return &Task{
		StateMachine: lifecycle.NewStateMachine(),
		id:           cfg.ID,
		sessionID:    cfg.SessionID,
		params:       params,
		mb:           newMailbox(),
		handlers:     make(map[string]HandlerFunc),
		grace:        grace,
		logger:       logger,
		bus:          cfg.Bus,
	}
}

// TaskID returns the task's identity.
func (t *Task) TaskID() int { return t.id }

// SessionID returns the task's session identity.
func (t *Task) SessionID() int { return t.sessionID }

// Param returns a configuration value by key, and whether it was set.
func (t *Task) Param(key string) (string, bool) {
	v, ok := t.params[key]
	return v, ok
}

// SetHooks installs the lifecycle hooks. Must be called before Run.
func (t *Task) SetHooks(h Hooks) { t.hooks = h }

// RegisterHandler installs the handler for a message type. Must be
// called before Run; the handler map is not safe for concurrent
// modification once the dispatch loop has started.
func (t *Task) RegisterHandler(msgType string, h HandlerFunc) {
	t.handlers[msgType] = h
}

// BindClients sets the ordered list of clients this task broadcasts to
// and registers with. Must be called before Run.
func (t *Task) BindClients(clients []*session.Client) {
	t.clients = clients
}

// Enqueue implements session.Receiver: it appends a raw inbound line to
// the task's mailbox. Safe for concurrent use by multiple client read
// loops (multi-producer, single-consumer).
func (t *Task) Enqueue(line string) {
	t.mb.push(line)
}

// Run is the task's entrypoint. It is single-shot: calling Run on a task
// that isn't StateNew returns immediately.
func (t *Task) Run(ctx context.Context) {
	if !t.Start() {
		return
	}
	t.publish(telemetry.KindTaskStarted, nil)

	for _, c := range t.clients {
		c.Register(t)
	}

	if t.hooks.Initialize != nil {
		t.hooks.Initialize()
	}

	for t.GetState() < lifecycle.StateEnding {
		if ctx.Err() != nil {
			break
		}
		line, ok := t.mb.poll(50 * time.Millisecond)
		if !ok {
			if t.hooks.Idle != nil {
				t.hooks.Idle()
			}
			continue
		}
		t.dispatch(line)
	}

	if t.hooks.Resolve != nil {
		t.hooks.Resolve()
	}

	for _, c := range t.clients {
		c.Unregister(t)
	}

	// Grace period compensates for missing flush-before-next-task
	// semantics: give outbound writes time to reach clients before a
	// start-dependent successor task begins producing its own output.
	// Cancellation of ctx cuts the wait short.
	select {
	case <-time.After(t.grace):
	case <-ctx.Done():
	}

	if t.Complete() {
		t.publish(telemetry.KindTaskEnded, nil)
	}
}

// dispatch parses one raw line and routes it to a handler, applying the
// session/auction filter and dropping anything malformed or unaddressed.
func (t *Task) dispatch(line string) {
	msg, ok := protocol.Decode(line)
	if !ok {
		return
	}

	sid, hasSession := msg.Args["sessionId"]
	aid, hasAuction := msg.Args["auctionId"]
	if !hasSession || !hasAuction {
		t.logger.Debug("dropping message missing required keys", "type", msg.Type, "task_id", t.id)
		return
	}
	if sid != strconv.Itoa(t.sessionID) || aid != strconv.Itoa(t.id) {
		return // session isolation: addressed to another session/auction
	}

	handler, ok := t.handlers[msg.Type]
	if !ok {
		t.logger.Debug("no handler for message type", "type", msg.Type, "task_id", t.id)
		return
	}

	if err := handler(msg.Args); err != nil {
		t.logger.Debug("handler dropped message", "type", msg.Type, "task_id", t.id, "error", err)
		t.publish(telemetry.KindBidRejected, map[string]any{"task_id": t.id, "reason": err.Error()})
	}
}

// SendMessage decorates args with this task's sessionId and auctionId,
// encodes the result, and broadcasts it to every bound client.
func (t *Task) SendMessage(msgType string, args map[string]string) {
	m := protocol.New(msgType)
	for k, v := range args {
		m.Args[k] = v
	}
	m.Args["sessionId"] = strconv.Itoa(t.sessionID)
	m.Args["auctionId"] = strconv.Itoa(t.id)
	line := protocol.Encode(m, "timer", "bidder", "bid", "sessionId", "auctionId")

	for _, c := range t.clients {
		if err := c.Send(line); err != nil {
			t.logger.Warn("send failed", "client", c.ID(), "task_id", t.id, "error", err)
		}
	}
}

// MarkEndable wraps the embedded transition to additionally publish a
// telemetry event; it still returns the transition's success flag.
func (t *Task) MarkEndable() bool {
	ok := t.StateMachine.MarkEndable()
	if ok {
		t.publish(telemetry.KindTaskEndable, nil)
	}
	return ok
}

// Resume wraps the embedded transition to additionally publish a
// telemetry event; it still returns the transition's success flag.
func (t *Task) Resume() bool {
	ok := t.StateMachine.Resume()
	if ok {
		t.publish(telemetry.KindTaskResumed, nil)
	}
	return ok
}

// TryEnd wraps the embedded transition to additionally publish a
// telemetry event on a genuine ENDABLE->ENDING transition. It checks the
// current state before delegating so the idempotent no-op path (already
// ENDING or ENDED) never double-publishes.
func (t *Task) TryEnd() bool {
	wasEndable := t.GetState() == lifecycle.StateEndable
	ok := t.StateMachine.TryEnd()
	if ok && wasEndable {
		t.publish(telemetry.KindTaskEnding, nil)
	}
	return ok
}

func (t *Task) publish(kind string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["task_id"] = t.id
	data["session_id"] = t.sessionID
	t.bus.Publish(telemetry.Event{Source: telemetry.SourceTask, Kind: kind, Data: data})
}
