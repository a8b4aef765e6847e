package auction

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nugget/auctionhouse/internal/telemetry"
)

// Soft-close timing constants.
const (
	MaxTimeout = 30 * time.Second
	MinTimeout = 10 * time.Second
)

// Ascending is the reference English auction: highest bid wins, and a
// qualifying late bid extends the deadline (soft close).
type Ascending struct {
	*Task

	mu         sync.Mutex
	highBidder string
	highBid    int
	endTime    time.Time
}

// NewAscending constructs an ascending-auction task and wires its
// handler and hooks into the embedded Task. No params are required for
// the reference variant.
func NewAscending(cfg Config) *Ascending {
	a := &Ascending{}
	a.Task = NewTask(cfg)
	a.Task.SetHooks(Hooks{
		Initialize: a.initialize,
		Idle:       a.idle,
		Resolve:    a.resolve,
	})
	a.Task.RegisterHandler("bid", a.handleBid)
	return a
}

func (a *Ascending) initialize() {
	a.mu.Lock()
	a.endTime = time.Now().Add(MaxTimeout)
	a.mu.Unlock()

	a.SendMessage("start", map[string]string{
		"timer": strconv.Itoa(int(MaxTimeout / time.Second)),
	})
}

func (a *Ascending) idle() {
	a.mu.Lock()
	end := a.endTime
	a.mu.Unlock()

	if !time.Now().Before(end) {
		a.MarkEndable()
	}
}

// handleBid requires bidder and bid keys; a strictly higher bid becomes
// the new high bid and, if it leaves less than MinTimeout on the clock,
// extends the deadline. Equal or lower bids are dropped without a
// response — not an error, just a no-op.
func (a *Ascending) handleBid(args map[string]string) error {
	bidder, ok := args["bidder"]
	if !ok {
		return fmt.Errorf("bid message missing bidder")
	}
	raw, ok := args["bid"]
	if !ok {
		return fmt.Errorf("bid message missing bid")
	}
	amount, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("bid value %q is not an integer: %w", raw, err)
	}

	a.mu.Lock()
	if amount <= a.highBid {
		a.mu.Unlock()
		return nil
	}
	a.highBid = amount
	a.highBidder = bidder
	if remaining := time.Until(a.endTime); remaining < MinTimeout {
		a.endTime = time.Now().Add(MinTimeout)
	}
	end := a.endTime
	bid := a.highBid
	hb := a.highBidder
	a.mu.Unlock()

	a.bus().Publish(telemetry.Event{
		Source: telemetry.SourceTask,
		Kind:   telemetry.KindBidAccepted,
		Data:   map[string]any{"task_id": a.TaskID(), "bidder": bidder, "bid": amount},
	})

	// A bid that arrives after the task moved to ENDABLE but before the
	// scheduler ends it re-promotes the task to RUNNING; the next idle
	// check re-marks it ENDABLE once the (possibly extended) deadline
	// passes again. Resume is a no-op if the task wasn't ENDABLE.
	a.Resume()

	remainingSeconds := int(time.Until(end) / time.Second)
	if remainingSeconds < 0 {
		remainingSeconds = 0
	}
	a.SendMessage("status", map[string]string{
		"timer":  strconv.Itoa(remainingSeconds),
		"bidder": hb,
		"bid":    strconv.Itoa(bid),
	})
	return nil
}

func (a *Ascending) resolve() {
	a.mu.Lock()
	bidder, bid := a.highBidder, a.highBid
	a.mu.Unlock()

	args := map[string]string{}
	if bidder != "" {
		args["bidder"] = bidder
		args["bid"] = strconv.Itoa(bid)
	}
	a.SendMessage("stop", args)
}

// bus exposes the embedded Task's telemetry bus for the bid-accepted
// event above; nil-safe like every other Bus use.
func (a *Ascending) bus() *telemetry.Bus { return a.Task.bus }

// HighBid returns the current high bidder and bid amount. The live
// dashboard does not call it; it follows bid_accepted telemetry events.
func (a *Ascending) HighBid() (bidder string, bid int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.highBidder, a.highBid
}
