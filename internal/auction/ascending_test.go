package auction

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nugget/auctionhouse/internal/lifecycle"
	"github.com/nugget/auctionhouse/internal/session"
	"github.com/nugget/auctionhouse/internal/telemetry"
)

func TestAscendingHigherBidWins(t *testing.T) {
	a := NewAscending(Config{ID: 1, SessionID: 1, Bus: telemetry.New()})

	if err := a.handleBid(map[string]string{"bidder": "alice", "bid": "10"}); err != nil {
		t.Fatalf("handleBid: %v", err)
	}
	if err := a.handleBid(map[string]string{"bidder": "bob", "bid": "5"}); err != nil {
		t.Fatalf("handleBid: %v", err)
	}

	bidder, bid := a.HighBid()
	if bidder != "alice" || bid != 10 {
		t.Fatalf("HighBid() = %q, %d, want alice, 10 (lower bid should not win)", bidder, bid)
	}

	if err := a.handleBid(map[string]string{"bidder": "carol", "bid": "20"}); err != nil {
		t.Fatalf("handleBid: %v", err)
	}
	bidder, bid = a.HighBid()
	if bidder != "carol" || bid != 20 {
		t.Fatalf("HighBid() = %q, %d, want carol, 20", bidder, bid)
	}
}

func TestAscendingRejectsMissingOrInvalidFields(t *testing.T) {
	a := NewAscending(Config{ID: 1, SessionID: 1, Bus: telemetry.New()})

	if err := a.handleBid(map[string]string{"bid": "10"}); err == nil {
		t.Fatal("expected error for missing bidder")
	}
	if err := a.handleBid(map[string]string{"bidder": "alice"}); err == nil {
		t.Fatal("expected error for missing bid")
	}
	if err := a.handleBid(map[string]string{"bidder": "alice", "bid": "not-a-number"}); err == nil {
		t.Fatal("expected error for non-integer bid")
	}
}

func TestAscendingExtendsDeadlineOnLateBid(t *testing.T) {
	a := NewAscending(Config{ID: 1, SessionID: 1, Bus: telemetry.New()})
	a.initialize()

	a.mu.Lock()
	a.endTime = time.Now().Add(2 * time.Second) // inside MinTimeout
	a.mu.Unlock()

	if err := a.handleBid(map[string]string{"bidder": "alice", "bid": "10"}); err != nil {
		t.Fatalf("handleBid: %v", err)
	}

	a.mu.Lock()
	remaining := time.Until(a.endTime)
	a.mu.Unlock()

	if remaining < MinTimeout-time.Second {
		t.Fatalf("deadline was not extended: remaining = %v, want at least close to %v", remaining, MinTimeout)
	}
}

func TestAscendingBidResumesEndableTask(t *testing.T) {
	a := NewAscending(Config{ID: 1, SessionID: 1, Bus: telemetry.New()})
	a.Start()
	a.MarkEndable()
	if a.GetState() != lifecycle.StateEndable {
		t.Fatalf("state = %v, want ENDABLE", a.GetState())
	}

	if err := a.handleBid(map[string]string{"bidder": "alice", "bid": "10"}); err != nil {
		t.Fatalf("handleBid: %v", err)
	}

	if a.GetState() != lifecycle.StateRunning {
		t.Fatalf("state after bid on an endable task = %v, want RUNNING (Resume)", a.GetState())
	}
}

func TestAscendingEndToEndRunAndStop(t *testing.T) {
	a := NewAscending(Config{ID: 1, SessionID: 1, GracePeriod: time.Millisecond, Bus: telemetry.New()})

	cl, conn := newTestClient("bidder-1")
	a.BindClients([]*session.Client{cl})

	// Force a near-immediate soft close so the test doesn't wait out the
	// real 30s MaxTimeout.
	// Once initialize has set the deadline, move it into the past.
	go func() {
		for {
			a.mu.Lock()
			set := !a.endTime.IsZero()
			if set {
				a.endTime = time.Now().Add(-time.Second)
			}
			a.mu.Unlock()
			if set {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	waitForState := func(want lifecycle.State) {
		deadline := time.After(2 * time.Second)
		for a.GetState() != want {
			select {
			case <-deadline:
				t.Fatalf("auction did not reach state %v in time", want)
			case <-time.After(time.Millisecond):
			}
		}
	}

	waitForState(lifecycle.StateEndable)

	a.Enqueue("bid bidder=dave bid=50 sessionId=1 auctionId=1\n")

	// The bid resumes the task to RUNNING and, arriving after the deadline,
	// extends it to MinTimeout from now. Move the deadline into the past
	// again so the next idle timeout re-marks the task ENDABLE.
	waitForState(lifecycle.StateRunning)
	a.mu.Lock()
	a.endTime = time.Now().Add(-time.Second)
	a.mu.Unlock()
	waitForState(lifecycle.StateEndable)

	if !a.TryEnd() {
		t.Fatal("TryEnd from ENDABLE should succeed")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	found := false
	for _, w := range conn.writesSnapshot() {
		if strings.HasPrefix(w, "stop ") && strings.Contains(w, "bidder=dave") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a stop message naming the winning bidder, got writes: %v", conn.writesSnapshot())
	}
}
