package dashboard

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/auctionhouse/internal/telemetry"
)

func TestHandleIndexServesPage(t *testing.T) {
	s := New(":0", telemetry.New(), nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.handleIndex(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "auctionhouse") {
		t.Error("expected index page to mention auctionhouse")
	}
}

func TestHandleIndexNotFoundForOtherPaths(t *testing.T) {
	s := New(":0", telemetry.New(), nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	s.handleIndex(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWebsocketStreamsTelemetryEvents(t *testing.T) {
	bus := telemetry.New()
	s := New(":0", bus, nil)

	srv := httptest.NewServer(http.HandlerFunc(s.handleWebsocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	// Give the server a moment to register the subscription before publishing.
	for i := 0; i < 100 && bus.SubscriberCount() == 0; i++ {
		time.Sleep(time.Millisecond)
	}

	bus.Publish(telemetry.Event{Source: telemetry.SourceTask, Kind: telemetry.KindTaskStarted})

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if !strings.Contains(string(msg), "task_started") {
		t.Errorf("message = %s, want it to contain task_started", msg)
	}
}
