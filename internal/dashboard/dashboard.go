// Package dashboard serves a read-only live view of a running auction
// house: a single static page that opens a websocket and renders
// incoming telemetry events as a scrolling log. It never accepts input
// that could affect auction state.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/auctionhouse/internal/telemetry"
)

// Server is an optional HTTP server exposing the dashboard page and its
// websocket feed. A nil *Server is never constructed; Configured callers
// check config.DashboardConfig.Configured() before calling New.
type Server struct {
	bus      *telemetry.Bus
	logger   *slog.Logger
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New builds a Server that streams events from bus. A nil logger is
// replaced with [slog.Default].
func New(addr string, bus *telemetry.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWebsocket)

	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

// handleWebsocket upgrades the connection and streams every telemetry
// event as a JSON text frame until the client disconnects or the server
// is shutting down. The connection is strictly one-way: the dashboard
// never reads frames back, so it can never influence auction state.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("dashboard websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(32)
	defer s.bus.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>auctionhouse dashboard</title>
  <style>
    body { font-family: monospace; background: #111; color: #ddd; margin: 1rem; }
    table { border-collapse: collapse; width: 100%; margin-bottom: 1rem; }
    th, td { border-bottom: 1px solid #333; padding: 0.25rem 0.5rem; text-align: left; }
    #log { white-space: pre-wrap; font-size: 0.85rem; }
  </style>
</head>
<body>
  <h1>auctionhouse</h1>
  <table id="bids">
    <thead><tr><th>task</th><th>high bidder</th><th>high bid</th></tr></thead>
    <tbody id="bids-body"></tbody>
  </table>
  <div id="log"></div>
  <script>
    const bids = {};
    const log = document.getElementById('log');
    const bidsBody = document.getElementById('bids-body');

    function renderBids() {
      bidsBody.innerHTML = '';
      for (const taskID in bids) {
        const row = document.createElement('tr');
        row.innerHTML = '<td>' + taskID + '</td><td>' + bids[taskID].bidder + '</td><td>' + bids[taskID].bid + '</td>';
        bidsBody.appendChild(row);
      }
    }

    const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
    ws.onmessage = (msg) => {
      const event = JSON.parse(msg.data);
      log.textContent = event.ts + ' ' + event.source + ' ' + event.kind + ' ' + JSON.stringify(event.data || {}) + '\n' + log.textContent;
      if (event.kind === 'bid_accepted' && event.data) {
        bids[event.data.task_id] = { bidder: event.data.bidder, bid: event.data.bid };
        renderBids();
      }
    };
  </script>
</body>
</html>
`
