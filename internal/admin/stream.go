package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"sentrygate/internal/audit"
)

// LogStream pushes newly persisted admission records to connected operator
// consoles over a websocket, supplementing the admin surface's polling
// endpoints.
type LogStream struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	logger  *slog.Logger
}

// NewLogStream constructs an empty LogStream.
func NewLogStream(logger *slog.Logger) *LogStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogStream{clients: make(map[*websocket.Conn]struct{}), logger: logger}
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client disconnects.
func (s *LogStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("admin: websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	s.register(conn)
	defer s.unregister(conn)

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (s *LogStream) register(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[conn] = struct{}{}
}

func (s *LogStream) unregister(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, conn)
}

// Publish fans rec out to every connected client, best-effort. Writes go
// to one client after another, each bounded by a 500ms timeout, so a slow
// operator console holds up the calling sink for at most that long per
// write.
func (s *LogStream) Publish(rec audit.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		_ = c.Write(ctx, websocket.MessageText, data)
		cancel()
	}
}
