package ws

import (
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"
)

// Server upgrades HTTP requests to command channels.
type Server struct {
	App      App
	Upgrader websocket.Upgrader
	logger   log.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(app App, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Server{
		App: app,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // browser overlays and stream-deck plugins connect cross-origin
			},
		},
		logger: log.With(logger, "component", "ws"),
	}
}

// ServeHTTP handles the WebSocket handshake and runs the connection until
// the peer goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		level.Warn(s.logger).Log("msg", "upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	logger := log.With(s.logger, "remote", r.RemoteAddr)
	level.Info(logger).Log("msg", "client connected")
	NewHandler(conn, s.App, logger).Loop(r.Context())
	level.Info(logger).Log("msg", "client disconnected")
}
