// Package obswstest runs an in-process obs-websocket v5 server for tests.
package obswstest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"obs-showctl/pkg/obsws"
)

// Handler answers one request. Returning a nil status means success.
type Handler func(req obsws.Request) (*obsws.RequestStatus, any)

// Option configures a Server.
type Option func(*Server)

// WithPassword requires clients to authenticate.
func WithPassword(password string) Option {
	return func(s *Server) { s.password = password }
}

// WithScenes sets the scenes SetCurrentProgramScene accepts. Without it any
// scene name is accepted.
func WithScenes(names ...string) Option {
	return func(s *Server) { s.scenes = append([]string(nil), names...) }
}

// WithHandshakeDelay delays Hello.
func WithHandshakeDelay(d time.Duration) Option {
	return func(s *Server) { s.handshakeDelay = d }
}

// WithResponseDelay delays every reply.
func WithResponseDelay(d time.Duration) Option {
	return func(s *Server) { s.responseDelay = d }
}

// WithHandler overrides the built-in request handling.
func WithHandler(h Handler) Option {
	return func(s *Server) { s.handler = h }
}

// Server is a fake OBS instance.
type Server struct {
	srv            *httptest.Server
	upgrader       websocket.Upgrader
	password       string
	scenes         []string
	handshakeDelay time.Duration
	responseDelay  time.Duration
	handler        Handler
	closed         chan struct{}
	closeOnce      sync.Once

	mu       sync.Mutex
	current  string
	requests []obsws.Request
	conns    map[*websocket.Conn]bool
	accepted int
}

// NewServer starts a fake OBS instance.
func NewServer(opts ...Option) *Server {
	s := &Server{
		closed: make(chan struct{}),
		conns:  make(map[*websocket.Conn]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.scenes) > 0 {
		s.current = s.scenes[0]
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// URL is the ws:// endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close drops every connection and stops listening.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.DropConnections()
		s.srv.Close()
	})
}

// DropConnections closes every identified connection without a close frame.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// ActiveConnections returns the number of identified connections still open.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Accepted returns how many connections completed identification.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// CurrentScene returns the program scene.
func (s *Server) CurrentScene() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Requests returns every request received, in arrival order.
func (s *Server) Requests() []obsws.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]obsws.Request(nil), s.requests...)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.handshakeDelay > 0 {
		select {
		case <-time.After(s.handshakeDelay):
		case <-s.closed:
			return
		}
	}

	hello := obsws.Hello{ObsWebSocketVersion: "5.0.0-test", RPCVersion: obsws.RPCVersion}
	const salt, challenge = "c2FsdA==", "Y2hhbGxlbmdl"
	if s.password != "" {
		hello.Authentication = &obsws.AuthChallenge{Challenge: challenge, Salt: salt}
	}
	if err := s.send(conn, obsws.OpHello, hello); err != nil {
		return
	}

	var identify obsws.Identify
	if err := readOp(conn, obsws.OpIdentify, &identify); err != nil {
		return
	}
	if identify.RPCVersion != obsws.RPCVersion {
		closeWith(conn, obsws.CloseUnsupportedRPCVersion, "unsupported rpc version")
		return
	}
	if s.password != "" && identify.Authentication != obsws.AuthenticationString(s.password, salt, challenge) {
		closeWith(conn, obsws.CloseAuthenticationFailed, "Authentication failed.")
		return
	}
	s.mu.Lock()
	s.conns[conn] = true
	s.accepted++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
	if err := s.send(conn, obsws.OpIdentified, obsws.Identified{NegotiatedRPCVersion: obsws.RPCVersion}); err != nil {
		return
	}

	var writeMu sync.Mutex
	for {
		var req obsws.Request
		if err := readOp(conn, obsws.OpRequest, &req); err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		go func(req obsws.Request) {
			if s.responseDelay > 0 {
				select {
				case <-time.After(s.responseDelay):
				case <-s.closed:
					return
				}
			}
			status, data := s.handle(req)
			resp := obsws.RequestResponse{
				RequestType: req.RequestType,
				RequestID:   req.RequestID,
				RequestStatus: obsws.RequestStatus{
					Result: true,
					Code:   obsws.StatusSuccess,
				},
			}
			if status != nil {
				resp.RequestStatus = *status
			}
			if data != nil {
				resp.ResponseData, _ = json.Marshal(data)
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = s.send(conn, obsws.OpRequestResponse, resp)
		}(req)
	}
}

func (s *Server) handle(req obsws.Request) (*obsws.RequestStatus, any) {
	if s.handler != nil {
		return s.handler(req)
	}
	switch req.RequestType {
	case "SetCurrentProgramScene":
		name, _ := req.RequestData["sceneName"].(string)
		if name == "" {
			return &obsws.RequestStatus{Code: obsws.StatusMissingField, Comment: "Your request is missing the `sceneName` field."}, nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.scenes) > 0 && !slices.Contains(s.scenes, name) {
			return &obsws.RequestStatus{Code: obsws.StatusResourceNotFound, Comment: fmt.Sprintf("No source was found by the name of `%s`.", name)}, nil
		}
		s.current = name
		return nil, nil
	case "GetSceneList":
		s.mu.Lock()
		defer s.mu.Unlock()
		list := obsws.SceneList{CurrentProgramSceneName: s.current, Scenes: []obsws.Scene{}}
		for i, name := range s.scenes {
			list.Scenes = append(list.Scenes, obsws.Scene{SceneName: name, SceneIndex: i})
		}
		return nil, list
	case "GetVersion":
		return nil, map[string]any{"obsWebSocketVersion": "5.0.0-test", "rpcVersion": obsws.RPCVersion}
	default:
		return &obsws.RequestStatus{Code: obsws.StatusUnknownRequestType, Comment: "Your request type is not valid."}, nil
	}
}

func (s *Server) send(conn *websocket.Conn, op obsws.OpCode, payload any) error {
	frame, err := obsws.Encode(op, payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func readOp(conn *websocket.Conn, want obsws.OpCode, v any) error {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg obsws.Message
		if err := json.Unmarshal(b, &msg); err != nil {
			return err
		}
		if msg.Op == want {
			return json.Unmarshal(msg.D, v)
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}
