// Package obsws is a client for the obs-websocket v5 control protocol.
//
// A Session owns one connection: Open dials and completes the
// Hello/Identify/Identified handshake, Command sends one request and waits
// for the reply carrying the same request id, and Close tears the
// connection down. Sessions never retry; callers decide what to do with a
// failed open or command.
package obsws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultCommandTimeout = 10 * time.Second

	closeGrace = time.Second
)

// State is the lifecycle position of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentified
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Option configures a Session.
type Option func(*Session)

// WithConnectTimeout bounds Open.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithCommandTimeout bounds each Command.
func WithCommandTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.commandTimeout = d
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session is one authenticated connection to one OBS instance.
type Session struct {
	url            string
	password       string
	connectTimeout time.Duration
	commandTimeout time.Duration
	logger         log.Logger

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	done    chan struct{}
	pending map[string]chan RequestResponse

	writeMu sync.Mutex
}

// NewSession returns a disconnected session for the given endpoint.
func NewSession(url, password string, opts ...Option) *Session {
	s := &Session{
		url:            url,
		password:       password,
		connectTimeout: DefaultConnectTimeout,
		commandTimeout: DefaultCommandTimeout,
		logger:         log.NewNopLogger(),
		pending:        make(map[string]chan RequestResponse),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.With(s.logger, "url", url)
	return s
}

// URL returns the endpoint this session dials.
func (s *Session) URL() string { return s.url }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open connects and identifies. It returns nil only once the server has
// sent Identified.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateConnecting, StateIdentified:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("session already %s", st)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	conn, err := s.handshake(ctx)
	if err != nil {
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		level.Debug(s.logger).Log("msg", "open failed", "err", err)
		return err
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	done := make(chan struct{})
	s.conn = conn
	s.done = done
	s.state = StateIdentified
	s.mu.Unlock()

	go s.readLoop(conn, done)
	level.Debug(s.logger).Log("msg", "session identified")
	return nil
}

func (s *Session) handshake(parent context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(parent, s.connectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: s.connectTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, classify(ctx, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	var hello Hello
	if err := readFrame(conn, OpHello, &hello); err != nil {
		_ = conn.Close()
		return nil, classify(ctx, err)
	}

	identify := Identify{RPCVersion: RPCVersion}
	if hello.Authentication != nil {
		if s.password == "" {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: server requires a password", ErrAuthRejected)
		}
		identify.Authentication = AuthenticationString(s.password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	frame, err := Encode(OpIdentify, identify)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		_ = conn.Close()
		return nil, classify(ctx, err)
	}

	var identified Identified
	if err := readFrame(conn, OpIdentified, &identified); err != nil {
		_ = conn.Close()
		return nil, classify(ctx, err)
	}

	if !stop() {
		return nil, classify(ctx, net.ErrClosed)
	}
	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})
	return conn, nil
}

// readFrame reads until a frame with the wanted op code arrives.
func readFrame(conn *websocket.Conn, want OpCode, v any) error {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(b, &msg); err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}
		if msg.Op != want {
			continue
		}
		return json.Unmarshal(msg.D, v)
	}
}

// classify maps dial and handshake failures onto the connect errors.
func classify(ctx context.Context, err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == CloseAuthenticationFailed {
			return fmt.Errorf("%w: %s", ErrAuthRejected, ce.Text)
		}
		return fmt.Errorf("%w: closed with %d %s", ErrConnectRefused, ce.Code, ce.Text)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		return ctxErr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectRefused, err)
}

func (s *Session) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
			if s.state == StateIdentified {
				s.state = StateDisconnected
				level.Warn(s.logger).Log("msg", "connection lost")
			}
		}
		s.pending = make(map[string]chan RequestResponse)
		s.mu.Unlock()
		close(done)
		_ = conn.Close()
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(b, &msg); err != nil {
			level.Debug(s.logger).Log("msg", "dropping undecodable frame", "err", err)
			continue
		}
		if msg.Op != OpRequestResponse {
			continue
		}
		var resp RequestResponse
		if err := json.Unmarshal(msg.D, &resp); err != nil {
			level.Debug(s.logger).Log("msg", "dropping undecodable response", "err", err)
			continue
		}
		s.mu.Lock()
		ch := s.pending[resp.RequestID]
		delete(s.pending, resp.RequestID)
		s.mu.Unlock()
		if ch != nil {
			ch <- resp
		}
	}
}

// Command sends one request and waits for its reply.
func (s *Session) Command(ctx context.Context, requestType string, data map[string]any) (*Response, error) {
	s.mu.Lock()
	if s.state != StateIdentified || s.conn == nil {
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session is %s", ErrNotConnected, st)
	}
	conn, done := s.conn, s.done
	id := uuid.NewString()
	ch := make(chan RequestResponse, 1)
	s.pending[id] = ch
	s.mu.Unlock()
	defer s.forget(id)

	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	frame, err := Encode(OpRequest, Request{RequestType: requestType, RequestID: id, RequestData: data})
	if err != nil {
		return nil, err
	}
	deadline, _ := ctx.Deadline()
	if err := s.write(conn, frame, deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	select {
	case resp := <-ch:
		return toResponse(resp)
	case <-done:
		select {
		case resp := <-ch:
			return toResponse(resp)
		default:
		}
		return nil, fmt.Errorf("%w: connection lost", ErrNotConnected)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, requestType)
		}
		return nil, ctx.Err()
	}
}

func toResponse(resp RequestResponse) (*Response, error) {
	if !resp.RequestStatus.Result {
		return nil, &RemoteError{
			RequestType: resp.RequestType,
			Code:        resp.RequestStatus.Code,
			Message:     resp.RequestStatus.Comment,
		}
	}
	return &Response{RequestType: resp.RequestType, Data: resp.ResponseData}, nil
}

func (s *Session) forget(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) write(conn *websocket.Conn, frame []byte, deadline time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Close moves the session to Closed and releases the connection. It is
// idempotent and always returns nil.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))
	_ = conn.Close()
	level.Debug(s.logger).Log("msg", "session closed")
	return nil
}
