package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"

	"obs-showctl/internal/model"
	"obs-showctl/internal/service"
)

// Response codes.
const (
	CodeOK     = 0
	CodeFailed = 1  // the action ran but at least one target or instance failed
	CodeError  = -1 // the action was rejected
)

const writeTimeout = 5 * time.Second

// App is the action surface a command channel can reach.
type App interface {
	ExecuteShow(ctx context.Context, name string, n service.Notifier) (*model.ExecutionReport, error)
	SetState(ctx context.Context, instanceID, state string, n service.Notifier) (*model.ExecutionReport, error)
	LoadShow(ctx context.Context, name string) error
	UnloadShow(name string) error
	ShowNames() []string
	ReconnectAll(ctx context.Context) (*model.OpenReport, error)
	ReconnectInstance(ctx context.Context, id string) (*model.OpenReport, error)
	Instances() []model.InstanceStatus
}

// Handler handles a single WebSocket connection. Requests are served
// concurrently; responses and events carry the request id.
type Handler struct {
	Conn   *websocket.Conn
	App    App
	SendMu sync.Mutex
	logger log.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(conn *websocket.Conn, app App, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Handler{Conn: conn, App: app, logger: logger}
}

func (h *Handler) send(v any) error {
	h.SendMu.Lock()
	defer h.SendMu.Unlock()
	_ = h.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return h.Conn.WriteJSON(v)
}

// Send writes a response frame.
func (h *Handler) Send(resp model.Response) error {
	resp.Type = "response"
	return h.send(resp)
}

// notifier tags events with the request that caused them.
type notifier struct {
	h         *Handler
	requestID string
}

func (n notifier) SendEvent(event string, data any) error {
	return n.h.send(model.Event{Type: "event", Event: event, RequestID: n.requestID, Data: data})
}

// Loop reads requests until the connection closes. In-flight requests are
// cancelled and awaited before it returns.
func (h *Handler) Loop(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		h.Conn.Close()
	}()

	for {
		var req model.Request
		if err := h.Conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				level.Debug(h.logger).Log("msg", "read failed", "err", err)
			}
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Send(h.handleRequest(ctx, req)); err != nil {
				level.Debug(h.logger).Log("msg", "response not delivered", "request_id", req.RequestID, "err", err)
			}
		}()
	}
}

func (h *Handler) handleRequest(ctx context.Context, req model.Request) model.Response {
	resp := model.Response{RequestID: req.RequestID}
	n := notifier{h: h, requestID: req.RequestID}

	var (
		data   any
		err    error
		failed bool
	)
	switch req.Command {
	case "execute_show":
		var report *model.ExecutionReport
		report, err = h.App.ExecuteShow(ctx, req.Params["show"], n)
		if err == nil {
			data, failed = report, !report.Success
		}

	case "set_state":
		var report *model.ExecutionReport
		report, err = h.App.SetState(ctx, req.Params["instance"], req.Params["state"], n)
		if err == nil {
			data, failed = report, !report.Success
		}

	case "load_show":
		err = h.App.LoadShow(ctx, req.Params["show"])
		data = map[string]string{"loaded": req.Params["show"]}

	case "unload_show":
		err = h.App.UnloadShow(req.Params["show"])
		data = map[string]string{"unloaded": req.Params["show"]}

	case "list_shows":
		data = h.App.ShowNames()

	case "reconnect":
		var report *model.OpenReport
		if id := req.Params["instance"]; id != "" {
			report, err = h.App.ReconnectInstance(ctx, id)
		} else {
			report, err = h.App.ReconnectAll(ctx)
		}
		if err == nil {
			data, failed = report, len(report.Failed()) > 0
		}

	case "status":
		data = h.App.Instances()

	default:
		err = fmt.Errorf("%w: unknown command %q", model.ErrInvalid, req.Command)
	}

	switch {
	case err != nil:
		level.Warn(h.logger).Log("msg", "command failed", "command", req.Command, "request_id", req.RequestID, "err", err)
		resp.Code = CodeError
		resp.Message = err.Error()
		resp.Data = map[string]string{"reason": model.ErrorCode(err)}
	case failed:
		resp.Code = CodeFailed
		resp.Message = "partial failure"
		resp.Data = data
	default:
		resp.Code = CodeOK
		resp.Message = "success"
		resp.Data = data
	}
	return resp
}
