package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"obs-showctl/config"
	"obs-showctl/internal/model"
	"obs-showctl/internal/service"
	"obs-showctl/internal/transport/ws"
	"obs-showctl/pkg/obsws"
)

type Handler struct {
	Svc    *service.Service
	Cfg    *config.Config
	WS     http.Handler
	logger log.Logger
}

func NewHandler(svc *service.Service, cfg *config.Config, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Handler{
		Svc:    svc,
		Cfg:    cfg,
		WS:     ws.NewServer(svc, logger),
		logger: log.With(logger, "component", "api"),
	}
}

// AuthMiddleware accepts the token from the Authorization header, with or
// without a Bearer prefix, or from the token query parameter.
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.Cfg.Auth.Enable {
			c.Next()
			return
		}
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if token != h.Cfg.Auth.Token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger log.Logger) gin.HandlerFunc {
	logger = log.With(logger, "component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level.Debug(logger).Log(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"took", time.Since(start),
		)
	}
}

func (h *Handler) SetupRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Health)

	v1 := r.Group("/api/v1")
	v1.GET("/instances", h.ListInstances)
	v1.GET("/instances/:id/scenes", h.SceneList)
	v1.GET("/shows", h.ListShows)
	v1.GET("/shows/:name", h.GetShow)

	mut := v1.Group("")
	mut.Use(h.AuthMiddleware())
	mut.POST("/instances/reconnect", h.ReconnectAll)
	mut.POST("/instances/:id/reconnect", h.ReconnectInstance)
	mut.POST("/instances/:id/state", h.SetState)
	mut.POST("/shows/:name/execute", h.ExecuteShow)
	mut.POST("/shows/:name/load", h.LoadShow)
	mut.POST("/shows/:name/unload", h.UnloadShow)
	mut.PUT("/shows/:name", h.SaveShow)
	mut.DELETE("/shows/:name", h.DeleteShow)

	wsGroup := r.Group("/ws")
	wsGroup.Use(h.AuthMiddleware())
	wsGroup.GET("", gin.WrapH(h.WS))

	if dir := h.Cfg.Server.StaticDir; dir != "" {
		r.NoRoute(gin.WrapH(http.FileServer(http.Dir(dir))))
	}
}

func (h *Handler) Health(c *gin.Context) {
	st := h.Svc.Instances()
	up := 0
	for _, s := range st {
		if s.Reachable {
			up++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"instances": len(st),
		"connected": up,
		"shows":     len(h.Svc.ShowNames()),
	})
}

func (h *Handler) ListInstances(c *gin.Context) {
	c.JSON(http.StatusOK, h.Svc.Instances())
}

func (h *Handler) SceneList(c *gin.Context) {
	list, err := h.Svc.SceneList(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) ListShows(c *gin.Context) {
	stored, err := h.Svc.StoredShowNames(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded": h.Svc.ShowNames(), "stored": stored})
}

// GetShow returns the cached definition when loaded, else the stored one.
func (h *Handler) GetShow(c *gin.Context) {
	name := c.Param("name")
	if show, err := h.Svc.CachedShow(name); err == nil {
		c.JSON(http.StatusOK, gin.H{"show": show, "loaded": true})
		return
	}
	show, err := h.Svc.StoredShow(c.Request.Context(), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"show": show, "loaded": false})
}

func (h *Handler) ReconnectAll(c *gin.Context) {
	report, err := h.Svc.ReconnectAll(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(openStatus(report), report)
}

func (h *Handler) ReconnectInstance(c *gin.Context) {
	report, err := h.Svc.ReconnectInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(openStatus(report), report)
}

type stateRequest struct {
	State string `json:"state" binding:"required"`
}

func (h *Handler) SetState(c *gin.Context) {
	var req stateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", model.ErrInvalid, err))
		return
	}
	report, err := h.Svc.SetState(c.Request.Context(), c.Param("id"), req.State, nil)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(runStatus(report), report)
}

func (h *Handler) ExecuteShow(c *gin.Context) {
	report, err := h.Svc.ExecuteShow(c.Request.Context(), c.Param("name"), nil)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(runStatus(report), report)
}

func (h *Handler) LoadShow(c *gin.Context) {
	name := c.Param("name")
	if err := h.Svc.LoadShow(c.Request.Context(), name); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded": name})
}

func (h *Handler) UnloadShow(c *gin.Context) {
	name := c.Param("name")
	if err := h.Svc.UnloadShow(name); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unloaded": name})
}

func (h *Handler) SaveShow(c *gin.Context) {
	var show model.Show
	if err := c.ShouldBindJSON(&show); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", model.ErrInvalid, err))
		return
	}
	if err := h.Svc.SaveShow(c.Request.Context(), c.Param("name"), &show); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, show)
}

func (h *Handler) DeleteShow(c *gin.Context) {
	if err := h.Svc.DeleteShow(c.Request.Context(), c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		level.Error(h.logger).Log("msg", "request failed", "path", c.Request.URL.Path, "err", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "reason": model.ErrorCode(err)})
}

// StatusFor maps core errors onto HTTP status codes.
func StatusFor(err error) int {
	var remote *obsws.RemoteError
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrShowNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, model.ErrStoreUnavailable), errors.Is(err, obsws.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, obsws.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &remote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func runStatus(r *model.ExecutionReport) int {
	if r.Success {
		return http.StatusOK
	}
	return http.StatusMultiStatus
}

func openStatus(r *model.OpenReport) int {
	if len(r.Failed()) == 0 {
		return http.StatusOK
	}
	return http.StatusMultiStatus
}
