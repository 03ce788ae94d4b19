package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obs-showctl/config"
	"obs-showctl/internal/data"
	"obs-showctl/internal/model"
	"obs-showctl/internal/service"
	"obs-showctl/pkg/obsws"
	"obs-showctl/pkg/obsws/obswstest"
)

const testToken = "letmein"

type fixture struct {
	router *gin.Engine
	obs    *obswstest.Server
	svc    *service.Service
}

func newFixture(t *testing.T, authEnabled bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	obs := obswstest.NewServer(obswstest.WithScenes("idle", "live"))
	t.Cleanup(obs.Close)

	store, err := data.NewSQLiteRepo(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.SaveInstance(ctx, model.Instance{ID: "cam", URL: obs.URL()}))
	require.NoError(t, store.CreateShow(ctx, &model.Show{Name: "go-live", Targets: []model.TargetState{{Instance: "cam", State: "live"}}}))
	require.NoError(t, store.CreateShow(ctx, &model.Show{Name: "broken", Targets: []model.TargetState{
		{Instance: "cam", State: "live"},
		{Instance: "ghost", State: "live"},
	}}))

	svc := service.NewService(service.Options{}, store, nil, log.NewNopLogger())
	svc.Start(ctx)
	t.Cleanup(svc.Shutdown)

	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>showctl</h1>"), 0o600))

	cfg := &config.Config{
		Auth:   config.AuthConfig{Enable: authEnabled, Token: testToken},
		Server: config.ServerConfig{StaticDir: static},
	}
	r := gin.New()
	NewHandler(svc, cfg, log.NewNopLogger()).SetupRoutes(r)
	return &fixture{router: r, obs: obs, svc: svc}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHandler_Shows(t *testing.T) {
	f := newFixture(t, false)

	t.Run("list", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/shows", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"loaded":["broken","go-live"],"stored":["broken","go-live"]}`, w.Body.String())
	})

	t.Run("execute_success", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/shows/go-live/execute", "")
		require.Equal(t, http.StatusOK, w.Code)
		report := decode[model.ExecutionReport](t, w)
		assert.True(t, report.Success)
		assert.Equal(t, model.RunCompleted, report.State)
		assert.Equal(t, "live", f.obs.CurrentScene())
	})

	t.Run("execute_partial_failure", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/shows/broken/execute", "")
		require.Equal(t, http.StatusMultiStatus, w.Code)
		report := decode[model.ExecutionReport](t, w)
		assert.False(t, report.Success)
		require.Len(t, report.Results, 2)
		assert.Equal(t, model.ReasonNotFound, report.Results[1].Reason)
	})

	t.Run("execute_unknown", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/shows/nope/execute", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, model.ReasonShowNotFound, decode[map[string]string](t, w)["reason"])
	})

	t.Run("save_then_load", func(t *testing.T) {
		w := f.do(t, http.MethodPut, "/api/v1/shows/new", `{"targets":[{"instance":"cam","state":"idle"}]}`)
		require.Equal(t, http.StatusOK, w.Code)

		w = f.do(t, http.MethodGet, "/api/v1/shows/new", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.False(t, decode[map[string]any](t, w)["loaded"].(bool))

		w = f.do(t, http.MethodPost, "/api/v1/shows/new/execute", "")
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = f.do(t, http.MethodPost, "/api/v1/shows/new/load", "")
		require.Equal(t, http.StatusOK, w.Code)
		w = f.do(t, http.MethodPost, "/api/v1/shows/new/execute", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "idle", f.obs.CurrentScene())
	})

	t.Run("save_invalid", func(t *testing.T) {
		w := f.do(t, http.MethodPut, "/api/v1/shows/bad", `{"targets":[{"instance":"cam"}]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w = f.do(t, http.MethodPut, "/api/v1/shows/bad", `not json`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unload_then_delete", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/shows/new/unload", "")
		require.Equal(t, http.StatusOK, w.Code)
		w = f.do(t, http.MethodPost, "/api/v1/shows/new/unload", "")
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = f.do(t, http.MethodDelete, "/api/v1/shows/new", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
		w = f.do(t, http.MethodGet, "/api/v1/shows/new", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_Instances(t *testing.T) {
	f := newFixture(t, false)

	t.Run("list", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/instances", "")
		require.Equal(t, http.StatusOK, w.Code)
		st := decode[[]model.InstanceStatus](t, w)
		require.Len(t, st, 1)
		assert.True(t, st[0].Reachable)
	})

	t.Run("scenes", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/instances/cam/scenes", "")
		require.Equal(t, http.StatusOK, w.Code)
		list := decode[obsws.SceneList](t, w)
		assert.Len(t, list.Scenes, 2)

		w = f.do(t, http.MethodGet, "/api/v1/instances/nope/scenes", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("set_state", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/instances/cam/state", `{"state":"live"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "live", f.obs.CurrentScene())

		w = f.do(t, http.MethodPost, "/api/v1/instances/cam/state", `{"state":"nowhere"}`)
		require.Equal(t, http.StatusMultiStatus, w.Code)
		report := decode[model.ExecutionReport](t, w)
		assert.Equal(t, model.ReasonRemoteError, report.Results[0].Reason)

		w = f.do(t, http.MethodPost, "/api/v1/instances/cam/state", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("reconnect", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/instances/reconnect", "")
		require.Equal(t, http.StatusOK, w.Code)
		report := decode[model.OpenReport](t, w)
		require.Len(t, report.Outcomes, 1)
		assert.True(t, report.Outcomes[0].Connected)

		w = f.do(t, http.MethodPost, "/api/v1/instances/cam/reconnect", "")
		assert.Equal(t, http.StatusOK, w.Code)
		w = f.do(t, http.MethodPost, "/api/v1/instances/ghost/reconnect", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("health", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/healthz", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok","instances":1,"connected":1,"shows":2}`, w.Body.String())
	})
}

func TestHandler_Auth(t *testing.T) {
	f := newFixture(t, true)

	tests := []struct {
		name   string
		path   string
		header []string
		want   int
	}{
		{"reads_are_open", "/api/v1/shows", nil, http.StatusOK},
		{"missing_token", "/api/v1/shows/go-live/execute", nil, http.StatusUnauthorized},
		{"wrong_token", "/api/v1/shows/go-live/execute", []string{"Authorization", "nope"}, http.StatusUnauthorized},
		{"header_token", "/api/v1/shows/go-live/execute", []string{"Authorization", testToken}, http.StatusOK},
		{"bearer_token", "/api/v1/shows/go-live/execute", []string{"Authorization", "Bearer " + testToken}, http.StatusOK},
		{"query_token", "/api/v1/shows/go-live/execute?token=" + testToken, nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodPost
			if tt.path == "/api/v1/shows" {
				method = http.MethodGet
			}
			w := f.do(t, method, tt.path, "", tt.header...)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	t.Run("ws_requires_token", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/ws", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestHandler_Static(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(t, http.MethodGet, "/index.html", "")
	// http.FileServer redirects /index.html to /
	assert.Equal(t, http.StatusMovedPermanently, w.Code)

	w = f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "showctl")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", model.ErrShowNotFound), http.StatusNotFound},
		{model.ErrInvalid, http.StatusBadRequest},
		{model.ErrAlreadyExists, http.StatusConflict},
		{model.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{obsws.ErrNotConnected, http.StatusServiceUnavailable},
		{obsws.ErrTimeout, http.StatusGatewayTimeout},
		{&obsws.RemoteError{Code: 600}, http.StatusBadGateway},
		{fmt.Errorf("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), "%v", tt.err)
	}
}
