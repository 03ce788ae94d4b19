package obsws_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obs-showctl/pkg/obsws"
	"obs-showctl/pkg/obsws/obswstest"
)

func openSession(t *testing.T, srv *obswstest.Server, password string, opts ...obsws.Option) *obsws.Session {
	t.Helper()
	s := obsws.NewSession(srv.URL(), password, opts...)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_Open(t *testing.T) {
	t.Run("no_auth_identifies", func(t *testing.T) {
		srv := obswstest.NewServer()
		defer srv.Close()
		s := openSession(t, srv, "")
		assert.Equal(t, obsws.StateIdentified, s.State())
		assert.Equal(t, 1, srv.Accepted())
	})

	t.Run("password_identifies", func(t *testing.T) {
		srv := obswstest.NewServer(obswstest.WithPassword("hunter2"))
		defer srv.Close()
		s := openSession(t, srv, "hunter2")
		assert.Equal(t, obsws.StateIdentified, s.State())
	})

	t.Run("wrong_password_is_auth_rejected", func(t *testing.T) {
		srv := obswstest.NewServer(obswstest.WithPassword("hunter2"))
		defer srv.Close()
		s := obsws.NewSession(srv.URL(), "nope")
		err := s.Open(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, obsws.ErrAuthRejected)
		assert.Equal(t, obsws.StateDisconnected, s.State())
	})

	t.Run("missing_password_is_auth_rejected", func(t *testing.T) {
		srv := obswstest.NewServer(obswstest.WithPassword("hunter2"))
		defer srv.Close()
		err := obsws.NewSession(srv.URL(), "").Open(context.Background())
		assert.ErrorIs(t, err, obsws.ErrAuthRejected)
	})

	t.Run("slow_hello_is_connect_timeout", func(t *testing.T) {
		srv := obswstest.NewServer(obswstest.WithHandshakeDelay(2 * time.Second))
		defer srv.Close()
		s := obsws.NewSession(srv.URL(), "", obsws.WithConnectTimeout(100*time.Millisecond))
		start := time.Now()
		err := s.Open(context.Background())
		assert.ErrorIs(t, err, obsws.ErrConnectTimeout)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("closed_listener_is_connect_refused", func(t *testing.T) {
		srv := obswstest.NewServer()
		url := srv.URL()
		srv.Close()
		err := obsws.NewSession(url, "").Open(context.Background())
		assert.ErrorIs(t, err, obsws.ErrConnectRefused)
	})

	t.Run("http_rejection_is_connect_refused", func(t *testing.T) {
		plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		}))
		defer plain.Close()
		err := obsws.NewSession("ws"+strings.TrimPrefix(plain.URL, "http"), "").Open(context.Background())
		assert.ErrorIs(t, err, obsws.ErrConnectRefused)
	})

	t.Run("open_after_close_fails", func(t *testing.T) {
		srv := obswstest.NewServer()
		defer srv.Close()
		s := obsws.NewSession(srv.URL(), "")
		require.NoError(t, s.Close())
		assert.ErrorIs(t, s.Open(context.Background()), obsws.ErrClosed)
		assert.Equal(t, obsws.StateClosed, s.State())
	})
}

func TestSession_Command(t *testing.T) {
	t.Run("not_identified_is_not_connected", func(t *testing.T) {
		s := obsws.NewSession("ws://127.0.0.1:1", "")
		_, err := s.Command(context.Background(), "GetVersion", nil)
		assert.ErrorIs(t, err, obsws.ErrNotConnected)
	})

	t.Run("success_switches_scene", func(t *testing.T) {
		srv := obswstest.NewServer(obswstest.WithScenes("Scene", "testScene"))
		defer srv.Close()
		s := openSession(t, srv, "")
		_, err := s.Command(context.Background(), "SetCurrentProgramScene", map[string]any{"sceneName": "testScene"})
		require.NoError(t, err)
		assert.Equal(t, "testScene", srv.CurrentScene())

		reqs := srv.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "SetCurrentProgramScene", reqs[0].RequestType)
		assert.NotEmpty(t, reqs[0].RequestID)
	})

	t.Run("response_payload_decodes", func(t *testing.T) {
		srv := obswstest.NewServer(obswstest.WithScenes("A", "B"))
		defer srv.Close()
		s := openSession(t, srv, "")
		resp, err := s.Command(context.Background(), "GetSceneList", nil)
		require.NoError(t, err)
		var list obsws.SceneList
		require.NoError(t, resp.Decode(&list))
		assert.Equal(t, "A", list.CurrentProgramSceneName)
		assert.Len(t, list.Scenes, 2)
	})

	t.Run("error_reply_is_remote_error", func(t *testing.T) {
		srv := obswstest.NewServer(obswstest.WithScenes("Scene"))
		defer srv.Close()
		s := openSession(t, srv, "")
		_, err := s.Command(context.Background(), "SetCurrentProgramScene", map[string]any{"sceneName": "missing"})
		var remote *obsws.RemoteError
		require.True(t, errors.As(err, &remote))
		assert.Equal(t, obsws.StatusResourceNotFound, remote.Code)
		assert.Contains(t, remote.Message, "missing")
		assert.Equal(t, "Scene", srv.CurrentScene())
	})

	t.Run("slow_reply_is_timeout", func(t *testing.T) {
		srv := obswstest.NewServer(obswstest.WithResponseDelay(time.Second))
		defer srv.Close()
		s := openSession(t, srv, "", obsws.WithCommandTimeout(50*time.Millisecond))
		_, err := s.Command(context.Background(), "GetVersion", nil)
		assert.ErrorIs(t, err, obsws.ErrTimeout)
		assert.Equal(t, obsws.StateIdentified, s.State())
	})

	t.Run("concurrent_commands_are_correlated", func(t *testing.T) {
		srv := obswstest.NewServer(obswstest.WithHandler(func(req obsws.Request) (*obsws.RequestStatus, any) {
			return nil, map[string]any{"echo": req.RequestData["n"]}
		}))
		defer srv.Close()
		s := openSession(t, srv, "")

		const n = 20
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			go func(i int) {
				resp, err := s.Command(context.Background(), "Echo", map[string]any{"n": i})
				if err != nil {
					errs <- err
					return
				}
				var out struct{ Echo int }
				if err := resp.Decode(&out); err != nil {
					errs <- err
					return
				}
				if out.Echo != i {
					errs <- errors.New("reply routed to the wrong request")
					return
				}
				errs <- nil
			}(i)
		}
		for i := 0; i < n; i++ {
			assert.NoError(t, <-errs)
		}
	})

	t.Run("dropped_connection_is_not_connected", func(t *testing.T) {
		srv := obswstest.NewServer()
		defer srv.Close()
		s := openSession(t, srv, "")
		srv.DropConnections()
		assert.Eventually(t, func() bool { return s.State() == obsws.StateDisconnected }, 2*time.Second, 10*time.Millisecond)
		_, err := s.Command(context.Background(), "GetVersion", nil)
		assert.ErrorIs(t, err, obsws.ErrNotConnected)
	})
}

func TestSession_Close(t *testing.T) {
	srv := obswstest.NewServer()
	defer srv.Close()
	s := obsws.NewSession(srv.URL(), "")
	require.NoError(t, s.Open(context.Background()))
	require.Eventually(t, func() bool { return srv.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Equal(t, obsws.StateClosed, s.State())
	assert.Eventually(t, func() bool { return srv.ActiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)

	_, err := s.Command(context.Background(), "GetVersion", nil)
	assert.ErrorIs(t, err, obsws.ErrNotConnected)
}

func TestAuthenticationString(t *testing.T) {
	a := obsws.AuthenticationString("pw", "salt", "challenge")
	b := obsws.AuthenticationString("pw", "salt", "challenge")
	c := obsws.AuthenticationString("pw", "salt", "other")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 44)
}
