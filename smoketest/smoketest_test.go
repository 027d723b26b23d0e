package smoketest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/worldmap/models"
	wmwebsocket "github.com/aukilabs/worldmap/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newWorldmapServer(t *testing.T) (*httptest.Server, *models.SessionStore) {
	sessions := &models.SessionStore{ServerID: "smoke"}

	server := httptest.NewServer(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			handler := &wmwebsocket.RealtimeHandler{
				ClientSyncClockInterval: time.Second,
				ClientIdleTimeout:       time.Minute,
				FrameDuration:           time.Millisecond * 10,
				Sessions:                sessions,
			}
			defer handler.Close()

			wmwebsocket.Handle(context.Background(), conn, handler)
		},
	})
	return server, sessions
}

// newSilentServer accepts websocket connections and never responds.
func newSilentServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var b []byte
			for websocket.Message.Receive(conn, &b) == nil {
			}
		},
	})
}

func wsURL(s *httptest.Server) string {
	return strings.Replace(s.URL, "http://", "ws://", 1)
}

func TestRun(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server, sessions := newWorldmapServer(t)
		defer server.Close()

		res, err := Run(context.Background(), RunOptions{
			Endpoint:  wsURL(server),
			UserAgent: "smoke-test",
			Timeout:   time.Second * 3,
		})
		require.NoError(t, err)
		require.True(t, res.Success)
		require.Equal(t, wsURL(server), res.Endpoint)
		require.Greater(t, res.LatencyMilliSec, float64(0))
		require.Empty(t, res.Error)

		require.Eventually(t, func() bool {
			return sessions.Len() == 0
		}, time.Second, time.Millisecond*10)
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		endpoint := wsURL(server)
		server.Close()

		res, err := Run(context.Background(), RunOptions{
			Endpoint: endpoint,
			Timeout:  time.Second,
		})
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeSmokeTestFailed))
		require.False(t, res.Success)
		require.NotEmpty(t, res.Error)
	})

	t.Run("timeout", func(t *testing.T) {
		server := newSilentServer(t)
		defer server.Close()

		start := time.Now()
		res, err := Run(context.Background(), RunOptions{
			Endpoint: wsURL(server),
			Timeout:  time.Millisecond * 100,
		})
		require.Error(t, err)
		require.False(t, res.Success)
		require.Less(t, time.Since(start), time.Second*2)
	})

	t.Run("canceled context", func(t *testing.T) {
		server := newSilentServer(t)
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(time.Millisecond * 50)
			cancel()
		}()

		_, err := Run(ctx, RunOptions{
			Endpoint: wsURL(server),
			Timeout:  time.Minute,
		})
		require.Error(t, err)
	})
}

func TestHandleSmokeTest(t *testing.T) {
	server, _ := newWorldmapServer(t)
	defer server.Close()

	handler := HandleSmokeTest(context.Background(), Options{
		Endpoint:  wsURL(server),
		UserAgent: "smoke-test",
		Timeout:   time.Second * 3,
	})

	t.Run("default endpoint", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodPost, "/smoke-test", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var res Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.True(t, res.Success)
		require.Equal(t, wsURL(server), res.Endpoint)
	})

	t.Run("requested endpoint", func(t *testing.T) {
		silent := newSilentServer(t)
		defer silent.Close()

		body, err := json.Marshal(Request{
			Endpoint:        wsURL(silent),
			TimeoutMilliSec: 100,
		})
		require.NoError(t, err)

		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodPost, "/smoke-test", bytes.NewReader(body)))
		require.Equal(t, http.StatusServiceUnavailable, w.Code)

		var res Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.False(t, res.Success)
		require.Equal(t, wsURL(silent), res.Endpoint)
	})

	t.Run("bad request", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodPost, "/smoke-test", strings.NewReader("{")))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing endpoint", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleSmokeTest(context.Background(), Options{})(w, httptest.NewRequest(http.MethodPost, "/smoke-test", nil))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}
