package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"github.com/aukilabs/worldmap/models"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const testReceiveTimeout = 3 * time.Second

// Creates a testing environment with two clients connected to a server
// running the handlers returned by newHandler.
func NewTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, *websocket.Conn, func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	clientA, clientB, close := newTestingEnv(t, newHandler)
	return clientA, clientB, func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
		close()
	}
}

func newTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, *websocket.Conn, func()) {
	server := httptest.NewServer(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			handler := newHandler()
			defer handler.Close()

			Handle(context.Background(), conn, handler)
		},
	})

	newConn := func() *websocket.Conn {
		config, err := websocket.NewConfig(
			strings.ReplaceAll(server.URL, "http://", "ws://"),
			"http://localhost",
		)
		if err != nil {
			t.Fatalf("error initializing web socket: %s", err)
		}

		config.Header.Set("User-Agent", "ted")
		config.Header.Set("X-Forwarded-for", "192.0.0.0")
		config.Header.Set(httpcmn.HeaderPosemeshClientID, uuid.NewString())

		conn, err := websocket.DialConfig(config)
		if err != nil {
			t.Fatalf("error dialing web socket: %s", err)
		}

		return conn
	}

	clientA := newConn()
	clientB := newConn()

	return clientA, clientB, func() {
		clientA.Close()
		clientB.Close()
		server.Close()
	}
}

// TestClient sends requests to a test server and waits for its messages.
type TestClient struct {
	t         *testing.T
	conn      *websocket.Conn
	requestID uint32
}

func NewTestClient(t *testing.T, conn *websocket.Conn) *TestClient {
	return &TestClient{
		t:    t,
		conn: conn,
	}
}

// NextRequestID returns a new request id.
func (c *TestClient) NextRequestID() uint32 {
	c.requestID++
	return c.requestID
}

// Header returns a message header with a new request id.
func (c *TestClient) Header(t MsgType) Header {
	return header(t, c.NextRequestID())
}

// Send sends a message to the server.
func (c *TestClient) Send(v TypedMsg) {
	msg, err := MsgFrom(v)
	if err != nil {
		c.t.Fatalf("encoding %s failed: %s", v.MsgType(), err)
	}

	if _, err := Send(c.conn, msg); err != nil {
		c.t.Fatalf("sending %s failed: %s", v.MsgType(), err)
	}
}

// Receive waits for a message of the given type and decodes it into v.
// Messages of other types are skipped.
func (c *TestClient) Receive(msgType MsgType, v any) {
	c.t.Helper()

	msg, err := c.receive(testReceiveTimeout, msgType)
	if err != nil {
		c.t.Fatalf("waiting for %s failed: %s", msgType, err)
	}

	if v == nil {
		return
	}
	if err := msg.DataTo(v); err != nil {
		c.t.Fatalf("decoding %s failed: %s", msgType, err)
	}
}

// ReceiveNone checks that no message of the given type is received for the
// given duration.
func (c *TestClient) ReceiveNone(msgType MsgType, d time.Duration) {
	c.t.Helper()

	if msg, err := c.receive(d, msgType); err == nil {
		c.t.Fatalf("unexpected %s message: %s", msgType, msg.Data)
	}
}

func (c *TestClient) receive(timeout time.Duration, msgType MsgType) (Msg, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		msg, _, err := Receive(c.conn)
		if err != nil {
			return Msg{}, err
		}
		if msg.Type == msgType {
			return msg, nil
		}
	}
}

func newTestHandler(configure ...func(*RealtimeHandler)) func() Handler {
	sessionStore := &models.SessionStore{
		ServerID: "ted",
	}

	return func() Handler {
		rh := &RealtimeHandler{
			ClientSyncClockInterval: time.Millisecond * 250,
			ClientIdleTimeout:       time.Minute,
			FrameDuration:           time.Millisecond * 20,
			Sessions:                sessionStore,
		}
		for _, c := range configure {
			c(rh)
		}

		var h Handler = rh
		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h, "https://auki-test.com")
		return h
	}
}
