package smoketest

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/aukilabs/hagall-common/http"
	wmwebsocket "github.com/aukilabs/worldmap/websocket"
	"github.com/aukilabs/worldmap/worldmap"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	defaultTimeout = 10 * time.Second
	origin         = "http://localhost"

	ErrTypeSmokeTestFailed = "smoke_test_failed"
)

type Options struct {
	// The websocket endpoint tested when the request does not name one.
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
}

// Request is the optional body of a smoke test request.
type Request struct {
	Endpoint        string `json:"endpoint,omitempty"`
	TimeoutMilliSec int64  `json:"timeout_ms,omitempty"`
}

// Result is the outcome of a smoke test.
type Result struct {
	Endpoint        string  `json:"endpoint"`
	Success         bool    `json:"success"`
	LatencyMilliSec float64 `json:"latency_ms"`
	Error           string  `json:"error,omitempty"`
}

// HandleSmokeTest returns a handler that runs a smoke test against a
// worldmap websocket endpoint and responds with the result.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			httpcmn.InternalServerError(w, errors.New("reading body failed").Wrap(err))
			return
		}

		req := Request{
			Endpoint:        opts.Endpoint,
			TimeoutMilliSec: opts.Timeout.Milliseconds(),
		}
		if len(b) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				httpcmn.BadRequest(w, httpcmn.ErrBadRequest)
				return
			}
		}

		if req.Endpoint == "" {
			httpcmn.BadRequest(w, httpcmn.ErrBadRequest)
			return
		}

		res, err := Run(ctx, RunOptions{
			Endpoint:  req.Endpoint,
			UserAgent: opts.UserAgent,
			Timeout:   time.Duration(req.TimeoutMilliSec) * time.Millisecond,
		})

		status := http.StatusOK
		if err != nil {
			logs.WithTag("endpoint", req.Endpoint).Warn(err)
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(res)
	}
}

type RunOptions struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
}

// Run connects to a worldmap websocket endpoint, joins a new session, adds
// an element and opens an area around it. The test succeeds when the area
// reports the element.
func Run(ctx context.Context, opts RunOptions) (Result, error) {
	res := Result{Endpoint: opts.Endpoint}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	start := time.Now()
	err := run(ctx, opts, start.Add(timeout))
	if err != nil {
		res.Error = err.Error()
		return res, err
	}

	res.Success = true
	res.LatencyMilliSec = float64(time.Since(start).Microseconds()) / 1000
	return res, nil
}

func run(ctx context.Context, opts RunOptions, deadline time.Time) error {
	config, err := websocket.NewConfig(opts.Endpoint, origin)
	if err != nil {
		return errors.New("creating websocket config failed").
			WithType(ErrTypeSmokeTestFailed).
			WithTag("endpoint", opts.Endpoint).
			Wrap(err)
	}
	if opts.UserAgent != "" {
		config.Header.Set("User-Agent", opts.UserAgent)
	}
	config.Header.Set(httpcmn.HeaderPosemeshClientID, "smoke-test-"+uuid.NewString())

	conn, err := websocket.DialConfig(config)
	if err != nil {
		return errors.New("dialing websocket failed").
			WithType(ErrTypeSmokeTestFailed).
			WithTag("endpoint", opts.Endpoint).
			Wrap(err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if err := conn.SetDeadline(deadline); err != nil {
		return errors.New("setting deadline failed").
			WithType(ErrTypeSmokeTestFailed).
			Wrap(err)
	}

	c := client{conn: conn}

	var join wmwebsocket.ParticipantJoinResponse
	if err := c.request(&wmwebsocket.ParticipantJoinRequest{
		Header: c.header(wmwebsocket.MsgTypeParticipantJoinRequest),
	}, wmwebsocket.MsgTypeParticipantJoinResponse, &join); err != nil {
		return err
	}

	var add wmwebsocket.ElementAddResponse
	if err := c.request(&wmwebsocket.ElementAddRequest{
		Header: c.header(wmwebsocket.MsgTypeElementAddRequest),
		Rect:   wmwebsocket.RectFrom(worldmap.Rect{Left: 0, Right: 1, Top: 0, Bottom: 1}),
	}, wmwebsocket.MsgTypeElementAddResponse, &add); err != nil {
		return err
	}

	var open wmwebsocket.AreaOpenResponse
	if err := c.request(&wmwebsocket.AreaOpenRequest{
		Header: c.header(wmwebsocket.MsgTypeAreaOpenRequest),
		Rect:   wmwebsocket.RectFrom(worldmap.Rect{Left: -1, Right: 2, Top: -1, Bottom: 2}),
	}, wmwebsocket.MsgTypeAreaOpenResponse, &open); err != nil {
		return err
	}

	for {
		var events wmwebsocket.AreaEvents
		if err := c.receive(wmwebsocket.MsgTypeAreaEvents, &events); err != nil {
			return err
		}

		for _, e := range events.Events {
			if e.AreaID == open.AreaID &&
				e.ElementID == add.ElementID &&
				e.Kind == worldmap.Add.String() {
				logs.WithTag("endpoint", opts.Endpoint).
					WithTag(logs.SessionIDTag, join.SessionID).
					Debug("smoke test succeeded")
				return nil
			}
		}
	}
}

type client struct {
	conn      *websocket.Conn
	requestID uint32
}

func (c *client) header(t wmwebsocket.MsgType) wmwebsocket.Header {
	c.requestID++
	return wmwebsocket.Header{
		Type:      t,
		Timestamp: time.Now(),
		RequestID: c.requestID,
	}
}

func (c *client) request(req wmwebsocket.TypedMsg, resType wmwebsocket.MsgType, res any) error {
	msg, err := wmwebsocket.MsgFrom(req)
	if err != nil {
		return err
	}

	if _, err := wmwebsocket.Send(c.conn, msg); err != nil {
		return errors.New("sending message failed").
			WithType(ErrTypeSmokeTestFailed).
			WithTag("msg_type", req.MsgType()).
			Wrap(err)
	}
	return c.receive(resType, res)
}

func (c *client) receive(msgType wmwebsocket.MsgType, v any) error {
	for {
		msg, _, err := wmwebsocket.Receive(c.conn)
		if err != nil {
			return errors.New("receiving message failed").
				WithType(ErrTypeSmokeTestFailed).
				WithTag("expected_msg_type", msgType).
				Wrap(err)
		}

		switch msg.Type {
		case msgType:
			return msg.DataTo(v)

		case wmwebsocket.MsgTypeErrorResponse:
			var res wmwebsocket.ErrorResponse
			if err := msg.DataTo(&res); err != nil {
				return err
			}
			return errors.New("server responded with an error").
				WithType(ErrTypeSmokeTestFailed).
				WithTag("expected_msg_type", msgType).
				WithTag("code", res.Code)
		}
	}
}
