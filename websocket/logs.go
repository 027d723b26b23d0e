package websocket

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"golang.org/x/net/websocket"
)

// HandlerWithLogs decorates a handler with logs. Received messages are
// counted by type and logged as a summary at each interval.
func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	originalRequest *http.Request
	appKey          string

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int

	sessionID     string
	sessionUUID   string
	participantID uint32
}

type httpHeaders struct {
	UserAgent               string `json:"user_agent,omitempty"`
	XForwardedFor           string `json:"x_forwarded_for,omitempty"`
	CloudFrontCountryName   string `json:"cloudfront_viewer_country,omitempty"`
	CloudFrontViewerAddress string `json:"cloudfront_viewer_address,omitempty"`
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	req := conn.Request()
	h.originalRequest = req
	h.appKey = httpcmn.GetAppKeyFromHagallUserToken(httpcmn.GetUserTokenFromHTTPRequest(req))

	logs.WithClientID(h.GetClientID()).
		WithTag(logs.AppKeyTag, h.appKey).
		Info("new client is connected")
}

func (h *handlerWithLogs) HandleParticipantJoin(ctx context.Context, handleFrame func(), respond ResponseSender, msg Msg) error {
	if err := h.Handler.HandleParticipantJoin(ctx, handleFrame, respond, msg); err != nil {
		return err
	}

	if h.CurrentParticipant() == nil {
		var req ParticipantJoinRequest
		msg.DataTo(&req)

		logs.WithClientID(h.GetClientID()).
			WithTag(logs.AppKeyTag, h.appKey).
			WithTag(logs.SessionIDTag, req.SessionID).
			WithTag("request_id", req.RequestID).
			WithTag("http_headers", h.httpHeaders()).
			Info("participant failed to join a session")
		return nil
	}

	h.sessionID = h.GetSessions().GlobalSessionID(h.CurrentSession().ID)
	h.sessionUUID = h.CurrentSession().SessionUUID
	h.participantID = h.CurrentParticipant().ID

	logs.WithClientID(h.GetClientID()).
		WithTag(logs.AppKeyTag, h.appKey).
		WithTag(logs.SessionIDTag, h.sessionID).
		WithTag("session_uuid", h.sessionUUID).
		WithTag(logs.ParticipantIDTag, h.participantID).
		WithTag("http_headers", h.httpHeaders()).
		Info("participant joined a session")
	return nil
}

func (h *handlerWithLogs) HandleAreaOpen(ctx context.Context, respond ResponseSender, msg Msg) error {
	if err := h.Handler.HandleAreaOpen(ctx, respond, msg); err != nil {
		return err
	}

	if session := h.CurrentSession(); session != nil {
		logs.WithClientID(h.GetClientID()).
			WithTag(logs.SessionIDTag, h.sessionID).
			WithTag(logs.ParticipantIDTag, h.participantID).
			WithTag("area_count", session.AreaCount()).
			Debug("area open requested")
	}
	return nil
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	logs.WithClientID(h.GetClientID()).
		WithTag(logs.AppKeyTag, h.appKey).
		WithTag(logs.SessionIDTag, h.sessionID).
		WithTag(logs.ParticipantIDTag, h.participantID).
		WithTag("reason", disconnectReason(err)).
		Info("client disconnected")
}

func (h *handlerWithLogs) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			logs.WithClientID(h.GetClientID()).
				WithTag(logs.AppKeyTag, h.appKey).
				WithTag(logs.SessionIDTag, h.sessionID).
				WithTag("session_uuid", h.sessionUUID).
				WithTag(logs.ParticipantIDTag, h.participantID).
				Error(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			logs.WithClientID(h.GetClientID()).
				WithTag(logs.AppKeyTag, h.appKey).
				WithTag(logs.SessionIDTag, h.sessionID).
				WithTag("session_uuid", h.sessionUUID).
				WithTag(logs.ParticipantIDTag, h.participantID).
				WithTag("msg_type", msg.TypeString()).
				Debug("message received")
			h.incCounter(msg.TypeString())
		}
		return msg, n, err
	}
}

func (h *handlerWithLogs) Sender() Sender {
	sender := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		msgType := msg.TypeString()

		n, err := sender(msg)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			logs.WithClientID(h.GetClientID()).
				WithTag(logs.AppKeyTag, h.appKey).
				WithTag(logs.SessionIDTag, h.sessionID).
				WithTag("session_uuid", h.sessionUUID).
				WithTag(logs.ParticipantIDTag, h.participantID).
				WithTag("msg_type", msgType).
				Error(errors.New("sending message failed").Wrap(err))
		} else if err == nil {
			logs.WithClientID(h.GetClientID()).
				WithTag(logs.AppKeyTag, h.appKey).
				WithTag(logs.SessionIDTag, h.sessionID).
				WithTag("session_uuid", h.sessionUUID).
				WithTag(logs.ParticipantIDTag, h.participantID).
				WithTag("msg_type", msgType).
				Debug("message sent")
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) httpHeaders() httpHeaders {
	req := h.originalRequest
	if req == nil {
		return httpHeaders{}
	}

	return httpHeaders{
		UserAgent:               req.UserAgent(),
		XForwardedFor:           req.Header.Get(httpcmn.XForwardedForHeaderKey),
		CloudFrontCountryName:   req.Header.Get(httpcmn.CloudFrontCountryNameHeaderKey),
		CloudFrontViewerAddress: req.Header.Get(httpcmn.CloudFrontViewerAddressHeaderKey),
	}
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(msgType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[msgType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := logs.
		WithClientID(h.GetClientID()).
		WithTag(logs.AppKeyTag, h.appKey).
		WithTag(logs.ParticipantIDTag, h.participantID).
		WithTag(logs.SessionIDTag, h.sessionID).
		WithTag("session_uuid", h.sessionUUID).
		WithTag("time_interval", h.summaryInterval)
	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound message summary")
}

func disconnectReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
