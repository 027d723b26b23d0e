package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/worldmap/models"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize    = 512
	receiveChanSize = 64
)

// Receiver reads a message from a client connection.
type Receiver func() (Msg, int, error)

// Sender writes a message to a client connection.
type Sender func(Msg) (int, error)

// ResponseSender queues messages to be sent to the client.
type ResponseSender interface {
	Send(TypedMsg)
	SendMsg(Msg)
}

// Handler represents a worldmap handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Handles a ping request.
	HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles the response to a ping request sent by the server.
	HandlePingResponse(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to measure and sign the client latency.
	HandleSignedLatency(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to join a session. handleFrame is called by the
	// session at each frame.
	HandleParticipantJoin(ctx context.Context, handleFrame func(), respond ResponseSender, msg Msg) error

	// Handles a request to place an element in the session world.
	HandleElementAdd(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles an element move.
	HandleElementMove(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to remove an element from the session world.
	HandleElementDelete(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to open an area.
	HandleAreaOpen(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles an area resize.
	HandleAreaResize(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to make an area follow an observer.
	HandleAreaWatch(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles an observer move.
	HandleObserverMove(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to close an area.
	HandleAreaClose(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a session frame.
	HandleFrame(ctx context.Context, respond ResponseSender) error

	// Sends a sync clock message to the client.
	SendSyncClock(ctx context.Context, respond ResponseSender) error

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used to send the queued messages.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The interval between each sync clock message sent to the connected
	// client.
	SyncClockInterval() time.Duration

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Returns the session store.
	GetSessions() *models.SessionStore

	// The currently joined session.
	CurrentSession() *models.Session

	// The current participant.
	CurrentParticipant() *models.Participant

	// Get ClientID
	GetClientID() string
}

// Handle runs the given handler on a client connection until the client
// disconnects or the context is canceled.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The worldmap handler.
	Handler Handler

	sendChan       chan Msg
	sendDone       chan struct{}
	sender         Sender
	receiveChan    chan Msg
	receiver       Receiver
	frameChan      chan struct{}
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan Msg, sendChanSize)
	h.sendDone = make(chan struct{})
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(h.sendDone)
		h.startSending(ctx)
	}()

	h.receiveChan = make(chan Msg, receiveChanSize)
	h.receiver = h.Handler.Receiver()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	h.frameChan = make(chan struct{}, 1)

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	syncClockTicker := time.NewTicker(h.Handler.SyncClockInterval())
	defer syncClockTicker.Stop()

	var responder = responseSender{
		send:    h.send,
		sendMsg: h.sendMsg,
	}

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			h.disconnect(ctx.Err())

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", h.Handler.IdleTimeout()))

		case <-syncClockTicker.C:
			if err := h.Handler.SendSyncClock(ctx, responder); err != nil {
				h.disconnect(errors.New("sending sync clock failed").Wrap(err))
			}

		case <-h.frameChan:
			if err := h.Handler.HandleFrame(ctx, responder); err != nil {
				h.disconnect(errors.New("handling frame failed").Wrap(err))
			}

		case msg := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			if ctx.Err() == nil {
				// cancel context so go routines can cleanly exit
				cancel()
			}
		}
	}

	wg.Wait()
}

// handleFrame is called from the session frame dispatcher. Frames are
// coalesced while the previous one is not handled.
func (h *handler) handleFrame() {
	select {
	case h.frameChan <- struct{}{}:
	default:
	}
}

func (h *handler) send(v TypedMsg) {
	msg, err := MsgFrom(v)
	if err != nil {
		logs.WithTag("msg_type", v.MsgType()).
			WithClientID(h.Handler.GetClientID()).
			Debug(err)
		return
	}
	h.sendMsg(msg)
}

func (h *handler) sendMsg(msg Msg) {
	select {
	case h.sendChan <- msg:
	case <-h.sendDone:
	}
}

func (h *handler) startSending(ctx context.Context) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		msg, _, err := h.receiver()
		if err != nil {
			if ctx.Err() == nil {
				h.disconnect(errors.New("receiving message failed").Wrap(err))
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case h.receiveChan <- msg:
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg Msg, responder ResponseSender) error {
	switch msg.Type {
	case MsgTypePingRequest:
		return h.Handler.HandlePing(ctx, responder, msg)

	case MsgTypePingResponse:
		return h.Handler.HandlePingResponse(ctx, responder, msg)

	case MsgTypeSignedLatencyRequest:
		return h.Handler.HandleSignedLatency(ctx, responder, msg)

	case MsgTypeParticipantJoinRequest:
		return h.Handler.HandleParticipantJoin(ctx, h.handleFrame, responder, msg)

	case MsgTypeElementAddRequest:
		return h.Handler.HandleElementAdd(ctx, responder, msg)

	case MsgTypeElementMove:
		return h.Handler.HandleElementMove(ctx, responder, msg)

	case MsgTypeElementDeleteRequest:
		return h.Handler.HandleElementDelete(ctx, responder, msg)

	case MsgTypeAreaOpenRequest:
		return h.Handler.HandleAreaOpen(ctx, responder, msg)

	case MsgTypeAreaResize:
		return h.Handler.HandleAreaResize(ctx, responder, msg)

	case MsgTypeAreaWatchRequest:
		return h.Handler.HandleAreaWatch(ctx, responder, msg)

	case MsgTypeObserverMove:
		return h.Handler.HandleObserverMove(ctx, responder, msg)

	case MsgTypeAreaCloseRequest:
		return h.Handler.HandleAreaClose(ctx, responder, msg)

	default:
		return nil
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	send    func(TypedMsg)
	sendMsg func(Msg)
}

func (r responseSender) Send(v TypedMsg) {
	r.send(v)
}

func (r responseSender) SendMsg(msg Msg) {
	r.sendMsg(msg)
}
