package websocket

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"github.com/aukilabs/worldmap/featureflag"
	"github.com/aukilabs/worldmap/models"
	"github.com/aukilabs/worldmap/worldmap"
	"golang.org/x/net/websocket"
)

// RealtimeHandler represents a service that manages a client connection and
// relays the changes of the session world to the client areas.
type RealtimeHandler struct {
	// The interval between each sync clock message sent to the connected
	// client.
	ClientSyncClockInterval time.Duration

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The duration of a frame. Area events are sent once per frame.
	FrameDuration time.Duration

	// The store that contains all the server sessions.
	Sessions *models.SessionStore

	FeatureFlags featureflag.FeatureFlag

	// The key used to sign latency measurements. Signed latency requests are
	// refused when nil.
	PrivateKey *ecdsa.PrivateKey

	conn               *websocket.Conn
	currentSession     *models.Session
	currentParticipant *models.Participant
	signedLatency      *models.SignedLatency

	stopFrameHandling func()

	clientID string
	appKey   string
}

func (h *RealtimeHandler) HandleConnect(conn *websocket.Conn) {
	req := conn.Request()
	h.clientID = req.Header.Get(httpcmn.HeaderPosemeshClientID)
	h.appKey = httpcmn.GetAppKeyFromHagallUserToken(httpcmn.GetUserTokenFromHTTPRequest(req))

	h.conn = conn
}

func (h *RealtimeHandler) HandleDisconnect(_ error) {
	if h.currentParticipant != nil {
		h.leaveSession()
	}
}

func (h *RealtimeHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req PingRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	respond.Send(&PingResponse{
		Header: header(MsgTypePingResponse, req.RequestID),
	})
	return nil
}

func (h *RealtimeHandler) HandlePingResponse(ctx context.Context, respond ResponseSender, msg Msg) error {
	var res PingResponse
	if err := msg.DataTo(&res); err != nil {
		return err
	}

	latency := h.signedLatency
	if latency == nil {
		return nil
	}

	result, err := latency.OnPing(res.RequestID)
	if err != nil {
		logs.WithClientID(h.clientID).Warn(err)
		return nil
	}
	if result == nil {
		return nil
	}

	h.signedLatency = nil
	respond.Send(&SignedLatencyResponse{
		Header:    header(MsgTypeSignedLatencyResponse, latency.RequestID),
		Data:      result.Data,
		Signature: result.Signature,
	})
	return nil
}

func (h *RealtimeHandler) HandleSignedLatency(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req SignedLatencyRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	if h.PrivateKey == nil {
		sendError(respond, req.RequestID, ErrorCodeUnavailable)
		return nil
	}

	var sessionID string
	if h.currentSession != nil {
		sessionID = h.Sessions.GlobalSessionID(h.currentSession.ID)
	}

	h.signedLatency = &models.SignedLatency{}
	h.signedLatency.Start(
		h.PrivateKey,
		func(pingRequestID uint32) {
			respond.Send(&PingRequest{
				Header: header(MsgTypePingRequest, pingRequestID),
			})
		},
		req.RequestID,
		req.IterationCount,
		sessionID,
		h.clientID,
		req.WalletAddress,
	)
	return nil
}

func (h *RealtimeHandler) HandleParticipantJoin(ctx context.Context, handleFrame func(), respond ResponseSender, msg Msg) error {
	var req ParticipantJoinRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	if h.currentSession != nil && h.Sessions.GlobalSessionID(h.currentSession.ID) == req.SessionID {
		sendError(respond, req.RequestID, ErrorCodeSessionAlreadyJoined)
		return nil
	}

	if h.currentParticipant != nil {
		h.leaveSession()
	}

	session, ok := h.Sessions.GetByGlobalID(req.SessionID)
	if !ok && req.SessionID != "" {
		sendError(respond, req.RequestID, ErrorCodeNotFound)
		return nil
	}

	if !ok {
		session = models.NewSession(
			h.Sessions.NewID(),
			h.FrameDuration,
			worldmap.WithLinePruning(!h.FeatureFlags.IsSet(featureflag.FlagDisableLinePruning)),
		)
		session.AppKey = h.appKey
		if err := h.Sessions.Add(ctx, session); err != nil {
			sendError(respond, req.RequestID, ErrorCodeInternalServerError)
			return nil
		}
		go session.StartDispatchFrames()
	}

	participant := &models.Participant{
		ID: session.NewParticipantID(),
	}

	session.AddParticipant(participant)
	h.stopFrameHandling = session.HandleFrame(handleFrame)

	respond.Send(&ParticipantJoinResponse{
		Header:        header(MsgTypeParticipantJoinResponse, req.RequestID),
		SessionID:     h.Sessions.GlobalSessionID(session.ID),
		SessionUUID:   session.SessionUUID,
		ParticipantID: participant.ID,
	})

	h.currentSession = session
	h.currentParticipant = participant
	return nil
}

func (h *RealtimeHandler) HandleElementAdd(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req ElementAddRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session, participant, err := h.joined(msg)
	if err != nil {
		return err
	}

	entity := models.NewEntity(session.NewEntityID(), participant.ID, req.Rect.WorldRect())
	entity.Persist = req.Persist

	if err := session.AddEntity(entity); err != nil {
		sendError(respond, req.RequestID, errorCode(err))
		return nil
	}
	participant.AddEntity(entity)

	respond.Send(&ElementAddResponse{
		Header:    header(MsgTypeElementAddResponse, req.RequestID),
		ElementID: entity.ID,
	})
	return nil
}

func (h *RealtimeHandler) HandleElementMove(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req ElementMove
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session, participant, err := h.joined(msg)
	if err != nil {
		return err
	}

	entity, ok := session.EntityByID(req.ElementID)
	if !ok {
		sendError(respond, req.RequestID, ErrorCodeNotFound)
		return nil
	}

	if entity.ParticipantID != participant.ID {
		sendError(respond, req.RequestID, ErrorCodeUnauthorized)
		return nil
	}

	if err := session.MoveEntity(entity, req.Rect.WorldRect()); err != nil {
		sendError(respond, req.RequestID, errorCode(err))
	}
	return nil
}

func (h *RealtimeHandler) HandleElementDelete(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req ElementDeleteRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session, participant, err := h.joined(msg)
	if err != nil {
		return err
	}

	entity, ok := session.EntityByID(req.ElementID)
	if !ok {
		sendError(respond, req.RequestID, ErrorCodeNotFound)
		return nil
	}

	if entity.ParticipantID != participant.ID {
		sendError(respond, req.RequestID, ErrorCodeUnauthorized)
		return nil
	}

	if err := session.RemoveEntity(entity); err != nil {
		sendError(respond, req.RequestID, errorCode(err))
		return nil
	}
	participant.RemoveEntity(entity)

	respond.Send(&ElementDeleteResponse{
		Header: header(MsgTypeElementDeleteResponse, req.RequestID),
	})
	return nil
}

func (h *RealtimeHandler) HandleAreaOpen(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req AreaOpenRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session, participant, err := h.joined(msg)
	if err != nil {
		return err
	}

	areaID, err := session.OpenArea(participant, req.Rect.WorldRect(), participant.PushAreaEvent)
	if err != nil {
		sendError(respond, req.RequestID, errorCode(err))
		return nil
	}

	respond.Send(&AreaOpenResponse{
		Header: header(MsgTypeAreaOpenResponse, req.RequestID),
		AreaID: areaID,
	})
	return nil
}

func (h *RealtimeHandler) HandleAreaResize(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req AreaResize
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session, participant, err := h.joined(msg)
	if err != nil {
		return err
	}

	if err := session.ResizeArea(participant, req.AreaID, req.Rect.WorldRect()); err != nil {
		sendError(respond, req.RequestID, errorCode(err))
	}
	return nil
}

func (h *RealtimeHandler) HandleAreaWatch(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req AreaWatchRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session, participant, err := h.joined(msg)
	if err != nil {
		return err
	}

	if req.CellSize <= 0 || req.HalfExtent < 0 {
		sendError(respond, req.RequestID, ErrorCodeBadRequest)
		return nil
	}

	if err := session.WatchArea(participant, req.AreaID, req.Position.WorldPoint(), req.HalfExtent, req.CellSize); err != nil {
		sendError(respond, req.RequestID, errorCode(err))
		return nil
	}

	respond.Send(&AreaWatchResponse{
		Header: header(MsgTypeAreaWatchResponse, req.RequestID),
	})
	return nil
}

func (h *RealtimeHandler) HandleObserverMove(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req ObserverMove
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session, participant, err := h.joined(msg)
	if err != nil {
		return err
	}

	if err := session.MoveObserver(participant, req.AreaID, req.Position.WorldPoint()); err != nil {
		sendError(respond, req.RequestID, errorCode(err))
	}
	return nil
}

func (h *RealtimeHandler) HandleAreaClose(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req AreaCloseRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	session, participant, err := h.joined(msg)
	if err != nil {
		return err
	}

	if err := session.CloseArea(participant, req.AreaID); err != nil {
		sendError(respond, req.RequestID, errorCode(err))
		return nil
	}

	respond.Send(&AreaCloseResponse{
		Header: header(MsgTypeAreaCloseResponse, req.RequestID),
	})
	return nil
}

// HandleFrame sends the area events buffered since the previous frame.
func (h *RealtimeHandler) HandleFrame(ctx context.Context, respond ResponseSender) error {
	participant := h.currentParticipant
	if participant == nil {
		return nil
	}

	events := participant.PopAreaEvents()
	if len(events) == 0 {
		return nil
	}

	dropUpdates := h.FeatureFlags.IsSet(featureflag.FlagDisableAreaUpdateEvents)
	wireEvents := make([]AreaEvent, 0, len(events))
	for _, e := range events {
		if dropUpdates && e.Kind == worldmap.Update {
			continue
		}
		wireEvents = append(wireEvents, AreaEventFrom(e))
	}
	if len(wireEvents) == 0 {
		return nil
	}

	respond.Send(&AreaEvents{
		Header: header(MsgTypeAreaEvents, 0),
		Events: wireEvents,
	})
	return nil
}

func (h *RealtimeHandler) SendSyncClock(ctx context.Context, respond ResponseSender) error {
	h.FeatureFlags.IfNotSet(featureflag.FlagDisableSyncClock, func() {
		respond.Send(&SyncClock{
			Header: header(MsgTypeSyncClock, 0),
		})
	})
	return nil
}

func (h *RealtimeHandler) Receiver() Receiver {
	return func() (Msg, int, error) {
		return Receive(h.conn)
	}
}

func (h *RealtimeHandler) Sender() Sender {
	return func(msg Msg) (int, error) {
		return Send(h.conn, msg)
	}
}

func (h *RealtimeHandler) Close() {
}

func (h *RealtimeHandler) SyncClockInterval() time.Duration {
	return h.ClientSyncClockInterval
}

func (h *RealtimeHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *RealtimeHandler) GetSessions() *models.SessionStore {
	return h.Sessions
}

func (h *RealtimeHandler) CurrentSession() *models.Session {
	return h.currentSession
}

func (h *RealtimeHandler) CurrentParticipant() *models.Participant {
	return h.currentParticipant
}

func (h *RealtimeHandler) GetClientID() string {
	return h.clientID
}

func (h *RealtimeHandler) joined(msg Msg) (*models.Session, *models.Participant, error) {
	session := h.currentSession
	participant := h.currentParticipant
	if participant == nil || session == nil {
		return nil, nil, errors.New("session not joined").
			WithType(ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}
	return session, participant, nil
}

func (h *RealtimeHandler) leaveSession() {
	session := h.currentSession
	participant := h.currentParticipant

	if participant == nil || session == nil {
		return
	}

	if h.stopFrameHandling != nil {
		h.stopFrameHandling()
		h.stopFrameHandling = nil
	}

	session.CloseParticipantAreas(participant)
	participant.PopAreaEvents()

	for _, id := range participant.EntityIDs() {
		entity, ok := session.EntityByID(id)
		if !ok || entity.Persist {
			continue
		}

		if err := session.RemoveEntity(entity); err != nil {
			logs.WithClientID(h.clientID).
				WithTag(logs.ParticipantIDTag, participant.ID).
				Warn(errors.New("removing participant entity failed").Wrap(err))
		}
		participant.RemoveEntity(entity)
	}

	session.RemoveParticipant(participant)

	if session.ParticipantCount() == 0 {
		h.Sessions.Remove(context.Background(), session)
	}

	h.currentSession = nil
	h.currentParticipant = nil
}

func sendError(respond ResponseSender, requestID uint32, code ErrorCode) {
	respond.Send(&ErrorResponse{
		Header: header(MsgTypeErrorResponse, requestID),
		Code:   code,
	})
}

func errorCode(err error) ErrorCode {
	switch {
	case errors.IsType(err, worldmap.ErrTypeInvalidRange),
		errors.IsType(err, worldmap.ErrTypeDuplicateElement),
		errors.IsType(err, models.ErrTypeAreaNotWatched):
		return ErrorCodeBadRequest

	case errors.IsType(err, models.ErrTypeEntityNotFound),
		errors.IsType(err, models.ErrTypeAreaNotFound),
		errors.IsType(err, worldmap.ErrTypeElementNotFound),
		errors.IsType(err, worldmap.ErrTypeAreaClosed):
		return ErrorCodeNotFound

	case errors.IsType(err, models.ErrTypeUnauthorized):
		return ErrorCodeUnauthorized

	default:
		return ErrorCodeInternalServerError
	}
}
