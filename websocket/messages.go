package websocket

import (
	"math"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/worldmap/models"
	"github.com/aukilabs/worldmap/worldmap"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// MsgType is the type of a message exchanged with a client.
type MsgType string

const (
	MsgTypePingRequest           MsgType = "ping_request"
	MsgTypePingResponse          MsgType = "ping_response"
	MsgTypeSignedLatencyRequest  MsgType = "signed_latency_request"
	MsgTypeSignedLatencyResponse MsgType = "signed_latency_response"
	MsgTypeSyncClock             MsgType = "sync_clock"
	MsgTypeErrorResponse         MsgType = "error_response"

	MsgTypeParticipantJoinRequest  MsgType = "participant_join_request"
	MsgTypeParticipantJoinResponse MsgType = "participant_join_response"

	MsgTypeElementAddRequest     MsgType = "element_add_request"
	MsgTypeElementAddResponse    MsgType = "element_add_response"
	MsgTypeElementMove           MsgType = "element_move"
	MsgTypeElementDeleteRequest  MsgType = "element_delete_request"
	MsgTypeElementDeleteResponse MsgType = "element_delete_response"

	MsgTypeAreaOpenRequest   MsgType = "area_open_request"
	MsgTypeAreaOpenResponse  MsgType = "area_open_response"
	MsgTypeAreaResize        MsgType = "area_resize"
	MsgTypeAreaWatchRequest  MsgType = "area_watch_request"
	MsgTypeAreaWatchResponse MsgType = "area_watch_response"
	MsgTypeObserverMove      MsgType = "observer_move"
	MsgTypeAreaCloseRequest  MsgType = "area_close_request"
	MsgTypeAreaCloseResponse MsgType = "area_close_response"
	MsgTypeAreaEvents        MsgType = "area_events"
)

// ErrorCode describes why a request failed.
type ErrorCode string

const (
	ErrorCodeBadRequest           ErrorCode = "bad_request"
	ErrorCodeNotFound             ErrorCode = "not_found"
	ErrorCodeUnauthorized         ErrorCode = "unauthorized"
	ErrorCodeSessionAlreadyJoined ErrorCode = "session_already_joined"
	ErrorCodeUnavailable          ErrorCode = "unavailable"
	ErrorCodeInternalServerError  ErrorCode = "internal_server_error"
)

const (
	ErrTypeSessionNotJoined = "session_not_joined"
	ErrTypeMsgDecode        = "msg_decode"
)

// Msg is a message received from or sent to a client. Data holds the whole
// JSON encoded message.
type Msg struct {
	Type MsgType
	Time time.Time
	Data []byte
}

// DataTo decodes the message into v.
func (m Msg) DataTo(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding message failed").
			WithType(ErrTypeMsgDecode).
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

func (m Msg) TypeString() string {
	if m.Type == "" {
		return "unknown"
	}
	return string(m.Type)
}

// TypedMsg is a message that knows its type. It is implemented by all the
// messages embedding a Header.
type TypedMsg interface {
	MsgType() MsgType
}

// MsgFrom encodes a typed message.
func MsgFrom(v TypedMsg) (Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Msg{}, errors.New("encoding message failed").
			WithTag("msg_type", v.MsgType()).
			Wrap(err)
	}

	return Msg{
		Type: v.MsgType(),
		Time: time.Now(),
		Data: data,
	}, nil
}

// Receive reads a message from a websocket connection. It returns the number
// of bytes read.
func Receive(conn *websocket.Conn) (Msg, int, error) {
	var data []byte
	if err := websocket.Message.Receive(conn, &data); err != nil {
		return Msg{}, 0, err
	}

	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return Msg{}, len(data), errors.New("decoding message header failed").
			WithType(ErrTypeMsgDecode).
			Wrap(err)
	}

	return Msg{
		Type: h.Type,
		Time: h.Timestamp,
		Data: data,
	}, len(data), nil
}

// Send writes a message to a websocket connection as a text frame. It returns
// the number of bytes written.
func Send(conn *websocket.Conn, msg Msg) (int, error) {
	if err := websocket.Message.Send(conn, string(msg.Data)); err != nil {
		return 0, err
	}
	return len(msg.Data), nil
}

// Header contains the fields shared by all the messages.
type Header struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id,omitempty"`
}

func (h Header) MsgType() MsgType {
	return h.Type
}

func header(t MsgType, requestID uint32) Header {
	return Header{
		Type:      t,
		Timestamp: time.Now(),
		RequestID: requestID,
	}
}

// Edge is a rectangle edge on the wire. Finite edges are JSON numbers and
// infinite edges are the strings "inf" and "-inf".
type Edge float64

func (e Edge) MarshalJSON() ([]byte, error) {
	switch {
	case math.IsInf(float64(e), 1):
		return []byte(`"inf"`), nil
	case math.IsInf(float64(e), -1):
		return []byte(`"-inf"`), nil
	case math.IsNaN(float64(e)):
		return nil, errors.New("edge is NaN").WithType(worldmap.ErrTypeInvalidRange)
	default:
		return json.Marshal(float64(e))
	}
}

func (e *Edge) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch s {
		case "inf", "+inf":
			*e = Edge(math.Inf(1))
		case "-inf":
			*e = Edge(math.Inf(-1))
		default:
			return errors.New("invalid edge").
				WithType(worldmap.ErrTypeInvalidRange).
				WithTag("edge", s)
		}
		return nil
	}

	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*e = Edge(v)
	return nil
}

// Rect is the wire form of a rectangle. A missing edge is infinite, toward
// the outside of the rectangle.
type Rect struct {
	Left   *Edge `json:"left,omitempty"`
	Right  *Edge `json:"right,omitempty"`
	Top    *Edge `json:"top,omitempty"`
	Bottom *Edge `json:"bottom,omitempty"`
}

// RectFrom converts a rectangle to its wire form. Edges at the outward
// infinity are omitted. Inward infinite edges are kept so that the conversion
// back gives the same rectangle.
func RectFrom(r worldmap.Rect) Rect {
	edge := func(v float64, outward int) *Edge {
		if math.IsInf(v, outward) {
			return nil
		}
		e := Edge(v)
		return &e
	}

	return Rect{
		Left:   edge(r.Left, -1),
		Right:  edge(r.Right, 1),
		Top:    edge(r.Top, -1),
		Bottom: edge(r.Bottom, 1),
	}
}

// WorldRect converts the wire rectangle.
func (r Rect) WorldRect() worldmap.Rect {
	edge := func(v *Edge, outward int) float64 {
		if v == nil {
			return math.Inf(outward)
		}
		return float64(*v)
	}

	return worldmap.Rect{
		Left:   edge(r.Left, -1),
		Right:  edge(r.Right, 1),
		Top:    edge(r.Top, -1),
		Bottom: edge(r.Bottom, 1),
	}
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) WorldPoint() worldmap.Point {
	return worldmap.Point{X: p.X, Y: p.Y}
}

type PingRequest struct {
	Header
}

type PingResponse struct {
	Header
}

type SignedLatencyRequest struct {
	Header
	IterationCount uint32 `json:"iteration_count"`
	WalletAddress  string `json:"wallet_address"`
}

type SignedLatencyResponse struct {
	Header
	Data      models.LatencyData `json:"data"`
	Signature string             `json:"signature"`
}

type SyncClock struct {
	Header
}

type ErrorResponse struct {
	Header
	Code ErrorCode `json:"code"`
}

type ParticipantJoinRequest struct {
	Header
	SessionID string `json:"session_id,omitempty"`
}

type ParticipantJoinResponse struct {
	Header
	SessionID     string `json:"session_id"`
	SessionUUID   string `json:"session_uuid"`
	ParticipantID uint32 `json:"participant_id"`
}

type ElementAddRequest struct {
	Header
	Rect    Rect `json:"rect"`
	Persist bool `json:"persist,omitempty"`
}

type ElementAddResponse struct {
	Header
	ElementID uint32 `json:"element_id"`
}

type ElementMove struct {
	Header
	ElementID uint32 `json:"element_id"`
	Rect      Rect   `json:"rect"`
}

type ElementDeleteRequest struct {
	Header
	ElementID uint32 `json:"element_id"`
}

type ElementDeleteResponse struct {
	Header
}

type AreaOpenRequest struct {
	Header
	Rect Rect `json:"rect"`
}

type AreaOpenResponse struct {
	Header
	AreaID uint32 `json:"area_id"`
}

type AreaResize struct {
	Header
	AreaID uint32 `json:"area_id"`
	Rect   Rect   `json:"rect"`
}

type AreaWatchRequest struct {
	Header
	AreaID     uint32  `json:"area_id"`
	Position   Point   `json:"position"`
	HalfExtent float64 `json:"half_extent"`
	CellSize   float64 `json:"cell_size"`
}

type AreaWatchResponse struct {
	Header
}

type ObserverMove struct {
	Header
	AreaID   uint32 `json:"area_id"`
	Position Point  `json:"position"`
}

type AreaCloseRequest struct {
	Header
	AreaID uint32 `json:"area_id"`
}

type AreaCloseResponse struct {
	Header
}

// AreaEvent is the wire form of an area event.
type AreaEvent struct {
	AreaID        uint32 `json:"area_id"`
	Kind          string `json:"kind"`
	ElementID     uint32 `json:"element_id"`
	ParticipantID uint32 `json:"participant_id,omitempty"`
	Rect          Rect   `json:"rect"`
	Range         Rect   `json:"range"`
	Previous      *Rect  `json:"previous,omitempty"`
}

// AreaEvents batches the area events produced during a session frame.
type AreaEvents struct {
	Header
	Events []AreaEvent `json:"events"`
}

// AreaEventFrom converts a session area event.
func AreaEventFrom(e models.AreaEvent) AreaEvent {
	ae := AreaEvent{
		AreaID:    e.AreaID,
		Kind:      e.Kind.String(),
		ElementID: uint32(e.Element.ElementID()),
		Rect:      RectFrom(e.Bounds),
		Range:     RectFrom(e.Range),
	}

	if entity, ok := e.Element.(*models.Entity); ok {
		ae.ParticipantID = entity.ParticipantID
	}

	if e.Kind == worldmap.Update {
		previous := RectFrom(e.Previous)
		ae.Previous = &previous
	}
	return ae
}
