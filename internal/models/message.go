package models

import "encoding/json"

// SignalType represents the type of WebRTC signaling message
type SignalType string

const (
	SignalTypeJoin     SignalType = "join"
	SignalTypeJoined   SignalType = "joined"
	SignalTypeWaiting  SignalType = "waiting"
	SignalTypeReady    SignalType = "ready"
	SignalTypeSDP      SignalType = "sdp"
	SignalTypeICE      SignalType = "ice"
	SignalTypePeerLeft SignalType = "peer-left"
	SignalTypeError    SignalType = "error"
)

// ServerSender is the sender name stamped on every server-originated message.
const ServerSender = "server"

// SignalMessage represents a WebRTC signaling message
type SignalMessage struct {
	Type   SignalType `json:"type" validate:"required"`
	RoomID string     `json:"roomId,omitempty" validate:"required"`
	Sender string     `json:"sender,omitempty"`
	// Target is accepted on the wire but never used for routing.
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinedPayload acknowledges a join.
type JoinedPayload struct {
	Participants int    `json:"participants"`
	Message      string `json:"message"`
}

// ReadyPayload tells a room member whether it must produce the SDP offer.
type ReadyPayload struct {
	Initiator bool `json:"initiator"`
}

// NoticePayload carries a human-readable message (waiting, peer-left, error).
type NoticePayload struct {
	Message string `json:"message"`
}

// NewServerMessage builds a server-originated message with an encoded payload.
func NewServerMessage(t SignalType, roomID string, payload any) (SignalMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SignalMessage{}, err
	}
	return SignalMessage{
		Type:    t,
		RoomID:  roomID,
		Sender:  ServerSender,
		Payload: raw,
	}, nil
}
