// Package relay implements the WebSocket session engine: connection
// lifecycle, authentication, session membership, and message relay.
package relay

import (
	"encoding/json"
	stderrors "errors"

	apperrors "github.com/Lumiport-Network/relay/internal/errors"
)

// Client message types. The discriminator is the "type" field of every
// JSON text frame; relay-media travels as a raw binary frame instead.
const (
	MsgAuthenticate  = "authenticate"
	MsgCreateSession = "create-session"
	MsgJoinSession   = "join-session"
	MsgLeaveSession  = "leave-session"
	MsgSignal        = "signal"
	MsgRelayData     = "relay-data"
	MsgBroadcast     = "broadcast"
)

// Server message types.
const (
	MsgAuthRequired   = "auth-required"
	MsgAuthResult     = "auth-result"
	MsgSessionCreated = "session-created"
	MsgSessionJoined  = "session-joined"
	MsgPeerJoined     = "peer-joined"
	MsgPeerLeft       = "peer-left"
	MsgData           = "data"
	MsgError          = "error"
)

// clientMessage is the decoded superset of every inbound text frame.
// Only the fields matching the type are meaningful.
type clientMessage struct {
	Type string `json:"type"`

	// authenticate
	PIN           string `json:"pin,omitempty"`
	Password      string `json:"password,omitempty"`
	Code          string `json:"code,omitempty"`
	ConnectionPin string `json:"connection_pin,omitempty"`

	// session operations
	SessionID string `json:"session_id,omitempty"`

	// signal / relay-data
	Target string `json:"target,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`
}

// decodeClientMessage parses one inbound text frame. An unknown type
// decodes fine and is rejected later with a protocol error so the
// connection survives.
func decodeClientMessage(raw []byte) (*clientMessage, error) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, apperrors.ProtocolViolationError("unknown", err.Error())
	}
	if msg.Type == "" {
		return nil, apperrors.ProtocolViolationError("unknown", "missing type field")
	}
	return &msg, nil
}

type authRequiredReply struct {
	Type    string `json:"type"`
	Mode    string `json:"mode"`
	Timeout int    `json:"timeout_seconds"`
}

type authResultReply struct {
	Type    string `json:"type"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	ConnID  string `json:"connection_id,omitempty"`
}

type sessionCreatedReply struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Host      bool   `json:"host"`
	Link      string `json:"link"`
}

type sessionJoinedReply struct {
	Type         string   `json:"type"`
	SessionID    string   `json:"session_id"`
	Participants []string `json:"participants"`
}

type peerNotification struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	PeerID    string `json:"peer_id"`
}

type relayedMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	SenderID  string          `json:"sender_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type errorReply struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeError(err error) []byte {
	code := "INTERNAL_ERROR"
	message := err.Error()
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
	}
	raw, _ := json.Marshal(errorReply{Type: MsgError, Code: code, Message: message})
	return raw
}

// Media frames are length-prefixed: one byte of connection-id length,
// the id, then the opaque payload. On delivery the id is rewritten to
// the sender so the receiver knows where the bytes came from.
func encodeMediaFrame(connID string, payload []byte) []byte {
	frame := make([]byte, 1+len(connID)+len(payload))
	frame[0] = byte(len(connID))
	copy(frame[1:], connID)
	copy(frame[1+len(connID):], payload)
	return frame
}

// decodeMediaFrame splits a binary frame into target id and payload.
// Malformed frames return ok=false and are dropped by the caller.
func decodeMediaFrame(frame []byte) (connID string, payload []byte, ok bool) {
	if len(frame) < 2 {
		return "", nil, false
	}
	idLen := int(frame[0])
	if idLen == 0 || len(frame) < 1+idLen {
		return "", nil, false
	}
	return string(frame[1 : 1+idLen]), frame[1+idLen:], true
}
