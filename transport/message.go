package transport

import (
	"encoding/json"
	"fmt"
)

// Wire protocol: newline-delimited JSON envelopes over a single ordered
// TCP connection per participant. The host never multicasts; broadcast
// is a loop over per-participant connections.

type MessageType string

const (
	// Client to host
	MsgTypeHello        MessageType = "hello"
	MsgTypeReadyRequest MessageType = "ready_request"

	// Host to client
	MsgTypeWelcome       MessageType = "welcome"
	MsgTypeRejected      MessageType = "rejected"
	MsgTypeJoined        MessageType = "joined"
	MsgTypeLeft          MessageType = "left"
	MsgTypeReadyState    MessageType = "ready_state"
	MsgTypeAllReady      MessageType = "all_ready"
	MsgTypeSessionClosed MessageType = "session_closed"
)

type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Hello is the first frame a client sends after dialing.
type Hello struct {
	Token       string `json:"token"`
	DisplayName string `json:"display_name"`
}

// RosterEntry is one participant as replicated to clients.
type RosterEntry struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Ready       bool   `json:"ready"`
}

// Welcome finalizes an approved admission. It carries the full roster
// snapshot plus the epoch of the newcomer's own join, so the client
// mirror starts converged and discards the redundant joined delta.
type Welcome struct {
	Identity    string        `json:"identity"`
	SessionID   string        `json:"session_id"`
	SessionName string        `json:"session_name"`
	Epoch       uint64        `json:"epoch"`
	Roster      []RosterEntry `json:"roster"`
}

type Rejected struct {
	Reason string `json:"reason"`
}

type Joined struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Epoch       uint64 `json:"epoch"`
}

type Left struct {
	Identity string `json:"identity"`
	Epoch    uint64 `json:"epoch"`
}

// ReadyRequest asserts the sender's own readiness. Identity must match
// the connection owner; a mismatch is a protocol violation.
type ReadyRequest struct {
	Identity string `json:"identity"`
}

// ReadyState replicates the authoritative readiness flag as an absolute
// value with its epoch.
type ReadyState struct {
	Identity string `json:"identity"`
	Ready    bool   `json:"ready"`
	Epoch    uint64 `json:"epoch"`
}

type AllReady struct {
	Epoch uint64 `json:"epoch"`
}

type SessionClosed struct {
	Reason string `json:"reason"`
}

// EncodeMessage serializes a payload into a wire envelope.
func EncodeMessage(msgType MessageType, data any) ([]byte, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	envelope := Message{
		Type: msgType,
		Data: b,
	}
	return json.Marshal(envelope)
}

// DecodeMessage parses a wire envelope.
func DecodeMessage(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	return &m, nil
}
