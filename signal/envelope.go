package signal

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// MessageType is the lowercase wire tag carried in the "type" field of every
// frame.
type MessageType string

const (
	TypeRegister        MessageType = "register"
	TypePeerList        MessageType = "peer_list"
	TypeOffer           MessageType = "offer"
	TypeAnswer          MessageType = "answer"
	TypeCandidate       MessageType = "candidate"
	TypeConnect         MessageType = "connect"
	TypeError           MessageType = "error"
	TypeChat            MessageType = "chat"
	TypeRelayAuth       MessageType = "relay_auth"
	TypeRelayAuthResult MessageType = "relay_auth_result"
	TypeRelayConnect    MessageType = "relay_connect"
	TypeRelayData       MessageType = "relay_data"
	TypeRelayDisconnect MessageType = "relay_disconnect"
)

var knownTypes = map[MessageType]struct{}{
	TypeRegister:        {},
	TypePeerList:        {},
	TypeOffer:           {},
	TypeAnswer:          {},
	TypeCandidate:       {},
	TypeConnect:         {},
	TypeError:           {},
	TypeChat:            {},
	TypeRelayAuth:       {},
	TypeRelayAuthResult: {},
	TypeRelayConnect:    {},
	TypeRelayData:       {},
	TypeRelayDisconnect: {},
}

// ErrMalformedFrame is returned when the outer JSON of a frame does not
// parse. The hub logs it and keeps the connection open.
var ErrMalformedFrame = errors.New("malformed signaling frame")

// Envelope is the four-field record carried by every control and relay
// frame. Nested structures (peer lists, relay data records, auth results)
// are JSON serialized into Payload.
type Envelope struct {
	Type    MessageType `json:"type"`
	From    string      `json:"from"`
	To      string      `json:"to"`
	Payload string      `json:"payload"`
}

// Encode serializes the envelope into a single UTF-8 text frame.
func (e Envelope) Encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		// Envelope fields are plain strings; marshal cannot fail.
		panic(err)
	}
	return data
}

// DecodeEnvelope parses one text frame. A frame whose outer JSON does not
// parse yields ErrMalformedFrame. A frame with an unknown tag is quarantined
// into the error type with empty fields rather than rejected, so the tag
// enumeration stays open for growth.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, ErrMalformedFrame
	}
	if _, ok := knownTypes[env.Type]; !ok {
		return Envelope{Type: TypeError}, nil
	}
	return env, nil
}

// RelayRecord is the payload of a relay_data frame. Binary payloads travel
// base64 encoded with the standard alphabet and padding.
type RelayRecord struct {
	IsBinary bool   `json:"is_binary"`
	Data     string `json:"data"`
}

// NewTextRecord wraps a literal text payload.
func NewTextRecord(text string) RelayRecord {
	return RelayRecord{Data: text}
}

// NewBinaryRecord wraps an arbitrary byte sequence.
func NewBinaryRecord(data []byte) RelayRecord {
	return RelayRecord{IsBinary: true, Data: base64.StdEncoding.EncodeToString(data)}
}

// Bytes decodes the record back into its byte payload. Text records return
// the literal text bytes.
func (r RelayRecord) Bytes() ([]byte, error) {
	if !r.IsBinary {
		return []byte(r.Data), nil
	}
	return base64.StdEncoding.DecodeString(r.Data)
}

// Marshal serializes the record for embedding into an envelope payload.
func (r RelayRecord) Marshal() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// ParseRelayRecord parses a relay_data envelope payload.
func ParseRelayRecord(payload string) (RelayRecord, error) {
	var rec RelayRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return RelayRecord{}, err
	}
	return rec, nil
}

// AuthResult is the payload of a relay_auth_result frame.
type AuthResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Marshal serializes the result for embedding into an envelope payload.
func (a AuthResult) Marshal() string {
	data, _ := json.Marshal(a)
	return string(data)
}

// ParseAuthResult parses a relay_auth_result envelope payload.
func ParseAuthResult(payload string) (AuthResult, error) {
	var res AuthResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return AuthResult{}, err
	}
	return res, nil
}

// MarshalPeerList serializes a peer identity snapshot for a peer_list
// envelope payload.
func MarshalPeerList(peers []string) string {
	if peers == nil {
		peers = []string{}
	}
	data, _ := json.Marshal(peers)
	return string(data)
}

// ParsePeerList parses a peer_list envelope payload.
func ParsePeerList(payload string) ([]string, error) {
	var peers []string
	if err := json.Unmarshal([]byte(payload), &peers); err != nil {
		return nil, err
	}
	return peers, nil
}
