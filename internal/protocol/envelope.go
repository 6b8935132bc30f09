// Package protocol defines the wire types shared by every connection:
// the newline-delimited JSON Envelope and the Identity payload
// exchanged in plaintext at connection bring-up (spec §3, §6).
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ProtocolVersion is fixed per spec §3.
const ProtocolVersion = 7

const IdentityType = "kdeconnect.identity"
const PairType = "kdeconnect.pair"

// Envelope is the framed message on every connection. Body carries an
// opaque JSON object whose shape is defined by Type.
type Envelope struct {
	ID                  int64                `json:"id"`
	Type                string               `json:"type"`
	Body                json.RawMessage      `json:"body"`
	PayloadSize         *int64               `json:"payloadSize,omitempty"`
	PayloadTransferInfo *PayloadTransferInfo `json:"payloadTransferInfo,omitempty"`
}

// PayloadTransferInfo advertises a transient TCP port for a
// side-channel transfer (spec §4.F, §6).
type PayloadTransferInfo struct {
	Port uint16 `json:"port"`
}

// Identity is the self-description exchanged at connection start and
// broadcast over UDP/mDNS (spec §3).
type Identity struct {
	DeviceID             string   `json:"deviceId"`
	DeviceName           string   `json:"deviceName"`
	DeviceType           string   `json:"deviceType"`
	ProtocolVersion      int      `json:"protocolVersion"`
	IncomingCapabilities []string `json:"incomingCapabilities"`
	OutgoingCapabilities []string `json:"outgoingCapabilities"`
	TCPPort              *uint16  `json:"tcpPort,omitempty"`
}

// Pair is the body of a kdeconnect.pair envelope.
type Pair struct {
	Pair bool `json:"pair"`
}

// IDGenerator produces strictly increasing envelope ids. The wire
// format uses monotonic milliseconds (spec §3); a per-writer counter
// guarantees strict monotonicity even when two envelopes are generated
// within the same millisecond (spec §9 open question).
type IDGenerator struct {
	mu   sync.Mutex
	last int64
}

// Next returns a value strictly greater than every value it has
// previously returned, tracking wall-clock milliseconds when the clock
// has advanced and incrementing by one otherwise.
func (g *IDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now().UnixMilli()
	if now <= g.last {
		now = g.last + 1
	}
	g.last = now
	return now
}

// NewEnvelope builds an Envelope of the given type with body marshaled
// from v, stamping a fresh id from gen.
func NewEnvelope(gen *IDGenerator, typ string, v interface{}) (*Envelope, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal body for %s: %w", typ, err)
	}
	return &Envelope{ID: gen.Next(), Type: typ, Body: body}, nil
}

// Encode serializes the envelope as compact JSON terminated by a
// single '\n'. encoding/json never emits an unescaped newline inside a
// JSON value, so the framing byte is unambiguous (spec §3).
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode envelope: %w", err)
	}
	data = append(data, '\n')
	return data, nil
}

// DecodeIdentity parses the body of an identity envelope.
func (e *Envelope) DecodeIdentity() (Identity, error) {
	var id Identity
	if e.Type != IdentityType {
		return id, fmt.Errorf("protocol: envelope type %q is not %q", e.Type, IdentityType)
	}
	if err := json.Unmarshal(e.Body, &id); err != nil {
		return id, fmt.Errorf("protocol: decode identity: %w", err)
	}
	return id, nil
}

// DecodePair parses the body of a pair envelope.
func (e *Envelope) DecodePair() (Pair, error) {
	var p Pair
	if err := json.Unmarshal(e.Body, &p); err != nil {
		return p, fmt.Errorf("protocol: decode pair: %w", err)
	}
	return p, nil
}

// ReadEnvelope reads one '\n'-delimited frame from r and parses it.
// Used for the plaintext identity preamble and, where a bufio.Reader is
// already in hand, for the encrypted stream as well.
func ReadEnvelope(r *bufio.Reader) (*Envelope, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	return &env, nil
}
