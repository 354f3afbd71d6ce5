// Package transport moves envelopes between peers over QUIC. Envelopes are
// length-prefixed JSON frames on unidirectional streams.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Envelope types carried on the wire.
const (
	TypeChatMessage     = "chat_message"
	TypeContactRequest  = "contact_request"
	TypeContactAccepted = "contact_accepted"
	TypeVibeCommitment  = "vibe_commitment"
	TypeVibeReveal      = "vibe_reveal"
	TypeProfileUpdate   = "profile_update"
)

// MaxFrameSize bounds a single frame. Anything larger is a protocol error.
const MaxFrameSize = 256 * 1024

// Envelope is the unit of peer exchange.
type Envelope struct {
	Type   string          `json:"type"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	ID     string          `json:"id,omitempty"`
	SentAt int64           `json:"sent_at"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// ChatBody is the body of a chat_message envelope.
type ChatBody struct {
	Text string `json:"text"`
}

// WriteFrame writes one envelope as a 4-byte big-endian length followed by
// the JSON encoding.
func WriteFrame(w io.Writer, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadFrame reads one envelope. io.EOF before the header means a clean end
// of stream; a truncated frame is an error.
func ReadFrame(r io.Reader) (*Envelope, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated frame header")
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size == 0 || size > MaxFrameSize {
		return nil, fmt.Errorf("invalid frame size: %d", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("truncated frame body: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &env, nil
}
