// Package codec frames board messages for the websocket channel.
//
// Every server message is wrapped in an Envelope. Serialized envelopes above
// the compression threshold are gzip-compressed and travel as binary frames;
// everything else travels as JSON text. Receivers pick the decoding path by
// frame kind, so compression is self-describing.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultThreshold is the serialized size above which envelopes are compressed.
const DefaultThreshold = 1024

// MaxDecodedSize bounds the inflated size of a compressed frame.
const MaxDecodedSize = 1 << 20

var (
	// ErrEmptyFrame is returned when decoding a frame with no payload.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrFrameTooLarge is returned when a compressed frame inflates past MaxDecodedSize.
	ErrFrameTooLarge = errors.New("decompressed frame too large")
)

// Envelope is the typed wrapper around every message.
type Envelope struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	Compressed bool            `json:"compressed,omitempty"`
}

// Frame is one physical websocket message.
type Frame struct {
	Payload []byte
	Binary  bool
}

// NewEnvelope marshals data and stamps the envelope with now in epoch milliseconds.
func NewEnvelope(msgType string, data any, now time.Time) (Envelope, error) {
	env := Envelope{Type: msgType, Timestamp: now.UnixMilli()}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env.Data = raw
	return env, nil
}

// Codec encodes and decodes envelopes.
type Codec struct {
	threshold int
}

// New returns a codec compressing envelopes larger than threshold bytes.
// A non-positive threshold selects DefaultThreshold.
func New(threshold int) *Codec {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Codec{threshold: threshold}
}

// Threshold returns the configured compression threshold.
func (c *Codec) Threshold() int {
	return c.threshold
}

// Encode serializes env, compressing it when it exceeds the threshold.
func (c *Codec) Encode(env Envelope) (Frame, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal envelope: %w", err)
	}
	if len(raw) <= c.threshold {
		return Frame{Payload: raw}, nil
	}
	compressed, err := gzipBytes(raw)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Payload: compressed, Binary: true}, nil
}

// EncodeRaw serializes env as text regardless of size. Used for
// high-frequency position events where latency matters more than bytes.
func (c *Codec) EncodeRaw(env Envelope) (Frame, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return Frame{Payload: raw}, nil
}

// Decode parses a frame. Binary frames are always gunzipped first; the
// envelope's compressed flag is not consulted.
func (c *Codec) Decode(f Frame) (Envelope, error) {
	if len(f.Payload) == 0 {
		return Envelope{}, ErrEmptyFrame
	}
	raw := f.Payload
	if f.Binary {
		var err error
		raw, err = gunzipBytes(f.Payload)
		if err != nil {
			return Envelope{}, err
		}
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}

func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzipBytes(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, MaxDecodedSize+1))
	if err != nil {
		return nil, fmt.Errorf("gunzip read: %w", err)
	}
	if len(raw) > MaxDecodedSize {
		return nil, ErrFrameTooLarge
	}
	return raw, nil
}
