// Package message defines the wire message exchanged between nodes and the
// hub, the reserved service-call codes, and a line-delimited JSON codec.
package message

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Service call codes. Negative sink means "node -> hub service call";
// negative source means "hub -> node service reply". Tags <= 0 are
// reserved for engine/service use; applications must use tag > 0.
const (
	Init      int64 = -1
	Terminate int64 = -2
	Barrier   int64 = -3
	Print     int64 = -4
	Broadcast int64 = -5
)

// ErrDecode is returned when a payload cannot be decoded into the caller's
// expected type.
var ErrDecode = errors.New("message: payload decode failure")

// Payload is an opaque, self-describing value. It is decoded on demand at
// receive time against the caller-declared type, rather than at decode
// time against a fixed schema.
type Payload struct {
	raw json.RawMessage
}

// NewPayload encodes v into a Payload.
func NewPayload(v any) (Payload, error) {
	if v == nil {
		return Payload{raw: json.RawMessage("null")}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("message: encode payload: %w", err)
	}
	return Payload{raw: raw}, nil
}

// Decode unmarshals the payload into v. Mismatches between the wire shape
// and v are the caller's responsibility (§7 "decode failure").
func (p Payload) Decode(v any) error {
	if len(p.raw) == 0 {
		return fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if err := json.Unmarshal(p.raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// Text renders the payload for the Print service call ("[<source>]: <text>").
func (p Payload) Text() string {
	var s string
	if err := json.Unmarshal(p.raw, &s); err == nil {
		return s
	}
	return string(p.raw)
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if p.raw == nil {
		return []byte("null"), nil
	}
	return p.raw, nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	p.raw = append(p.raw[:0], data...)
	return nil
}

// Message is the sole unit exchanged over the wire: source and sink are
// node ids (sink < 0 marks a node->hub service call, source < 0 marks a
// hub->node service reply), tag is an application or service tag, and
// payload carries an arbitrary self-describing value.
type Message struct {
	Source  int64   `json:"source"`
	Sink    int64   `json:"sink"`
	Tag     int64   `json:"tag"`
	Payload Payload `json:"payload"`
}

// New builds a Message with an already-encoded Payload.
func New(source, sink, tag int64, payload Payload) Message {
	return Message{Source: source, Sink: sink, Tag: tag, Payload: payload}
}

// IsServiceCall reports whether m is a node->hub out-of-band call.
func (m Message) IsServiceCall() bool { return m.Sink < 0 }

// IsServiceReply reports whether m is a hub->node out-of-band reply.
func (m Message) IsServiceReply() bool { return m.Source < 0 }

// Encoder writes framed (newline-delimited JSON) messages to w.
type Encoder struct {
	w io.Writer
	e *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, e: json.NewEncoder(w)}
}

// Encode writes one message followed by a newline. json.Encoder already
// appends '\n' after every value it writes, which is exactly the
// line-delimited framing §6 specifies.
func (e *Encoder) Encode(m Message) error {
	if err := e.e.Encode(m); err != nil {
		return fmt.Errorf("message: encode: %w", err)
	}
	return nil
}

// Decoder reads framed (newline-delimited JSON) messages from r.
type Decoder struct {
	sc *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Decoder{sc: sc}
}

// Decode reads and decodes the next framed message. It returns io.EOF when
// the underlying reader is exhausted cleanly.
func (d *Decoder) Decode() (Message, error) {
	if !d.sc.Scan() {
		if err := d.sc.Err(); err != nil {
			return Message{}, fmt.Errorf("message: decode: %w", err)
		}
		return Message{}, io.EOF
	}
	var m Message
	if err := json.Unmarshal(d.sc.Bytes(), &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return m, nil
}
