package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/chazu/taskd/vm"
)

// Conn frames protocol messages over a byte stream. One Conn serves one
// session; it is not safe for concurrent use.
type Conn struct {
	w     io.Writer
	codec Codec
	dec   Decoder
	in    *limitReader
}

// NewConn wraps rw. limit bounds the total number of bytes read from rw;
// zero means unlimited.
func NewConn(rw io.ReadWriter, codec Codec, limit int64) *Conn {
	in := &limitReader{r: rw, remaining: limit, unlimited: limit <= 0}
	return &Conn{
		w:     rw,
		codec: codec,
		dec:   codec.NewDecoder(in),
		in:    in,
	}
}

// ReadMessage decodes the next inbound message.
func (c *Conn) ReadMessage() (any, error) {
	var msg any
	if err := c.dec.Decode(&msg); err != nil {
		if c.in.exceeded {
			return nil, ErrMessageTooLarge
		}
		return nil, err
	}
	return msg, nil
}

// WriteMessage encodes v and writes it with the terminator for f.
func (c *Conn) WriteMessage(v any, f Frame) error {
	payload, err := c.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: encode: %w", err)
	}
	_, err = c.w.Write(c.codec.Frame(payload, f))
	return err
}

// ---------------------------------------------------------------------------
// Agent side
// ---------------------------------------------------------------------------

// ReadHandshake reads and validates the opening message.
func (c *Conn) ReadHandshake() (Handshake, error) {
	msg, err := c.ReadMessage()
	if err != nil {
		return Handshake{}, err
	}
	return ParseHandshake(msg)
}

// WriteStatus answers a handshake.
func (c *Conn) WriteStatus(status int) error {
	return c.WriteMessage(Status{Status: status}, FrameHandshake)
}

// ReadRecipe reads the recipe message and decodes it into a program.
func (c *Conn) ReadRecipe() (vm.Program, error) {
	msg, err := c.ReadMessage()
	if err != nil {
		return nil, err
	}
	return ParseRecipe(msg)
}

// WriteResponse sends the collected reports followed by the final status,
// as a single message.
func (c *Conn) WriteResponse(reports []ReportMessage, status int) error {
	out := make([]any, 0, len(reports)+1)
	for _, r := range reports {
		out = append(out, r)
	}
	out = append(out, Status{Status: status})
	return c.WriteMessage(out, FrameResponse)
}

// ---------------------------------------------------------------------------
// Client side
// ---------------------------------------------------------------------------

// WriteHandshake sends the opening message.
func (c *Conn) WriteHandshake(h Handshake) error {
	return c.WriteMessage(h, FrameResponse)
}

// ReadStatus reads a handshake reply.
func (c *Conn) ReadStatus() (Status, error) {
	msg, err := c.ReadMessage()
	if err != nil {
		return Status{}, err
	}
	st, ok := ParseStatus(msg)
	if !ok {
		return Status{}, fmt.Errorf("%w: malformed status reply", ErrBadHandshake)
	}
	return st, nil
}

// ReadResponse reads a recipe response and splits it into the report
// value lists and the final status.
func (c *Conn) ReadResponse() ([][]any, Status, error) {
	msg, err := c.ReadMessage()
	if err != nil {
		return nil, Status{}, err
	}
	items, ok := msg.([]any)
	if !ok || len(items) == 0 {
		return nil, Status{}, errors.New("protocol: response is not a message array")
	}
	var reports [][]any
	for _, item := range items[:len(items)-1] {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if values, ok := obj["values"].([]any); ok {
			reports = append(reports, values)
		}
	}
	st, ok := ParseStatus(items[len(items)-1])
	if !ok {
		return reports, Status{}, errors.New("protocol: response has no final status")
	}
	return reports, st, nil
}

// limitReader fails with ErrMessageTooLarge once more than remaining
// bytes have been read.
type limitReader struct {
	r         io.Reader
	remaining int64
	unlimited bool
	exceeded  bool
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.unlimited {
		return l.r.Read(p)
	}
	if l.remaining <= 0 {
		l.exceeded = true
		return 0, ErrMessageTooLarge
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}
