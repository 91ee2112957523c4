// Package protocol defines the taskd wire messages and their encodings.
//
// A session is two exchanges on one connection:
//
//	client: {"hello": <string>, "version": <int>}
//	agent:  {"status": 0 | -1}
//	client: [{"op": "SM_OP_...", "data": {...}}, ...]
//	agent:  [{"values": [...]}, ..., {"status": 0}]
//
// Messages are encoded with a Codec (JSON by default, CBOR optionally).
package protocol

import (
	"errors"
	"fmt"

	"github.com/chazu/taskd/vm"
)

var (
	ErrBadHandshake    = errors.New("protocol: bad handshake")
	ErrEmptyRecipe     = errors.New("protocol: empty recipe")
	ErrMessageTooLarge = errors.New("protocol: message too large")
)

// Status codes carried in Status messages.
const (
	StatusOK    = 0
	StatusError = -1
)

// Handshake opens a session.
type Handshake struct {
	Hello   string `json:"hello"`
	Version int    `json:"version"`
}

// Status answers a handshake and terminates a recipe response.
type Status struct {
	Status int `json:"status"`
}

// ReportMessage carries the register values named by one REPORT.
type ReportMessage struct {
	Values []any `json:"values"`
}

// NewReport converts register values to their wire form.
func NewReport(values []vm.Value) ReportMessage {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v.Interface()
	}
	return ReportMessage{Values: out}
}

// ParseHandshake validates a decoded handshake: "hello" must be a string,
// and "version" a number.
func ParseHandshake(msg any) (Handshake, error) {
	obj, ok := msg.(map[string]any)
	if !ok {
		return Handshake{}, fmt.Errorf("%w: not an object", ErrBadHandshake)
	}
	hello, ok := obj["hello"].(string)
	if !ok {
		return Handshake{}, fmt.Errorf("%w: hello must be a string", ErrBadHandshake)
	}
	version, ok := toInt(obj["version"])
	if !ok {
		return Handshake{}, fmt.Errorf("%w: version must be a number", ErrBadHandshake)
	}
	return Handshake{Hello: hello, Version: int(version)}, nil
}

// ParseStatus reads the status code out of a decoded status message.
func ParseStatus(msg any) (Status, bool) {
	obj, ok := msg.(map[string]any)
	if !ok {
		return Status{}, false
	}
	code, ok := toInt(obj["status"])
	return Status{Status: int(code)}, ok
}
