package protocol

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("taskd.protocol")

// Frame distinguishes the two kinds of outbound message.
type Frame int

const (
	FrameHandshake Frame = iota // reply to a handshake
	FrameResponse               // reply to a recipe
)

// Decoder reads successive messages from a stream into generic values:
// objects become map[string]any, arrays []any.
type Decoder interface {
	Decode(v *any) error
}

// Codec encodes and decodes wire messages.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	NewDecoder(r io.Reader) Decoder
	// Frame appends whatever terminates a message of kind f.
	Frame(payload []byte, f Frame) []byte
}

// CodecByName returns the codec registered under name ("json" or "cbor").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	}
	return nil, fmt.Errorf("protocol: unknown encoding %q", name)
}

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

// JSONCodec is the default encoding. Handshake replies end in "\n\x00" and
// recipe responses in "\x00"; inbound NUL bytes are ignored.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) NewDecoder(r io.Reader) Decoder {
	return jsonDecoder{json.NewDecoder(nulSkipper{r})}
}

func (JSONCodec) Frame(payload []byte, f Frame) []byte {
	if f == FrameHandshake {
		return append(payload, '\n', 0)
	}
	return append(payload, 0)
}

type jsonDecoder struct{ dec *json.Decoder }

func (d jsonDecoder) Decode(v *any) error { return d.dec.Decode(v) }

// nulSkipper drops NUL bytes, which peers use as message terminators.
type nulSkipper struct{ r io.Reader }

func (s nulSkipper) Read(p []byte) (int, error) {
	for {
		n, err := s.r.Read(p)
		kept := 0
		for _, b := range p[:n] {
			if b != 0 {
				p[kept] = b
				kept++
			}
		}
		if kept > 0 || err != nil || n == 0 {
			return kept, err
		}
	}
}

// ---------------------------------------------------------------------------
// CBOR
// ---------------------------------------------------------------------------

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// CBORCodec encodes messages as self-delimiting CBOR items with no
// terminators.
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) Marshal(v any) ([]byte, error) { return cborEncMode.Marshal(v) }

func (CBORCodec) NewDecoder(r io.Reader) Decoder {
	return cborDecoder{cborDecMode.NewDecoder(r)}
}

func (CBORCodec) Frame(payload []byte, _ Frame) []byte { return payload }

type cborDecoder struct{ dec *cbor.Decoder }

func (d cborDecoder) Decode(v *any) error { return d.dec.Decode(v) }
