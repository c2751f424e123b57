package response

import (
	"fmt"

	"github.com/iotaledger/scylla-go/frame"
)

// Trailers are the optional header extensions that precede a response body.
type Trailers struct {
	TracingID *frame.UUID
	Warnings  frame.StringList
	Custom    map[string]frame.Bytes
}

// ReadTrailers consumes the tracing, warning and custom payload sections
// flagged in the header, advancing the body start offset.
func ReadTrailers(h frame.Header, b *frame.Buffer) Trailers {
	var t Trailers
	if h.Flags&frame.Tracing != 0 {
		id := b.ReadUUID()
		t.TracingID = &id
	}
	if h.Flags&frame.Warning != 0 {
		t.Warnings = b.ReadStringList()
	}
	if h.Flags&frame.CustomPayload != 0 {
		t.Custom = b.ReadBytesMap()
	}
	return t
}

// ParseResponse parses a response body of the given opcode. The buffer must
// be positioned at the body start, after any trailers, and already
// decompressed.
func ParseResponse(op frame.OpCode, b *frame.Buffer) (frame.Response, error) {
	var r frame.Response
	switch op {
	case frame.OpError:
		r = ParseError(b)
	case frame.OpReady:
		r = ParseReady(b)
	case frame.OpAuthenticate:
		r = ParseAuthenticate(b)
	case frame.OpSupported:
		r = ParseSupported(b)
	case frame.OpResult:
		r = ParseResult(b)
	case frame.OpEvent:
		r = ParseEvent(b)
	case frame.OpAuthChallenge:
		r = ParseAuthChallenge(b)
	case frame.OpAuthSuccess:
		r = ParseAuthSuccess(b)
	default:
		return nil, fmt.Errorf("unknown response opcode: %#02x", op)
	}
	if err := b.Error(); err != nil {
		return nil, fmt.Errorf("parse body opcode %#02x: %w", op, err)
	}
	return r, nil
}
