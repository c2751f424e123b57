package transport

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/iotaledger/scylla-go/frame"
)

// fakeShardInfo is what the in-memory server announces in SUPPORTED.
var fakeShardInfo = frame.StringMultiMap{
	"CQL_VERSION":                {"3.0.0"},
	"COMPRESSION":                {"lz4", "snappy"},
	"SCYLLA_SHARD":               {"2"},
	"SCYLLA_NR_SHARDS":           {"4"},
	"SCYLLA_SHARDING_IGNORE_MSB": {"12"},
	"SCYLLA_SHARD_AWARE_PORT":    {"19042"},
}

// fakeServer speaks just enough CQL v4 to exercise the client side of one
// connection.
type fakeServer struct {
	conn net.Conn
}

func (s *fakeServer) readFrame() (frame.Header, frame.Bytes, error) {
	header := make(frame.Bytes, frame.HeaderSize)
	if _, err := io.ReadFull(s.conn, header); err != nil {
		return frame.Header{}, nil, err
	}
	var b frame.Buffer
	b.Write(header)
	h := frame.ParseHeader(&b)
	if err := b.Error(); err != nil {
		return frame.Header{}, nil, err
	}
	body := make(frame.Bytes, h.Length)
	if _, err := io.ReadFull(s.conn, body); err != nil {
		return frame.Header{}, nil, err
	}
	return h, body, nil
}

func (s *fakeServer) writeFrame(op frame.OpCode, stream frame.StreamID, body frame.Bytes) error {
	var b frame.Buffer
	h := frame.Header{
		Version:  0x84,
		StreamID: stream,
		OpCode:   op,
		Length:   frame.Int(len(body)),
	}
	h.WriteTo(&b)
	b.Write(body)
	_, err := s.conn.Write(b.Bytes())
	return err
}

func supportedBody() frame.Bytes {
	var b frame.Buffer
	b.WriteStringMultiMap(fakeShardInfo)
	return b.Bytes()
}

func voidResultBody() frame.Bytes {
	var b frame.Buffer
	b.WriteInt(frame.VoidKind)
	return b.Bytes()
}

func preparedResultBody(id frame.ShortBytes) frame.Bytes {
	var b frame.Buffer
	b.WriteInt(frame.PreparedKind)
	b.WriteShortBytes(id)
	b.WriteResultFlags(0)
	b.WriteInt(0)
	b.WriteInt(0)
	b.WriteResultFlags(frame.NoMetadata)
	b.WriteInt(0)
	return b.Bytes()
}

func unpreparedErrorBody(id frame.ShortBytes) frame.Bytes {
	var b frame.Buffer
	b.WriteInt(frame.ErrCodeUnprepared)
	b.WriteString("unprepared")
	b.WriteShortBytes(id)
	return b.Bytes()
}

// serveHandshake answers OPTIONS and STARTUP so that WrapConn completes,
// then returns. Auth is not exercised here.
func serveHandshake(t *testing.T, s *fakeServer) {
	t.Helper()
	for {
		h, _, err := s.readFrame()
		if err != nil {
			return
		}
		switch h.OpCode {
		case frame.OpOptions:
			if err := s.writeFrame(frame.OpSupported, h.StreamID, supportedBody()); err != nil {
				return
			}
		case frame.OpStartup:
			if err := s.writeFrame(frame.OpReady, h.StreamID, nil); err != nil {
				return
			}
			return
		default:
			t.Errorf("unexpected opcode %#02x during handshake", h.OpCode)
			return
		}
	}
}

// echoServer responds to every frame with OpResult carrying the request
// body back, so tests can assert responses reached the right worker.
func echoServer(s *fakeServer) {
	for {
		h, body, err := s.readFrame()
		if err != nil {
			return
		}
		if err := s.writeFrame(frame.OpResult, h.StreamID, body); err != nil {
			return
		}
	}
}

// queryFrame builds a complete QUERY frame with a distinguishable body.
func queryFrame(t *testing.T, marker string) frame.Bytes {
	t.Helper()
	payload, err := MakeStatementFrame(Statement{
		Content:     marker,
		Consistency: frame.ONE,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func streamOf(payload frame.Bytes) frame.StreamID {
	return frame.StreamID(binary.BigEndian.Uint16(payload[2:4]))
}

type workerOutcome struct {
	payload frame.Bytes
	err     error
}

type testWorker struct {
	ch chan workerOutcome
}

func newTestWorker() *testWorker {
	return &testWorker{ch: make(chan workerOutcome, 4)}
}

func (w *testWorker) HandleResponse(payload frame.Bytes) {
	p := make(frame.Bytes, len(payload))
	copy(p, payload)
	w.ch <- workerOutcome{payload: p}
}

func (w *testWorker) HandleError(err error, _ *Reporter) {
	w.ch <- workerOutcome{err: err}
}
