package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/iotaledger/scylla-go/frame"
	. "github.com/iotaledger/scylla-go/frame/response"
)

// totalStreams is the stream-ID space of one connection, the v4 stream ID
// is a positive int16.
const totalStreams = 32768

// maxFrameLength mirrors the server's native_transport_max_frame_size
// default. Anything larger is a corrupt stream, not a frame.
const maxFrameLength = 256 << 20

// StageConfig sizes one per-shard connection engine.
type StageConfig struct {
	// ReporterCount is the number of reporter tasks sharing the stream-ID
	// space. Streams must divide evenly by it.
	ReporterCount int
	// Streams is the stream-ID space size, at most 32768. Smaller values
	// are useful to bound per-connection memory.
	Streams int
	// BufferSize is the receiver's read buffer size.
	BufferSize int

	Compression string
	Logger      Logger
	Metrics     *Metrics
}

func DefaultStageConfig() StageConfig {
	return StageConfig{
		ReporterCount: 4,
		Streams:       totalStreams,
		BufferSize:    ioBufferSize,
		Logger:        DefaultLogger{},
	}
}

func (cfg *StageConfig) validate() error {
	if cfg.ReporterCount <= 0 {
		return fmt.Errorf("reporter count must be positive")
	}
	if cfg.Streams <= 0 || cfg.Streams > totalStreams {
		return fmt.Errorf("streams must be in (0, %d]", totalStreams)
	}
	if cfg.Streams%cfg.ReporterCount != 0 {
		return fmt.Errorf("streams %d not divisible by reporter count %d", cfg.Streams, cfg.ReporterCount)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = ioBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultLogger{}
	}
	return nil
}

// Stage owns one established connection to one (node, shard). A sender
// task writes request payloads, a receiver task demultiplexes response
// frames by stream ID, reporters own disjoint stream-ID slices and route
// bodies back to workers.
type Stage struct {
	conn       net.Conn
	cfg        StageConfig
	compr      frame.Compressor
	appendsNum int

	// payloads[id] is the reusable frame slot of stream id. The reporter
	// writes it on request, the receiver on response, never concurrently:
	// an ID in flight is owned by exactly one side at a time.
	payloads  [][]byte
	reporters []*Reporter
	senderCh  chan frame.StreamID

	done     chan struct{}
	lostOnce sync.Once
	wg       sync.WaitGroup
	logger   Logger
}

// NewStage starts the sender, receiver and reporter tasks over an already
// established shard connection.
func NewStage(conn net.Conn, cfg StageConfig) (*Stage, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	compr, err := frame.NewCompressor(cfg.Compression)
	if err != nil {
		return nil, err
	}

	s := &Stage{
		conn:       conn,
		cfg:        cfg,
		compr:      compr,
		appendsNum: cfg.Streams / cfg.ReporterCount,
		payloads:   make([][]byte, cfg.Streams),
		senderCh:   make(chan frame.StreamID, cfg.Streams),
		done:       make(chan struct{}),
		logger:     withPrefix(cfg.Logger, fmt.Sprintf("stage %s:", conn.RemoteAddr())),
	}

	s.reporters = make([]*Reporter, cfg.ReporterCount)
	for i := range s.reporters {
		s.reporters[i] = newReporter(s, i)
	}

	s.wg.Add(2 + len(s.reporters))
	go s.senderLoop()
	go s.receiverLoop()
	for _, r := range s.reporters {
		go r.loop()
	}
	return s, nil
}

// Reporters returns the stage's reporter handles, index by any uniform
// distribution for fairness.
func (s *Stage) Reporters() []*Reporter {
	return s.reporters
}

// Compressor returns the compressor negotiated for this connection, nil
// when none.
func (s *Stage) Compressor() frame.Compressor {
	return s.compr
}

// Done is closed once the stage's session is gone, either by peer close or
// by Close. All outstanding workers have been failed with ErrLost by the
// time pending reporter inboxes drain.
func (s *Stage) Done() <-chan struct{} {
	return s.done
}

// Close tears the stage down and waits for its tasks to exit.
func (s *Stage) Close() {
	s.lost()
	s.wg.Wait()
}

func (s *Stage) lost() {
	s.lostOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		s.cfg.Metrics.incSessionsLost()
	})
}

func (s *Stage) reporterFor(id frame.StreamID) *Reporter {
	return s.reporters[int(id)/s.appendsNum]
}

func (s *Stage) senderLoop() {
	defer s.wg.Done()
	for {
		select {
		case id := <-s.senderCh:
			if _, err := s.conn.Write(s.payloads[id]); err != nil {
				select {
				case <-s.done:
					// The session is gone, the final sessionLost sweep
					// fails the worker with ErrLost.
				default:
					// Fail the worker deterministically without involving the
					// receiver.
					s.reporterFor(id).enqueue(reporterEvent{kind: evErr, stream: id, err: err})
				}
			} else {
				s.cfg.Metrics.incRequestsSent()
			}
		case <-s.done:
			return
		}
	}
}

// receiverLoop demultiplexes incoming frames by stream ID. It never parses
// bodies, it only assembles them into the payload slots. Frames may arrive
// packed or split across reads.
func (s *Stage) receiverLoop() {
	defer s.wg.Done()
	defer s.lost()

	var (
		buf       = make([]byte, s.cfg.BufferSize)
		header    [frame.HeaderSize]byte
		headerLen int
		inBody    bool
		streamID  frame.StreamID
		total     int
		written   int
	)

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for len(chunk) > 0 {
				if !inBody {
					c := copy(header[headerLen:], chunk)
					headerLen += c
					chunk = chunk[c:]
					if headerLen < frame.HeaderSize {
						break
					}

					streamID = frame.StreamID(uint16(header[2])<<8 | uint16(header[3]))
					if streamID < 0 || int(streamID) >= len(s.payloads) {
						s.logger.Printf("malformed frame: stream ID %d out of range, dropping session", streamID)
						return
					}
					total = frame.HeaderSize + int(binary.BigEndian.Uint32(header[5:9]))
					if total > maxFrameLength {
						s.logger.Printf("malformed frame: body length %d, dropping session", total-frame.HeaderSize)
						return
					}

					slot := s.payloads[streamID]
					if cap(slot) < total {
						slot = make([]byte, total)
					} else {
						slot = slot[:total]
					}
					copy(slot, header[:])
					s.payloads[streamID] = slot
					written = frame.HeaderSize
					inBody = true
				}

				c := copy(s.payloads[streamID][written:total], chunk)
				written += c
				chunk = chunk[c:]
				if written == total {
					s.reporterFor(streamID).enqueue(reporterEvent{kind: evResponse, stream: streamID})
					inBody = false
					headerLen = 0
				}
			}
		}
		if err != nil || n == 0 {
			return
		}
	}
}

type eventKind byte

const (
	evRequest eventKind = iota
	evResponse
	evErr
)

type reporterEvent struct {
	kind   eventKind
	worker Worker
	// payload is the request frame for evRequest.
	payload []byte
	stream  frame.StreamID
	err     error
}

// Reporter owns a disjoint slice of the stage's stream-ID space and the
// workers whose requests are in flight under those IDs.
type Reporter struct {
	id    int
	stage *Stage
	inbox chan reporterEvent

	free    []frame.StreamID
	workers map[frame.StreamID]Worker
	lost    bool
	logger  Logger

	// execMu fences external submissions against teardown: once closed is
	// set and the write lock was held, no Execute can enqueue past the
	// final drain, so no worker is silently dropped.
	execMu sync.RWMutex
	closed bool
}

func newReporter(s *Stage, id int) *Reporter {
	r := &Reporter{
		id:      id,
		stage:   s,
		inbox:   make(chan reporterEvent, 2*s.appendsNum),
		free:    make([]frame.StreamID, 0, s.appendsNum),
		workers: make(map[frame.StreamID]Worker, s.appendsNum),
		logger:  withPrefix(s.logger, fmt.Sprintf("reporter %d:", id)),
	}
	base := frame.StreamID(id * s.appendsNum)
	for i := 0; i < s.appendsNum; i++ {
		r.free = append(r.free, base+frame.StreamID(i))
	}
	return r
}

// Execute submits a request frame under a stream ID this reporter owns.
// The payload must be a complete frame, bytes 2..4 are overwritten with
// the assigned stream ID. Fails the worker with ErrLost when the session
// is already gone.
func (r *Reporter) Execute(w Worker, payload []byte) {
	r.execMu.RLock()
	if r.closed {
		r.execMu.RUnlock()
		w.HandleError(ErrLost, r)
		return
	}
	r.inbox <- reporterEvent{kind: evRequest, worker: w, payload: payload}
	r.execMu.RUnlock()
}

// enqueue is used by the sender and receiver tasks. An event dropped on
// the done race is covered by the final sessionLost sweep, the worker is
// still in the registry at that point.
func (r *Reporter) enqueue(ev reporterEvent) {
	select {
	case r.inbox <- ev:
	case <-r.stage.done:
	}
}

func (r *Reporter) loop() {
	defer r.stage.wg.Done()
	for {
		select {
		case ev := <-r.inbox:
			r.handle(ev)
		case <-r.stage.done:
			r.execMu.Lock()
			r.closed = true
			r.execMu.Unlock()
			r.lost = true
			for {
				select {
				case ev := <-r.inbox:
					r.handle(ev)
				default:
					r.sessionLost()
					return
				}
			}
		}
	}
}

func (r *Reporter) handle(ev reporterEvent) {
	switch ev.kind {
	case evRequest:
		r.handleRequest(ev)
	case evResponse:
		r.handleResponse(ev.stream)
	case evErr:
		r.handleError(ev.stream, IoError{Cause: ev.err})
	}
}

func (r *Reporter) handleRequest(ev reporterEvent) {
	if r.lost {
		ev.worker.HandleError(ErrLost, r)
		return
	}
	if len(r.free) == 0 {
		r.stage.cfg.Metrics.incOverloads()
		ev.worker.HandleError(ErrOverload, r)
		return
	}

	id := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]

	ev.payload[2] = byte(uint16(id) >> 8)
	ev.payload[3] = byte(id)
	r.stage.payloads[id] = ev.payload
	r.workers[id] = ev.worker
	r.stage.senderCh <- id
}

func (r *Reporter) handleResponse(id frame.StreamID) {
	w, ok := r.workers[id]
	if !ok {
		r.logger.Printf("no worker for stream %d", id)
		return
	}
	delete(r.workers, id)
	payload := r.stage.payloads[id]
	r.free = append(r.free, id)

	// payload[4] is the opcode byte.
	if len(payload) > 4 && payload[4] == frame.OpError {
		if err := decodeErrorFrame(payload, r.stage.compr); err != nil {
			w.HandleError(err, r)
			return
		}
	}
	r.stage.cfg.Metrics.incResponsesRouted()
	w.HandleResponse(payload)
}

func (r *Reporter) handleError(id frame.StreamID, err error) {
	w, ok := r.workers[id]
	if !ok {
		r.logger.Printf("no worker for stream %d", id)
		return
	}
	delete(r.workers, id)
	r.free = append(r.free, id)
	w.HandleError(err, r)
}

// sessionLost fails every in-flight worker, the connection died before
// their responses arrived.
func (r *Reporter) sessionLost() {
	for id, w := range r.workers {
		delete(r.workers, id)
		r.free = append(r.free, id)
		w.HandleError(ErrLost, nil)
	}
}

// DecodeFrame parses a complete response frame as handed to a worker,
// decompressing the body when the header says so.
func DecodeFrame(payload frame.Bytes, compr frame.Compressor) (frame.Header, frame.Response, error) {
	var b frame.Buffer
	b.Write(payload[:frame.HeaderSize])
	h := frame.ParseHeader(&b)
	if err := b.Error(); err != nil {
		return frame.Header{}, nil, FrameError{Cause: err}
	}

	body := payload[frame.HeaderSize:]
	if h.Flags&frame.Compression != 0 {
		if compr == nil {
			return frame.Header{}, nil, FrameError{Cause: fmt.Errorf("compressed frame without negotiated compression")}
		}
		var err error
		if body, err = compr.Decompress(body); err != nil {
			return frame.Header{}, nil, FrameError{Cause: err}
		}
	}

	b.Reset()
	b.Write(body)
	ReadTrailers(h, &b)
	res, err := ParseResponse(h.OpCode, &b)
	if err != nil {
		return frame.Header{}, nil, FrameError{Cause: err}
	}
	return h, res, nil
}

// decodeErrorFrame turns an ERROR frame into its typed error, or a
// FrameError when the bytes don't parse.
func decodeErrorFrame(payload frame.Bytes, compr frame.Compressor) error {
	_, res, err := DecodeFrame(payload, compr)
	if err != nil {
		return err
	}
	return responseAsError(res)
}
