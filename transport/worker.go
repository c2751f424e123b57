package transport

import (
	"errors"

	"github.com/iotaledger/scylla-go/frame"
	. "github.com/iotaledger/scylla-go/frame/request"
	. "github.com/iotaledger/scylla-go/frame/response"
)

// Worker is the caller-supplied callback pair a request is filed under.
// HandleResponse receives the complete raw response frame. HandleError
// receives the classified error and the reporter the request was submitted
// to, or nil when the final sweep of a lost session fails the worker.
type Worker interface {
	HandleResponse(payload frame.Bytes)
	HandleError(err error, r *Reporter)
}

// Request is what the parser frontend hands to dispatch: a fully formed
// frame, the routing token and the statement text for re-preparation.
type Request struct {
	// Payload is a complete request frame, stream ID bytes are patched at
	// submission.
	Payload  frame.Bytes
	Token    Token
	Keyspace string

	// Statement is the CQL text behind an EXECUTE, used to reprepare.
	Statement string
	// BatchStatements maps hex prepared IDs to statement texts for BATCH
	// requests, consulted when the server reports one of them unprepared.
	BatchStatements map[string]string
}

// RequestSender resubmits a request on a fresh replica. Implemented by the
// cluster's send policies.
type RequestSender interface {
	Send(req Request, w Worker) error
}

// WorkerKind tags the statement class a worker carries, it has no effect
// on routing.
type WorkerKind byte

const (
	SelectKind WorkerKind = iota
	InsertKind
	UpdateKind
	DeleteKind
	BatchKind
	PrepareKind
)

// WorkerResponse is what a RequestWorker delivers to its channel.
type WorkerResponse struct {
	Header   frame.Header
	Response frame.Response
	Err      error
}

// RequestWorker is the retryable worker used for all statement classes. It
// re-dispatches on retryable errors and recovers lost prepared statements
// by repreparing on the same connection and replaying the request.
type RequestWorker struct {
	Kind    WorkerKind
	request Request
	sender  RequestSender
	compr   frame.Compressor
	retries int
	ch      chan WorkerResponse
	logger  Logger
}

func newRequestWorker(kind WorkerKind, sender RequestSender, req Request, compr frame.Compressor, retries int, logger Logger) *RequestWorker {
	// Keep a private copy, the payload slot is reused by the stage once
	// the response lands.
	p := make(frame.Bytes, len(req.Payload))
	copy(p, req.Payload)
	req.Payload = p

	if logger == nil {
		logger = DefaultLogger{}
	}
	return &RequestWorker{
		Kind:    kind,
		request: req,
		sender:  sender,
		compr:   compr,
		retries: retries,
		ch:      make(chan WorkerResponse, 1),
		logger:  logger,
	}
}

func NewSelectWorker(s RequestSender, req Request, compr frame.Compressor, retries int, l Logger) *RequestWorker {
	return newRequestWorker(SelectKind, s, req, compr, retries, l)
}

func NewInsertWorker(s RequestSender, req Request, compr frame.Compressor, retries int, l Logger) *RequestWorker {
	return newRequestWorker(InsertKind, s, req, compr, retries, l)
}

func NewUpdateWorker(s RequestSender, req Request, compr frame.Compressor, retries int, l Logger) *RequestWorker {
	return newRequestWorker(UpdateKind, s, req, compr, retries, l)
}

func NewDeleteWorker(s RequestSender, req Request, compr frame.Compressor, retries int, l Logger) *RequestWorker {
	return newRequestWorker(DeleteKind, s, req, compr, retries, l)
}

func NewBatchWorker(s RequestSender, req Request, compr frame.Compressor, retries int, l Logger) *RequestWorker {
	return newRequestWorker(BatchKind, s, req, compr, retries, l)
}

// Response returns the channel the final outcome is delivered on, exactly
// one WorkerResponse per request lifecycle.
func (w *RequestWorker) Response() <-chan WorkerResponse {
	return w.ch
}

// FailedWorker carries an already-failed outcome on its Response channel,
// letting async callers collect dispatch errors uniformly.
func FailedWorker(err error) *RequestWorker {
	w := &RequestWorker{ch: make(chan WorkerResponse, 1)}
	w.ch <- WorkerResponse{Err: err}
	return w
}

func (w *RequestWorker) HandleResponse(payload frame.Bytes) {
	h, res, err := DecodeFrame(payload, w.compr)
	if err != nil {
		w.ch <- WorkerResponse{Err: err}
		return
	}
	w.ch <- WorkerResponse{Header: h, Response: res}
}

func (w *RequestWorker) HandleError(err error, r *Reporter) {
	var cql CqlError
	if errors.As(err, &cql) && r != nil {
		if unprep, ok := cql.Coded.(UnpreparedError); ok && w.retries > 0 {
			if stmt := w.statementFor(unprep.UnknownID); stmt != "" {
				w.retries--
				w.reprepare(r, stmt)
				return
			}
		}
	}

	if Retryable(err) && w.retries > 0 && w.sender != nil {
		w.retries--
		// Resubmit from a fresh goroutine, this callback runs on the
		// reporter's task.
		go func() {
			if err := w.sender.Send(w.request, w); err != nil {
				w.ch <- WorkerResponse{Err: err}
			}
		}()
		return
	}

	w.ch <- WorkerResponse{Err: err}
}

// statementFor resolves the text of a lost prepared ID, either the single
// statement this worker executes or one of a batch's statements.
func (w *RequestWorker) statementFor(id frame.ShortBytes) string {
	if w.request.BatchStatements != nil {
		return w.request.BatchStatements[hexID(id)]
	}
	return w.request.Statement
}

// reprepare sends PREPARE for the lost statement and replays the original
// request on the same connection. The sender preserves submission order,
// so the prepare lands first.
func (w *RequestWorker) reprepare(r *Reporter, stmt string) {
	pw := NewPrepareWorker(stmt, w.logger)
	prepare := MakePrepareFrame(stmt)
	go func() {
		r.Execute(pw, prepare)
		r.Execute(w, w.request.Payload)
	}()
}

func hexID(id frame.ShortBytes) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, len(id)*2)
	for _, b := range id {
		out = append(out, digits[b>>4], digits[b&0x0F])
	}
	return string(out)
}

// MakePrepareFrame builds a complete PREPARE frame for the statement, with
// a zero stream ID to be patched at submission.
func MakePrepareFrame(stmt string) frame.Bytes {
	out, _ := makeFrame(&Prepare{Query: stmt})
	return out
}

// PrepareWorker logs and discards the outcome of a re-preparation, the
// replayed request observes the result.
type PrepareWorker struct {
	Statement string
	logger    Logger
}

func NewPrepareWorker(stmt string, logger Logger) *PrepareWorker {
	if logger == nil {
		logger = DefaultLogger{}
	}
	return &PrepareWorker{Statement: stmt, logger: logger}
}

func (w *PrepareWorker) HandleResponse(_ frame.Bytes) {
	w.logger.Printf("prepared statement %q", w.Statement)
}

func (w *PrepareWorker) HandleError(err error, _ *Reporter) {
	w.logger.Printf("failed to prepare statement %q: %v", w.Statement, err)
}
