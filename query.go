package scylla

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iotaledger/scylla-go/frame"
	"github.com/iotaledger/scylla-go/transport"
)

type Result transport.QueryResult

type Query struct {
	session *Session
	stmt    transport.Statement
	buf     frame.Buffer

	pageState []byte
	res       []*transport.RequestWorker
	err       []error
}

func (q *Query) checkBounds(pos int) error {
	if q.stmt.Metadata != nil {
		if pos < 0 || pos >= len(q.stmt.Values) {
			return fmt.Errorf("no bind marker with position %d", pos)
		}
		return nil
	}

	for i := len(q.stmt.Values); i <= pos; i++ {
		q.stmt.Values = append(q.stmt.Values, frame.Value{})
	}
	return nil
}

// Bind places an already serialized column value at the bind marker.
func (q *Query) Bind(pos int, v frame.CqlValue) *Query {
	if err := q.checkBounds(pos); err != nil {
		q.err = append(q.err, err)
		return q
	}
	p := &q.stmt.Values[pos]
	if v.Value == nil {
		p.N = -1
		p.Bytes = nil
	} else {
		p.N = frame.Int(len(v.Value))
		p.Bytes = v.Value
	}
	return q
}

// BindUnset leaves the column untouched by the write.
func (q *Query) BindUnset(pos int) *Query {
	if err := q.checkBounds(pos); err != nil {
		q.err = append(q.err, err)
		return q
	}
	q.stmt.Values[pos] = frame.UnsetValue
	return q
}

func (q *Query) BindInt64(pos int, v int64) *Query {
	if err := q.checkBounds(pos); err != nil {
		q.err = append(q.err, err)
		return q
	}
	p := &q.stmt.Values[pos]
	if p.N != 8 {
		p.N = 8
		p.Bytes = make([]byte, 8)
	}

	p.Bytes[0] = byte(v >> 56)
	p.Bytes[1] = byte(v >> 48)
	p.Bytes[2] = byte(v >> 40)
	p.Bytes[3] = byte(v >> 32)
	p.Bytes[4] = byte(v >> 24)
	p.Bytes[5] = byte(v >> 16)
	p.Bytes[6] = byte(v >> 8)
	p.Bytes[7] = byte(v)

	return q
}

func (q *Query) BindInt32(pos int, v int32) *Query {
	if err := q.checkBounds(pos); err != nil {
		q.err = append(q.err, err)
		return q
	}
	p := &q.stmt.Values[pos]
	if p.N != 4 {
		p.N = 4
		p.Bytes = make([]byte, 4)
	}

	p.Bytes[0] = byte(v >> 24)
	p.Bytes[1] = byte(v >> 16)
	p.Bytes[2] = byte(v >> 8)
	p.Bytes[3] = byte(v)

	return q
}

func (q *Query) BindText(pos int, v string) *Query {
	if err := q.checkBounds(pos); err != nil {
		q.err = append(q.err, err)
		return q
	}
	q.stmt.Values[pos] = frame.Value{N: frame.Int(len(v)), Bytes: []byte(v)}
	return q
}

func (q *Query) SetSerialConsistency(v frame.Consistency) {
	q.stmt.SerialConsistency = v
	q.stmt.HasSerialConsistency = true
}

func (q *Query) SetPageState(v []byte) {
	q.pageState = v
}

func (q *Query) PageState() []byte {
	return q.pageState
}

func (q *Query) SetPageSize(v int32) {
	q.stmt.PageSize = v
}

func (q *Query) PageSize() int32 {
	return q.stmt.PageSize
}

func (q *Query) SetIdempotent(v bool) {
	q.stmt.Idempotent = v
}

func (q *Query) Idempotent() bool {
	return q.stmt.Idempotent
}

// token derives the routing token from the bound partition key columns,
// serialized the way the server composes compound keys.
func (q *Query) token() (transport.Token, bool) {
	if q.stmt.PkCnt == 0 {
		return 0, false
	}

	q.buf.Reset()
	if q.stmt.PkCnt == 1 {
		return transport.MurmurToken(q.stmt.Values[q.stmt.PkIndexes[0]].Bytes), true
	}
	for _, idx := range q.stmt.PkIndexes {
		size := q.stmt.Values[idx].N
		q.buf.WriteShort(frame.Short(size))
		q.buf.Write(q.stmt.Values[idx].Bytes)
		q.buf.WriteByte(0)
	}

	return transport.MurmurToken(q.buf.Bytes()), true
}

// routingToken falls back to hashing the statement text so that non-token
// aware queries still spread over the ring deterministically.
func (q *Query) routingToken() transport.Token {
	if t, ok := q.token(); ok {
		return t
	}
	return transport.MurmurToken([]byte(q.stmt.Content))
}

// workerKind sniffs the statement class for tagging, it is not a parser
// and unknown statements run as selects.
func workerKind(content string) transport.WorkerKind {
	head := strings.ToUpper(strings.TrimSpace(content))
	switch {
	case strings.HasPrefix(head, "INSERT"):
		return transport.InsertKind
	case strings.HasPrefix(head, "UPDATE"):
		return transport.UpdateKind
	case strings.HasPrefix(head, "DELETE"):
		return transport.DeleteKind
	default:
		return transport.SelectKind
	}
}

func (q *Query) newWorker(pageState []byte) (*transport.RequestWorker, error) {
	if q.err != nil {
		return nil, fmt.Errorf("query can't be executed: %v", q.err)
	}
	payload, err := transport.MakeStatementFrame(q.stmt, pageState)
	if err != nil {
		return nil, err
	}
	req := transport.Request{
		Payload:   payload,
		Token:     q.routingToken(),
		Keyspace:  q.stmt.Keyspace,
		Statement: q.stmt.Content,
	}

	s := q.session
	var w *transport.RequestWorker
	switch workerKind(q.stmt.Content) {
	case transport.InsertKind:
		w = transport.NewInsertWorker(s.cluster, req, s.cluster.Compressor(), s.cfg.RetryBudget, s.cfg.Logger)
	case transport.UpdateKind:
		w = transport.NewUpdateWorker(s.cluster, req, s.cluster.Compressor(), s.cfg.RetryBudget, s.cfg.Logger)
	case transport.DeleteKind:
		w = transport.NewDeleteWorker(s.cluster, req, s.cluster.Compressor(), s.cfg.RetryBudget, s.cfg.Logger)
	default:
		w = transport.NewSelectWorker(s.cluster, req, s.cluster.Compressor(), s.cfg.RetryBudget, s.cfg.Logger)
	}

	if err := s.send(req, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Exec dispatches the query and blocks for its result.
func (q *Query) Exec(ctx context.Context) (Result, error) {
	w, err := q.newWorker(q.pageState)
	if err != nil {
		return Result{}, err
	}
	res, err := awaitWorker(ctx, w)
	if err != nil {
		return Result{}, err
	}
	qr, err := transport.MakeQueryResult(res.Response)
	return Result(qr), err
}

// AsyncExec dispatches without blocking, results are collected with Fetch
// in submission order.
func (q *Query) AsyncExec() {
	w, err := q.newWorker(q.pageState)
	if err != nil {
		w = transport.FailedWorker(err)
	}
	q.res = append(q.res, w)
}

var ErrNoQueryResults = fmt.Errorf("no query results to be fetched")

// Fetch returns results in the same order they were queried.
func (q *Query) Fetch(ctx context.Context) (Result, error) {
	if len(q.res) == 0 {
		return Result{}, ErrNoQueryResults
	}

	w := q.res[0]
	q.res = q.res[1:]

	res, err := awaitWorker(ctx, w)
	if err != nil {
		return Result{}, err
	}
	qr, err := transport.MakeQueryResult(res.Response)
	return Result(qr), err
}

var (
	ErrClosedIter = fmt.Errorf("iter is closed")
	ErrNoMoreRows = fmt.Errorf("no more rows left")
)

// Iter streams pages of a query, fetching the next page while the caller
// consumes the current one.
func (q *Query) Iter(ctx context.Context) Iter {
	it := Iter{
		requestCh: make(chan struct{}, 1),
		nextCh:    make(chan transport.QueryResult),
		errCh:     make(chan error, 1),
	}

	worker := iterWorker{
		query:     q,
		pageState: q.pageState,
		requestCh: it.requestCh,
		nextCh:    it.nextCh,
		errCh:     it.errCh,
	}

	it.requestCh <- struct{}{}
	go worker.loop(ctx)
	return it
}

type Iter struct {
	result transport.QueryResult
	pos    int
	rowCnt int

	requestCh chan struct{}
	nextCh    chan transport.QueryResult
	errCh     chan error
	closed    bool
	err       error
}

func (it *Iter) Next() (frame.Row, error) {
	if it.closed {
		return nil, nil
	}

	if it.pos >= it.rowCnt {
		select {
		case r := <-it.nextCh:
			it.result = r
		case err := <-it.errCh:
			if !errors.Is(err, ErrNoMoreRows) {
				it.err = err
			}
			return nil, it.Close()
		}

		it.pos = 0
		it.rowCnt = len(it.result.Rows)
		it.requestCh <- struct{}{}
	}

	// We probably got a zero-sized last page, retry to be sure.
	if it.rowCnt == 0 {
		return it.Next()
	}

	res := it.result.Rows[it.pos]
	it.pos++
	return res, nil
}

func (it *Iter) Close() error {
	if it.closed {
		return it.err
	}
	it.closed = true
	close(it.requestCh)
	return it.err
}

func (it *Iter) NumRows() int {
	return it.rowCnt
}

func (it *Iter) PageState() []byte {
	return it.result.PagingState
}

type iterWorker struct {
	query     *Query
	pageState []byte

	requestCh chan struct{}
	nextCh    chan transport.QueryResult
	errCh     chan error
}

func (w *iterWorker) loop(ctx context.Context) {
	for {
		_, ok := <-w.requestCh
		if !ok {
			return
		}

		res, err := w.fetch(ctx)
		if err != nil {
			w.errCh <- err
			return
		}

		w.pageState = res.PagingState
		w.nextCh <- res
		if !res.HasMorePages {
			w.errCh <- ErrNoMoreRows
			return
		}
	}
}

func (w *iterWorker) fetch(ctx context.Context) (transport.QueryResult, error) {
	wk, err := w.query.newWorker(w.pageState)
	if err != nil {
		return transport.QueryResult{}, err
	}
	res, err := awaitWorker(ctx, wk)
	if err != nil {
		return transport.QueryResult{}, err
	}
	return transport.MakeQueryResult(res.Response)
}
