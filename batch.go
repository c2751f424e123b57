package scylla

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/iotaledger/scylla-go/frame"
	"github.com/iotaledger/scylla-go/frame/request"
	"github.com/iotaledger/scylla-go/transport"
)

// Batch groups statements into one BATCH request. Prepared statements keep
// their text on the side so a node that lost one can be fed a PREPARE and
// the batch replayed.
type Batch struct {
	session *Session
	req     request.Batch
	texts   map[string]string

	token    transport.Token
	hasToken bool
	err      []error
}

func (s *Session) NewBatch() *Batch {
	return &Batch{
		session: s,
		req: request.Batch{
			Type:        frame.LoggedBatchType,
			Consistency: s.cfg.DefaultConsistency,
		},
		texts: make(map[string]string),
	}
}

func (b *Batch) SetType(t frame.Byte) *Batch {
	b.req.Type = t
	return b
}

// SetToken pins the routing token, otherwise the first prepared
// statement's partition key drives routing.
func (b *Batch) SetToken(t transport.Token) *Batch {
	b.token = t
	b.hasToken = true
	return b
}

// AppendQuery adds an unprepared statement with already serialized values.
func (b *Batch) AppendQuery(content string, values ...frame.Value) *Batch {
	b.req.Statements = append(b.req.Statements, request.BatchStatement{
		Kind:   request.BatchQueryKind,
		Query:  content,
		Values: values,
	})
	return b
}

// AppendPrepared adds a prepared statement by its bound Query.
func (b *Batch) AppendPrepared(q *Query) *Batch {
	if len(q.stmt.ID) == 0 {
		b.err = append(b.err, fmt.Errorf("batch: statement %q is not prepared", q.stmt.Content))
		return b
	}
	b.req.Statements = append(b.req.Statements, request.BatchStatement{
		Kind:   request.BatchPreparedKind,
		ID:     q.stmt.ID,
		Values: q.stmt.Values,
	})
	b.texts[hex.EncodeToString(q.stmt.ID)] = q.stmt.Content

	if !b.hasToken {
		if t, ok := q.token(); ok {
			b.token = t
			b.hasToken = true
		}
	}
	return b
}

// Exec dispatches the batch and blocks for its result.
func (b *Batch) Exec(ctx context.Context) (Result, error) {
	if b.err != nil {
		return Result{}, fmt.Errorf("batch can't be executed: %v", b.err)
	}
	payload, err := transport.MakeBatchFrame(&b.req)
	if err != nil {
		return Result{}, err
	}

	token := b.token
	if !b.hasToken {
		token = transport.MurmurToken(payload)
	}
	req := transport.Request{
		Payload:         payload,
		Token:           token,
		Keyspace:        b.session.cfg.Keyspace,
		BatchStatements: b.texts,
	}

	s := b.session
	w := transport.NewBatchWorker(s.cluster, req, s.cluster.Compressor(), s.cfg.RetryBudget, s.cfg.Logger)
	if err := s.send(req, w); err != nil {
		return Result{}, err
	}
	res, err := awaitWorker(ctx, w)
	if err != nil {
		return Result{}, err
	}
	qr, err := transport.MakeQueryResult(res.Response)
	return Result(qr), err
}
