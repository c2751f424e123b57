package transport

import (
	"fmt"

	"github.com/iotaledger/scylla-go/frame"
	. "github.com/iotaledger/scylla-go/frame/request"
	. "github.com/iotaledger/scylla-go/frame/response"
)

// Statement is a query or a prepared statement together with its binding
// state. A zero ID means a plain QUERY, a filled ID an EXECUTE.
type Statement struct {
	ID        frame.ShortBytes
	Content   string
	Values    []frame.Value
	PkIndexes []frame.Short
	PkCnt     frame.Int
	PageSize  frame.Int
	Keyspace  string

	Consistency          frame.Consistency
	SerialConsistency    frame.Consistency
	HasSerialConsistency bool

	Idempotent     bool
	NoSkipMetadata bool

	// Metadata of the prepared result, used to skip re-sending result
	// metadata on every EXECUTE.
	Metadata *frame.ResultMetadata
}

func (s Statement) Clone() Statement {
	v := s
	v.Values = make([]frame.Value, len(s.Values))
	copy(v.Values, s.Values)
	return v
}

func makeQuery(s Statement, pagingState frame.Bytes) Query {
	return Query{
		Query:       s.Content,
		Consistency: s.Consistency,
		Options: QueryOptions{
			Values:               s.Values,
			PageSize:             s.PageSize,
			PagingState:          pagingState,
			SerialConsistency:    s.SerialConsistency,
			HasSerialConsistency: s.HasSerialConsistency,
		},
	}
}

func makeExecute(s Statement, pagingState frame.Bytes) Execute {
	return Execute{
		ID:          s.ID,
		Consistency: s.Consistency,
		Options: QueryOptions{
			Values:               s.Values,
			SkipMetadata:         s.Metadata != nil && !s.NoSkipMetadata,
			PageSize:             s.PageSize,
			PagingState:          pagingState,
			SerialConsistency:    s.SerialConsistency,
			HasSerialConsistency: s.HasSerialConsistency,
		},
	}
}

// MakeStatementFrame builds the complete QUERY or EXECUTE frame for the
// statement, stream ID zeroed for patching at submission.
func MakeStatementFrame(s Statement, pagingState frame.Bytes) (frame.Bytes, error) {
	var req frame.Request
	if len(s.ID) > 0 {
		e := makeExecute(s, pagingState)
		req = &e
	} else {
		q := makeQuery(s, pagingState)
		req = &q
	}
	return makeFrame(req)
}

// MakeBatchFrame builds a complete BATCH frame.
func MakeBatchFrame(b *Batch) (frame.Bytes, error) {
	return makeFrame(b)
}

func makeFrame(req frame.Request) (frame.Bytes, error) {
	var b frame.Buffer
	h := frame.Header{Version: frame.CQLv4, OpCode: req.OpCode()}
	h.WriteTo(&b)
	req.WriteTo(&b)
	if err := b.Error(); err != nil {
		return nil, fmt.Errorf("serialize %#02x frame: %w", req.OpCode(), err)
	}
	out := b.Bytes()
	patchBodyLength(out)
	return out, nil
}

func patchBodyLength(out frame.Bytes) {
	n := uint32(len(out) - frame.HeaderSize)
	out[5] = byte(n >> 24)
	out[6] = byte(n >> 16)
	out[7] = byte(n >> 8)
	out[8] = byte(n)
}

// QueryResult is the decoded useful part of a RESULT response.
type QueryResult struct {
	Rows         []frame.Row
	HasMorePages bool
	PagingState  frame.Bytes
	ColSpec      []frame.ColumnSpec
	SetKeyspace  string
	SchemaChange *SchemaChangeResult
}

// MakeQueryResult normalizes the VOID, ROWS, SET_KEYSPACE and SCHEMA_CHANGE
// results; any other response, a PREPARED result included, is returned as
// an error. Error responses have been converted to errors before this point.
func MakeQueryResult(res frame.Response) (QueryResult, error) {
	switch v := res.(type) {
	case *VoidResult:
		return QueryResult{}, nil
	case *RowsResult:
		return QueryResult{
			Rows:         v.Rows,
			HasMorePages: v.Metadata.Flags&frame.HasMorePages != 0,
			PagingState:  v.Metadata.PagingState,
			ColSpec:      v.Metadata.Columns,
		}, nil
	case *SetKeyspaceResult:
		return QueryResult{SetKeyspace: v.Name}, nil
	case *SchemaChangeResult:
		return QueryResult{SchemaChange: v}, nil
	default:
		return QueryResult{}, fmt.Errorf("unexpected result %T, %+v", v, v)
	}
}
