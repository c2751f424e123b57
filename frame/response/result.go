package response

import (
	"fmt"

	"github.com/iotaledger/scylla-go/frame"
)

// Result spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L546
type VoidResult struct{}

type SetKeyspaceResult struct {
	Name string
}

type RowsResult struct {
	Metadata frame.ResultMetadata
	RowsCnt  frame.Int
	Rows     []frame.Row
}

type PreparedResult struct {
	ID             frame.ShortBytes
	Metadata       frame.PreparedMetadata
	ResultMetadata frame.ResultMetadata
}

type SchemaChangeResult struct {
	Change    string
	Target    string
	Keyspace  string
	Object    string
	Arguments frame.StringList
}

// ParseResult branches on the result kind discriminator.
func ParseResult(b *frame.Buffer) frame.Response {
	switch kind := b.ReadInt(); kind {
	case frame.VoidKind:
		return &VoidResult{}
	case frame.RowsKind:
		return ParseRowsResult(b)
	case frame.SetKeySpaceKind:
		return &SetKeyspaceResult{Name: b.ReadString()}
	case frame.PreparedKind:
		return ParsePreparedResult(b)
	case frame.SchemaChangeKind:
		return ParseSchemaChange(b)
	default:
		b.RecordError(fmt.Errorf("invalid result kind: %d", kind))
		return nil
	}
}

func ParseRowsResult(b *frame.Buffer) *RowsResult {
	r := RowsResult{
		Metadata: b.ReadResultMetadata(),
	}
	r.RowsCnt = b.ReadInt()
	if r.RowsCnt < 0 {
		b.RecordError(fmt.Errorf("invalid rows count: %d", r.RowsCnt))
		return &r
	}
	for i := frame.Int(0); i < r.RowsCnt && b.Error() == nil; i++ {
		row := b.ReadRow(r.Metadata.ColumnsCnt)
		for c := range row {
			if c < len(r.Metadata.Columns) {
				row[c].Type = &r.Metadata.Columns[c].Type
			}
		}
		r.Rows = append(r.Rows, row)
	}
	return &r
}

func ParsePreparedResult(b *frame.Buffer) *PreparedResult {
	return &PreparedResult{
		ID:             b.ReadShortBytes(),
		Metadata:       b.ReadPreparedMetadata(),
		ResultMetadata: b.ReadResultMetadata(),
	}
}

func ParseSchemaChange(b *frame.Buffer) *SchemaChangeResult {
	c := SchemaChangeResult{
		Change: b.ReadString(),
		Target: b.ReadString(),
	}
	switch c.Target {
	case "KEYSPACE":
		c.Keyspace = b.ReadString()
	case "TABLE", "TYPE":
		c.Keyspace = b.ReadString()
		c.Object = b.ReadString()
	case "FUNCTION", "AGGREGATE":
		c.Keyspace = b.ReadString()
		c.Object = b.ReadString()
		c.Arguments = b.ReadStringList()
	}
	return &c
}

// RowIterator is a lazy single pass over a ROWS body. It decodes one row at
// a time from the raw buffer, Next returns false after the last row or on
// the first malformed column.
type RowIterator struct {
	buf       frame.Buffer
	meta      frame.ResultMetadata
	remaining frame.Int
}

// NewRowIterator positions the iterator after the metadata block of a ROWS
// body held in b. The buffer is consumed by iteration.
func NewRowIterator(b *frame.Buffer) *RowIterator {
	it := RowIterator{meta: b.ReadResultMetadata()}
	it.remaining = b.ReadInt()
	it.buf.Write(b.Bytes())
	return &it
}

func (it *RowIterator) Metadata() frame.ResultMetadata {
	return it.meta
}

func (it *RowIterator) Next() (frame.Row, bool) {
	if it.remaining <= 0 || it.buf.Error() != nil {
		return nil, false
	}
	row := it.buf.ReadRow(it.meta.ColumnsCnt)
	if it.buf.Error() != nil {
		return nil, false
	}
	for c := range row {
		if c < len(it.meta.Columns) {
			row[c].Type = &it.meta.Columns[c].Type
		}
	}
	it.remaining--
	return row, true
}

func (it *RowIterator) Err() error {
	return it.buf.Error()
}
