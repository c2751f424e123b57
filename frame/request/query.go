package request

import (
	"github.com/iotaledger/scylla-go/frame"
)

var _ frame.Request = (*Query)(nil)

// Query spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L337
type Query struct {
	Query       string
	Consistency frame.Consistency
	Options     QueryOptions
}

func (q *Query) WriteTo(b *frame.Buffer) {
	b.WriteLongString(q.Query)
	b.WriteConsistency(q.Consistency)
	q.Options.WriteTo(b)
}

func (*Query) OpCode() frame.OpCode {
	return frame.OpQuery
}

// QueryOptions is the parameters suffix shared by QUERY and EXECUTE.
// The flags byte is derived from which optional fields are populated,
// in exactly the order the flag bits are declared.
type QueryOptions struct {
	Values            []frame.Value
	Names             frame.StringList
	SkipMetadata      bool
	PageSize          frame.Int
	PagingState       frame.Bytes
	SerialConsistency frame.Consistency
	DefaultTimestamp  frame.Long

	// Serial consistency and default timestamp are only written when armed,
	// zero is a valid timestamp.
	HasSerialConsistency bool
	HasDefaultTimestamp  bool
}

func (q *QueryOptions) Flags() frame.QueryFlags {
	var f frame.QueryFlags
	if q.Values != nil {
		f |= frame.Values
	}
	if q.SkipMetadata {
		f |= frame.SkipMetadata
	}
	if q.PageSize > 0 {
		f |= frame.PageSize
	}
	if q.PagingState != nil {
		f |= frame.WithPagingState
	}
	if q.HasSerialConsistency {
		f |= frame.WithSerialConsistency
	}
	if q.HasDefaultTimestamp {
		f |= frame.WithDefaultTimestamp
	}
	if q.Names != nil {
		f |= frame.WithNamesForValues
	}
	return f
}

func (q *QueryOptions) WriteTo(b *frame.Buffer) {
	flags := q.Flags()
	b.WriteQueryFlags(flags)

	if flags&frame.Values != 0 {
		b.WriteShort(frame.Short(len(q.Values)))
		for i := range q.Values {
			if flags&frame.WithNamesForValues != 0 {
				b.WriteString(q.Names[i])
			}
			b.WriteValue(q.Values[i])
		}
	}
	if flags&frame.PageSize != 0 {
		b.WriteInt(q.PageSize)
	}
	if flags&frame.WithPagingState != 0 {
		b.WriteBytes(q.PagingState)
	}
	if flags&frame.WithSerialConsistency != 0 {
		b.WriteConsistency(q.SerialConsistency)
	}
	if flags&frame.WithDefaultTimestamp != 0 {
		b.WriteLong(q.DefaultTimestamp)
	}
}
