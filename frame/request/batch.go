package request

import (
	"github.com/iotaledger/scylla-go/frame"
)

var _ frame.Request = (*Batch)(nil)

// Batch spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L414
type Batch struct {
	Type        frame.Byte
	Statements  []BatchStatement
	Consistency frame.Consistency

	SerialConsistency frame.Consistency
	DefaultTimestamp  frame.Long

	HasSerialConsistency bool
	HasDefaultTimestamp  bool
}

// Batch statement kinds.
const (
	BatchQueryKind    frame.Byte = 0
	BatchPreparedKind frame.Byte = 1
)

type BatchStatement struct {
	Kind   frame.Byte
	Query  string
	ID     frame.ShortBytes
	Values []frame.Value
}

func (s *BatchStatement) WriteTo(b *frame.Buffer) {
	b.WriteByte(s.Kind)
	if s.Kind == BatchQueryKind {
		b.WriteLongString(s.Query)
	} else {
		b.WriteShortBytes(s.ID)
	}
	b.WriteShort(frame.Short(len(s.Values)))
	for i := range s.Values {
		b.WriteValue(s.Values[i])
	}
}

func (p *Batch) flags() frame.BatchFlags {
	var f frame.BatchFlags
	if p.HasSerialConsistency {
		f |= frame.BatchFlags(frame.WithSerialConsistency)
	}
	if p.HasDefaultTimestamp {
		f |= frame.BatchFlags(frame.WithDefaultTimestamp)
	}
	return f
}

func (p *Batch) WriteTo(b *frame.Buffer) {
	b.WriteByte(p.Type)
	b.WriteShort(frame.Short(len(p.Statements)))
	for i := range p.Statements {
		p.Statements[i].WriteTo(b)
	}
	b.WriteConsistency(p.Consistency)

	flags := p.flags()
	b.WriteBatchFlags(flags)
	if p.HasSerialConsistency {
		b.WriteConsistency(p.SerialConsistency)
	}
	if p.HasDefaultTimestamp {
		b.WriteLong(p.DefaultTimestamp)
	}
}

func (*Batch) OpCode() frame.OpCode {
	return frame.OpBatch
}
