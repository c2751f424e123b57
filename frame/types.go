package frame

import (
	"fmt"
	"net"
)

// Value spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L247
// N < 0 is a sentinel: -1 null, -2 not set. Type is binding metadata from
// a PREPARED result, it never goes on the wire.
type Value struct {
	N     Int
	Bytes Bytes
	Type  *Option
}

// NullValue is a bound value explicitly set to null.
var NullValue = Value{N: -1}

// UnsetValue leaves the column untouched by the write. Encoder only.
var UnsetValue = Value{N: -2}

// Inet spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L241
type Inet struct {
	IP   Bytes
	Port Int
}

func (i Inet) String() string {
	return fmt.Sprintf("%s:%d", net.IP(i.IP), i.Port)
}

type EventType = string

const (
	TopologyChange EventType = "TOPOLOGY_CHANGE"
	StatusChange   EventType = "STATUS_CHANGE"
	SchemaChange   EventType = "SCHEMA_CHANGE"
)

type OptionID Short

// See CQL protocol v4 §6, option ids of column types.
const (
	CustomID    OptionID = 0x0000
	ASCIIID     OptionID = 0x0001
	BigIntID    OptionID = 0x0002
	BlobID      OptionID = 0x0003
	BooleanID   OptionID = 0x0004
	CounterID   OptionID = 0x0005
	DecimalID   OptionID = 0x0006
	DoubleID    OptionID = 0x0007
	FloatID     OptionID = 0x0008
	IntID       OptionID = 0x0009
	TimestampID OptionID = 0x000B
	UUIDID      OptionID = 0x000C
	VarcharID   OptionID = 0x000D
	VarintID    OptionID = 0x000E
	TimeUUIDID  OptionID = 0x000F
	InetID      OptionID = 0x0010
	DateID      OptionID = 0x0011
	TimeID      OptionID = 0x0012
	SmallIntID  OptionID = 0x0013
	TinyIntID   OptionID = 0x0014
	ListID      OptionID = 0x0020
	MapID       OptionID = 0x0021
	SetID       OptionID = 0x0022
	UDTID       OptionID = 0x0030
	TupleID     OptionID = 0x0031
)

type ListOption struct {
	Element Option
}

type SetOption struct {
	Element Option
}

type MapOption struct {
	Key   Option
	Value Option
}

type UDTOption struct {
	Keyspace   string
	Name       string
	FieldNames StringList
	FieldTypes []Option
}

type TupleOption struct {
	ValueTypes []Option
}

// Option represents a CQL type, native types carry the ID alone.
type Option struct {
	ID     OptionID
	Custom string
	List   *ListOption
	Map    *MapOption
	Set    *SetOption
	UDT    *UDTOption
	Tuple  *TupleOption
}

func (o *Option) WriteTo(b *Buffer) {
	b.WriteShort(Short(o.ID))
	switch o.ID {
	case CustomID:
		b.WriteString(o.Custom)
	case ListID:
		o.List.Element.WriteTo(b)
	case SetID:
		o.Set.Element.WriteTo(b)
	case MapID:
		o.Map.Key.WriteTo(b)
		o.Map.Value.WriteTo(b)
	case UDTID:
		b.WriteString(o.UDT.Keyspace)
		b.WriteString(o.UDT.Name)
		b.WriteShort(Short(len(o.UDT.FieldNames)))
		for i := range o.UDT.FieldNames {
			b.WriteString(o.UDT.FieldNames[i])
			o.UDT.FieldTypes[i].WriteTo(b)
		}
	case TupleID:
		b.WriteShort(Short(len(o.Tuple.ValueTypes)))
		for i := range o.Tuple.ValueTypes {
			o.Tuple.ValueTypes[i].WriteTo(b)
		}
	}
}

type GlobalTableSpec struct {
	Keyspace string
	Table    string
}

type ColumnSpec struct {
	Keyspace string
	Table    string
	Name     string
	Type     Option
}

func (b *Buffer) ReadColumnSpec(f ResultFlags) ColumnSpec {
	if f&GlobalTablesSpec == 0 {
		return ColumnSpec{
			Keyspace: b.ReadString(),
			Table:    b.ReadString(),
			Name:     b.ReadString(),
			Type:     b.ReadOption(),
		}
	}
	return ColumnSpec{
		Name: b.ReadString(),
		Type: b.ReadOption(),
	}
}

type ResultMetadata struct {
	Flags      ResultFlags
	ColumnsCnt Int

	// Present only if HasMorePages flag is set.
	PagingState Bytes

	// Present only if NoMetadata flag is unset.
	GlobalSpec GlobalTableSpec
	Columns    []ColumnSpec
}

func (b *Buffer) ReadResultMetadata() ResultMetadata {
	m := ResultMetadata{
		Flags:      b.ReadResultFlags(),
		ColumnsCnt: b.ReadInt(),
	}

	if m.Flags&HasMorePages != 0 {
		m.PagingState = b.ReadBytes()
	}

	if m.Flags&NoMetadata != 0 {
		return m
	}

	if m.Flags&GlobalTablesSpec != 0 {
		m.GlobalSpec = GlobalTableSpec{
			Keyspace: b.ReadString(),
			Table:    b.ReadString(),
		}
	}

	// Each column spec takes at least 4 bytes, a larger count than the
	// remaining buffer is malformed input, not a huge allocation.
	if m.ColumnsCnt < 0 || int(m.ColumnsCnt) > b.Len() {
		b.recordError(fmt.Errorf("invalid columns count: %d", m.ColumnsCnt))
		return m
	}
	m.Columns = make([]ColumnSpec, m.ColumnsCnt)
	for i := range m.Columns {
		if b.err != nil {
			break
		}
		m.Columns[i] = b.ReadColumnSpec(m.Flags)
	}
	return m
}

type PreparedMetadata struct {
	Flags      ResultFlags
	ColumnsCnt Int
	PkCnt      Int
	PkIndexes  []Short

	GlobalSpec GlobalTableSpec
	Columns    []ColumnSpec
}

func (b *Buffer) ReadPreparedMetadata() PreparedMetadata {
	m := PreparedMetadata{
		Flags:      b.ReadResultFlags(),
		ColumnsCnt: b.ReadInt(),
		PkCnt:      b.ReadInt(),
	}

	if m.PkCnt < 0 || int(m.PkCnt)*2 > b.Len() {
		b.recordError(fmt.Errorf("invalid pk count: %d", m.PkCnt))
		return m
	}
	m.PkIndexes = make([]Short, m.PkCnt)
	for i := range m.PkIndexes {
		m.PkIndexes[i] = b.ReadShort()
	}

	if m.Flags&GlobalTablesSpec != 0 {
		m.GlobalSpec = GlobalTableSpec{
			Keyspace: b.ReadString(),
			Table:    b.ReadString(),
		}
	}

	if m.ColumnsCnt < 0 || int(m.ColumnsCnt) > b.Len() {
		b.recordError(fmt.Errorf("invalid columns count: %d", m.ColumnsCnt))
		return m
	}
	m.Columns = make([]ColumnSpec, m.ColumnsCnt)
	for i := range m.Columns {
		if b.err != nil {
			break
		}
		m.Columns[i] = b.ReadColumnSpec(m.Flags)
	}
	return m
}

// Row is a single result row, columns in declared order.
type Row []CqlValue

func (b *Buffer) ReadRow(n Int) Row {
	if n < 0 || int(n) > b.Len() {
		b.recordError(fmt.Errorf("invalid row width: %d", n))
		return nil
	}
	r := make(Row, n)
	for i := range r {
		r[i] = CqlValue{Value: b.ReadBytes()}
	}
	return r
}
