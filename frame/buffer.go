package frame

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// Buffer is a read/write byte buffer for CQL wire primitives. Write and Read
// methods do not return errors, the first error is recorded and can be read
// with Error. After an error all reads return zero values so that parsers
// can run to completion without checking every step.
type Buffer struct {
	buf []byte
	err error
}

func (b *Buffer) Error() error {
	return b.err
}

func (b *Buffer) recordError(err error) {
	if b.err == nil {
		b.err = err
	}
}

// RecordError lets parsers outside this package mark the buffer as
// malformed. The first recorded error wins.
func (b *Buffer) RecordError(err error) {
	b.recordError(err)
}

func (b *Buffer) Bytes() Bytes {
	return b.buf
}

func (b *Buffer) Len() int {
	return len(b.buf)
}

func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.err = nil
}

func (b *Buffer) Write(v Bytes) {
	if b.err == nil {
		b.buf = append(b.buf, v...)
	}
}

func (b *Buffer) WriteByte(v Byte) {
	if b.err == nil {
		b.buf = append(b.buf, v)
	}
}

func (b *Buffer) WriteShort(v Short) {
	if b.err == nil {
		b.buf = append(b.buf, byte(v>>8), byte(v))
	}
}

func (b *Buffer) WriteInt(v Int) {
	if b.err == nil {
		b.buf = append(b.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
}

func (b *Buffer) WriteLong(v Long) {
	if b.err == nil {
		b.buf = append(b.buf,
			byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
}

func (b *Buffer) WriteOpCode(v OpCode) {
	if v > OpAuthSuccess || v == 0x04 {
		b.recordError(fmt.Errorf("invalid operation code: %v", v))
	} else {
		b.WriteByte(v)
	}
}

func (b *Buffer) WriteUUID(v UUID) {
	b.Write(v[:])
}

func (b *Buffer) WriteHeaderFlags(v HeaderFlags) {
	b.WriteByte(v)
}

func (b *Buffer) WriteQueryFlags(v QueryFlags) {
	b.WriteByte(v)
}

func (b *Buffer) WriteResultFlags(v ResultFlags) {
	b.WriteInt(v)
}

func (b *Buffer) WriteBatchFlags(v BatchFlags) {
	b.WriteByte(v)
}

func (b *Buffer) WriteStreamID(v StreamID) {
	b.WriteShort(Short(v))
}

func (b *Buffer) WriteConsistency(v Consistency) {
	if v >= InvalidConsistency {
		b.recordError(fmt.Errorf("invalid consistency: %v", v))
	} else {
		b.WriteShort(v)
	}
}

func (b *Buffer) WriteBytes(v Bytes) {
	if v == nil {
		b.WriteInt(-1)
		return
	}

	b.WriteInt(Int(len(v)))
	b.Write(v)
}

func (b *Buffer) WriteShortBytes(v Bytes) {
	b.WriteShort(Short(len(v)))
	b.Write(v)
}

// WriteValue writes [value] respecting the null (-1) and not set (-2)
// sentinels carried in v.N.
func (b *Buffer) WriteValue(v Value) {
	if v.N < -2 {
		b.recordError(fmt.Errorf("invalid value length: %d", v.N))
		return
	}
	b.WriteInt(v.N)
	if v.N > 0 {
		if v.N != Int(len(v.Bytes)) {
			b.recordError(fmt.Errorf("value length mismatch: %d != %d", v.N, len(v.Bytes)))
			return
		}
		b.Write(v.Bytes)
	}
}

func (b *Buffer) WriteInet(v Inet) {
	if len(v.IP) != 4 && len(v.IP) != 16 {
		b.recordError(fmt.Errorf("invalid IP length: %d", len(v.IP)))
		return
	}
	b.WriteByte(Byte(len(v.IP)))
	b.Write(v.IP)
	b.WriteInt(v.Port)
}

func (b *Buffer) WriteString(s string) {
	b.WriteShort(Short(len(s)))
	if b.err == nil {
		b.buf = append(b.buf, s...)
	}
}

func (b *Buffer) WriteLongString(s string) {
	b.WriteInt(Int(len(s)))
	if b.err == nil {
		b.buf = append(b.buf, s...)
	}
}

func (b *Buffer) WriteStringList(l StringList) {
	b.WriteShort(Short(len(l)))
	for _, s := range l {
		b.WriteString(s)
	}
}

func (b *Buffer) WriteStringMap(m StringMap) {
	b.WriteShort(Short(len(m)))
	for k, v := range m {
		b.WriteString(k)
		b.WriteString(v)
	}
}

func (b *Buffer) WriteStringMultiMap(m StringMultiMap) {
	b.WriteShort(Short(len(m)))
	for k, v := range m {
		b.WriteString(k)
		b.WriteStringList(v)
	}
}

func (b *Buffer) WriteEventTypes(l []EventType) {
	for _, e := range l {
		if e != TopologyChange && e != StatusChange && e != SchemaChange {
			b.recordError(fmt.Errorf("invalid event type: %s", e))
			return
		}
	}
	b.WriteStringList(l)
}

func (b *Buffer) readByte() Byte {
	if b.err != nil {
		return 0
	}
	if len(b.buf) == 0 {
		b.recordError(io.ErrUnexpectedEOF)
		return 0
	}
	v := b.buf[0]
	b.buf = b.buf[1:]
	return v
}

func (b *Buffer) read(n int) Bytes {
	if b.err != nil {
		return nil
	}
	if len(b.buf) < n {
		b.recordError(io.ErrUnexpectedEOF)
		return nil
	}
	v := make(Bytes, n)
	copy(v, b.buf[:n])
	b.buf = b.buf[n:]
	return v
}

// readInto avoids the copy for hot parse paths that own the destination.
func (b *Buffer) readInto(dst Bytes) {
	if b.err != nil {
		return
	}
	if len(b.buf) < len(dst) {
		b.recordError(io.ErrUnexpectedEOF)
		return
	}
	copy(dst, b.buf[:len(dst)])
	b.buf = b.buf[len(dst):]
}

func (b *Buffer) ReadByte() Byte {
	return b.readByte()
}

func (b *Buffer) ReadShort() Short {
	if b.err != nil || len(b.buf) < 2 {
		b.recordError(io.ErrUnexpectedEOF)
		return 0
	}
	v := binary.BigEndian.Uint16(b.buf)
	b.buf = b.buf[2:]
	return v
}

func (b *Buffer) ReadInt() Int {
	if b.err != nil || len(b.buf) < 4 {
		b.recordError(io.ErrUnexpectedEOF)
		return 0
	}
	v := Int(binary.BigEndian.Uint32(b.buf))
	b.buf = b.buf[4:]
	return v
}

func (b *Buffer) ReadLong() Long {
	if b.err != nil || len(b.buf) < 8 {
		b.recordError(io.ErrUnexpectedEOF)
		return 0
	}
	v := Long(binary.BigEndian.Uint64(b.buf))
	b.buf = b.buf[8:]
	return v
}

func (b *Buffer) ReadOpCode() OpCode {
	o := b.readByte()
	if o > OpAuthSuccess || o == 0x04 {
		b.recordError(fmt.Errorf("invalid operation code: %v", o))
	}
	return o
}

func (b *Buffer) ReadUUID() UUID {
	var v UUID
	b.readInto(v[:])
	return v
}

func (b *Buffer) ReadHeaderFlags() HeaderFlags {
	return b.readByte()
}

func (b *Buffer) ReadQueryFlags() QueryFlags {
	return b.readByte()
}

func (b *Buffer) ReadResultFlags() ResultFlags {
	return b.ReadInt()
}

func (b *Buffer) ReadStreamID() StreamID {
	return StreamID(b.ReadShort())
}

func (b *Buffer) ReadConsistency() Consistency {
	v := b.ReadShort()
	if v >= InvalidConsistency {
		b.recordError(fmt.Errorf("invalid consistency: %v", v))
	}
	return v
}

func (b *Buffer) ReadBytes() Bytes {
	n := b.ReadInt()
	if n < 0 {
		return nil
	}
	return b.read(int(n))
}

func (b *Buffer) ReadShortBytes() Bytes {
	return b.read(int(b.ReadShort()))
}

// ReadValue reads [value], n is checked against the remaining buffer size.
func (b *Buffer) ReadValue() Value {
	n := b.ReadInt()
	if n < -2 {
		b.recordError(fmt.Errorf("invalid value length: %d", n))
		return Value{}
	}
	v := Value{N: n}
	if n > 0 {
		v.Bytes = b.read(int(n))
	}
	return v
}

func (b *Buffer) ReadInet() Inet {
	n := b.readByte()
	if n != 4 && n != 16 {
		b.recordError(fmt.Errorf("invalid IP length: %d", n))
		return Inet{}
	}
	return Inet{IP: net.IP(b.read(int(n))), Port: b.ReadInt()}
}

func (b *Buffer) ReadString() string {
	return string(b.read(int(b.ReadShort())))
}

func (b *Buffer) ReadLongString() string {
	n := b.ReadInt()
	if n < 0 {
		b.recordError(fmt.Errorf("invalid long string length: %d", n))
		return ""
	}
	return string(b.read(int(n)))
}

func (b *Buffer) ReadStringList() StringList {
	n := b.ReadShort()
	l := make(StringList, 0, n)
	for i := Short(0); i < n; i++ {
		l = append(l, b.ReadString())
	}
	return l
}

func (b *Buffer) ReadStringMap() StringMap {
	n := b.ReadShort()
	m := make(StringMap, n)
	for i := Short(0); i < n; i++ {
		k := b.ReadString()
		v := b.ReadString()
		m[k] = v
	}
	return m
}

// ReadBytesMap reads the [bytes map] used by custom payloads.
func (b *Buffer) ReadBytesMap() map[string]Bytes {
	n := b.ReadShort()
	m := make(map[string]Bytes, n)
	for i := Short(0); i < n; i++ {
		k := b.ReadString()
		v := b.ReadBytes()
		m[k] = v
	}
	return m
}

func (b *Buffer) ReadStringMultiMap() StringMultiMap {
	n := b.ReadShort()
	m := make(StringMultiMap, n)
	for i := Short(0); i < n; i++ {
		k := b.ReadString()
		v := b.ReadStringList()
		m[k] = v
	}
	return m
}

func (b *Buffer) ReadEventType() EventType {
	e := EventType(b.ReadString())
	if e != TopologyChange && e != StatusChange && e != SchemaChange {
		b.recordError(fmt.Errorf("invalid event type: %s", e))
	}
	return e
}

func (b *Buffer) ReadWriteType() WriteType {
	w := WriteType(b.ReadString())
	if _, ok := ValidWriteTypes[w]; !ok {
		b.recordError(fmt.Errorf("invalid write type: %s", w))
	}
	return w
}

func (b *Buffer) ReadOption() Option {
	id := OptionID(b.ReadShort())
	switch id {
	case CustomID:
		return Option{ID: id, Custom: b.ReadString()}
	case ListID:
		return Option{ID: id, List: &ListOption{Element: b.ReadOption()}}
	case SetID:
		return Option{ID: id, Set: &SetOption{Element: b.ReadOption()}}
	case MapID:
		return Option{ID: id, Map: &MapOption{Key: b.ReadOption(), Value: b.ReadOption()}}
	case UDTID:
		return Option{ID: id, UDT: b.readUDTOption()}
	case TupleID:
		return Option{ID: id, Tuple: b.readTupleOption()}
	default:
		if id < ASCIIID || id > TinyIntID {
			b.recordError(fmt.Errorf("invalid option ID: %d", id))
		}
		return Option{ID: id}
	}
}

func (b *Buffer) readUDTOption() *UDTOption {
	ks := b.ReadString()
	name := b.ReadString()
	n := b.ReadShort()
	fn := make(StringList, n)
	ft := make([]Option, n)
	for i := Short(0); i < n; i++ {
		fn[i] = b.ReadString()
		ft[i] = b.ReadOption()
	}
	return &UDTOption{
		Keyspace:   ks,
		Name:       name,
		FieldNames: fn,
		FieldTypes: ft,
	}
}

func (b *Buffer) readTupleOption() *TupleOption {
	n := b.ReadShort()
	v := make([]Option, n)
	for i := Short(0); i < n; i++ {
		v[i] = b.ReadOption()
	}
	return &TupleOption{ValueTypes: v}
}
