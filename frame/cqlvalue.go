package frame

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"net"
	"unicode/utf8"

	"gopkg.in/inf.v0"
)

// CqlValue is a single column value: its declared type and the raw bytes as
// they appear on the wire. A nil Value is the null column (wire length -1).
type CqlValue struct {
	Type  *Option
	Value Bytes
}

func (c CqlValue) IsNull() bool {
	return c.Value == nil
}

func (c CqlValue) typeID() OptionID {
	if c.Type == nil {
		return CustomID
	}
	return c.Type.ID
}

func (c CqlValue) AsInt8() (int8, error) {
	if c.typeID() != TinyIntID {
		return 0, fmt.Errorf("%v is not of tinyint type", c)
	}
	if len(c.Value) != 1 {
		return 0, fmt.Errorf("expected 1 byte, got %d", len(c.Value))
	}
	return int8(c.Value[0]), nil
}

func (c CqlValue) AsInt16() (int16, error) {
	if c.typeID() != SmallIntID {
		return 0, fmt.Errorf("%v is not of smallint type", c)
	}
	if len(c.Value) != 2 {
		return 0, fmt.Errorf("expected 2 bytes, got %d", len(c.Value))
	}
	return int16(binary.BigEndian.Uint16(c.Value)), nil
}

func (c CqlValue) AsInt32() (int32, error) {
	if id := c.typeID(); id != IntID && id != DateID {
		return 0, fmt.Errorf("%v is not of int type", c)
	}
	if len(c.Value) != 4 {
		return 0, fmt.Errorf("expected 4 bytes, got %d", len(c.Value))
	}
	return int32(binary.BigEndian.Uint32(c.Value)), nil
}

func (c CqlValue) AsInt64() (int64, error) {
	switch c.typeID() {
	case BigIntID, CounterID, TimestampID, TimeID:
	default:
		return 0, fmt.Errorf("%v is not of bigint type", c)
	}
	if len(c.Value) != 8 {
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(c.Value))
	}
	return int64(binary.BigEndian.Uint64(c.Value)), nil
}

func (c CqlValue) AsUint8() (uint8, error) {
	v, err := c.AsInt8()
	return uint8(v), err
}

func (c CqlValue) AsUint16() (uint16, error) {
	v, err := c.AsInt16()
	return uint16(v), err
}

func (c CqlValue) AsUint32() (uint32, error) {
	v, err := c.AsInt32()
	return uint32(v), err
}

func (c CqlValue) AsUint64() (uint64, error) {
	v, err := c.AsInt64()
	return uint64(v), err
}

func (c CqlValue) AsFloat32() (float32, error) {
	if c.typeID() != FloatID {
		return 0, fmt.Errorf("%v is not of float type", c)
	}
	if len(c.Value) != 4 {
		return 0, fmt.Errorf("expected 4 bytes, got %d", len(c.Value))
	}
	return math.Float32frombits(binary.BigEndian.Uint32(c.Value)), nil
}

func (c CqlValue) AsFloat64() (float64, error) {
	if c.typeID() != DoubleID {
		return 0, fmt.Errorf("%v is not of double type", c)
	}
	if len(c.Value) != 8 {
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(c.Value))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(c.Value)), nil
}

func (c CqlValue) AsBoolean() (bool, error) {
	if c.typeID() != BooleanID {
		return false, fmt.Errorf("%v is not of boolean type", c)
	}
	if len(c.Value) != 1 {
		return false, fmt.Errorf("expected 1 byte, got %d", len(c.Value))
	}
	return c.Value[0] != 0, nil
}

func (c CqlValue) AsText() (string, error) {
	switch c.typeID() {
	case VarcharID, ASCIIID:
	default:
		return "", fmt.Errorf("%v is not of text type", c)
	}
	if !utf8.Valid(c.Value) {
		return "", fmt.Errorf("%v contains non-utf8 characters", c)
	}
	return string(c.Value), nil
}

func (c CqlValue) AsBlob() (Bytes, error) {
	if c.typeID() != BlobID {
		return nil, fmt.Errorf("%v is not of blob type", c)
	}
	v := make(Bytes, len(c.Value))
	copy(v, c.Value)
	return v, nil
}

// AsIP accepts both 4 and 16 byte addresses.
func (c CqlValue) AsIP() (net.IP, error) {
	if c.typeID() != InetID {
		return nil, fmt.Errorf("%v is not of inet type", c)
	}
	if len(c.Value) != 4 && len(c.Value) != 16 {
		return nil, fmt.Errorf("invalid ip length: %d", len(c.Value))
	}
	return net.IP(c.Value), nil
}

func (c CqlValue) AsUUID() (UUID, error) {
	switch c.typeID() {
	case UUIDID, TimeUUIDID:
	default:
		return UUID{}, fmt.Errorf("%v is not of uuid type", c)
	}
	if len(c.Value) != 16 {
		return UUID{}, fmt.Errorf("expected 16 bytes, got %d", len(c.Value))
	}
	var u UUID
	copy(u[:], c.Value)
	return u, nil
}

func (c CqlValue) AsDecimal() (*inf.Dec, error) {
	if c.typeID() != DecimalID {
		return nil, fmt.Errorf("%v is not of decimal type", c)
	}
	if len(c.Value) < 4 {
		return nil, fmt.Errorf("expected at least 4 bytes, got %d", len(c.Value))
	}
	scale := int32(binary.BigEndian.Uint32(c.Value))
	d := new(inf.Dec)
	d.UnscaledBig().SetBytes(c.Value[4:])
	if len(c.Value) > 4 && c.Value[4]&0x80 != 0 {
		// Two's complement negative unscaled value.
		d.UnscaledBig().Sub(d.UnscaledBig(), bigTwoPow(uint((len(c.Value)-4)*8)))
	}
	d.SetScale(inf.Scale(scale))
	return d, nil
}

// AsList decodes list<T>, element types taken from the column Option.
func (c CqlValue) AsList() ([]CqlValue, error) {
	if c.typeID() != ListID {
		return nil, fmt.Errorf("%v is not of list type", c)
	}
	return c.readCollection(&c.Type.List.Element)
}

// AsSet decodes set<T>. Element order is whatever the server sent,
// callers must not rely on it.
func (c CqlValue) AsSet() ([]CqlValue, error) {
	if c.typeID() != SetID {
		return nil, fmt.Errorf("%v is not of set type", c)
	}
	return c.readCollection(&c.Type.Set.Element)
}

func (c CqlValue) readCollection(elem *Option) ([]CqlValue, error) {
	var b Buffer
	b.Write(c.Value)
	n := b.ReadInt()
	if n < 0 {
		return nil, fmt.Errorf("invalid collection size: %d", n)
	}
	v := make([]CqlValue, n)
	for i := range v {
		v[i] = CqlValue{Type: elem, Value: b.ReadBytes()}
	}
	if err := b.Error(); err != nil {
		return nil, fmt.Errorf("malformed collection: %w", err)
	}
	return v, nil
}

// AsMap decodes map<K, V> into parallel key and value slices, wire order.
func (c CqlValue) AsMap() (keys, values []CqlValue, err error) {
	if c.typeID() != MapID {
		return nil, nil, fmt.Errorf("%v is not of map type", c)
	}
	var b Buffer
	b.Write(c.Value)
	n := b.ReadInt()
	if n < 0 {
		return nil, nil, fmt.Errorf("invalid map size: %d", n)
	}
	keys = make([]CqlValue, n)
	values = make([]CqlValue, n)
	for i := Int(0); i < n; i++ {
		keys[i] = CqlValue{Type: &c.Type.Map.Key, Value: b.ReadBytes()}
		values[i] = CqlValue{Type: &c.Type.Map.Value, Value: b.ReadBytes()}
	}
	if err := b.Error(); err != nil {
		return nil, nil, fmt.Errorf("malformed map: %w", err)
	}
	return keys, values, nil
}

// AsUDT decodes the fields in declared order. Fields absent from a short
// serialization decode as null.
func (c CqlValue) AsUDT() ([]CqlValue, error) {
	if c.typeID() != UDTID {
		return nil, fmt.Errorf("%v is not of UDT type", c)
	}
	udt := c.Type.UDT
	var b Buffer
	b.Write(c.Value)
	v := make([]CqlValue, len(udt.FieldTypes))
	for i := range v {
		if b.Len() == 0 {
			v[i] = CqlValue{Type: &udt.FieldTypes[i]}
			continue
		}
		v[i] = CqlValue{Type: &udt.FieldTypes[i], Value: b.ReadBytes()}
	}
	if err := b.Error(); err != nil {
		return nil, fmt.Errorf("malformed UDT: %w", err)
	}
	return v, nil
}

func (c CqlValue) AsTuple() ([]CqlValue, error) {
	if c.typeID() != TupleID {
		return nil, fmt.Errorf("%v is not of tuple type", c)
	}
	var b Buffer
	b.Write(c.Value)
	v := make([]CqlValue, len(c.Type.Tuple.ValueTypes))
	for i := range v {
		v[i] = CqlValue{Type: &c.Type.Tuple.ValueTypes[i], Value: b.ReadBytes()}
	}
	if err := b.Error(); err != nil {
		return nil, fmt.Errorf("malformed tuple: %w", err)
	}
	return v, nil
}

func (c CqlValue) AsStringSlice() ([]string, error) {
	var (
		elems []CqlValue
		err   error
	)
	switch c.typeID() {
	case ListID:
		elems, err = c.AsList()
	case SetID:
		elems, err = c.AsSet()
	default:
		return nil, fmt.Errorf("%v is not a collection", c)
	}
	if err != nil {
		return nil, err
	}
	v := make([]string, len(elems))
	for i, e := range elems {
		if v[i], err = e.AsText(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func CqlFromInt8(v int8) CqlValue {
	return CqlValue{Type: &Option{ID: TinyIntID}, Value: Bytes{byte(v)}}
}

func CqlFromInt16(v int16) CqlValue {
	return CqlValue{
		Type:  &Option{ID: SmallIntID},
		Value: Bytes{byte(v >> 8), byte(v)},
	}
}

func CqlFromInt32(v int32) CqlValue {
	return CqlValue{
		Type:  &Option{ID: IntID},
		Value: Bytes{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)},
	}
}

func CqlFromInt64(v int64) CqlValue {
	b := make(Bytes, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return CqlValue{Type: &Option{ID: BigIntID}, Value: b}
}

func CqlFromUint8(v uint8) CqlValue   { return CqlFromInt8(int8(v)) }
func CqlFromUint16(v uint16) CqlValue { return CqlFromInt16(int16(v)) }
func CqlFromUint32(v uint32) CqlValue { return CqlFromInt32(int32(v)) }
func CqlFromUint64(v uint64) CqlValue { return CqlFromInt64(int64(v)) }

func CqlFromFloat32(v float32) CqlValue {
	b := make(Bytes, 4)
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
	return CqlValue{Type: &Option{ID: FloatID}, Value: b}
}

func CqlFromFloat64(v float64) CqlValue {
	b := make(Bytes, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return CqlValue{Type: &Option{ID: DoubleID}, Value: b}
}

func CqlFromBoolean(v bool) CqlValue {
	b := Bytes{0}
	if v {
		b[0] = 1
	}
	return CqlValue{Type: &Option{ID: BooleanID}, Value: b}
}

func CqlFromASCII(s string) (CqlValue, error) {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return CqlValue{}, fmt.Errorf("string contains non-ascii characters")
		}
	}
	return CqlValue{Type: &Option{ID: ASCIIID}, Value: Bytes(s)}, nil
}

func CqlFromText(s string) (CqlValue, error) {
	if !utf8.ValidString(s) {
		return CqlValue{}, fmt.Errorf("string contains non-utf8 characters")
	}
	return CqlValue{Type: &Option{ID: VarcharID}, Value: Bytes(s)}, nil
}

func CqlFromBlob(b Bytes) CqlValue {
	return CqlValue{Type: &Option{ID: BlobID}, Value: b}
}

func CqlFromIP(ip net.IP) (CqlValue, error) {
	if v4 := ip.To4(); v4 != nil {
		return CqlValue{Type: &Option{ID: InetID}, Value: Bytes(v4)}, nil
	}
	if v6 := ip.To16(); v6 != nil {
		return CqlValue{Type: &Option{ID: InetID}, Value: Bytes(v6)}, nil
	}
	return CqlValue{}, fmt.Errorf("invalid ip address: %v", ip)
}

func CqlFromUUID(u UUID) CqlValue {
	v := make(Bytes, 16)
	copy(v, u[:])
	return CqlValue{Type: &Option{ID: UUIDID}, Value: v}
}

func CqlFromDecimal(d *inf.Dec) CqlValue {
	unscaled := d.UnscaledBig()
	var mag Bytes
	if unscaled.Sign() < 0 {
		// Two's complement encode, minimal width plus sign headroom.
		n := uint(unscaled.BitLen()/8+1) * 8
		tmp := bigTwoPow(n)
		tmp.Add(tmp, unscaled)
		mag = tmp.Bytes()
	} else {
		mag = unscaled.Bytes()
		if len(mag) > 0 && mag[0]&0x80 != 0 {
			mag = append(Bytes{0}, mag...)
		}
	}
	v := make(Bytes, 4+len(mag))
	binary.BigEndian.PutUint32(v, uint32(d.Scale()))
	copy(v[4:], mag)
	return CqlValue{Type: &Option{ID: DecimalID}, Value: v}
}

// CqlFromList serializes elements of the given type into list<elem>.
func CqlFromList(elem Option, elems []CqlValue) CqlValue {
	return CqlValue{
		Type:  &Option{ID: ListID, List: &ListOption{Element: elem}},
		Value: writeCollection(elems),
	}
}

func CqlFromSet(elem Option, elems []CqlValue) CqlValue {
	return CqlValue{
		Type:  &Option{ID: SetID, Set: &SetOption{Element: elem}},
		Value: writeCollection(elems),
	}
}

func CqlFromMap(key, value Option, keys, values []CqlValue) (CqlValue, error) {
	if len(keys) != len(values) {
		return CqlValue{}, fmt.Errorf("map key count %d != value count %d", len(keys), len(values))
	}
	var b Buffer
	b.WriteInt(Int(len(keys)))
	for i := range keys {
		b.WriteBytes(keys[i].Value)
		b.WriteBytes(values[i].Value)
	}
	return CqlValue{
		Type:  &Option{ID: MapID, Map: &MapOption{Key: key, Value: value}},
		Value: b.Bytes(),
	}, nil
}

// CqlFromUDT serializes fields in declared order.
func CqlFromUDT(udt *UDTOption, fields []CqlValue) (CqlValue, error) {
	if len(fields) != len(udt.FieldTypes) {
		return CqlValue{}, fmt.Errorf("field count %d != declared %d", len(fields), len(udt.FieldTypes))
	}
	var b Buffer
	for i := range fields {
		b.WriteBytes(fields[i].Value)
	}
	return CqlValue{
		Type:  &Option{ID: UDTID, UDT: udt},
		Value: b.Bytes(),
	}, nil
}

func CqlFromTuple(tuple *TupleOption, fields []CqlValue) (CqlValue, error) {
	if len(fields) != len(tuple.ValueTypes) {
		return CqlValue{}, fmt.Errorf("field count %d != declared %d", len(fields), len(tuple.ValueTypes))
	}
	var b Buffer
	for i := range fields {
		b.WriteBytes(fields[i].Value)
	}
	return CqlValue{
		Type:  &Option{ID: TupleID, Tuple: tuple},
		Value: b.Bytes(),
	}, nil
}

// CqlNull is the null column of the given type, wire length -1.
func CqlNull(t Option) CqlValue {
	return CqlValue{Type: &t}
}

func writeCollection(elems []CqlValue) Bytes {
	var b Buffer
	b.WriteInt(Int(len(elems)))
	for i := range elems {
		b.WriteBytes(elems[i].Value)
	}
	return b.Bytes()
}

func bigTwoPow(n uint) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), n)
}

