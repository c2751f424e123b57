package frame

// Generic types from CQL binary protocol.
// https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L214-L266
type (
	Byte           = byte
	Short          = uint16
	Int            = int32
	Long           = int64
	UUID           = [16]byte
	StringList     = []string
	Bytes          = []byte
	ShortBytes     = []byte
	StringMap      = map[string]string
	StringMultiMap = map[string][]string

	StreamID    = int16
	OpCode      = byte
	Consistency = uint16
	HeaderFlags = byte
	QueryFlags  = byte
	ResultFlags = Int
	BatchFlags  = byte
)

// Request is the interface that must be implemented by all request frames.
type Request interface {
	WriteTo(b *Buffer)
	OpCode() OpCode
}

// Response is a marker interface implemented by all response frames.
type Response interface{}

const (
	CQLv4       Byte = 0x4
	HeaderSize       = 9
	maxStreamID      = 32768
)

// Header spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L101
type Header struct {
	Version  Byte
	Flags    HeaderFlags
	StreamID StreamID
	OpCode   OpCode
	Length   Int
}

func (h Header) WriteTo(b *Buffer) {
	b.WriteByte(h.Version)
	b.WriteHeaderFlags(h.Flags)
	b.WriteStreamID(h.StreamID)
	b.WriteOpCode(h.OpCode)
	b.WriteInt(h.Length)
}

func ParseHeader(b *Buffer) Header {
	return Header{
		Version:  b.ReadByte(),
		Flags:    b.ReadHeaderFlags(),
		StreamID: b.ReadStreamID(),
		OpCode:   b.ReadOpCode(),
		Length:   b.ReadInt(),
	}
}

const (
	OpError         OpCode = 0x00
	OpStartup       OpCode = 0x01
	OpReady         OpCode = 0x02
	OpAuthenticate  OpCode = 0x03
	OpOptions       OpCode = 0x05
	OpSupported     OpCode = 0x06
	OpQuery         OpCode = 0x07
	OpResult        OpCode = 0x08
	OpPrepare       OpCode = 0x09
	OpExecute       OpCode = 0x0A
	OpRegister      OpCode = 0x0B
	OpEvent         OpCode = 0x0C
	OpBatch         OpCode = 0x0D
	OpAuthChallenge OpCode = 0x0E
	OpAuthResponse  OpCode = 0x0F
	OpAuthSuccess   OpCode = 0x10
)

// Header flags.
const (
	Compression   HeaderFlags = 0x01
	Tracing       HeaderFlags = 0x02
	CustomPayload HeaderFlags = 0x04
	Warning       HeaderFlags = 0x08
)

// Query flags.
const (
	Values                QueryFlags = 0x01
	SkipMetadata          QueryFlags = 0x02
	PageSize              QueryFlags = 0x04
	WithPagingState       QueryFlags = 0x08
	WithSerialConsistency QueryFlags = 0x10
	WithDefaultTimestamp  QueryFlags = 0x20
	WithNamesForValues    QueryFlags = 0x40
)

// Result metadata flags.
const (
	GlobalTablesSpec ResultFlags = 0x0001
	HasMorePages     ResultFlags = 0x0002
	NoMetadata       ResultFlags = 0x0004
)

// Consistency levels.
const (
	ANY         Consistency = 0x0000
	ONE         Consistency = 0x0001
	TWO         Consistency = 0x0002
	THREE       Consistency = 0x0003
	QUORUM      Consistency = 0x0004
	ALL         Consistency = 0x0005
	LOCALQUORUM Consistency = 0x0006
	EACHQUORUM  Consistency = 0x0007
	SERIAL      Consistency = 0x0008
	LOCALSERIAL Consistency = 0x0009
	LOCALONE    Consistency = 0x000A

	InvalidConsistency Consistency = 0x000B
)

// Result kinds.
const (
	VoidKind         Int = 1
	RowsKind         Int = 2
	SetKeySpaceKind  Int = 3
	PreparedKind     Int = 4
	SchemaChangeKind Int = 5
)

// Error codes.
const (
	ErrCodeServer          Int = 0x0000
	ErrCodeProtocol        Int = 0x000A
	ErrCodeCredentials     Int = 0x0100
	ErrCodeUnavailable     Int = 0x1000
	ErrCodeOverloaded      Int = 0x1001
	ErrCodeBootstrapping   Int = 0x1002
	ErrCodeTruncate        Int = 0x1003
	ErrCodeWriteTimeout    Int = 0x1100
	ErrCodeReadTimeout     Int = 0x1200
	ErrCodeReadFailure     Int = 0x1300
	ErrCodeFunctionFailure Int = 0x1400
	ErrCodeWriteFailure    Int = 0x1500
	ErrCodeSyntax          Int = 0x2000
	ErrCodeUnauthorized    Int = 0x2100
	ErrCodeInvalid         Int = 0x2200
	ErrCodeConfig          Int = 0x2300
	ErrCodeAlreadyExists   Int = 0x2400
	ErrCodeUnprepared      Int = 0x2500
)

type WriteType string

const (
	Simple        WriteType = "SIMPLE"
	Batch         WriteType = "BATCH"
	UnloggedBatch WriteType = "UNLOGGED_BATCH"
	Counter       WriteType = "COUNTER"
	BatchLog      WriteType = "BATCH_LOG"
	CAS           WriteType = "CAS"
	View          WriteType = "VIEW"
	CDC           WriteType = "CDC"
)

// ValidWriteTypes lists every write type a well-formed WriteTimeout or
// WriteFailure error can carry.
var ValidWriteTypes = map[WriteType]struct{}{
	Simple:        {},
	Batch:         {},
	UnloggedBatch: {},
	Counter:       {},
	BatchLog:      {},
	CAS:           {},
	View:          {},
	CDC:           {},
}

// Batch types.
const (
	LoggedBatchType   Byte = 0
	UnloggedBatchType Byte = 1
	CounterBatchType  Byte = 2
)

// Supported startup options.
const (
	CQLVersionOption  = "CQL_VERSION"
	CompressionOption = "COMPRESSION"

	// Scylla extensions announced in SUPPORTED.
	ScyllaShard             = "SCYLLA_SHARD"
	ScyllaNrShards          = "SCYLLA_NR_SHARDS"
	ScyllaShardingIgnoreMSB = "SCYLLA_SHARDING_IGNORE_MSB"
	ScyllaShardAwarePort    = "SCYLLA_SHARD_AWARE_PORT"
	ScyllaPartitioner       = "SCYLLA_PARTITIONER"
	ScyllaShardingAlgorithm = "SCYLLA_SHARDING_ALGORITHM"
)

const CQLVersion = "3.0.0"
