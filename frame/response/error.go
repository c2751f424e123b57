package response

import (
	"fmt"

	"github.com/iotaledger/scylla-go/frame"
)

// CodedError is implemented by every parsed ERROR response body.
type CodedError interface {
	error
	ErrorCode() frame.Int
}

// ScyllaError is the common part of all ERROR responses.
// Error spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L1046
type ScyllaError struct {
	Code    frame.Int
	Message string
}

func ParseScyllaError(b *frame.Buffer) ScyllaError {
	return ScyllaError{
		Code:    b.ReadInt(),
		Message: b.ReadString(),
	}
}

func (e ScyllaError) ErrorCode() frame.Int {
	return e.Code
}

func (e ScyllaError) Error() string {
	return fmt.Sprintf("[scylla error code=%#04x message=%q]", e.Code, e.Message)
}

type UnavailableError struct {
	ScyllaError
	Consistency frame.Consistency
	Required    frame.Int
	Alive       frame.Int
}

func ParseUnavailableError(b *frame.Buffer, se ScyllaError) UnavailableError {
	return UnavailableError{
		ScyllaError: se,
		Consistency: b.ReadConsistency(),
		Required:    b.ReadInt(),
		Alive:       b.ReadInt(),
	}
}

type WriteTimeoutError struct {
	ScyllaError
	Consistency frame.Consistency
	Received    frame.Int
	BlockFor    frame.Int
	WriteType   frame.WriteType
}

func ParseWriteTimeoutError(b *frame.Buffer, se ScyllaError) WriteTimeoutError {
	return WriteTimeoutError{
		ScyllaError: se,
		Consistency: b.ReadConsistency(),
		Received:    b.ReadInt(),
		BlockFor:    b.ReadInt(),
		WriteType:   b.ReadWriteType(),
	}
}

type ReadTimeoutError struct {
	ScyllaError
	Consistency frame.Consistency
	Received    frame.Int
	BlockFor    frame.Int
	DataPresent frame.Byte
}

func ParseReadTimeoutError(b *frame.Buffer, se ScyllaError) ReadTimeoutError {
	return ReadTimeoutError{
		ScyllaError: se,
		Consistency: b.ReadConsistency(),
		Received:    b.ReadInt(),
		BlockFor:    b.ReadInt(),
		DataPresent: b.ReadByte(),
	}
}

type ReadFailureError struct {
	ScyllaError
	Consistency frame.Consistency
	Received    frame.Int
	BlockFor    frame.Int
	NumFailures frame.Int
	DataPresent frame.Byte
}

func ParseReadFailureError(b *frame.Buffer, se ScyllaError) ReadFailureError {
	return ReadFailureError{
		ScyllaError: se,
		Consistency: b.ReadConsistency(),
		Received:    b.ReadInt(),
		BlockFor:    b.ReadInt(),
		NumFailures: b.ReadInt(),
		DataPresent: b.ReadByte(),
	}
}

type FuncFailureError struct {
	ScyllaError
	Keyspace string
	Function string
	ArgTypes frame.StringList
}

func ParseFuncFailureError(b *frame.Buffer, se ScyllaError) FuncFailureError {
	return FuncFailureError{
		ScyllaError: se,
		Keyspace:    b.ReadString(),
		Function:    b.ReadString(),
		ArgTypes:    b.ReadStringList(),
	}
}

type WriteFailureError struct {
	ScyllaError
	Consistency frame.Consistency
	Received    frame.Int
	BlockFor    frame.Int
	NumFailures frame.Int
	WriteType   frame.WriteType
}

func ParseWriteFailureError(b *frame.Buffer, se ScyllaError) WriteFailureError {
	return WriteFailureError{
		ScyllaError: se,
		Consistency: b.ReadConsistency(),
		Received:    b.ReadInt(),
		BlockFor:    b.ReadInt(),
		NumFailures: b.ReadInt(),
		WriteType:   b.ReadWriteType(),
	}
}

type AlreadyExistsError struct {
	ScyllaError
	Keyspace string
	Table    string
}

func ParseAlreadyExistsError(b *frame.Buffer, se ScyllaError) AlreadyExistsError {
	return AlreadyExistsError{
		ScyllaError: se,
		Keyspace:    b.ReadString(),
		Table:       b.ReadString(),
	}
}

// UnpreparedError carries the prepared statement ID the server no longer
// knows. Dispatch uses it to reprepare and replay.
type UnpreparedError struct {
	ScyllaError
	UnknownID frame.ShortBytes
}

func ParseUnpreparedError(b *frame.Buffer, se ScyllaError) UnpreparedError {
	return UnpreparedError{
		ScyllaError: se,
		UnknownID:   b.ReadShortBytes(),
	}
}

// ParseError parses an ERROR body into the most specific error type.
// The returned value implements both frame.Response and CodedError.
func ParseError(b *frame.Buffer) frame.Response {
	se := ParseScyllaError(b)
	switch se.Code {
	case frame.ErrCodeUnavailable:
		return ParseUnavailableError(b, se)
	case frame.ErrCodeWriteTimeout:
		return ParseWriteTimeoutError(b, se)
	case frame.ErrCodeReadTimeout:
		return ParseReadTimeoutError(b, se)
	case frame.ErrCodeReadFailure:
		return ParseReadFailureError(b, se)
	case frame.ErrCodeFunctionFailure:
		return ParseFuncFailureError(b, se)
	case frame.ErrCodeWriteFailure:
		return ParseWriteFailureError(b, se)
	case frame.ErrCodeAlreadyExists:
		return ParseAlreadyExistsError(b, se)
	case frame.ErrCodeUnprepared:
		return ParseUnpreparedError(b, se)
	default:
		return se
	}
}
