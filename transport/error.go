package transport

import (
	"errors"
	"fmt"

	"github.com/iotaledger/scylla-go/frame"
	. "github.com/iotaledger/scylla-go/frame/response"
)

// Client-local worker errors. Server errors arrive as CodedError values
// wrapped in CqlError.
var (
	// ErrOverload means the chosen shard had no free stream ID.
	ErrOverload = errors.New("no free stream ID on shard")
	// ErrLost means the owning connection closed before the response.
	ErrLost = errors.New("connection lost before response")
	// ErrNoRing means dispatch ran before any ring was published.
	ErrNoRing = errors.New("no ring published")
	// ErrNoReplica means the ring had no replica for the requested DC.
	ErrNoReplica = errors.New("no replica for data center")
)

// CqlError is a well-formed server ERROR response.
type CqlError struct {
	Coded CodedError
}

func (e CqlError) Error() string {
	return fmt.Sprintf("cql: %s", e.Coded.Error())
}

func (e CqlError) Unwrap() error {
	return e.Coded
}

// IoError is a socket read or write failure observed mid-request.
type IoError struct {
	Cause error
}

func (e IoError) Error() string {
	return fmt.Sprintf("io: %s", e.Cause)
}

func (e IoError) Unwrap() error {
	return e.Cause
}

// FrameError means response bytes did not parse as a valid v4 frame.
type FrameError struct {
	Cause error
}

func (e FrameError) Error() string {
	return fmt.Sprintf("frame: %s", e.Cause)
}

func (e FrameError) Unwrap() error {
	return e.Cause
}

// responseAsError converts a parsed response into an error if it is one.
func responseAsError(res frame.Response) error {
	if v, ok := res.(CodedError); ok {
		return CqlError{Coded: v}
	}
	return fmt.Errorf("unexpected response %T, %+v", res, res)
}

// Topology errors, returned synchronously from cluster commands.
var (
	ErrDuplicateNode   = errors.New("node already present in cluster")
	ErrUnknownNode     = errors.New("unknown node")
	ErrUnknownKeyspace = errors.New("unknown keyspace")
	ErrUnstableCluster = errors.New("cluster has nodes with missing shard connections")
)

// ConnectFailure wraps the handshake error that failed an AddNode command.
type ConnectFailure struct {
	Addr  string
	Cause error
}

func (e ConnectFailure) Error() string {
	return fmt.Sprintf("connect to %s: %s", e.Addr, e.Cause)
}

func (e ConnectFailure) Unwrap() error {
	return e.Cause
}

// Retryable reports whether a worker error may be retried on a fresh
// replica. Client-local overloads and lost sessions are retryable, as are
// the transient server errors. Syntax and permission class errors are
// terminal.
func Retryable(err error) bool {
	if errors.Is(err, ErrOverload) || errors.Is(err, ErrLost) || errors.Is(err, ErrNoRing) {
		return true
	}
	var io IoError
	if errors.As(err, &io) {
		return true
	}
	var cql CqlError
	if errors.As(err, &cql) {
		switch cql.Coded.ErrorCode() {
		case frame.ErrCodeOverloaded,
			frame.ErrCodeBootstrapping,
			frame.ErrCodeWriteTimeout,
			frame.ErrCodeReadTimeout,
			frame.ErrCodeTruncate:
			return true
		}
	}
	return false
}
