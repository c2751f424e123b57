package response

import (
	"fmt"

	"github.com/iotaledger/scylla-go/frame"
)

// Event spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L754
type TopologyChangeEvent struct {
	Change  string
	Address frame.Inet
}

type StatusChangeEvent struct {
	Status  string
	Address frame.Inet
}

type SchemaChangeEvent struct {
	SchemaChangeResult
}

func ParseEvent(b *frame.Buffer) frame.Response {
	switch t := b.ReadEventType(); t {
	case frame.TopologyChange:
		return &TopologyChangeEvent{
			Change:  b.ReadString(),
			Address: b.ReadInet(),
		}
	case frame.StatusChange:
		return &StatusChangeEvent{
			Status:  b.ReadString(),
			Address: b.ReadInet(),
		}
	case frame.SchemaChange:
		return &SchemaChangeEvent{*ParseSchemaChange(b)}
	default:
		b.RecordError(fmt.Errorf("unknown event type: %s", t))
		return nil
	}
}
