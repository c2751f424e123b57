package request

import (
	"github.com/iotaledger/scylla-go/frame"
)

var _ frame.Request = (*Startup)(nil)

// Startup spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L290
type Startup struct {
	Options frame.StringMap
}

func (s *Startup) WriteTo(b *frame.Buffer) {
	b.WriteStringMap(s.Options)
}

func (*Startup) OpCode() frame.OpCode {
	return frame.OpStartup
}
