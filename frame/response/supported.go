package response

import (
	"github.com/iotaledger/scylla-go/frame"
)

// Supported spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L537
type Supported struct {
	Options frame.StringMultiMap
}

func ParseSupported(b *frame.Buffer) *Supported {
	return &Supported{
		Options: b.ReadStringMultiMap(),
	}
}

// Single returns the first value of the given option, "" when absent.
func (s *Supported) Single(key string) string {
	if v, ok := s.Options[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}
