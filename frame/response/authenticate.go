package response

import (
	"github.com/iotaledger/scylla-go/frame"
)

// Authenticate spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L517
type Authenticate struct {
	Name string
}

func ParseAuthenticate(b *frame.Buffer) *Authenticate {
	return &Authenticate{
		Name: b.ReadString(),
	}
}

// AuthChallenge spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L537
type AuthChallenge struct {
	Token frame.Bytes
}

func ParseAuthChallenge(b *frame.Buffer) *AuthChallenge {
	return &AuthChallenge{
		Token: b.ReadBytes(),
	}
}

// AuthSuccess spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L814
type AuthSuccess struct {
	Token frame.Bytes
}

func ParseAuthSuccess(b *frame.Buffer) *AuthSuccess {
	return &AuthSuccess{
		Token: b.ReadBytes(),
	}
}
