package request

import (
	"github.com/iotaledger/scylla-go/frame"
)

var _ frame.Request = (*AuthResponse)(nil)

// AuthResponse spec: https://github.com/apache/cassandra/blob/adcff3f630c0d07d1ba33bf23fcb11a6db1b9af1/doc/native_protocol_v4.spec#L311
type AuthResponse struct {
	Token frame.Bytes
}

// NewPlainAuthResponse encodes PLAIN SASL credentials.
func NewPlainAuthResponse(username, password string) *AuthResponse {
	token := make(frame.Bytes, 0, len(username)+len(password)+2)
	token = append(token, 0)
	token = append(token, username...)
	token = append(token, 0)
	token = append(token, password...)
	return &AuthResponse{Token: token}
}

func (a *AuthResponse) WriteTo(b *frame.Buffer) {
	b.WriteBytes(a.Token)
}

func (*AuthResponse) OpCode() frame.OpCode {
	return frame.OpAuthResponse
}
