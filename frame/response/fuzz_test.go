package response

import (
	"testing"

	"github.com/iotaledger/scylla-go/frame"
)

// We want to make sure that parsing does not crash the driver even for
// random data. Results go to globals to avoid compiler optimization.
var (
	dummyA *Authenticate
	dummyE frame.Response
	dummyS *Supported
	dummyR frame.Response
)

func FuzzAuthenticate(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) { // nolint:thelper // This is not a helper function.
		var buf frame.Buffer
		buf.Write(data)
		out := ParseAuthenticate(&buf)
		dummyA = out
	})
}

func FuzzError(f *testing.F) {
	f.Add([]byte{0x00, 0x00, 0x25, 0x00, 0x00, 0x00})
	f.Fuzz(func(t *testing.T, data []byte) { // nolint:thelper // This is not a helper function.
		var buf frame.Buffer
		buf.Write(data)
		out := ParseError(&buf)
		dummyE = out
	})
}

func FuzzSupported(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) { // nolint:thelper // This is not a helper function.
		var buf frame.Buffer
		buf.Write(data)
		out := ParseSupported(&buf)
		dummyS = out
	})
}

func FuzzResult(f *testing.F) {
	f.Add([]byte{0x00, 0x00, 0x00, 0x02})
	f.Fuzz(func(t *testing.T, data []byte) { // nolint:thelper // This is not a helper function.
		var buf frame.Buffer
		buf.Write(data)
		out := ParseResult(&buf)
		dummyR = out
	})
}
