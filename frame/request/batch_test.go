package request

import (
	"testing"

	"github.com/iotaledger/scylla-go/frame"

	"github.com/google/go-cmp/cmp"
)

func TestBatchWriteTo(t *testing.T) {
	t.Parallel()
	b := Batch{
		Type: frame.UnloggedBatchType,
		Statements: []BatchStatement{
			{
				Kind:   BatchQueryKind,
				Query:  "Q",
				Values: []frame.Value{{N: 1, Bytes: frame.Bytes{0x2A}}},
			},
			{
				Kind: BatchPreparedKind,
				ID:   frame.ShortBytes{0xCA, 0xFE},
			},
		},
		Consistency: frame.QUORUM,
	}

	var out frame.Buffer
	b.WriteTo(&out)
	if err := out.Error(); err != nil {
		t.Fatal(err)
	}

	expected := frame.Bytes{
		0x01,       // unlogged
		0x00, 0x02, // two statements
		0x00,                   // kind: query string
		0x00, 0x00, 0x00, 0x01, // long string length
		'Q',
		0x00, 0x01, // one value
		0x00, 0x00, 0x00, 0x01, 0x2A,
		0x01,       // kind: prepared id
		0x00, 0x02, // short bytes length
		0xCA, 0xFE,
		0x00, 0x00, // no values
		0x00, 0x04, // consistency QUORUM
		0x00, // no flags
	}
	if diff := cmp.Diff(out.Bytes(), expected); diff != "" {
		t.Fatal(diff)
	}
}
