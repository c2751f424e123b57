package request

import (
	"testing"

	"github.com/iotaledger/scylla-go/frame"

	"github.com/google/go-cmp/cmp"
)

func TestQueryWithValuesNoPaging(t *testing.T) {
	t.Parallel()

	const stmt = "SELECT v FROM ks.t WHERE k = ?"
	q := Query{
		Query:       stmt,
		Consistency: frame.ONE,
		Options: QueryOptions{
			Values: []frame.Value{{N: 4, Bytes: frame.Bytes{0x00, 0x00, 0x00, 0x2A}}},
		},
	}

	var out frame.Buffer
	q.WriteTo(&out)
	if err := out.Error(); err != nil {
		t.Fatal(err)
	}

	expected := frame.Bytes{0x00, 0x00, 0x00, 0x1E}
	expected = append(expected, stmt...)
	expected = append(expected,
		0x00, 0x01, // consistency ONE
		0x01,       // flags: VALUES
		0x00, 0x01, // value count
		0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x2A, // i32 42
	)
	if diff := cmp.Diff(out.Bytes(), expected); diff != "" {
		t.Fatal(diff)
	}
}

func TestQueryOptionsFlags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		options  QueryOptions
		expected frame.QueryFlags
	}{
		{
			name:     "no options",
			options:  QueryOptions{},
			expected: 0,
		},
		{
			name:     "values",
			options:  QueryOptions{Values: []frame.Value{{N: 1, Bytes: frame.Bytes{1}}}},
			expected: frame.Values,
		},
		{
			name:     "page size",
			options:  QueryOptions{PageSize: 100},
			expected: frame.PageSize,
		},
		{
			name:     "paging state",
			options:  QueryOptions{PagingState: frame.Bytes{0xAA}},
			expected: frame.WithPagingState,
		},
		{
			name: "serial consistency and timestamp",
			options: QueryOptions{
				SerialConsistency:    frame.SERIAL,
				HasSerialConsistency: true,
				DefaultTimestamp:     0,
				HasDefaultTimestamp:  true,
			},
			expected: frame.WithSerialConsistency | frame.WithDefaultTimestamp,
		},
		{
			name: "names for values",
			options: QueryOptions{
				Values: []frame.Value{{N: 1, Bytes: frame.Bytes{1}}},
				Names:  frame.StringList{"k"},
			},
			expected: frame.Values | frame.WithNamesForValues,
		},
	}

	for i := 0; i < len(testCases); i++ {
		tc := testCases[i]
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.options.Flags(); got != tc.expected {
				t.Fatalf("flags: %#02x, expected %#02x", got, tc.expected)
			}
		})
	}
}

func TestQueryOpCode(t *testing.T) {
	t.Parallel()
	var q Query
	if q.OpCode() != frame.OpQuery {
		t.Fatal("wrong opcode")
	}
}
