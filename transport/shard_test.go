package transport

import (
	"testing"

	"github.com/iotaledger/scylla-go/frame"
	"github.com/iotaledger/scylla-go/frame/response"
)

func TestShardOfKnownToken(t *testing.T) {
	t.Parallel()
	// shard = ((((t + 2^63) as u64) << msb) as u128 * n) >> 64, computed
	// by hand for this vector.
	if got := ShardOf(Token(0x123456789ABCDEF0), 12, 8); got != 2 {
		t.Fatalf("shard: %d", got)
	}
}

func TestShardOfRange(t *testing.T) {
	t.Parallel()
	tokens := []Token{
		-1 << 63, -1, 0, 1, 1<<63 - 1,
		0x123456789ABCDEF0, -0x123456789ABCDEF0,
	}
	for _, msb := range []uint8{0, 1, 12, 63} {
		for _, n := range []uint16{1, 2, 3, 8, 255, 4096} {
			for _, tok := range tokens {
				if s := ShardOf(tok, msb, n); s >= n {
					t.Fatalf("shard %d out of range for token %d msb %d n %d", s, tok, msb, n)
				}
			}
		}
	}
}

func TestShardOfNeedsWideArithmetic(t *testing.T) {
	t.Parallel()
	// Tokens in the upper half of the space exercise the 128-bit multiply,
	// a 64-bit intermediate would truncate to shard 0 for all of them.
	hit := map[uint16]bool{}
	for i := 0; i < 1000; i++ {
		tok := Token(1<<62 + int64(i)*(1<<51))
		hit[ShardOf(tok, 12, 8)] = true
	}
	if len(hit) < 2 {
		t.Fatalf("upper tokens all landed on the same shard: %v", hit)
	}
}

func TestParseShardInfo(t *testing.T) {
	t.Parallel()
	var b frame.Buffer
	b.WriteStringMultiMap(fakeShardInfo)
	sup := response.ParseSupported(&b)

	si, err := ParseShardInfo(sup)
	if err != nil {
		t.Fatal(err)
	}
	expected := ShardInfo{Shard: 2, NrShards: 4, Msb: 12, ShardAwarePort: 19042}
	if si != expected {
		t.Fatalf("shard info: %+v", si)
	}
}

func TestParseShardInfoRejectsMissingOptions(t *testing.T) {
	t.Parallel()
	var b frame.Buffer
	b.WriteStringMultiMap(frame.StringMultiMap{"CQL_VERSION": {"3.0.0"}})
	sup := response.ParseSupported(&b)

	if _, err := ParseShardInfo(sup); err == nil {
		t.Fatal("expected unsupported server error")
	}
}

func TestShardPortIterator(t *testing.T) {
	t.Parallel()
	for _, si := range []ShardInfo{
		{Shard: 0, NrShards: 1},
		{Shard: 2, NrShards: 4},
		{Shard: 7, NrShards: 8},
		{Shard: 11, NrShards: 12},
	} {
		it := ShardPortIterator(si)
		seen := map[uint16]bool{}
		for i := 0; i < 1000; i++ {
			p := it()
			if p < minPort {
				t.Fatalf("port %d below range", p)
			}
			if p%si.NrShards != si.Shard {
				t.Fatalf("port %d does not map to shard %d of %d", p, si.Shard, si.NrShards)
			}
			if seen[p] && i < (maxPort-minPort)/int(si.NrShards) {
				t.Fatalf("port %d repeated too early", p)
			}
			seen[p] = true
		}
	}
}
