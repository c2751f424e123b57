package transport

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func testNodes() []NodeInfo {
	return []NodeInfo{
		{Addr: "10.0.0.1:9042", DC: "us", Tokens: []Token{-6_000_000_000_000_000_000, 0, 5_000_000_000_000_000_000}, ShardCount: 4, Msb: 12},
		{Addr: "10.0.0.2:9042", DC: "us", Tokens: []Token{-3_000_000_000_000_000_000, 2_000_000_000_000_000_000}, ShardCount: 8, Msb: 12},
		{Addr: "10.0.0.3:9042", DC: "eu", Tokens: []Token{-1_000_000_000_000_000_000, 7_000_000_000_000_000_000}, ShardCount: 2, Msb: 10},
		{Addr: "10.0.0.4:9042", DC: "eu", Tokens: []Token{4_000_000_000_000_000_000}, ShardCount: 2, Msb: 10},
	}
}

func testKeyspaces() map[string]ReplicationStrategy {
	return map[string]ReplicationStrategy{
		"simple": SimpleStrategy{RF: 2},
		"nts":    NetworkTopologyStrategy{DCFactors: map[DC]int{"us": 2, "eu": 1}},
		"wide":   SimpleStrategy{RF: 10},
	}
}

func TestRingCoverage(t *testing.T) {
	t.Parallel()
	ring, err := BuildTokenRing(1, "us", testNodes(), testKeyspaces())
	require.NoError(t, err)

	r := rand.New(rand.NewSource(7))
	tokens := []Token{math.MinInt64, math.MinInt64 + 1, -1, 0, 1, math.MaxInt64}
	for i := 0; i < 10_000; i++ {
		tokens = append(tokens, Token(r.Uint64()))
	}
	for _, tok := range tokens {
		for _, dc := range []DC{"us", "eu"} {
			require.NotEmptyf(t, ring.Replicas(tok, "simple", dc), "token %d dc %s", tok, dc)
		}
	}
}

func TestRingReplicationFactor(t *testing.T) {
	t.Parallel()
	ring, err := BuildTokenRing(1, "us", testNodes(), testKeyspaces())
	require.NoError(t, err)

	r := rand.New(rand.NewSource(13))
	for i := 0; i < 1000; i++ {
		tok := Token(r.Uint64())

		// simple: rf 2 in both DCs.
		require.Len(t, ring.Replicas(tok, "simple", "us"), 2)
		require.Len(t, ring.Replicas(tok, "simple", "eu"), 2)

		// nts: 2 in us, 1 in eu.
		require.Len(t, ring.Replicas(tok, "nts", "us"), 2)
		require.Len(t, ring.Replicas(tok, "nts", "eu"), 1)

		// wide: rf 10 capped at live nodes per DC.
		require.Len(t, ring.Replicas(tok, "wide", "us"), 2)
		require.Len(t, ring.Replicas(tok, "wide", "eu"), 2)

		// unknown keyspace: single replica.
		require.Len(t, ring.Replicas(tok, "", "us"), 1)
	}
}

func TestRingReplicasDistinct(t *testing.T) {
	t.Parallel()
	ring, err := BuildTokenRing(1, "us", testNodes(), testKeyspaces())
	require.NoError(t, err)

	r := rand.New(rand.NewSource(17))
	for i := 0; i < 1000; i++ {
		tok := Token(r.Uint64())
		for _, dc := range []DC{"us", "eu"} {
			reps := ring.Replicas(tok, "wide", dc)
			seen := map[string]struct{}{}
			for _, rep := range reps {
				require.Equal(t, dc, rep.DC)
				_, dup := seen[rep.Addr]
				require.Falsef(t, dup, "duplicate replica %s for token %d", rep.Addr, tok)
				seen[rep.Addr] = struct{}{}
			}
		}
	}
}

func TestRingPrimaryReplicaOwnsToken(t *testing.T) {
	t.Parallel()
	nodes := []NodeInfo{
		{Addr: "a:9042", DC: "dc1", Tokens: []Token{0}, ShardCount: 1, Msb: 0},
		{Addr: "b:9042", DC: "dc1", Tokens: []Token{100}, ShardCount: 1, Msb: 0},
	}
	ring, err := BuildTokenRing(1, "dc1", nodes, nil)
	require.NoError(t, err)

	// (MIN, 0] is owned by a, (0, 100] by b, the wrap (100, MAX] by the
	// first endpoint's owner a.
	require.Equal(t, "a:9042", ring.Replicas(-5, "", "dc1")[0].Addr)
	require.Equal(t, "a:9042", ring.Replicas(0, "", "dc1")[0].Addr)
	require.Equal(t, "b:9042", ring.Replicas(1, "", "dc1")[0].Addr)
	require.Equal(t, "b:9042", ring.Replicas(100, "", "dc1")[0].Addr)
	require.Equal(t, "a:9042", ring.Replicas(101, "", "dc1")[0].Addr)
	require.Equal(t, "a:9042", ring.Replicas(math.MaxInt64, "", "dc1")[0].Addr)
	require.Equal(t, "a:9042", ring.Replicas(math.MinInt64, "", "dc1")[0].Addr)
}

func TestRingBuildErrors(t *testing.T) {
	t.Parallel()
	_, err := BuildTokenRing(1, "us", nil, nil)
	require.Error(t, err)

	_, err = BuildTokenRing(1, "us", []NodeInfo{{Addr: "a:9042", DC: "us"}}, nil)
	require.Error(t, err)
}

func TestRingHolderPublish(t *testing.T) {
	t.Parallel()
	var h RingHolder
	require.Nil(t, h.Load())
	require.EqualValues(t, 0, h.Generation())

	r1, err := BuildTokenRing(1, "us", testNodes(), nil)
	require.NoError(t, err)
	h.Publish(r1)
	require.Equal(t, r1, h.Load())
	require.EqualValues(t, 1, h.Generation())

	view := NewRingView(&h)
	require.Equal(t, r1, view.Current())

	r2, err := BuildTokenRing(2, "us", testNodes(), nil)
	require.NoError(t, err)
	h.Publish(r2)
	require.Equal(t, r2, view.Current())
}

// Concurrent readers keep resolving replicas while new generations are
// published. No reader may ever observe an older generation than one it
// already saw, and all converge after the last publication.
func TestRingRebuildUnderRead(t *testing.T) {
	t.Parallel()
	var h RingHolder

	first, err := BuildTokenRing(1, "us", testNodes()[:3], testKeyspaces())
	require.NoError(t, err)
	h.Publish(first)

	const (
		readers       = 64
		lookupsPerGen = 200
		generations   = 16
	)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, readers)

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			view := NewRingView(&h)
			var lastGen uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				ring := view.Current()
				if ring.Generation() < lastGen {
					errs <- errGenerationWentBackwards
					return
				}
				lastGen = ring.Generation()
				tok := Token(r.Uint64())
				if len(ring.Replicas(tok, "simple", ring.LocalDC())) == 0 {
					errs <- errEmptyReplicas
					return
				}
			}
		}(int64(i))
	}

	nodes := testNodes()
	for gen := uint64(2); gen < 2+generations; gen++ {
		ring, err := BuildTokenRing(gen, "us", nodes, testKeyspaces())
		require.NoError(t, err)
		h.Publish(ring)
		for i := 0; i < lookupsPerGen; i++ {
			_ = h.Load().Replicas(Token(int64(i)), "simple", "us")
		}
	}

	close(stop)
	wg.Wait()
	select {
	case err := <-errs:
		t.Fatal(err)
	default:
	}

	// A fresh view converges to the last generation.
	require.EqualValues(t, 1+generations, NewRingView(&h).Current().Generation())
}

var (
	errGenerationWentBackwards = requireError("ring generation went backwards")
	errEmptyReplicas           = requireError("empty replica set during rebuild")
)

type requireError string

func (e requireError) Error() string { return string(e) }
