package transport

import (
	"math/rand"
	"testing"
)

func TestMurmurTokenDeterministic(t *testing.T) {
	t.Parallel()
	keys := [][]byte{
		{},
		{0x00},
		[]byte("k"),
		[]byte("partition key"),
		[]byte("0123456789abcdef"),          // exactly one block
		[]byte("0123456789abcdef0123456"),   // block plus tail
		{0x80, 0xFF, 0x7F, 0x00, 0x81, 0x90}, // high bytes exercise sign extension
	}
	for _, k := range keys {
		a := MurmurToken(k)
		b := MurmurToken(k)
		if a != b {
			t.Fatalf("token of %v not deterministic: %d != %d", k, a, b)
		}
	}
}

func TestMurmurTokenSpread(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(42))
	seen := map[Token]struct{}{}
	var negative, positive int
	for i := 0; i < 4096; i++ {
		key := make([]byte, 4+r.Intn(28))
		r.Read(key)
		tok := MurmurToken(key)
		seen[tok] = struct{}{}
		if tok < 0 {
			negative++
		} else {
			positive++
		}
	}
	if len(seen) < 4090 {
		t.Fatalf("too many collisions: %d distinct tokens", len(seen))
	}
	// A correct 64-bit hash lands on both halves of the token space.
	if negative == 0 || positive == 0 {
		t.Fatalf("skewed tokens: %d negative, %d positive", negative, positive)
	}
}

func TestMurmurTokenTailLengths(t *testing.T) {
	t.Parallel()
	// Every tail length from 0 to 15 takes a distinct switch path, all of
	// them must produce distinct values for a growing prefix of the same
	// data.
	data := []byte("0123456789abcdef0123456789abcde")
	seen := map[Token]struct{}{}
	for n := 16; n <= len(data); n++ {
		seen[MurmurToken(data[:n])] = struct{}{}
	}
	if len(seen) != len(data)-15 {
		t.Fatalf("tail lengths collided: %d distinct of %d", len(seen), len(data)-15)
	}
}
