package frame

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressorRoundTrip(t *testing.T) {
	t.Parallel()
	payloads := [][]byte{
		[]byte("short"),
		[]byte(strings.Repeat("SELECT * FROM ks.t WHERE pk = ? ", 512)),
		make([]byte, 4096),
	}

	for _, name := range []string{"lz4", "snappy"} {
		name := name
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c, err := NewCompressor(name)
			if err != nil {
				t.Fatal(err)
			}
			if c.Name() != name {
				t.Fatalf("name: %s", c.Name())
			}

			for _, in := range payloads {
				compressed, err := c.Compress(in)
				if err != nil {
					t.Fatal(err)
				}
				out, err := c.Decompress(compressed)
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(in, out) {
					t.Fatalf("round trip mismatch for %d byte payload", len(in))
				}
			}
		})
	}
}

func TestNewCompressor(t *testing.T) {
	t.Parallel()
	if c, err := NewCompressor(""); err != nil || c != nil {
		t.Fatalf("empty name: %v %v", c, err)
	}
	if _, err := NewCompressor("zstd"); err == nil {
		t.Fatal("expected unknown algorithm error")
	}
}

func TestLz4DecompressRejectsTruncated(t *testing.T) {
	t.Parallel()
	if _, err := (Lz4Compressor{}).Decompress([]byte{0x00}); err == nil {
		t.Fatal("expected missing prefix error")
	}
}
