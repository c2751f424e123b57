package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"
	"github.com/pierrec/lz4/v4"
)

// Compressor compresses and decompresses frame bodies with the algorithm
// negotiated at STARTUP. Implementations must be safe for concurrent use.
type Compressor interface {
	// Name is the value sent in the STARTUP COMPRESSION option.
	Name() string
	Compress(src Bytes) (Bytes, error)
	Decompress(src Bytes) (Bytes, error)
}

// NewCompressor returns the compressor registered under the given STARTUP
// option value, nil for the empty string.
func NewCompressor(name string) (Compressor, error) {
	switch name {
	case "":
		return nil, nil
	case "lz4":
		return Lz4Compressor{}, nil
	case "snappy":
		return SnappyCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm: %q", name)
	}
}

// Lz4Compressor implements the lz4 block format with the 4-byte big-endian
// uncompressed length prefix the CQL framing requires.
type Lz4Compressor struct{}

func (Lz4Compressor) Name() string {
	return "lz4"
}

func (Lz4Compressor) Compress(src Bytes) (Bytes, error) {
	dst := make(Bytes, 4+lz4.CompressBlockBound(len(src)))
	binary.BigEndian.PutUint32(dst, uint32(len(src)))

	var c lz4.Compressor
	n, err := c.CompressBlock(src, dst[4:])
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	return dst[:4+n], nil
}

func (Lz4Compressor) Decompress(src Bytes) (Bytes, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("lz4 decompress: missing length prefix")
	}
	n := binary.BigEndian.Uint32(src)
	dst := make(Bytes, n)
	if n == 0 {
		return dst, nil
	}
	out, err := lz4.UncompressBlock(src[4:], dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if out != int(n) {
		return nil, fmt.Errorf("lz4 decompress: expected %d bytes, got %d", n, out)
	}
	return dst, nil
}

// SnappyCompressor implements the raw snappy block format. Decompression
// goes through s2 which reads snappy input and handles blocks larger than
// the snappy package accepts.
type SnappyCompressor struct{}

func (SnappyCompressor) Name() string {
	return "snappy"
}

func (SnappyCompressor) Compress(src Bytes) (Bytes, error) {
	return snappy.Encode(nil, src), nil
}

func (SnappyCompressor) Decompress(src Bytes) (Bytes, error) {
	dst, err := s2.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	return dst, nil
}
