package transport

import (
	"fmt"
	"math/bits"
	"math/rand"
	"strconv"

	"github.com/iotaledger/scylla-go/frame"
	. "github.com/iotaledger/scylla-go/frame/response"
)

// ShardInfo describes the sharding parameters a connection learned from the
// SUPPORTED frame.
type ShardInfo struct {
	Shard          uint16
	NrShards       uint16
	Msb            uint8
	ShardAwarePort uint16
}

// ParseShardInfo extracts the Scylla sharding options. An absent shard
// option means the server is not shard aware and the connection must be
// treated as unsupported.
func ParseShardInfo(s *Supported) (ShardInfo, error) {
	var si ShardInfo
	shard, err := strconv.ParseUint(s.Single(frame.ScyllaShard), 10, 16)
	if err != nil {
		return ShardInfo{}, fmt.Errorf("parse %s: %w", frame.ScyllaShard, err)
	}
	nrShards, err := strconv.ParseUint(s.Single(frame.ScyllaNrShards), 10, 16)
	if err != nil {
		return ShardInfo{}, fmt.Errorf("parse %s: %w", frame.ScyllaNrShards, err)
	}
	if nrShards == 0 {
		return ShardInfo{}, fmt.Errorf("%s is zero", frame.ScyllaNrShards)
	}
	msb, err := strconv.ParseUint(s.Single(frame.ScyllaShardingIgnoreMSB), 10, 8)
	if err != nil {
		return ShardInfo{}, fmt.Errorf("parse %s: %w", frame.ScyllaShardingIgnoreMSB, err)
	}
	si.Shard = uint16(shard)
	si.NrShards = uint16(nrShards)
	si.Msb = uint8(msb)

	// The shard aware port is optional, older clusters don't expose it.
	if v := s.Single(frame.ScyllaShardAwarePort); v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return ShardInfo{}, fmt.Errorf("parse %s: %w", frame.ScyllaShardAwarePort, err)
		}
		si.ShardAwarePort = uint16(port)
	}
	return si, nil
}

// ShardOf maps a token to the owning shard of a replica with the given
// sharding parameters. The multiply must be done in 128-bit arithmetic,
// 64-bit intermediates corrupt the upper half of the token space.
func ShardOf(t Token, msb uint8, nrShards uint16) uint16 {
	z := (uint64(t) + 1<<63) << msb
	hi, _ := bits.Mul64(z, uint64(nrShards))
	return uint16(hi)
}

const (
	minPort = 0x8000
	maxPort = 0xFFFF
)

// ShardPortIterator yields local ports p with p mod NrShards == Shard,
// starting from a random position in the ephemeral range and wrapping.
func ShardPortIterator(si ShardInfo) func() uint16 {
	nr := int(si.NrShards)
	pos := rand.Intn(maxPort-minPort+1) + minPort
	pos -= pos % nr
	pos += int(si.Shard)
	if pos < minPort {
		pos += nr
	}

	return func() uint16 {
		if pos > maxPort {
			pos = minPort + (nr-minPort%nr)%nr + int(si.Shard)
		}
		p := pos
		pos += nr
		return uint16(p)
	}
}
