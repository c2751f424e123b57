package transport

import (
	"encoding/binary"
)

// Cassandra flavor of Murmur3, matching the server side partitioner bit for
// bit. It differs from the reference x64_128 variant by performing the tail
// mixing on sign-extended bytes, Java bytes are signed.
// https://github.com/apache/cassandra/blob/trunk/src/java/org/apache/cassandra/utils/MurmurHash.java

const (
	murmurC1 int64 = -8663945395140668459 // 0x87c37b91114253d5
	murmurC2 int64 = 5545529020109919103  // 0x4cf5ad432745937f
)

// MurmurToken hashes a serialized partition key to its ring token.
func MurmurToken(partitionKey []byte) Token {
	return Token(murmur3H1(partitionKey))
}

func murmur3H1(data []byte) int64 {
	length := len(data)
	var h1, h2, k1, k2 int64

	nBlocks := length / 16
	for i := 0; i < nBlocks; i++ {
		k1 = int64(binary.LittleEndian.Uint64(data[i*16:]))
		k2 = int64(binary.LittleEndian.Uint64(data[i*16+8:]))

		k1 *= murmurC1
		k1 = rotl(k1, 31)
		k1 *= murmurC2
		h1 ^= k1

		h1 = rotl(h1, 27)
		h1 += h2
		h1 = h1*5 + 0x52dce729

		k2 *= murmurC2
		k2 = rotl(k2, 33)
		k2 *= murmurC1
		h2 ^= k2

		h2 = rotl(h2, 31)
		h2 += h1
		h2 = h2*5 + 0x38495ab5
	}

	tail := data[nBlocks*16:]
	k1, k2 = 0, 0
	switch length & 15 {
	case 15:
		k2 ^= int64(int8(tail[14])) << 48
		fallthrough
	case 14:
		k2 ^= int64(int8(tail[13])) << 40
		fallthrough
	case 13:
		k2 ^= int64(int8(tail[12])) << 32
		fallthrough
	case 12:
		k2 ^= int64(int8(tail[11])) << 24
		fallthrough
	case 11:
		k2 ^= int64(int8(tail[10])) << 16
		fallthrough
	case 10:
		k2 ^= int64(int8(tail[9])) << 8
		fallthrough
	case 9:
		k2 ^= int64(int8(tail[8]))

		k2 *= murmurC2
		k2 = rotl(k2, 33)
		k2 *= murmurC1
		h2 ^= k2
		fallthrough
	case 8:
		k1 ^= int64(int8(tail[7])) << 56
		fallthrough
	case 7:
		k1 ^= int64(int8(tail[6])) << 48
		fallthrough
	case 6:
		k1 ^= int64(int8(tail[5])) << 40
		fallthrough
	case 5:
		k1 ^= int64(int8(tail[4])) << 32
		fallthrough
	case 4:
		k1 ^= int64(int8(tail[3])) << 24
		fallthrough
	case 3:
		k1 ^= int64(int8(tail[2])) << 16
		fallthrough
	case 2:
		k1 ^= int64(int8(tail[1])) << 8
		fallthrough
	case 1:
		k1 ^= int64(int8(tail[0]))

		k1 *= murmurC1
		k1 = rotl(k1, 31)
		k1 *= murmurC2
		h1 ^= k1
	}

	h1 ^= int64(length)
	h2 ^= int64(length)

	h1 += h2
	h2 += h1

	h1 = fmix(h1)
	h2 = fmix(h2)

	h1 += h2

	return h1
}

func rotl(x int64, r uint8) int64 {
	return (x << r) | int64(uint64(x)>>(64-r))
}

func fmix(n int64) int64 {
	n ^= int64(uint64(n) >> 33)
	n *= -49064778989728563 // 0xff51afd7ed558ccd
	n ^= int64(uint64(n) >> 33)
	n *= -4265267296055464877 // 0xc4ceb9fe1a85ec53
	n ^= int64(uint64(n) >> 33)
	return n
}
