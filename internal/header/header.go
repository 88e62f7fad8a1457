// Package header assembles the 80-byte Stratum block header, honoring
// the endianness choreography the wire format demands: the server
// delivers fields in mixed orderings, and mis-ordering any one of them
// silently invalidates every share.
package header

import "encoding/binary"

// PrefixLen is the size in bytes of the header before the nonce is
// appended (version + prevhash + merkle root + ntime + nbits).
const PrefixLen = 4 + 32 + 32 + 4 + 4

// Len is the full 80-byte block header size.
const Len = PrefixLen + 4

// Reverse4 returns a copy of a 4-byte word with its byte order reversed.
func Reverse4(w []byte) []byte {
	if len(w) != 4 {
		panic("header: Reverse4 requires a 4-byte word")
	}
	out := make([]byte, 4)
	out[0], out[1], out[2], out[3] = w[3], w[2], w[1], w[0]
	return out
}

// ReverseWords4 partitions a 32-byte value into eight 4-byte words and
// reverses the byte order of each word independently; word order is
// preserved. It is its own inverse.
func ReverseWords4(s []byte) []byte {
	if len(s)%4 != 0 {
		panic("header: ReverseWords4 requires a 4-byte-aligned input")
	}
	out := make([]byte, len(s))
	for i := 0; i < len(s); i += 4 {
		copy(out[i:i+4], Reverse4(s[i:i+4]))
	}
	return out
}

// Prefix assembles the 76-byte header prefix (everything but the nonce)
// from job fields already in their wire byte order: version, ntime and
// nbits as 4-byte big-endian words, prevhash as 32 bytes of
// little-endian words, and merkleRoot in internal byte order.
func Prefix(version, prevhash, merkleRoot, ntime, nbits []byte) []byte {
	if len(version) != 4 || len(prevhash) != 32 || len(merkleRoot) != 32 ||
		len(ntime) != 4 || len(nbits) != 4 {
		panic("header: Prefix received a mis-sized field")
	}

	out := make([]byte, 0, PrefixLen)
	out = append(out, Reverse4(version)...)
	out = append(out, ReverseWords4(prevhash)...)
	out = append(out, merkleRoot...)
	out = append(out, Reverse4(ntime)...)
	out = append(out, Reverse4(nbits)...)
	return out
}

// Nonce packs a 32-bit candidate nonce little-endian, as the header
// format requires.
func Nonce(nonce uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, nonce)
	return b
}

// Build appends a nonce to a header prefix, producing the full 80-byte
// header ready to hash.
func Build(prefix []byte, nonce uint32) []byte {
	if len(prefix) != PrefixLen {
		panic("header: Build received a mis-sized prefix")
	}
	out := make([]byte, 0, Len)
	out = append(out, prefix...)
	out = append(out, Nonce(nonce)...)
	return out
}
