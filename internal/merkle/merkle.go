// Package merkle assembles Merkle roots for a Stratum coinbase/branch
// pair and, for the solo-mining path, for a flat list of transaction ids.
package merkle

// Root builds the Merkle root from a coinbase transaction (split into the
// coinb1/coinb2 halves that flank the extranonces) and an ordered list of
// sibling branches. An empty branch list yields the coinbase hash itself.
func Root(coinb1, extranonce1, extranonce2, coinb2 []byte, branches [][]byte, hashFunc func([]byte) []byte) []byte {
	coinbase := make([]byte, 0, len(coinb1)+len(extranonce1)+len(extranonce2)+len(coinb2))
	coinbase = append(coinbase, coinb1...)
	coinbase = append(coinbase, extranonce1...)
	coinbase = append(coinbase, extranonce2...)
	coinbase = append(coinbase, coinb2...)

	root := hashFunc(coinbase)

	for _, branch := range branches {
		root = hashFunc(append(append([]byte{}, root...), branch...))
	}

	return root
}

// RootFromTXIDs builds a Merkle root from a non-empty, internal-byte-order
// list of transaction hashes (coinbase first), folding pairwise and
// duplicating the last hash on an odd count at each level. Used by the
// solo-mining path, which receives a full transaction list rather than a
// coinbase plus branch set.
func RootFromTXIDs(txids [][]byte, hashFunc func([]byte) []byte) []byte {
	if len(txids) == 0 {
		return nil
	}
	if len(txids) == 1 {
		return txids[0]
	}

	level := make([][]byte, len(txids))
	copy(level, txids)

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			pair := make([]byte, 0, len(level[i])+len(level[i+1]))
			pair = append(pair, level[i]...)
			pair = append(pair, level[i+1]...)
			next = append(next, hashFunc(pair))
		}
		level = next
	}

	return level[0]
}
