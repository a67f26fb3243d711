package tx

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BuildMerkleRoot computes the merkle root over the transaction set in
// order. An odd level duplicates its last node.
func BuildMerkleRoot(txs []*Transaction) chainhash.Hash {
	if len(txs) == 0 {
		return chainhash.Hash{}
	}
	level := make([]chainhash.Hash, len(txs))
	for i, t := range txs {
		level[i] = t.TxHash()
	}
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashMerkleBranches(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

func hashMerkleBranches(left, right chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:])
}
