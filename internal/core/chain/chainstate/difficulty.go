package chainstate

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// nextBits returns the difficulty bits required for the block after prev.
// Outside a retarget boundary the difficulty carries over; on the boundary
// the target scales by actual/expected elapsed time, clamped to 4x either
// way and never easier than the initial target.
func (s *State) nextBits(prev *blockNode) uint32 {
	interval := s.params.RetargetInterval
	if (prev.height+1)%interval != 0 {
		return prev.bits
	}

	first := prev
	for i := int32(0); i < interval-1 && first.parent != nil; i++ {
		first = first.parent
	}

	expected := int64(interval) * int64(s.params.TargetTimePerBlock.Seconds())
	actual := prev.timestamp - first.timestamp
	if actual < expected/4 {
		actual = expected / 4
	}
	if actual > expected*4 {
		actual = expected * 4
	}

	oldTarget := blockchain.CompactToBig(prev.bits)
	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(actual))
	newTarget.Div(newTarget, big.NewInt(expected))

	maxTarget := blockchain.CompactToBig(s.params.InitialBits)
	if newTarget.Cmp(maxTarget) > 0 {
		newTarget.Set(maxTarget)
	}
	return blockchain.BigToCompact(newTarget)
}

// difficultyRatio converts compact bits to the conventional ratio against
// the initial (easiest) target.
func (s *State) difficultyRatio(bits uint32) float64 {
	maxTarget := blockchain.CompactToBig(s.params.InitialBits)
	target := blockchain.CompactToBig(bits)
	if target.Sign() <= 0 {
		return 0
	}
	ratio := new(big.Rat).SetFrac(maxTarget, target)
	f, _ := ratio.Float64()
	return f
}

// checkProofOfWork verifies the block hash meets the claimed target.
func checkProofOfWork(hash chainhash.Hash, bits uint32) bool {
	target := blockchain.CompactToBig(bits)
	return target.Sign() > 0 && blockchain.HashToBig(&hash).Cmp(target) <= 0
}
