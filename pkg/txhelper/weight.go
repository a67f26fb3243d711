package txhelper

import (
	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
)

// WeightScaleFactor relates virtual size to weight units.
const WeightScaleFactor = 4

// VBytes is the virtual size of a transaction in vbytes.
func VBytes(t *tx.Transaction) int64 {
	return t.SerializeSize()
}

// Weight is the transaction weight in weight units.
func Weight(t *tx.Transaction) int64 {
	return VBytes(t) * WeightScaleFactor
}

// FeePerVByte is the fee rate used for mempool ordering and eviction.
func FeePerVByte(fee, vsize int64) float64 {
	if vsize <= 0 {
		return 0
	}
	return float64(fee) / float64(vsize)
}
