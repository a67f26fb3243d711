package mempool

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
)

// overlayView layers the pool's unconfirmed outputs on top of the confirmed
// UTXO set so chained unconfirmed spends validate. The ignore set holds an
// RBF conflict set and its descendants, all about to be displaced: outpoints
// they spend stay visible, outputs they created do not. Only used while the
// pool lock is held; takes no pool locks itself.
type overlayView struct {
	pool   *Pool
	base   tx.UTXOView
	ignore map[chainhash.Hash]struct{}
}

var _ tx.UTXOView = (*overlayView)(nil)

func (v *overlayView) Lookup(op wire.OutPoint) (tx.ViewOutput, bool) {
	if out, found := v.base.Lookup(op); found {
		return out, true
	}
	if _, displaced := v.ignore[op.Hash]; displaced {
		return tx.ViewOutput{}, false
	}
	out, found := v.pool.outputs[op]
	return out, found
}

func (v *overlayView) Spendable(op wire.OutPoint) bool {
	if _, found := v.base.Lookup(op); found {
		return v.base.Spendable(op)
	}
	if _, displaced := v.ignore[op.Hash]; displaced {
		return false
	}
	if _, found := v.pool.outputs[op]; !found {
		return false
	}
	if spender, taken := v.pool.spenders[op]; taken {
		_, ignored := v.ignore[spender]
		return ignored
	}
	return true
}
