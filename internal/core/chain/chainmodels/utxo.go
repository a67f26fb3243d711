package chainmodels

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// UTXO is one spendable output as the UTXO set records it.
type UTXO struct {
	Txid     chainhash.Hash `json:"txid"`
	Index    uint32         `json:"vout"`
	Address  string         `json:"address"`
	Value    int64          `json:"value"`
	Height   int32          `json:"height"`
	Coinbase bool           `json:"coinbase"`
	Script   string         `json:"script_type"`
}

func (u UTXO) OutPoint() wire.OutPoint {
	return wire.OutPoint{Hash: u.Txid, Index: u.Index}
}

// Confirmations counts how deep the output is relative to the tip; zero if
// unconfirmed or above the tip.
func (u UTXO) Confirmations(tipHeight int32) int32 {
	if u.Height < 0 || u.Height > tipHeight {
		return 0
	}
	return tipHeight - u.Height + 1
}

type AcceptResult struct {
	RejectReason string `json:"reject-reason"`
	Allowed      bool   `json:"allowed"`
}
