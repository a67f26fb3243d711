package chainmodels

import "github.com/btcsuite/btcd/chaincfg/chainhash"

type TipStatus string

const (
	TipActive       TipStatus = "active"
	TipValidFork    TipStatus = "valid-fork"
	TipValidHeaders TipStatus = "valid-headers"
	TipInvalid      TipStatus = "invalid"
)

// ChainTip is a known head of some branch. Exactly one tip is active.
type ChainTip struct {
	Hash      chainhash.Hash `json:"hash"`
	Height    int32          `json:"height"`
	Status    TipStatus      `json:"status"`
	BranchLen int32          `json:"branchlen"`
}
