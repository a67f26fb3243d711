package mempool

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
)

// entry is the in-pool wrapper around a pending transaction.
type entry struct {
	tx      *tx.Transaction
	hash    chainhash.Hash
	fee     int64
	vsize   int64
	weight  int64
	feeRate float64
	added   time.Time
	height  int32
	depends []chainhash.Hash
}

// EntryInfo is the externally visible form of a mempool entry.
type EntryInfo struct {
	Txid            chainhash.Hash   `json:"txid"`
	Fee             int64            `json:"fee"`
	VSize           int64            `json:"vsize"`
	Weight          int64            `json:"weight"`
	FeeRate         float64          `json:"feerate"`
	Time            int64            `json:"time"`
	Height          int32            `json:"height"`
	AncestorCount   int              `json:"ancestorcount"`
	AncestorSize    int64            `json:"ancestorsize"`
	DescendantCount int              `json:"descendantcount"`
	DescendantSize  int64            `json:"descendantsize"`
	Depends         []chainhash.Hash `json:"depends"`
}
