package chain

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainmodels"
)

// Client is the query surface a chaincore node exposes, whether local or
// reached over the wire.
type Client interface {
	GetBlock(ctx context.Context, hash chainhash.Hash) (*chainmodels.Block, error)
	GetBlockHashFromHeight(ctx context.Context, height int32) (*chainhash.Hash, error)
	GetBlockHeight(ctx context.Context) (int32, error)
	GetChainTips(ctx context.Context) ([]chainmodels.ChainTip, error)
	GetAddressUTXOs(ctx context.Context, address string) ([]chainmodels.UTXO, error)
}
