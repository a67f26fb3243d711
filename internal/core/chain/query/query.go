package query

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainerrors"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainmodels"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainparams"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainstate"
	"github.com/h3tag-network/chaincore/internal/core/chain/mempool"
	"github.com/h3tag-network/chaincore/internal/core/chain/miner"
	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
	"github.com/h3tag-network/chaincore/internal/core/chain/utxoset"
)

// Service aggregates the core components into the snapshots the REST layer
// serves. Read-only.
type Service struct {
	params chainparams.Params
	state  *chainstate.State
	pool   *mempool.Pool
	utxos  *utxoset.Set
	miner  *miner.Builder
}

func NewService(params chainparams.Params, state *chainstate.State, pool *mempool.Pool, utxos *utxoset.Set, m *miner.Builder) *Service {
	return &Service{params: params, state: state, pool: pool, utxos: utxos, miner: m}
}

type BlockchainInfo struct {
	Chain         string  `json:"chain"`
	Blocks        int32   `json:"blocks"`
	BestBlockHash string  `json:"bestblockhash"`
	Difficulty    float64 `json:"difficulty"`
	MedianTime    int64   `json:"mediantime"`
	ChainWork     string  `json:"chainwork"`
	TipCount      int     `json:"tips"`
	UTXOCount     int     `json:"utxos"`
}

func (s *Service) BlockchainInfo() BlockchainInfo {
	return BlockchainInfo{
		Chain:         s.params.Net.Name,
		Blocks:        s.state.CurrentHeight(),
		BestBlockHash: s.state.BestBlockHash().String(),
		Difficulty:    s.state.CurrentDifficulty(),
		MedianTime:    s.state.MedianTimePast(),
		ChainWork:     fmt.Sprintf("%064x", s.state.CumulativeWork()),
		TipCount:      len(s.state.GetChainTips()),
		UTXOCount:     s.utxos.Len(),
	}
}

func (s *Service) MiningInfo() miner.Info {
	return s.miner.MiningInfo()
}

func (s *Service) MempoolInfo() mempool.Info {
	return s.pool.Info()
}

// TestAccept dry-runs mempool admission for a transaction. The pool is
// never modified and rejections are not cached.
func (s *Service) TestAccept(t *tx.Transaction) chainmodels.AcceptResult {
	if err := s.pool.Check(t); err != nil {
		return chainmodels.AcceptResult{RejectReason: err.Error()}
	}
	return chainmodels.AcceptResult{Allowed: true}
}

// RawMempool lists pooled transaction ids, with per-entry detail when
// verbose is set.
func (s *Service) RawMempool(verbose bool) ([]chainhash.Hash, map[chainhash.Hash]mempool.EntryInfo) {
	if verbose {
		return nil, s.pool.Verbose()
	}
	return s.pool.TxIDs(), nil
}

func (s *Service) ChainTips() []chainmodels.ChainTip {
	return s.state.GetChainTips()
}

func (s *Service) BestBlockHash() chainhash.Hash {
	return s.state.BestBlockHash()
}

func (s *Service) CurrentHeight() int32 {
	return s.state.CurrentHeight()
}

func (s *Service) CurrentDifficulty() float64 {
	return s.state.CurrentDifficulty()
}

func (s *Service) GetBlock(ctx context.Context, hash chainhash.Hash) (*chainmodels.Block, error) {
	return s.state.GetBlock(ctx, hash)
}

func (s *Service) GetBlockHashFromHeight(height int32) (*chainhash.Hash, error) {
	block, err := s.state.GetBlockByHeight(height)
	if err != nil {
		return nil, err
	}
	hash := block.Header.BlockHash()
	return &hash, nil
}

// AddressUTXOs lists confirmed unspent outputs for an address.
func (s *Service) AddressUTXOs(address string) ([]chainmodels.UTXO, error) {
	if address == "" {
		return nil, chainerrors.NewValidation("address required")
	}
	return s.utxos.FindByAddress(address), nil
}

// GetOutput resolves one output. With includeMempool set, outputs created
// by pooled transactions are visible with height -1; this is display-only
// and grants no spend authority.
func (s *Service) GetOutput(txid chainhash.Hash, index uint32, includeMempool bool) (chainmodels.UTXO, error) {
	op := wire.OutPoint{Hash: txid, Index: index}
	u, err := s.utxos.GetOutput(op)
	if err == nil {
		return u, nil
	}
	if !includeMempool || !chainerrors.IsNotFound(err) {
		return chainmodels.UTXO{}, err
	}

	pooled, perr := s.pool.Get(txid)
	if perr != nil {
		return chainmodels.UTXO{}, err
	}
	for _, out := range pooled.Outputs {
		if out.Index == index {
			return chainmodels.UTXO{
				Txid:    txid,
				Index:   index,
				Address: out.Address,
				Value:   out.Amount,
				Height:  -1,
				Script:  "pubkeyhash",
			}, nil
		}
	}
	return chainmodels.UTXO{}, err
}
