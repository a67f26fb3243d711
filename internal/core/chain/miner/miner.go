package miner

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainerrors"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainmodels"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainparams"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainstate"
	"github.com/h3tag-network/chaincore/internal/core/chain/mempool"
	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
	"github.com/h3tag-network/chaincore/pkg/txhelper"
	"go.uber.org/zap"
)

// Weight reserved for the coinbase transaction in every template.
const coinbaseReserve = 4000

// Template is a candidate block handed to miners. It has no side effects
// until a solved version comes back through SubmitBlock.
type Template struct {
	Version      int32             `json:"version"`
	MinVersion   int32             `json:"minversion"`
	MaxVersion   int32             `json:"maxversion"`
	Height       int32             `json:"height"`
	PrevBlock    chainhash.Hash    `json:"previousblockhash"`
	MerkleRoot   chainhash.Hash    `json:"merkleroot"`
	CurTime      int64             `json:"curtime"`
	MinTime      int64             `json:"mintime"`
	MaxTime      int64             `json:"maxtime"`
	Bits         uint32            `json:"bits"`
	Difficulty   float64           `json:"difficulty"`
	Target       string            `json:"target"`
	Reward       int64             `json:"coinbasevalue"`
	Fees         int64             `json:"fees"`
	Transactions []*tx.Transaction `json:"transactions"`
}

type Builder struct {
	params chainparams.Params
	state  *chainstate.State
	pool   *mempool.Pool
	logger *zap.Logger
}

func NewBuilder(params chainparams.Params, state *chainstate.State, pool *mempool.Pool, logger *zap.Logger) *Builder {
	return &Builder{params: params, state: state, pool: pool, logger: logger}
}

// GetTemplate assembles a mineable candidate: pool transactions in
// fee-rate order under the weight budget, coinbase first.
func (b *Builder) GetTemplate(minerAddress string) (*Template, error) {
	if minerAddress == "" {
		return nil, chainerrors.NewValidation("miner address required")
	}

	height := b.state.CurrentHeight() + 1
	selected := b.pool.SelectForBlock(b.params.MaxBlockWeight - coinbaseReserve)

	var fees int64
	for _, t := range selected {
		fees += t.Fee
	}
	reward := b.state.BlockReward(height)

	coinbase, err := tx.NewBuilder(tx.TypeCoinbase).
		AddOutput(minerAddress, reward+fees).
		Build()
	if err != nil {
		return nil, err
	}

	txs := make([]*tx.Transaction, 0, len(selected)+1)
	txs = append(txs, coinbase)
	txs = append(txs, selected...)

	now := time.Now().Unix()
	minTime := b.state.MedianTimePast() + 1
	curTime := now
	if curTime < minTime {
		curTime = minTime
	}
	bits := b.state.NextBits()

	tmpl := &Template{
		Version:      1,
		MinVersion:   1,
		MaxVersion:   1,
		Height:       height,
		PrevBlock:    b.state.BestBlockHash(),
		MerkleRoot:   tx.BuildMerkleRoot(txs),
		CurTime:      curTime,
		MinTime:      minTime,
		MaxTime:      now + int64(b.params.MaxTimeOffset.Seconds()),
		Bits:         bits,
		Difficulty:   b.state.CurrentDifficulty(),
		Target:       fmt.Sprintf("%064x", blockchain.CompactToBig(bits)),
		Reward:       reward,
		Fees:         fees,
		Transactions: txs,
	}

	b.logger.Debug("built block template",
		zap.Int32("height", height),
		zap.Int("txs", len(txs)),
		zap.Int64("fees", fees))
	return tmpl, nil
}

// SubmitBlock signs the solved header with the miner key, reconstructs the
// block, and hands it to chain state for full validation.
func (b *Builder) SubmitBlock(ctx context.Context, header chainmodels.BlockHeader, txs []*tx.Transaction, key *btcec.PrivateKey) (chainhash.Hash, error) {
	if key == nil {
		return chainhash.Hash{}, chainerrors.NewValidation("miner key required")
	}
	header.SignHeader(key)
	block := &chainmodels.Block{Header: header, Transactions: txs}
	if err := b.state.AddBlock(ctx, block); err != nil {
		return chainhash.Hash{}, err
	}
	return block.Header.BlockHash(), nil
}

// Solve grinds the nonce until the header meets its target. Returns false
// when the attempt budget runs out or the context is cancelled.
func Solve(ctx context.Context, header *chainmodels.BlockHeader, maxAttempts uint64) bool {
	target := blockchain.CompactToBig(header.Bits)
	if target.Sign() <= 0 {
		return false
	}
	for i := uint64(0); i < maxAttempts; i++ {
		if i%4096 == 0 && ctx.Err() != nil {
			return false
		}
		hash := header.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			return true
		}
		header.Nonce++
	}
	return false
}

// Info is the mining stats snapshot.
type Info struct {
	Blocks        int32    `json:"blocks"`
	Difficulty    float64  `json:"difficulty"`
	NetworkHashPS *big.Int `json:"networkhashps"`
	PooledTx      int      `json:"pooledtx"`
	BlockReward   int64    `json:"blockreward"`
}

func (b *Builder) MiningInfo() Info {
	height := b.state.CurrentHeight()
	return Info{
		Blocks:        height,
		Difficulty:    b.state.CurrentDifficulty(),
		NetworkHashPS: b.state.HashPerSecond(120),
		PooledTx:      b.pool.Size(),
		BlockReward:   b.state.BlockReward(height + 1),
	}
}

// EstimateTemplateWeight is what the template's transactions weigh,
// coinbase included.
func EstimateTemplateWeight(tmpl *Template) int64 {
	var weight int64
	for _, t := range tmpl.Transactions {
		weight += txhelper.Weight(t)
	}
	return weight
}
