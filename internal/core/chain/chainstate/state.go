package chainstate

import (
	"context"
	"math/big"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainerrors"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainmodels"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainparams"
	"github.com/h3tag-network/chaincore/internal/core/chain/mempool"
	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
	"github.com/h3tag-network/chaincore/internal/core/chain/utxoset"
	"github.com/h3tag-network/chaincore/pkg/broadcaster"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const genesisTimestamp int64 = 1735689600

type blockNode struct {
	hash      chainhash.Hash
	parent    *blockNode
	height    int32
	bits      uint32
	timestamp int64
	work      *big.Int
	block     *chainmodels.Block
	invalid   bool

	// Set while the block is connected on the active chain.
	undo *utxoset.Undo
}

type orphanBlock struct {
	block    *chainmodels.Block
	received time.Time
}

// State owns the block index, the active chain, and every competing tip.
// It is the only writer of the UTXO set.
type State struct {
	params    chainparams.Params
	logger    *zap.Logger
	validator *tx.Validator
	utxos     *utxoset.Set
	pool      *mempool.Pool
	archive   *BlockStore
	kv        *utxoset.KVStore
	broker    *broadcaster.Broker[*chainmodels.Block]

	mu          sync.RWMutex
	index       map[chainhash.Hash]*blockNode
	tips        map[chainhash.Hash]*blockNode
	heightIndex []*blockNode
	active      *blockNode
	orphans     map[chainhash.Hash]*orphanBlock
	orphanPrev  map[chainhash.Hash][]chainhash.Hash
}

type Option func(*State)

func WithArchive(archive *BlockStore) Option {
	return func(s *State) { s.archive = archive }
}

func WithKVStore(kv *utxoset.KVStore) Option {
	return func(s *State) { s.kv = kv }
}

// GenesisBlock is the fixed height-zero block every node starts from.
func GenesisBlock(params chainparams.Params) *chainmodels.Block {
	return &chainmodels.Block{
		Header: chainmodels.BlockHeader{
			Version:   1,
			Height:    0,
			Timestamp: genesisTimestamp,
			Bits:      params.InitialBits,
		},
	}
}

func New(params chainparams.Params, utxos *utxoset.Set, pool *mempool.Pool, logger *zap.Logger, opts ...Option) *State {
	b := broadcaster.NewBroker[*chainmodels.Block]()
	go b.Start()

	genesis := GenesisBlock(params)
	node := &blockNode{
		hash:      genesis.Header.BlockHash(),
		height:    0,
		bits:      genesis.Header.Bits,
		timestamp: genesis.Header.Timestamp,
		work:      blockchain.CalcWork(genesis.Header.Bits),
		block:     genesis,
	}

	s := &State{
		params:      params,
		logger:      logger,
		validator:   tx.NewValidator(params.Net),
		utxos:       utxos,
		pool:        pool,
		broker:      b,
		index:       map[chainhash.Hash]*blockNode{node.hash: node},
		tips:        map[chainhash.Hash]*blockNode{node.hash: node},
		heightIndex: []*blockNode{node},
		active:      node,
		orphans:     make(map[chainhash.Hash]*orphanBlock),
		orphanPrev:  make(map[chainhash.Hash][]chainhash.Hash),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubscribeBlocks delivers every block connected to the active chain.
func (s *State) SubscribeBlocks() chan *chainmodels.Block {
	return s.broker.Subscribe()
}

func (s *State) UnSubscribeBlocks(ch chan *chainmodels.Block) {
	s.broker.UnSubscribe(ch)
}

func (s *State) Stop() {
	s.broker.Stop()
}

func (s *State) CurrentHeight() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.height
}

func (s *State) BestBlockHash() chainhash.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.hash
}

// CurrentDifficulty is the ratio of the initial target to the active tip's
// target.
func (s *State) CurrentDifficulty() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.difficultyRatio(s.active.bits)
}

// NextBits is the difficulty required of the next block.
func (s *State) NextBits() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextBits(s.active)
}

// BlockReward is the subsidy for a block at the given height.
func (s *State) BlockReward(height int32) int64 {
	return CalculateBlockReward(height, s.params.InitialBlockReward, s.params.HalvingInterval)
}

// MedianTimePast of the active tip; the lower timestamp bound for the next
// block.
func (s *State) MedianTimePast() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return medianTimePast(s.active)
}

func medianTimePast(node *blockNode) int64 {
	times := make([]int64, 0, 11)
	for n := node; n != nil && len(times) < 11; n = n.parent {
		times = append(times, n.timestamp)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times[len(times)/2]
}

// GetBlock looks up the index first, the archive second.
func (s *State) GetBlock(ctx context.Context, hash chainhash.Hash) (*chainmodels.Block, error) {
	s.mu.RLock()
	node, found := s.index[hash]
	s.mu.RUnlock()
	if found && node.block != nil {
		return node.block, nil
	}
	if s.archive != nil {
		return s.archive.GetBlock(ctx, hash)
	}
	return nil, chainerrors.NewNotFound("block %s unknown", hash)
}

func (s *State) GetBlockByHeight(height int32) (*chainmodels.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if height < 0 || int(height) >= len(s.heightIndex) {
		return nil, chainerrors.NewNotFound("no active block at height %d", height)
	}
	return s.heightIndex[height].block, nil
}

// CumulativeWork of the active chain.
func (s *State) CumulativeWork() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.active.work)
}

// HashPerSecond estimates network hash rate over the last n active blocks.
func (s *State) HashPerSecond(n int32) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tip := s.active
	if tip.height == 0 || n <= 0 {
		return big.NewInt(0)
	}
	if n > tip.height {
		n = tip.height
	}
	first := s.heightIndex[tip.height-n]
	elapsed := tip.timestamp - first.timestamp
	if elapsed <= 0 {
		elapsed = 1
	}
	work := new(big.Int).Sub(tip.work, first.work)
	return work.Div(work, big.NewInt(elapsed))
}

// GetChainTips reports every known branch head. Exactly one is active;
// orphans surface as valid-headers since their ancestry is unknown.
func (s *State) GetChainTips() []chainmodels.ChainTip {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]chainmodels.ChainTip, 0, len(s.tips)+len(s.orphans))
	for _, node := range s.tips {
		tip := chainmodels.ChainTip{
			Hash:   node.hash,
			Height: node.height,
		}
		switch {
		case node == s.active:
			tip.Status = chainmodels.TipActive
		case node.invalid:
			tip.Status = chainmodels.TipInvalid
		default:
			tip.Status = chainmodels.TipValidFork
		}
		tip.BranchLen = node.height - s.forkHeightLocked(node)
		result = append(result, tip)
	}
	for _, o := range s.orphans {
		result = append(result, chainmodels.ChainTip{
			Hash:   o.block.Header.BlockHash(),
			Height: o.block.Header.Height,
			Status: chainmodels.TipValidHeaders,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Height > result[j].Height })
	return result
}

func (s *State) forkHeightLocked(node *blockNode) int32 {
	for n := node; n != nil; n = n.parent {
		if int(n.height) < len(s.heightIndex) && s.heightIndex[n.height] == n {
			return n.height
		}
	}
	return 0
}

// AddBlock validates the block and either extends the active chain, records
// a fork (switching to it when it has more work), or holds it as an orphan.
func (s *State) AddBlock(ctx context.Context, block *chainmodels.Block) error {
	hash := block.Header.BlockHash()

	// Stateless validation runs before any lock; signature checks fan out
	// across cores.
	if err := s.checkBlockSanity(ctx, block, hash); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneOrphansLocked(time.Now())

	if _, dup := s.index[hash]; dup {
		return chainerrors.NewConflict("block %s already known", hash)
	}

	parent, found := s.index[block.Header.PrevBlock]
	if !found {
		s.addOrphanLocked(block, hash)
		return chainerrors.NewConflict("block %s has unknown parent %s; held as orphan", hash, block.Header.PrevBlock)
	}
	if parent.invalid {
		return chainerrors.NewConsensus("block %s extends invalid chain", hash)
	}

	if err := s.checkBlockContext(block, parent); err != nil {
		return err
	}

	node := &blockNode{
		hash:      hash,
		parent:    parent,
		height:    parent.height + 1,
		bits:      block.Header.Bits,
		timestamp: block.Header.Timestamp,
		work:      new(big.Int).Add(parent.work, blockchain.CalcWork(block.Header.Bits)),
		block:     block,
	}
	s.index[hash] = node
	delete(s.tips, parent.hash)
	s.tips[hash] = node

	switch {
	case parent == s.active:
		if err := s.connectBlockLocked(ctx, node); err != nil {
			node.invalid = true
			return err
		}
	case node.work.Cmp(s.active.work) > 0:
		if err := s.reorgLocked(ctx, node); err != nil {
			return err
		}
	default:
		s.logger.Info("stored side chain block",
			zap.Stringer("hash", hash),
			zap.Int32("height", node.height))
	}

	s.flushOrphansLocked(ctx, hash)
	return nil
}

func (s *State) checkBlockSanity(ctx context.Context, block *chainmodels.Block, hash chainhash.Hash) error {
	if err := block.Header.VerifyHeaderSignature(); err != nil {
		return err
	}
	if !checkProofOfWork(hash, block.Header.Bits) {
		return chainerrors.NewConsensus("block %s does not meet target", hash)
	}
	if len(block.Transactions) == 0 {
		return chainerrors.NewConsensus("block %s has no transactions", hash)
	}
	if !block.Transactions[0].Type.IsCoinbase() {
		return chainerrors.NewConsensus("block %s first transaction is not coinbase", hash)
	}
	for _, t := range block.Transactions[1:] {
		if t.Type.IsCoinbase() {
			return chainerrors.NewConsensus("block %s has more than one coinbase", hash)
		}
	}

	seen := make(map[chainhash.Hash]struct{}, len(block.Transactions))
	for _, t := range block.Transactions {
		th := t.TxHash()
		if _, dup := seen[th]; dup {
			return chainerrors.NewConsensus("block %s contains transaction %s twice", hash, th)
		}
		seen[th] = struct{}{}
	}

	if merkle := tx.BuildMerkleRoot(block.Transactions); merkle != block.Header.MerkleRoot {
		return chainerrors.NewConsensus("block %s merkle root mismatch", hash)
	}

	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(runtime.NumCPU())
	for _, t := range block.Transactions {
		t := t
		group.Go(func() error {
			if err := t.CheckStructure(); err != nil {
				return err
			}
			return t.VerifySignatures(s.params.Net)
		})
	}
	return group.Wait()
}

func (s *State) checkBlockContext(block *chainmodels.Block, parent *blockNode) error {
	height := parent.height + 1
	if block.Header.Height != height {
		return chainerrors.NewConsensus("block claims height %d, parent is at %d", block.Header.Height, parent.height)
	}
	if block.Header.Timestamp <= medianTimePast(parent) {
		return chainerrors.NewConsensus("block timestamp %d not after median time past", block.Header.Timestamp)
	}
	if max := time.Now().Add(s.params.MaxTimeOffset).Unix(); block.Header.Timestamp > max {
		return chainerrors.NewConsensus("block timestamp %d too far in the future", block.Header.Timestamp)
	}
	if want := s.nextBits(parent); block.Header.Bits != want {
		return chainerrors.NewConsensus("block bits %08x do not match required %08x", block.Header.Bits, want)
	}
	return nil
}

// connectBlockLocked does the stateful half of validation and commits the
// block as the new active tip.
func (s *State) connectBlockLocked(ctx context.Context, node *blockNode) error {
	block := node.block

	// Amount validation against the set, with outputs created earlier in
	// the block visible to later transactions.
	overlay := newBlockOverlay(s.utxos, node.height, s.params.CoinbaseMaturity)
	var fees int64
	for _, t := range block.Transactions {
		if t.Type.IsCoinbase() {
			overlay.stage(t)
			continue
		}
		if err := s.validator.ValidateAmount(t, overlay); err != nil {
			return chainerrors.Wrap(chainerrors.KindConsensus, err, "block transaction invalid")
		}
		fees += t.Fee
		overlay.stage(t)
	}

	reward := s.BlockReward(node.height)
	coinbaseOut, err := block.Transactions[0].TotalOutput()
	if err != nil {
		return err
	}
	if coinbaseOut > reward+fees {
		return chainerrors.NewConsensus("coinbase pays %d, limit is %d", coinbaseOut, reward+fees)
	}

	undo, err := s.utxos.ApplyBlock(block.Transactions, node.height)
	if err != nil {
		return err
	}
	node.undo = &undo

	s.heightIndex = append(s.heightIndex[:node.height], node)
	s.active = node

	for _, t := range block.Transactions {
		t.Status = tx.StatusConfirmed
		t.BlockHeight = node.height
	}

	if s.pool != nil {
		s.pool.RemoveForBlock(block.Transactions)
	}
	if s.kv != nil {
		if err := s.kv.ApplyUndo(undo); err != nil {
			s.logger.Warn("utxo kv store write failed", zap.Error(err))
		}
	}
	if s.archive != nil {
		if err := s.archive.PutBlock(ctx, block); err != nil {
			s.logger.Warn("block archive write failed", zap.Error(err))
		} else if err := s.archive.PutHeight(ctx, node.height, node.hash); err != nil {
			s.logger.Warn("height index write failed", zap.Error(err))
		}
	}

	s.logger.Info("connected block",
		zap.Stringer("hash", node.hash),
		zap.Int32("height", node.height),
		zap.Int("txs", len(block.Transactions)))

	s.broker.Publish(block)
	return nil
}

func (s *State) disconnectBlockLocked(ctx context.Context, node *blockNode) error {
	if node.undo == nil {
		return chainerrors.NewConsensus("block %s is not connected", node.hash)
	}
	if err := s.utxos.Disconnect(*node.undo); err != nil {
		return err
	}
	if s.kv != nil {
		if err := s.kv.RevertUndo(*node.undo); err != nil {
			s.logger.Warn("utxo kv store revert failed", zap.Error(err))
		}
	}
	if s.archive != nil {
		if err := s.archive.DeleteHeight(ctx, node.height); err != nil {
			s.logger.Warn("height index delete failed", zap.Error(err))
		}
	}
	node.undo = nil
	s.heightIndex = s.heightIndex[:node.height]
	s.active = node.parent

	for _, t := range node.block.Transactions {
		t.Status = tx.StatusPending
		t.BlockHeight = 0
	}
	return nil
}

// reorgLocked switches the active chain to the branch ending at newTip.
// Failure while connecting the new branch restores the old chain intact.
func (s *State) reorgLocked(ctx context.Context, newTip *blockNode) error {
	// Collect the branch back to the fork point.
	var attach []*blockNode
	forkNode := newTip
	for {
		if int(forkNode.height) < len(s.heightIndex) && s.heightIndex[forkNode.height] == forkNode {
			break
		}
		attach = append(attach, forkNode)
		forkNode = forkNode.parent
	}

	var detached []*blockNode
	for s.active != forkNode {
		node := s.active
		if err := s.disconnectBlockLocked(ctx, node); err != nil {
			return err
		}
		detached = append(detached, node)
	}

	connectBranch := func(branch []*blockNode) error {
		for i := len(branch) - 1; i >= 0; i-- {
			if err := s.connectBlockLocked(ctx, branch[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if err := connectBranch(attach); err != nil {
		// Roll the reorg back: drop whatever partially connected and
		// reinstate the old chain.
		newTip.invalid = true
		for s.active != forkNode {
			if derr := s.disconnectBlockLocked(ctx, s.active); derr != nil {
				return derr
			}
		}
		for i := len(detached) - 1; i >= 0; i-- {
			if cerr := s.connectBlockLocked(ctx, detached[i]); cerr != nil {
				return cerr
			}
		}
		return err
	}

	// Old-chain transactions that the new branch didn't confirm go back to
	// the pool when they still validate.
	if s.pool != nil {
		for _, node := range detached {
			for _, t := range node.block.Transactions {
				if t.Type.IsCoinbase() {
					continue
				}
				if err := s.pool.Admit(t); err != nil && !chainerrors.IsConflict(err) {
					s.logger.Debug("could not re-admit transaction after reorg",
						zap.Stringer("txid", t.TxHash()), zap.Error(err))
				}
			}
		}
	}

	s.logger.Info("chain reorganized",
		zap.Stringer("new_tip", newTip.hash),
		zap.Int32("height", newTip.height),
		zap.Int("detached", len(detached)),
		zap.Int("attached", len(attach)))
	return nil
}

func (s *State) addOrphanLocked(block *chainmodels.Block, hash chainhash.Hash) {
	if _, dup := s.orphans[hash]; dup {
		return
	}
	s.orphans[hash] = &orphanBlock{block: block, received: time.Now()}
	prev := block.Header.PrevBlock
	s.orphanPrev[prev] = append(s.orphanPrev[prev], hash)
	s.logger.Info("holding orphan block",
		zap.Stringer("hash", hash),
		zap.Stringer("waiting_for", prev))
}

// flushOrphansLocked retries orphans whose missing parent just arrived.
func (s *State) flushOrphansLocked(ctx context.Context, parent chainhash.Hash) {
	pending := s.orphanPrev[parent]
	if len(pending) == 0 {
		return
	}
	delete(s.orphanPrev, parent)
	for _, hash := range pending {
		o, found := s.orphans[hash]
		if !found {
			continue
		}
		delete(s.orphans, hash)

		// Reuse the regular path minus the lock we already hold.
		block := o.block
		p, ok := s.index[block.Header.PrevBlock]
		if !ok || p.invalid {
			continue
		}
		if err := s.checkBlockContext(block, p); err != nil {
			s.logger.Warn("orphan block rejected", zap.Stringer("hash", hash), zap.Error(err))
			continue
		}
		node := &blockNode{
			hash:      hash,
			parent:    p,
			height:    p.height + 1,
			bits:      block.Header.Bits,
			timestamp: block.Header.Timestamp,
			work:      new(big.Int).Add(p.work, blockchain.CalcWork(block.Header.Bits)),
			block:     block,
		}
		s.index[hash] = node
		delete(s.tips, p.hash)
		s.tips[hash] = node

		var err error
		switch {
		case p == s.active:
			err = s.connectBlockLocked(ctx, node)
		case node.work.Cmp(s.active.work) > 0:
			err = s.reorgLocked(ctx, node)
		}
		if err != nil {
			node.invalid = true
			s.logger.Warn("orphan block failed to connect", zap.Stringer("hash", hash), zap.Error(err))
			continue
		}
		s.flushOrphansLocked(ctx, hash)
	}
}

func (s *State) pruneOrphansLocked(now time.Time) {
	for hash, o := range s.orphans {
		if now.Sub(o.received) > s.params.OrphanExpiry {
			delete(s.orphans, hash)
			prev := o.block.Header.PrevBlock
			remaining := s.orphanPrev[prev][:0]
			for _, h := range s.orphanPrev[prev] {
				if h != hash {
					remaining = append(remaining, h)
				}
			}
			if len(remaining) == 0 {
				delete(s.orphanPrev, prev)
			} else {
				s.orphanPrev[prev] = remaining
			}
		}
	}
}

// blockOverlay lets later transactions in a block spend outputs created by
// earlier ones during amount validation.
type blockOverlay struct {
	base     *utxoset.Set
	height   int32
	maturity int32
	staged   map[wire.OutPoint]tx.ViewOutput
	spent    map[wire.OutPoint]struct{}
}

func newBlockOverlay(base *utxoset.Set, height int32, maturity int32) *blockOverlay {
	return &blockOverlay{
		base:     base,
		height:   height,
		maturity: maturity,
		staged:   make(map[wire.OutPoint]tx.ViewOutput),
		spent:    make(map[wire.OutPoint]struct{}),
	}
}

var _ tx.UTXOView = (*blockOverlay)(nil)

func (v *blockOverlay) stage(t *tx.Transaction) {
	hash := t.TxHash()
	for _, in := range t.Inputs {
		v.spent[in.PreviousOutPoint] = struct{}{}
	}
	for _, out := range t.Outputs {
		v.staged[wire.OutPoint{Hash: hash, Index: out.Index}] = tx.ViewOutput{
			Address:  out.Address,
			Amount:   out.Amount,
			Height:   v.height,
			Coinbase: t.Type.IsCoinbase(),
		}
	}
}

func (v *blockOverlay) Lookup(op wire.OutPoint) (tx.ViewOutput, bool) {
	if _, gone := v.spent[op]; gone {
		return tx.ViewOutput{}, false
	}
	if out, found := v.staged[op]; found {
		return out, true
	}
	return v.base.Lookup(op)
}

func (v *blockOverlay) Spendable(op wire.OutPoint) bool {
	if _, gone := v.spent[op]; gone {
		return false
	}
	if out, found := v.staged[op]; found {
		// Coinbase created in this very block is never mature.
		return !out.Coinbase
	}
	return v.base.Spendable(op)
}
