package mempool

import (
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainerrors"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainparams"
	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
	"github.com/h3tag-network/chaincore/internal/core/chain/utxoset"
	"github.com/h3tag-network/chaincore/pkg/broadcaster"
	"github.com/h3tag-network/chaincore/pkg/txhelper"
	"go.uber.org/zap"
)

// Pool holds individually valid, unconfirmed transactions and decides what
// gets in, what gets evicted, and in which order the miner drains it.
type Pool struct {
	params    chainparams.Params
	logger    *zap.Logger
	validator *tx.Validator
	utxos     *utxoset.Set
	broker    *broadcaster.Broker[*tx.Transaction]

	mu        sync.RWMutex
	entries   map[chainhash.Hash]*entry
	spenders  map[wire.OutPoint]chainhash.Hash
	outputs   map[wire.OutPoint]tx.ViewOutput
	bytesUsed int64

	// Recently rejected hashes, so a gossiping peer re-sending the same bad
	// transaction doesn't cost a full validation every time.
	rejected *expirable.LRU[chainhash.Hash, string]
}

func New(params chainparams.Params, utxos *utxoset.Set, logger *zap.Logger) *Pool {
	b := broadcaster.NewBroker[*tx.Transaction]()
	go b.Start()
	return &Pool{
		params:    params,
		logger:    logger,
		validator: tx.NewValidator(params.Net),
		utxos:     utxos,
		broker:    b,
		entries:   make(map[chainhash.Hash]*entry),
		spenders:  make(map[wire.OutPoint]chainhash.Hash),
		outputs:   make(map[wire.OutPoint]tx.ViewOutput),
		rejected:  expirable.NewLRU[chainhash.Hash, string](5_000, nil, 15*time.Minute),
	}
}

// Subscribe delivers every admitted transaction.
func (p *Pool) Subscribe() chan *tx.Transaction {
	return p.broker.Subscribe()
}

func (p *Pool) UnSubscribe(ch chan *tx.Transaction) {
	p.broker.UnSubscribe(ch)
}

func (p *Pool) Stop() {
	p.broker.Stop()
}

// Admit runs the full admission pipeline. A nil error means the transaction
// is in the pool; every rejection carries a chainerrors kind and has no
// side effects beyond the rejected cache.
func (p *Pool) Admit(t *tx.Transaction) error {
	if t.Type.IsCoinbase() {
		return chainerrors.NewValidation("coinbase transactions cannot enter the mempool")
	}
	hash := t.TxHash()

	// Structure and signature checks are CPU-bound and need no pool state;
	// keep them outside the lock.
	if reason, seen := p.rejected.Get(hash); seen {
		return chainerrors.NewValidation("transaction %s recently rejected: %s", hash, reason)
	}
	if err := t.CheckStructure(); err != nil {
		p.rejected.Add(hash, err.Error())
		return err
	}
	if err := t.VerifySignatures(p.params.Net); err != nil {
		p.rejected.Add(hash, err.Error())
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.entries[hash]; dup {
		return chainerrors.NewConflict("transaction %s already in mempool", hash)
	}

	if err := p.admitLocked(t, hash); err != nil {
		p.rejected.Add(hash, err.Error())
		return err
	}

	p.broker.Publish(t)
	return nil
}

// checkLocked runs the stateless-outcome part of the pipeline: double-spend
// policy, amount validation against the overlay view, and the relay fee
// floor. Read-only; shared by real admission and the dry-run Check.
func (p *Pool) checkLocked(t *tx.Transaction) (map[chainhash.Hash]struct{}, int64, float64, error) {
	// Double-spend against the pool. Replacement is policy-gated; without it
	// the first spender wins.
	conflicts := make(map[chainhash.Hash]struct{})
	for _, in := range t.Inputs {
		if spender, taken := p.spenders[in.PreviousOutPoint]; taken {
			if !p.params.AllowReplaceByFee {
				return nil, 0, 0, chainerrors.NewConflict("output %s already spent by %s", in.PreviousOutPoint, spender)
			}
			conflicts[spender] = struct{}{}
		}
	}

	// Displacing a conflict also displaces everything built on it, so the
	// doomed descendants and their outputs must be invisible to validation.
	ignore := conflicts
	if len(conflicts) > 0 {
		ignore = make(map[chainhash.Hash]struct{}, len(conflicts))
		for conflict := range conflicts {
			ignore[conflict] = struct{}{}
			for desc := range p.descendantsLocked(conflict) {
				ignore[desc] = struct{}{}
			}
		}
	}
	view := &overlayView{pool: p, base: p.utxos, ignore: ignore}
	if err := p.validator.ValidateAmount(t, view); err != nil {
		return nil, 0, 0, err
	}

	vsize := txhelper.VBytes(t)
	feeRate := txhelper.FeePerVByte(t.Fee, vsize)
	if feeRate < p.params.MinRelayFeeRate {
		return nil, 0, 0, chainerrors.NewValidation("fee rate %.2f below relay minimum %.2f", feeRate, p.params.MinRelayFeeRate)
	}
	return conflicts, vsize, feeRate, nil
}

// Check reports whether the transaction would pass admission, without
// pooling it or recording the outcome in the rejected cache. Capacity
// eviction is decided only at real admission.
func (p *Pool) Check(t *tx.Transaction) error {
	if t.Type.IsCoinbase() {
		return chainerrors.NewValidation("coinbase transactions cannot enter the mempool")
	}
	if err := t.CheckStructure(); err != nil {
		return err
	}
	if err := t.VerifySignatures(p.params.Net); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, dup := p.entries[t.TxHash()]; dup {
		return chainerrors.NewConflict("transaction %s already in mempool", t.TxHash())
	}
	_, _, _, err := p.checkLocked(t)
	return err
}

func (p *Pool) admitLocked(t *tx.Transaction, hash chainhash.Hash) error {
	conflicts, vsize, feeRate, err := p.checkLocked(t)
	if err != nil {
		return err
	}

	if len(conflicts) > 0 {
		// A replacement must pay a strictly better rate than everything it
		// displaces.
		for conflict := range conflicts {
			existing := p.entries[conflict]
			if existing != nil && feeRate <= existing.feeRate {
				return chainerrors.NewConflict("replacement rate %.2f does not beat %.2f", feeRate, existing.feeRate)
			}
		}
		for conflict := range conflicts {
			p.removeEntryLocked(conflict, true)
		}
	}

	depends := p.dependsOfLocked(t)
	ancestors := p.ancestorsLocked(depends)
	if len(ancestors) >= p.params.MaxAncestors {
		return chainerrors.NewValidation("too many unconfirmed ancestors: %d", len(ancestors))
	}
	for ancestor := range ancestors {
		if len(p.descendantsLocked(ancestor)) >= p.params.MaxDescendants {
			return chainerrors.NewValidation("ancestor %s has too many descendants", ancestor)
		}
	}

	if err := p.makeRoomLocked(vsize, feeRate, ancestors); err != nil {
		return err
	}

	e := &entry{
		tx:      t,
		hash:    hash,
		fee:     t.Fee,
		vsize:   vsize,
		weight:  vsize * 4,
		feeRate: feeRate,
		added:   time.Now(),
		height:  p.utxos.TipHeight(),
		depends: depends,
	}
	p.entries[hash] = e
	p.bytesUsed += vsize
	for _, in := range t.Inputs {
		p.spenders[in.PreviousOutPoint] = hash
	}
	for _, out := range t.Outputs {
		p.outputs[wire.OutPoint{Hash: hash, Index: out.Index}] = tx.ViewOutput{
			Address: out.Address,
			Amount:  out.Amount,
			Height:  -1,
		}
	}

	p.logger.Debug("admitted transaction",
		zap.Stringer("txid", hash),
		zap.Int64("fee", t.Fee),
		zap.Float64("feerate", feeRate),
		zap.Int("pool_size", len(p.entries)))
	return nil
}

// makeRoomLocked evicts lowest-fee-rate entries (with their descendants)
// until the incoming size fits. The incoming rate must beat whatever it
// displaces. The incoming transaction's own unconfirmed ancestors are never
// victims; evicting one would leave the newcomer dangling. The ancestor set
// is transitively closed, so no other victim can cascade into it.
func (p *Pool) makeRoomLocked(vsize int64, feeRate float64, protected map[chainhash.Hash]struct{}) error {
	for p.bytesUsed+vsize > p.params.MaxMempoolBytes {
		victim := p.lowestFeeRateLocked(protected)
		if victim == nil {
			return chainerrors.NewCapacity("mempool full and nothing evictable")
		}
		if feeRate <= victim.feeRate {
			return chainerrors.NewCapacity("mempool full; fee rate %.2f does not beat floor %.2f", feeRate, victim.feeRate)
		}
		p.removeEntryLocked(victim.hash, true)
		p.logger.Debug("evicted transaction for capacity",
			zap.Stringer("txid", victim.hash),
			zap.Float64("feerate", victim.feeRate))
	}
	return nil
}

func (p *Pool) lowestFeeRateLocked(protected map[chainhash.Hash]struct{}) *entry {
	var lowest *entry
	for _, e := range p.entries {
		if _, keep := protected[e.hash]; keep {
			continue
		}
		if lowest == nil || e.feeRate < lowest.feeRate {
			lowest = e
		}
	}
	return lowest
}

func (p *Pool) dependsOfLocked(t *tx.Transaction) []chainhash.Hash {
	var depends []chainhash.Hash
	seen := make(map[chainhash.Hash]struct{})
	for _, in := range t.Inputs {
		if _, inPool := p.outputs[in.PreviousOutPoint]; inPool {
			parent := in.PreviousOutPoint.Hash
			if _, dup := seen[parent]; !dup {
				seen[parent] = struct{}{}
				depends = append(depends, parent)
			}
		}
	}
	return depends
}

func (p *Pool) ancestorsLocked(depends []chainhash.Hash) map[chainhash.Hash]struct{} {
	result := make(map[chainhash.Hash]struct{})
	queue := append([]chainhash.Hash(nil), depends...)
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if _, done := result[h]; done {
			continue
		}
		e, found := p.entries[h]
		if !found {
			continue
		}
		result[h] = struct{}{}
		queue = append(queue, e.depends...)
	}
	return result
}

func (p *Pool) descendantsLocked(hash chainhash.Hash) map[chainhash.Hash]struct{} {
	result := make(map[chainhash.Hash]struct{})
	queue := []chainhash.Hash{hash}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		for _, e := range p.entries {
			if _, done := result[e.hash]; done {
				continue
			}
			for _, dep := range e.depends {
				if dep == h {
					result[e.hash] = struct{}{}
					queue = append(queue, e.hash)
					break
				}
			}
		}
	}
	return result
}

// removeEntryLocked removes an entry and, when cascade is set, everything
// that depends on it.
func (p *Pool) removeEntryLocked(hash chainhash.Hash, cascade bool) {
	e, found := p.entries[hash]
	if !found {
		return
	}
	if cascade {
		for desc := range p.descendantsLocked(hash) {
			p.removeEntryLocked(desc, false)
		}
	}
	delete(p.entries, hash)
	p.bytesUsed -= e.vsize
	for _, in := range e.tx.Inputs {
		if p.spenders[in.PreviousOutPoint] == hash {
			delete(p.spenders, in.PreviousOutPoint)
		}
	}
	for _, out := range e.tx.Outputs {
		delete(p.outputs, wire.OutPoint{Hash: hash, Index: out.Index})
	}
}

// RemoveForBlock purges transactions confirmed by a block and cascades
// away any entry that double-spent against the block's inputs.
func (p *Pool) RemoveForBlock(confirmed []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range confirmed {
		hash := t.TxHash()
		p.removeEntryLocked(hash, false)
		for _, in := range t.Inputs {
			if spender, taken := p.spenders[in.PreviousOutPoint]; taken {
				p.removeEntryLocked(spender, true)
			}
		}
	}
}

// Expire drops entries older than the configured expiry, descendants
// included. Returns how many entries were removed.
func (p *Pool) Expire(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var stale []chainhash.Hash
	for _, e := range p.entries {
		if now.Sub(e.added) > p.params.MempoolExpiry {
			stale = append(stale, e.hash)
		}
	}
	before := len(p.entries)
	for _, hash := range stale {
		p.removeEntryLocked(hash, true)
	}
	return before - len(p.entries)
}

// GetEntry returns metadata for one pooled transaction.
func (p *Pool) GetEntry(hash chainhash.Hash) (EntryInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, found := p.entries[hash]
	if !found {
		return EntryInfo{}, chainerrors.NewNotFound("transaction %s not in mempool", hash)
	}
	return p.entryInfoLocked(e), nil
}

// Get returns the pooled transaction itself.
func (p *Pool) Get(hash chainhash.Hash) (*tx.Transaction, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, found := p.entries[hash]
	if !found {
		return nil, chainerrors.NewNotFound("transaction %s not in mempool", hash)
	}
	return e.tx, nil
}

func (p *Pool) entryInfoLocked(e *entry) EntryInfo {
	ancestors := p.ancestorsLocked(e.depends)
	descendants := p.descendantsLocked(e.hash)
	info := EntryInfo{
		Txid:            e.hash,
		Fee:             e.fee,
		VSize:           e.vsize,
		Weight:          e.weight,
		FeeRate:         e.feeRate,
		Time:            e.added.Unix(),
		Height:          e.height,
		AncestorCount:   len(ancestors),
		DescendantCount: len(descendants),
		Depends:         append([]chainhash.Hash(nil), e.depends...),
	}
	for h := range ancestors {
		info.AncestorSize += p.entries[h].vsize
	}
	for h := range descendants {
		info.DescendantSize += p.entries[h].vsize
	}
	return info
}

// TxIDs lists pooled transaction ids in no particular order.
func (p *Pool) TxIDs() []chainhash.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]chainhash.Hash, 0, len(p.entries))
	for h := range p.entries {
		ids = append(ids, h)
	}
	return ids
}

// Verbose returns full metadata for every entry.
func (p *Pool) Verbose() map[chainhash.Hash]EntryInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make(map[chainhash.Hash]EntryInfo, len(p.entries))
	for h, e := range p.entries {
		result[h] = p.entryInfoLocked(e)
	}
	return result
}

func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// SelectForBlock returns transactions in descending fee-rate order, parents
// always before children, under the weight budget.
func (p *Pool) SelectForBlock(maxWeight int64) []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sorted := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].feeRate != sorted[j].feeRate {
			return sorted[i].feeRate > sorted[j].feeRate
		}
		return sorted[i].added.Before(sorted[j].added)
	})

	selected := make(map[chainhash.Hash]struct{})
	var result []*tx.Transaction
	var weight int64
	for changed := true; changed; {
		changed = false
		for _, e := range sorted {
			if _, done := selected[e.hash]; done {
				continue
			}
			if weight+e.weight > maxWeight {
				continue
			}
			ready := true
			for _, dep := range e.depends {
				if _, ok := selected[dep]; !ok {
					if _, stillPooled := p.entries[dep]; stillPooled {
						ready = false
						break
					}
				}
			}
			if !ready {
				continue
			}
			selected[e.hash] = struct{}{}
			result = append(result, e.tx)
			weight += e.weight
			changed = true
		}
	}
	return result
}
