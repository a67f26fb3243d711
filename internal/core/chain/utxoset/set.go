package utxoset

import (
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainerrors"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainmodels"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainparams"
	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
	"go.uber.org/zap"
)

// Set is the authoritative record of spendable outputs. All mutation goes
// through ApplyBlock/Disconnect; everything else is read-only.
type Set struct {
	params chainparams.Params
	logger *zap.Logger

	mu        sync.RWMutex
	utxos     map[wire.OutPoint]chainmodels.UTXO
	tipHeight int32
}

// Undo records what a block did to the set so it can be disconnected
// during a reorg.
type Undo struct {
	Height  int32
	Spent   []chainmodels.UTXO
	Created []chainmodels.UTXO
}

func New(params chainparams.Params, logger *zap.Logger) *Set {
	return &Set{
		params: params,
		logger: logger,
		utxos:  make(map[wire.OutPoint]chainmodels.UTXO),
	}
}

var _ tx.UTXOView = (*Set)(nil)

func (s *Set) Lookup(op wire.OutPoint) (tx.ViewOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, found := s.utxos[op]
	if !found {
		return tx.ViewOutput{}, false
	}
	return tx.ViewOutput{
		Address:  u.Address,
		Amount:   u.Value,
		Height:   u.Height,
		Coinbase: u.Coinbase,
	}, true
}

// Spendable is false for missing outputs and for coinbase outputs younger
// than the maturity threshold.
func (s *Set) Spendable(op wire.OutPoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spendableLocked(op)
}

func (s *Set) spendableLocked(op wire.OutPoint) bool {
	u, found := s.utxos[op]
	if !found {
		return false
	}
	if u.Coinbase {
		return u.Confirmations(s.tipHeight) >= s.params.CoinbaseMaturity
	}
	return true
}

// GetOutput returns the recorded output or a NotFound error.
func (s *Set) GetOutput(op wire.OutPoint) (chainmodels.UTXO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, found := s.utxos[op]
	if !found {
		return chainmodels.UTXO{}, chainerrors.NewNotFound("output %s not in utxo set", op)
	}
	return u, nil
}

// FindByAddress returns every unspent output owned by the address.
func (s *Set) FindByAddress(address string) []chainmodels.UTXO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []chainmodels.UTXO
	for _, u := range s.utxos {
		if u.Address == address {
			result = append(result, u)
		}
	}
	return result
}

func (s *Set) TipHeight() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tipHeight
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.utxos)
}

// ApplyBlock consumes every input and creates every output of the given
// transactions, all or nothing. A transaction may spend an output created
// earlier in the same block. The returned undo record reverses the apply.
func (s *Set) ApplyBlock(txs []*tx.Transaction, height int32) (Undo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stage first; nothing below touches s.utxos until the whole block
	// checks out.
	spent := make(map[wire.OutPoint]chainmodels.UTXO)
	created := make(map[wire.OutPoint]chainmodels.UTXO)

	for _, t := range txs {
		for _, in := range t.Inputs {
			op := in.PreviousOutPoint
			if _, dup := spent[op]; dup {
				return Undo{}, chainerrors.NewConflict("output %s spent twice within block", op)
			}
			// An output created earlier in this block never reaches the set,
			// so it must not surface in the undo record either.
			if _, fromBlock := created[op]; fromBlock {
				delete(created, op)
				continue
			}
			u, found := s.utxos[op]
			if !found {
				return Undo{}, chainerrors.NewConflict("output %s missing or already spent", op)
			}
			spent[op] = u
		}
		hash := t.TxHash()
		for _, out := range t.Outputs {
			op := wire.OutPoint{Hash: hash, Index: out.Index}
			if _, exists := s.utxos[op]; exists {
				return Undo{}, chainerrors.NewConflict("output %s already exists", op)
			}
			created[op] = chainmodels.UTXO{
				Txid:     hash,
				Index:    out.Index,
				Address:  out.Address,
				Value:    out.Amount,
				Height:   height,
				Coinbase: t.Type.IsCoinbase(),
				Script:   "pubkeyhash",
			}
		}
	}

	undo := Undo{Height: height}
	for op, u := range spent {
		delete(s.utxos, op)
		undo.Spent = append(undo.Spent, u)
	}
	for op, u := range created {
		s.utxos[op] = u
		undo.Created = append(undo.Created, u)
	}
	s.tipHeight = height

	s.logger.Debug("applied block to utxo set",
		zap.Int32("height", height),
		zap.Int("spent", len(undo.Spent)),
		zap.Int("created", len(undo.Created)),
		zap.Int("size", len(s.utxos)))

	return undo, nil
}

// Disconnect reverses a previously applied block. Blocks must be
// disconnected tip-first.
func (s *Set) Disconnect(undo Undo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if undo.Height != s.tipHeight {
		return chainerrors.NewConsensus("disconnect height %d does not match tip %d", undo.Height, s.tipHeight)
	}
	for _, u := range undo.Created {
		delete(s.utxos, u.OutPoint())
	}
	for _, u := range undo.Spent {
		s.utxos[u.OutPoint()] = u
	}
	s.tipHeight = undo.Height - 1
	return nil
}

// Snapshot copies the whole set for persistence or inspection.
func (s *Set) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := Snapshot{
		Height: s.tipHeight,
		UTXOs:  make(map[wire.OutPoint]chainmodels.UTXO, len(s.utxos)),
	}
	for k, v := range s.utxos {
		copied.UTXOs[k] = v
	}
	return copied
}

// Restore replaces the set contents with a snapshot.
func (s *Set) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utxos = make(map[wire.OutPoint]chainmodels.UTXO, len(snap.UTXOs))
	for k, v := range snap.UTXOs {
		s.utxos[k] = v
	}
	s.tipHeight = snap.Height
}
