package mempool

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainerrors"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainparams"
	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
	"github.com/h3tag-network/chaincore/internal/core/chain/utxoset"
	"github.com/h3tag-network/chaincore/pkg/keygen"
	"github.com/h3tag-network/chaincore/pkg/txhelper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// harness wires a pool against a seeded UTXO set with three funded parties.
type harness struct {
	params chainparams.Params
	store  keygen.MemorySecretStore
	utxos  *utxoset.Set
	pool   *Pool

	alice, bob, carol string
	funding           map[string]*tx.Transaction
}

func newHarness(t *testing.T, mutate func(*chainparams.Params)) *harness {
	t.Helper()
	params := chainparams.RegressionParams
	if mutate != nil {
		mutate(&params)
	}

	h := &harness{
		params:  params,
		store:   keygen.NewMemorySecretStore(nil, params.Net),
		funding: make(map[string]*tx.Transaction),
	}
	var err error
	h.alice, err = h.store.Add(keygen.FromInt(1))
	require.NoError(t, err)
	h.bob, err = h.store.Add(keygen.FromInt(2))
	require.NoError(t, err)
	h.carol, err = h.store.Add(keygen.FromInt(3))
	require.NoError(t, err)

	h.utxos = utxoset.New(params, zap.NewNop())
	var seed []*tx.Transaction
	for i, addr := range []string{h.alice, h.bob, h.carol} {
		f := &tx.Transaction{
			Version:   1,
			Type:      tx.TypeStandard,
			Timestamp: 1735689600 + int64(i),
			Outputs:   []tx.Output{{Address: addr, Amount: 1_000_000, Index: 0}},
		}
		h.funding[addr] = f
		seed = append(seed, f)
	}
	_, err = h.utxos.ApplyBlock(seed, 1)
	require.NoError(t, err)

	h.pool = New(params, h.utxos, zap.NewNop())
	return h
}

// payment spends the funding output of from, sending amount to dest with the
// given fee, change back to from. Signed and ready to admit.
func (h *harness) payment(t *testing.T, from, dest string, amount, fee int64) *tx.Transaction {
	t.Helper()
	funding := h.funding[from]
	total := funding.Outputs[0].Amount
	built, err := tx.NewBuilder(tx.TypeStandard).
		AddInput(funding.TxHash(), 0, from, total).
		AddOutput(dest, amount).
		AddOutput(from, total-amount-fee).
		Build()
	require.NoError(t, err)
	require.Equal(t, fee, built.Fee)
	require.NoError(t, built.Sign(h.store))
	return built
}

// childOf spends output 0 of a pooled parent transaction.
func (h *harness) childOf(t *testing.T, parent *tx.Transaction, owner, dest string, fee int64) *tx.Transaction {
	t.Helper()
	total := parent.Outputs[0].Amount
	built, err := tx.NewBuilder(tx.TypeStandard).
		AddInput(parent.TxHash(), 0, owner, total).
		AddOutput(dest, total-fee).
		Build()
	require.NoError(t, err)
	require.NoError(t, built.Sign(h.store))
	return built
}

func TestAdmitAndQuery(t *testing.T) {
	h := newHarness(t, nil)
	payment := h.payment(t, h.alice, h.bob, 500_000, 2_000)
	hash := payment.TxHash()

	require.NoError(t, h.pool.Admit(payment))
	require.Equal(t, 1, h.pool.Size())

	got, err := h.pool.Get(hash)
	require.NoError(t, err)
	require.Equal(t, hash, got.TxHash())

	info, err := h.pool.GetEntry(hash)
	require.NoError(t, err)
	require.Equal(t, int64(2_000), info.Fee)
	require.Greater(t, info.FeeRate, 0.0)
	require.Zero(t, info.AncestorCount)

	require.Contains(t, h.pool.TxIDs(), hash)
	require.Contains(t, h.pool.Verbose(), hash)

	_, err = h.pool.GetEntry(chainhash.Hash{9})
	require.True(t, chainerrors.IsNotFound(err))
}

func TestAdmitDuplicateIsConflict(t *testing.T) {
	h := newHarness(t, nil)
	payment := h.payment(t, h.alice, h.bob, 500_000, 2_000)

	require.NoError(t, h.pool.Admit(payment))
	err := h.pool.Admit(payment)
	require.True(t, chainerrors.IsConflict(err))
	require.Equal(t, 1, h.pool.Size())
}

func TestCoinbaseNeverAdmitted(t *testing.T) {
	h := newHarness(t, nil)
	coinbase, err := tx.NewBuilder(tx.TypeCoinbase).
		AddOutput(h.alice, 50_0000_0000).
		Build()
	require.NoError(t, err)
	require.True(t, chainerrors.IsValidation(h.pool.Admit(coinbase)))
}

func TestDoubleSpendRejectedByDefault(t *testing.T) {
	h := newHarness(t, nil)
	first := h.payment(t, h.alice, h.bob, 500_000, 2_000)
	second := h.payment(t, h.alice, h.carol, 400_000, 5_000)

	require.NoError(t, h.pool.Admit(first))
	err := h.pool.Admit(second)
	require.True(t, chainerrors.IsConflict(err))

	// First spender stays; higher fee does not matter without replacement.
	require.Equal(t, 1, h.pool.Size())
	_, err = h.pool.Get(first.TxHash())
	require.NoError(t, err)
}

func TestReplaceByFee(t *testing.T) {
	h := newHarness(t, func(p *chainparams.Params) {
		p.AllowReplaceByFee = true
	})
	original := h.payment(t, h.alice, h.bob, 500_000, 2_000)
	cheaper := h.payment(t, h.alice, h.carol, 500_000, 1_000)
	richer := h.payment(t, h.alice, h.carol, 400_000, 10_000)

	require.NoError(t, h.pool.Admit(original))

	err := h.pool.Admit(cheaper)
	require.True(t, chainerrors.IsConflict(err))
	_, err = h.pool.Get(original.TxHash())
	require.NoError(t, err)

	require.NoError(t, h.pool.Admit(richer))
	require.Equal(t, 1, h.pool.Size())
	_, err = h.pool.Get(original.TxHash())
	require.True(t, chainerrors.IsNotFound(err))
	_, err = h.pool.Get(richer.TxHash())
	require.NoError(t, err)
}

func TestReplacementCannotSpendDisplacedOutputs(t *testing.T) {
	h := newHarness(t, func(p *chainparams.Params) {
		p.AllowReplaceByFee = true
	})
	original := h.payment(t, h.alice, h.bob, 500_000, 2_000)
	child := h.childOf(t, original, h.bob, h.carol, 2_000)
	require.NoError(t, h.pool.Admit(original))
	require.NoError(t, h.pool.Admit(child))

	// Conflicts with original while funding itself from the child that the
	// replacement would displace.
	funding := h.funding[h.alice]
	replacement, err := tx.NewBuilder(tx.TypeStandard).
		AddInput(funding.TxHash(), 0, h.alice, funding.Outputs[0].Amount).
		AddInput(child.TxHash(), 0, h.carol, child.Outputs[0].Amount).
		AddOutput(h.bob, 500_000).
		Build()
	require.NoError(t, err)
	require.NoError(t, replacement.Sign(h.store))

	require.True(t, chainerrors.IsNotFound(h.pool.Admit(replacement)))

	// Rejection leaves the pool untouched.
	require.Equal(t, 2, h.pool.Size())
	_, err = h.pool.Get(original.TxHash())
	require.NoError(t, err)
	_, err = h.pool.Get(child.TxHash())
	require.NoError(t, err)
}

func TestMinRelayFeeRate(t *testing.T) {
	h := newHarness(t, nil)
	free := h.payment(t, h.alice, h.bob, 500_000, 0)
	require.True(t, chainerrors.IsValidation(h.pool.Admit(free)))
	require.Zero(t, h.pool.Size())
}

func TestUnknownInputRejected(t *testing.T) {
	h := newHarness(t, nil)
	phantom, err := tx.NewBuilder(tx.TypeStandard).
		AddInput(chainhash.Hash{42}, 0, h.alice, 1_000_000).
		AddOutput(h.bob, 990_000).
		Build()
	require.NoError(t, err)
	require.NoError(t, phantom.Sign(h.store))
	require.True(t, chainerrors.IsNotFound(h.pool.Admit(phantom)))
}

func TestRejectedCacheShortCircuits(t *testing.T) {
	h := newHarness(t, nil)
	free := h.payment(t, h.alice, h.bob, 500_000, 0)

	require.True(t, chainerrors.IsValidation(h.pool.Admit(free)))
	// Second attempt is answered from the cache.
	err := h.pool.Admit(free)
	require.True(t, chainerrors.IsValidation(err))
	require.Contains(t, err.Error(), "recently rejected")
}

func TestChainedUnconfirmedSpends(t *testing.T) {
	h := newHarness(t, nil)
	parent := h.payment(t, h.alice, h.bob, 500_000, 2_000)
	child := h.childOf(t, parent, h.bob, h.carol, 2_000)

	require.NoError(t, h.pool.Admit(parent))
	require.NoError(t, h.pool.Admit(child))

	info, err := h.pool.GetEntry(child.TxHash())
	require.NoError(t, err)
	require.Equal(t, 1, info.AncestorCount)
	require.Contains(t, info.Depends, parent.TxHash())

	parentInfo, err := h.pool.GetEntry(parent.TxHash())
	require.NoError(t, err)
	require.Equal(t, 1, parentInfo.DescendantCount)
}

func TestChildWithoutParentRejected(t *testing.T) {
	h := newHarness(t, nil)
	parent := h.payment(t, h.alice, h.bob, 500_000, 2_000)
	child := h.childOf(t, parent, h.bob, h.carol, 2_000)

	// Parent never admitted, so the child's input is unknown.
	require.True(t, chainerrors.IsNotFound(h.pool.Admit(child)))
}

func TestCapacityEviction(t *testing.T) {
	low := int64(1_000)
	mid := int64(5_000)
	high := int64(20_000)

	var h *harness
	h = newHarness(t, func(p *chainparams.Params) {
		// Sized below during a dry run.
		p.MaxMempoolBytes = 1 << 20
	})
	lowTx := h.payment(t, h.alice, h.bob, 500_000, low)
	midTx := h.payment(t, h.bob, h.carol, 500_000, mid)
	budget := txhelper.VBytes(lowTx) + txhelper.VBytes(midTx) + 10

	h = newHarness(t, func(p *chainparams.Params) {
		p.MaxMempoolBytes = budget
	})
	lowTx = h.payment(t, h.alice, h.bob, 500_000, low)
	midTx = h.payment(t, h.bob, h.carol, 500_000, mid)
	highTx := h.payment(t, h.carol, h.alice, 500_000, high)

	require.NoError(t, h.pool.Admit(lowTx))
	require.NoError(t, h.pool.Admit(midTx))

	// The high-rate transaction displaces the cheapest entry.
	require.NoError(t, h.pool.Admit(highTx))
	_, err := h.pool.Get(lowTx.TxHash())
	require.True(t, chainerrors.IsNotFound(err))
	_, err = h.pool.Get(midTx.TxHash())
	require.NoError(t, err)
	_, err = h.pool.Get(highTx.TxHash())
	require.NoError(t, err)
}

func TestCapacityEvictionSparesAncestors(t *testing.T) {
	var h *harness
	h = newHarness(t, nil)
	parent := h.payment(t, h.alice, h.bob, 500_000, 1_000)
	budget := txhelper.VBytes(parent) + 10

	h = newHarness(t, func(p *chainparams.Params) {
		p.MaxMempoolBytes = budget
	})
	parent = h.payment(t, h.alice, h.bob, 500_000, 1_000)
	child := h.childOf(t, parent, h.bob, h.carol, 50_000)

	require.NoError(t, h.pool.Admit(parent))

	// The child pays a far better rate than its parent, but evicting the
	// parent would leave the child spending an output that exists nowhere.
	err := h.pool.Admit(child)
	require.True(t, chainerrors.IsCapacity(err))

	_, err = h.pool.Get(parent.TxHash())
	require.NoError(t, err)
	require.Equal(t, 1, h.pool.Size())

	selected := h.pool.SelectForBlock(h.params.MaxBlockWeight)
	require.Len(t, selected, 1)
	require.Equal(t, parent.TxHash(), selected[0].TxHash())
}

func TestCapacityEvictionPrefersNonAncestors(t *testing.T) {
	var h *harness
	h = newHarness(t, nil)
	parent := h.payment(t, h.alice, h.bob, 500_000, 1_000)
	unrelated := h.payment(t, h.carol, h.alice, 500_000, 2_000)
	budget := txhelper.VBytes(parent) + txhelper.VBytes(unrelated) + 10

	h = newHarness(t, func(p *chainparams.Params) {
		p.MaxMempoolBytes = budget
	})
	parent = h.payment(t, h.alice, h.bob, 500_000, 1_000)
	unrelated = h.payment(t, h.carol, h.alice, 500_000, 2_000)
	child := h.childOf(t, parent, h.bob, h.carol, 50_000)

	require.NoError(t, h.pool.Admit(parent))
	require.NoError(t, h.pool.Admit(unrelated))

	// The parent is the cheapest entry but off limits; the unrelated entry
	// goes instead.
	require.NoError(t, h.pool.Admit(child))
	_, err := h.pool.Get(unrelated.TxHash())
	require.True(t, chainerrors.IsNotFound(err))
	_, err = h.pool.Get(parent.TxHash())
	require.NoError(t, err)
	_, err = h.pool.Get(child.TxHash())
	require.NoError(t, err)
}

func TestCapacityFloorHolds(t *testing.T) {
	var h *harness
	h = newHarness(t, nil)
	probe := h.payment(t, h.alice, h.bob, 500_000, 20_000)
	budget := txhelper.VBytes(probe) + 10

	h = newHarness(t, func(p *chainparams.Params) {
		p.MaxMempoolBytes = budget
	})
	rich := h.payment(t, h.alice, h.bob, 500_000, 20_000)
	poor := h.payment(t, h.bob, h.carol, 500_000, 1_000)

	require.NoError(t, h.pool.Admit(rich))
	err := h.pool.Admit(poor)
	require.True(t, chainerrors.IsCapacity(err))
	require.Equal(t, 1, h.pool.Size())
}

func TestRemoveForBlock(t *testing.T) {
	h := newHarness(t, nil)
	parent := h.payment(t, h.alice, h.bob, 500_000, 2_000)
	child := h.childOf(t, parent, h.bob, h.carol, 2_000)
	other := h.payment(t, h.carol, h.alice, 500_000, 2_000)

	require.NoError(t, h.pool.Admit(parent))
	require.NoError(t, h.pool.Admit(child))
	require.NoError(t, h.pool.Admit(other))

	h.pool.RemoveForBlock([]*tx.Transaction{parent})

	_, err := h.pool.Get(parent.TxHash())
	require.True(t, chainerrors.IsNotFound(err))
	_, err = h.pool.Get(child.TxHash())
	require.NoError(t, err)
	_, err = h.pool.Get(other.TxHash())
	require.NoError(t, err)
}

func TestRemoveForBlockCascadesConflicts(t *testing.T) {
	h := newHarness(t, nil)
	pooled := h.payment(t, h.alice, h.bob, 500_000, 2_000)
	require.NoError(t, h.pool.Admit(pooled))

	// A block confirms a different spend of the same output; the pooled
	// version and anything built on it must go.
	confirmed := h.payment(t, h.alice, h.carol, 400_000, 5_000)
	h.pool.RemoveForBlock([]*tx.Transaction{confirmed})

	require.Zero(t, h.pool.Size())
}

func TestExpire(t *testing.T) {
	h := newHarness(t, nil)
	payment := h.payment(t, h.alice, h.bob, 500_000, 2_000)
	require.NoError(t, h.pool.Admit(payment))

	require.Zero(t, h.pool.Expire(time.Now()))
	require.Equal(t, 1, h.pool.Expire(time.Now().Add(h.params.MempoolExpiry+time.Minute)))
	require.Zero(t, h.pool.Size())
}

func TestSelectForBlockOrdering(t *testing.T) {
	h := newHarness(t, nil)

	// The child pays a much better rate than its parent; selection must
	// still emit the parent first.
	parent := h.payment(t, h.alice, h.bob, 500_000, 1_000)
	child := h.childOf(t, parent, h.bob, h.carol, 50_000)
	other := h.payment(t, h.carol, h.alice, 500_000, 10_000)

	require.NoError(t, h.pool.Admit(parent))
	require.NoError(t, h.pool.Admit(child))
	require.NoError(t, h.pool.Admit(other))

	selected := h.pool.SelectForBlock(h.params.MaxBlockWeight)
	require.Len(t, selected, 3)

	pos := make(map[chainhash.Hash]int)
	for i, s := range selected {
		pos[s.TxHash()] = i
	}
	require.Less(t, pos[parent.TxHash()], pos[child.TxHash()])
}

func TestSelectForBlockRespectsWeight(t *testing.T) {
	h := newHarness(t, nil)
	a := h.payment(t, h.alice, h.bob, 500_000, 10_000)
	b := h.payment(t, h.bob, h.carol, 500_000, 2_000)

	require.NoError(t, h.pool.Admit(a))
	require.NoError(t, h.pool.Admit(b))

	budget := txhelper.Weight(a)
	selected := h.pool.SelectForBlock(budget)
	require.Len(t, selected, 1)
	require.Equal(t, a.TxHash(), selected[0].TxHash())

	require.Empty(t, h.pool.SelectForBlock(0))
}

func TestInfo(t *testing.T) {
	h := newHarness(t, nil)

	empty := h.pool.Info()
	require.Zero(t, empty.Size)
	require.Equal(t, HealthHealthy, empty.Health)
	require.True(t, empty.CurrentFeeRate.Equal(empty.BaseFeeRate))

	require.NoError(t, h.pool.Admit(h.payment(t, h.alice, h.bob, 500_000, 2_000)))
	require.NoError(t, h.pool.Admit(h.payment(t, h.bob, h.carol, 500_000, 8_000)))

	info := h.pool.Info()
	require.Equal(t, 2, info.Size)
	require.Greater(t, info.Bytes, int64(0))
	require.Equal(t, 2, info.TypeCounts["standard"])
	require.True(t, info.MinFeeRate.LessThan(info.MaxFeeRate))
	require.True(t, info.MeanFeeRate.GreaterThan(info.MinFeeRate))
	require.Equal(t, HealthHealthy, info.Health)
}
