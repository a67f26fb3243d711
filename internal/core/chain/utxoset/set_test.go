package utxoset

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainerrors"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainparams"
	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSet(t *testing.T) *Set {
	t.Helper()
	return New(chainparams.RegressionParams, zap.NewNop())
}

// fund mints an output out of thin air; ApplyBlock only checks inputs, so a
// transaction with none seeds the set directly.
func fund(address string, amount int64, salt int64) *tx.Transaction {
	return &tx.Transaction{
		Version:   1,
		Type:      tx.TypeStandard,
		Timestamp: 1735689600 + salt,
		Outputs:   []tx.Output{{Address: address, Amount: amount, Index: 0}},
	}
}

func spend(t *testing.T, prev *tx.Transaction, from, to string, amount, change int64) *tx.Transaction {
	t.Helper()
	built, err := tx.NewBuilder(tx.TypeStandard).
		AddInput(prev.TxHash(), 0, from, prev.Outputs[0].Amount).
		AddOutput(to, amount).
		AddOutput(from, change).
		Build()
	require.NoError(t, err)
	return built
}

func TestApplyBlockAndSpend(t *testing.T) {
	s := newTestSet(t)

	funding := fund("alice", 10_000, 1)
	undo, err := s.ApplyBlock([]*tx.Transaction{funding}, 1)
	require.NoError(t, err)
	require.Len(t, undo.Created, 1)
	require.Empty(t, undo.Spent)
	require.Equal(t, int32(1), s.TipHeight())
	require.Equal(t, 1, s.Len())

	op := wire.OutPoint{Hash: funding.TxHash(), Index: 0}
	got, err := s.GetOutput(op)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Address)
	require.Equal(t, int64(10_000), got.Value)
	require.True(t, s.Spendable(op))

	byAddr := s.FindByAddress("alice")
	require.Len(t, byAddr, 1)
	require.Empty(t, s.FindByAddress("bob"))

	spending := spend(t, funding, "alice", "bob", 6_000, 3_000)
	_, err = s.ApplyBlock([]*tx.Transaction{spending}, 2)
	require.NoError(t, err)

	_, err = s.GetOutput(op)
	require.True(t, chainerrors.IsNotFound(err))
	require.Len(t, s.FindByAddress("bob"), 1)
	require.Len(t, s.FindByAddress("alice"), 1)
}

func TestApplyBlockIsAllOrNothing(t *testing.T) {
	s := newTestSet(t)
	funding := fund("alice", 10_000, 1)
	_, err := s.ApplyBlock([]*tx.Transaction{funding}, 1)
	require.NoError(t, err)

	good := spend(t, funding, "alice", "bob", 6_000, 3_000)
	conflicting := spend(t, funding, "alice", "carol", 5_000, 4_000)

	_, err = s.ApplyBlock([]*tx.Transaction{good, conflicting}, 2)
	require.True(t, chainerrors.IsConflict(err))

	// Nothing from the failed block landed.
	require.Equal(t, int32(1), s.TipHeight())
	require.Equal(t, 1, s.Len())
	require.True(t, s.Spendable(wire.OutPoint{Hash: funding.TxHash(), Index: 0}))
}

func TestApplyBlockMissingInput(t *testing.T) {
	s := newTestSet(t)
	phantom := fund("alice", 10_000, 1)
	spending := spend(t, phantom, "alice", "bob", 6_000, 3_000)

	_, err := s.ApplyBlock([]*tx.Transaction{spending}, 1)
	require.True(t, chainerrors.IsConflict(err))
	require.Zero(t, s.Len())
}

func TestIntraBlockSpend(t *testing.T) {
	s := newTestSet(t)
	funding := fund("alice", 10_000, 1)
	chained := spend(t, funding, "alice", "bob", 6_000, 3_000)

	undo, err := s.ApplyBlock([]*tx.Transaction{funding, chained}, 1)
	require.NoError(t, err)

	// The intermediate output never hits the set, so undo holds only what
	// the block left behind.
	require.Empty(t, undo.Spent)
	require.Len(t, undo.Created, 2)
	_, err = s.GetOutput(wire.OutPoint{Hash: funding.TxHash(), Index: 0})
	require.True(t, chainerrors.IsNotFound(err))
}

func TestCoinbaseMaturity(t *testing.T) {
	s := newTestSet(t)
	coinbase, err := tx.NewBuilder(tx.TypeCoinbase).
		AddOutput("miner", 50_0000_0000).
		Build()
	require.NoError(t, err)

	_, err = s.ApplyBlock([]*tx.Transaction{coinbase}, 1)
	require.NoError(t, err)

	op := wire.OutPoint{Hash: coinbase.TxHash(), Index: 0}
	require.False(t, s.Spendable(op))

	// Confirmations accrue as the tip advances; regression maturity is 10.
	for h := int32(2); h <= 9; h++ {
		_, err = s.ApplyBlock(nil, h)
		require.NoError(t, err)
		require.False(t, s.Spendable(op), "height %d", h)
	}
	_, err = s.ApplyBlock(nil, 10)
	require.NoError(t, err)
	require.True(t, s.Spendable(op))
}

func TestDisconnect(t *testing.T) {
	s := newTestSet(t)
	funding := fund("alice", 10_000, 1)
	_, err := s.ApplyBlock([]*tx.Transaction{funding}, 1)
	require.NoError(t, err)

	spending := spend(t, funding, "alice", "bob", 6_000, 3_000)
	undo, err := s.ApplyBlock([]*tx.Transaction{spending}, 2)
	require.NoError(t, err)

	// Wrong order is refused.
	staleUndo := Undo{Height: 1}
	require.True(t, chainerrors.IsConsensus(s.Disconnect(staleUndo)))

	require.NoError(t, s.Disconnect(undo))
	require.Equal(t, int32(1), s.TipHeight())
	require.Equal(t, 1, s.Len())
	require.True(t, s.Spendable(wire.OutPoint{Hash: funding.TxHash(), Index: 0}))
	require.Empty(t, s.FindByAddress("bob"))
}

func TestSnapshotRestore(t *testing.T) {
	s := newTestSet(t)
	funding := fund("alice", 10_000, 1)
	_, err := s.ApplyBlock([]*tx.Transaction{funding}, 1)
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Equal(t, int32(1), snap.Height)
	require.Len(t, snap.UTXOs, 1)

	// Mutating the set does not touch the snapshot.
	spending := spend(t, funding, "alice", "bob", 6_000, 3_000)
	_, err = s.ApplyBlock([]*tx.Transaction{spending}, 2)
	require.NoError(t, err)
	require.Len(t, snap.UTXOs, 1)

	restored := newTestSet(t)
	restored.Restore(snap)
	require.Equal(t, int32(1), restored.TipHeight())
	require.Len(t, restored.FindByAddress("alice"), 1)
}
