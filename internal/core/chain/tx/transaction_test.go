package tx

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainerrors"
	"github.com/stretchr/testify/require"
)

func TestBuilderIsImmutable(t *testing.T) {
	base := NewBuilder(TypeStandard).
		WithTimestamp(time.Unix(1735689600, 0)).
		AddInput(chainhash.Hash{1}, 0, "addr-in", 10_000)

	a, err := base.AddOutput("addr-a", 9_000).Build()
	require.NoError(t, err)
	b, err := base.AddOutput("addr-b", 8_000).Build()
	require.NoError(t, err)

	require.Equal(t, "addr-a", a.Outputs[0].Address)
	require.Equal(t, "addr-b", b.Outputs[0].Address)
	require.NotEqual(t, a.TxHash(), b.TxHash())
}

func TestBuildDerivesFee(t *testing.T) {
	built, err := NewBuilder(TypeStandard).
		AddInput(chainhash.Hash{1}, 0, "addr-in", 10_000).
		AddOutput("addr-out", 9_000).
		Build()
	require.NoError(t, err)
	require.Equal(t, int64(1_000), built.Fee)
	require.Equal(t, StatusPending, built.Status)
}

func TestBuildRejectsBadShapes(t *testing.T) {
	_, err := NewBuilder(TypeStandard).
		AddOutput("addr-out", 1).
		Build()
	require.Error(t, err)
	require.True(t, chainerrors.IsValidation(err))

	_, err = NewBuilder(TypeStandard).
		AddInput(chainhash.Hash{1}, 0, "addr-in", 1_000).
		AddOutput("addr-out", 2_000).
		Build()
	require.Error(t, err)
	require.True(t, chainerrors.IsValidation(err))

	_, err = NewBuilder(TypeStandard).
		AddInput(chainhash.Hash{1}, 0, "addr-in", 1_000).
		AddInput(chainhash.Hash{1}, 0, "addr-in", 1_000).
		AddOutput("addr-out", 1_500).
		Build()
	require.Error(t, err)
	require.True(t, chainerrors.IsConflict(err))
}

func TestCoinbaseShape(t *testing.T) {
	cb, err := NewBuilder(TypeCoinbase).
		AddOutput("miner", 50_0000_0000).
		Build()
	require.NoError(t, err)
	require.True(t, cb.Type.IsCoinbase())
	require.Zero(t, cb.Fee)

	_, err = NewBuilder(TypeCoinbase).
		AddInput(chainhash.Hash{1}, 0, "addr", 1).
		AddOutput("miner", 1).
		Build()
	require.Error(t, err)
}

func TestSigHashExcludesSignatures(t *testing.T) {
	built, err := NewBuilder(TypeStandard).
		AddInput(chainhash.Hash{1}, 0, "addr-in", 10_000).
		AddOutput("addr-out", 9_000).
		Build()
	require.NoError(t, err)

	before := built.SigHash()
	built.Inputs[0].Signature = []byte{1, 2, 3}
	built.Inputs[0].PubKey = []byte{4, 5, 6}
	require.Equal(t, before, built.SigHash())
	require.NotEqual(t, built.SigHash(), built.TxHash())
}

func TestMerkleRoot(t *testing.T) {
	mk := func(amount int64) *Transaction {
		built, err := NewBuilder(TypeStandard).
			WithTimestamp(time.Unix(1735689600, 0)).
			AddInput(chainhash.Hash{9}, 0, "addr-in", amount).
			AddOutput("addr-out", amount-500).
			Build()
		require.NoError(t, err)
		return built
	}
	a, b, c := mk(1_000), mk(2_000), mk(3_000)

	require.Equal(t, chainhash.Hash{}, BuildMerkleRoot(nil))
	require.Equal(t, a.TxHash(), BuildMerkleRoot([]*Transaction{a}))

	two := BuildMerkleRoot([]*Transaction{a, b})
	require.Equal(t, hashMerkleBranches(a.TxHash(), b.TxHash()), two)

	// Odd level duplicates its last node.
	three := BuildMerkleRoot([]*Transaction{a, b, c})
	want := hashMerkleBranches(
		hashMerkleBranches(a.TxHash(), b.TxHash()),
		hashMerkleBranches(c.TxHash(), c.TxHash()),
	)
	require.Equal(t, want, three)
}

func TestValidateAmount(t *testing.T) {
	view := stubView{
		outputs: map[wire.OutPoint]ViewOutput{
			{Hash: chainhash.Hash{1}, Index: 0}: {Address: "owner", Amount: 10_000},
		},
	}
	v := NewValidator(&chaincfg.RegressionNetParams)

	ok, err := NewBuilder(TypeStandard).
		AddInput(chainhash.Hash{1}, 0, "owner", 10_000).
		AddOutput("dest", 9_000).
		Build()
	require.NoError(t, err)
	require.NoError(t, v.ValidateAmount(ok, view))

	missing, err := NewBuilder(TypeStandard).
		AddInput(chainhash.Hash{2}, 0, "owner", 10_000).
		AddOutput("dest", 9_000).
		Build()
	require.NoError(t, err)
	err = v.ValidateAmount(missing, view)
	require.True(t, chainerrors.IsNotFound(err))

	wrongAmount, err := NewBuilder(TypeStandard).
		AddInput(chainhash.Hash{1}, 0, "owner", 9_999).
		AddOutput("dest", 9_000).
		Build()
	require.NoError(t, err)
	err = v.ValidateAmount(wrongAmount, view)
	require.True(t, chainerrors.IsValidation(err))

	wrongOwner, err := NewBuilder(TypeStandard).
		AddInput(chainhash.Hash{1}, 0, "thief", 10_000).
		AddOutput("dest", 9_000).
		Build()
	require.NoError(t, err)
	err = v.ValidateAmount(wrongOwner, view)
	require.True(t, chainerrors.IsValidation(err))
}

type stubView struct {
	outputs map[wire.OutPoint]ViewOutput
}

func (s stubView) Lookup(op wire.OutPoint) (ViewOutput, bool) {
	out, found := s.outputs[op]
	return out, found
}

func (s stubView) Spendable(op wire.OutPoint) bool {
	_, found := s.outputs[op]
	return found
}
