package tx

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/h3tag-network/chaincore/pkg/keygen"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	net := &chaincfg.RegressionNetParams
	store := keygen.NewMemorySecretStore(nil, net)
	owner, err := store.Add(keygen.FromInt(1))
	require.NoError(t, err)
	dest, err := store.Add(keygen.FromInt(2))
	require.NoError(t, err)

	built, err := NewBuilder(TypeStandard).
		AddInput(chainhash.Hash{1}, 0, owner, 10_000).
		AddOutput(dest, 9_000).
		Build()
	require.NoError(t, err)

	// Unsigned fails verification.
	require.Error(t, built.VerifySignatures(net))

	require.NoError(t, built.Sign(store))
	require.NoError(t, built.VerifySignatures(net))

	// A signature from the wrong key does not satisfy the claimed owner.
	tampered, err := NewBuilder(TypeStandard).
		AddInput(chainhash.Hash{1}, 0, owner, 10_000).
		AddOutput(dest, 9_000).
		Build()
	require.NoError(t, err)
	require.NoError(t, tampered.Sign(store))
	tampered.Inputs[0].PubKey = keygen.FromInt(2).PubKey().SerializeCompressed()
	require.Error(t, tampered.VerifySignatures(net))
}

func TestSignUnknownAddress(t *testing.T) {
	net := &chaincfg.RegressionNetParams
	store := keygen.NewMemorySecretStore(nil, net)

	built, err := NewBuilder(TypeStandard).
		AddInput(chainhash.Hash{1}, 0, "unknown-address", 10_000).
		AddOutput("dest", 9_000).
		Build()
	require.NoError(t, err)
	require.Error(t, built.Sign(store))
}
