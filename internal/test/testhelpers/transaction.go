package testhelpers

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
	"github.com/h3tag-network/chaincore/pkg/txhelper"
	"github.com/stretchr/testify/require"
)

// TxFromHex decodes a hex-gob transaction, failing the test on bad input.
func TxFromHex(t *testing.T, str string) *tx.Transaction {
	decoded := txhelper.FromString(str)
	require.NotNil(t, decoded, "invalid transaction hex")
	return decoded
}

// SimplePayment is a one-input one-output transaction for tests that only
// need a structurally valid payload.
func SimplePayment(t *testing.T, salt int64) *tx.Transaction {
	built, err := tx.NewBuilder(tx.TypeStandard).
		WithTimestamp(time.Unix(1735689600+salt, 0)).
		AddInput(chainhash.Hash{1}, 0, "alice", 10_000).
		AddOutput("bob", 9_000).
		Build()
	require.NoError(t, err)
	return built
}
