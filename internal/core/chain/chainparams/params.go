package chainparams

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params holds every consensus and policy constant the chain core consults.
// Nothing in the core hard-codes these; tests construct reduced variants.
type Params struct {
	// Net is used for address encoding and decoding only.
	Net *chaincfg.Params

	// Consensus constants.
	CoinbaseMaturity   int32
	InitialBlockReward int64
	HalvingInterval    int32
	RetargetInterval   int32
	TargetTimePerBlock time.Duration
	MaxBlockWeight     int64
	MaxTimeOffset      time.Duration
	InitialBits        uint32

	// Mempool policy.
	MaxMempoolBytes   int64
	MinRelayFeeRate   float64 // smallest units per vbyte
	MempoolExpiry     time.Duration
	MaxAncestors      int
	MaxDescendants    int
	AllowReplaceByFee bool

	// Orphan blocks older than this are dropped.
	OrphanExpiry time.Duration
}

var MainNetParams = Params{
	Net:                &chaincfg.MainNetParams,
	CoinbaseMaturity:   100,
	InitialBlockReward: 50_0000_0000,
	HalvingInterval:    210_000,
	RetargetInterval:   2016,
	TargetTimePerBlock: 10 * time.Minute,
	MaxBlockWeight:     4_000_000,
	MaxTimeOffset:      2 * time.Hour,
	InitialBits:        0x1d00ffff,
	MaxMempoolBytes:    300 * 1024 * 1024,
	MinRelayFeeRate:    1,
	MempoolExpiry:      336 * time.Hour,
	MaxAncestors:       25,
	MaxDescendants:     25,
	AllowReplaceByFee:  false,
	OrphanExpiry:       20 * time.Minute,
}

var TestNetParams = Params{
	Net:                &chaincfg.TestNet3Params,
	CoinbaseMaturity:   100,
	InitialBlockReward: 50_0000_0000,
	HalvingInterval:    210_000,
	RetargetInterval:   2016,
	TargetTimePerBlock: 10 * time.Minute,
	MaxBlockWeight:     4_000_000,
	MaxTimeOffset:      2 * time.Hour,
	InitialBits:        0x1d00ffff,
	MaxMempoolBytes:    50 * 1024 * 1024,
	MinRelayFeeRate:    1,
	MempoolExpiry:      336 * time.Hour,
	MaxAncestors:       25,
	MaxDescendants:     25,
	AllowReplaceByFee:  false,
	OrphanExpiry:       20 * time.Minute,
}

// RegressionParams keeps everything small enough to exercise maturity,
// halving and retargeting in tests.
var RegressionParams = Params{
	Net:                &chaincfg.RegressionNetParams,
	CoinbaseMaturity:   10,
	InitialBlockReward: 50_0000_0000,
	HalvingInterval:    150,
	RetargetInterval:   16,
	TargetTimePerBlock: time.Minute,
	MaxBlockWeight:     4_000_000,
	MaxTimeOffset:      2 * time.Hour,
	InitialBits:        0x207fffff,
	MaxMempoolBytes:    5 * 1024 * 1024,
	MinRelayFeeRate:    1,
	MempoolExpiry:      time.Hour,
	MaxAncestors:       25,
	MaxDescendants:     25,
	AllowReplaceByFee:  false,
	OrphanExpiry:       time.Minute,
}
