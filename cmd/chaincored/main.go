package main

import (
	"context"
	"flag"
	"path/filepath"
	"strings"
	"time"

	"github.com/h3tag-network/chaincore/internal/core/chain/chainmodels"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainparams"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainstate"
	"github.com/h3tag-network/chaincore/internal/core/chain/mempool"
	"github.com/h3tag-network/chaincore/internal/core/chain/miner"
	"github.com/h3tag-network/chaincore/internal/core/chain/noderemote"
	"github.com/h3tag-network/chaincore/internal/core/chain/query"
	"github.com/h3tag-network/chaincore/internal/core/chain/utxoset"
	"github.com/h3tag-network/chaincore/pkg/broadcaster"
	"github.com/h3tag-network/chaincore/pkg/chainwatch"
	"github.com/h3tag-network/chaincore/pkg/keygen"
	"github.com/h3tag-network/chaincore/pkg/sigutil"
	"github.com/h3tag-network/chaincore/pkg/txfeed"
	"github.com/h3tag-network/chaincore/pkg/txhelper"
	"go.uber.org/zap"
)

func main() {
	network := flag.String("network", "regtest", "mainnet, testnet or regtest")
	dataDir := flag.String("data-dir", "./chaincore-db", "the directory where chain data is stored")
	zmqHost := flag.String("zmq", "", "optional zeromq rawtx publisher to consume")
	peers := flag.String("peers", "", "comma separated base urls of peer nodes to relay to")
	minerPass := flag.String("miner-pass", "", "enable mining with a brain key derived from this password")
	flag.Parse()

	var params chainparams.Params
	switch *network {
	case "mainnet":
		params = chainparams.MainNetParams
	case "testnet":
		params = chainparams.TestNetParams
	case "regtest":
		params = chainparams.RegressionParams
	default:
		panic("unknown network: " + *network)
	}

	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	ctx := context.Background()

	snapshots := utxoset.NewSnapshotStore(filepath.Join(*dataDir, "utxoset.gob.gz"))
	snap, err := snapshots.Get(ctx)
	if err != nil {
		panic(err)
	}
	utxos := utxoset.New(params, l)
	utxos.Restore(snap)

	kv, err := utxoset.OpenKVStore(filepath.Join(*dataDir, "undo.db"))
	if err != nil {
		panic(err)
	}
	defer kv.Close()

	archive, err := chainstate.NewBlockStore(filepath.Join(*dataDir, "blocks.sqlite"))
	if err != nil {
		panic(err)
	}
	defer archive.Close()

	pool := mempool.New(params, utxos, l)
	state := chainstate.New(params, utxos, pool, l,
		chainstate.WithArchive(archive),
		chainstate.WithKVStore(kv))
	builder := miner.NewBuilder(params, state, pool, l)
	svc := query.NewService(params, state, pool, utxos, builder)

	watcher := chainwatch.New(l)
	go watcher.Start(ctx, pool, state)

	if *zmqHost != "" {
		feed := txfeed.NewZeroFeed(*zmqHost, pool, l)
		go func() {
			if err := feed.Start(ctx); err != nil {
				l.Error("zmq feed stopped", zap.Error(err))
			}
		}()
	}

	if *peers != "" {
		var targets []broadcaster.Target
		for _, base := range strings.Split(*peers, ",") {
			rest, err := noderemote.NewRest(noderemote.WithBaseURL(strings.TrimSpace(base)))
			if err != nil {
				panic(err)
			}
			targets = append(targets, rest)
		}
		relay := broadcaster.New(targets, l)
		relay.Connect(ctx)
		go func() {
			sub := pool.Subscribe()
			defer pool.UnSubscribe(sub)
			for t := range sub {
				relay.Publish(txhelper.ToString(t))
			}
		}()
	}

	if *minerPass != "" {
		wallet, err := keygen.NewReaderFromDir(*dataDir, params.Net)
		if err != nil {
			panic(err)
		}
		defer wallet.Close()
		go mine(ctx, params, builder, wallet, *minerPass, l)
	}

	go func() {
		flush := time.NewTicker(5 * time.Minute)
		defer flush.Stop()
		expire := time.NewTicker(time.Minute)
		defer expire.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-flush.C:
				if err := snapshots.Put(ctx, utxos.Snapshot()); err != nil {
					l.Error("error flushing utxo snapshot", zap.Error(err))
				}
			case <-expire.C:
				if n := pool.Expire(time.Now()); n > 0 {
					l.Info("expired pool transactions", zap.Int("count", n))
				}
			}
		}
	}()

	l.Info("INITIALIZED",
		zap.String("network", *network),
		zap.Int32("height", svc.CurrentHeight()),
		zap.String("tip", svc.BestBlockHash().String()),
	)

	<-sigutil.Done()

	if err := snapshots.Put(ctx, utxos.Snapshot()); err != nil {
		l.Error("error flushing utxo snapshot", zap.Error(err))
	}
	l.Info("shutdown complete")
}

func mine(ctx context.Context, params chainparams.Params, builder *miner.Builder, wallet *keygen.Reader, pass string, l *zap.Logger) {
	ext, err := keygen.BrainKey(pass, params.Net)
	if err != nil {
		panic(err)
	}
	key, err := ext.ECPrivKey()
	if err != nil {
		panic(err)
	}
	// Persist the reward key so wallet tooling can spend coinbase outputs
	// without re-entering the password.
	address, err := wallet.Put(key)
	if err != nil {
		panic(err)
	}
	l.Info("mining enabled", zap.String("address", address))

	for ctx.Err() == nil {
		tmpl, err := builder.GetTemplate(address)
		if err != nil {
			l.Error("error building template", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		header := chainmodels.BlockHeader{
			Version:     tmpl.Version,
			Height:      tmpl.Height,
			PrevBlock:   tmpl.PrevBlock,
			MerkleRoot:  tmpl.MerkleRoot,
			Timestamp:   tmpl.CurTime,
			Bits:        tmpl.Bits,
			MinerPubKey: key.PubKey().SerializeCompressed(),
		}
		if !miner.Solve(ctx, &header, 1<<24) {
			continue
		}

		hash, err := builder.SubmitBlock(ctx, header, tmpl.Transactions, key)
		if err != nil {
			l.Warn("mined block rejected", zap.Error(err))
			continue
		}
		l.Info("mined block",
			zap.Int32("height", tmpl.Height),
			zap.String("hash", hash.String()))
	}
}
