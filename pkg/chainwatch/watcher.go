package chainwatch

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainmodels"
	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
	"github.com/h3tag-network/chaincore/pkg/broadcaster"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
)

// Event is a single chain observation, either a pooled transaction or a
// connected block.
type Event struct {
	Tx    *tx.Transaction
	Block *chainmodels.Block
}

// TxSource is the mempool surface the watcher consumes.
type TxSource interface {
	Subscribe() chan *tx.Transaction
	UnSubscribe(chan *tx.Transaction)
}

// BlockSource is the chain state surface the watcher consumes.
type BlockSource interface {
	SubscribeBlocks() chan *chainmodels.Block
	UnSubscribeBlocks(chan *chainmodels.Block)
}

// Watcher merges mempool and block notifications onto one deduplicated
// stream. A transaction seen in the pool and again inside a block only
// produces one transaction event; the block event still carries it.
type Watcher struct {
	cache  simplelru.LRUCache[chainhash.Hash, struct{}]
	broker *broadcaster.Broker[Event]
	logger *zap.Logger
}

func New(logger *zap.Logger) *Watcher {
	b := broadcaster.NewBroker[Event]()
	go b.Start()
	return &Watcher{
		cache:  expirable.NewLRU[chainhash.Hash, struct{}](5_000, nil, 5*time.Minute),
		broker: b,
		logger: logger,
	}
}

func (w *Watcher) Subscribe() chan Event {
	return w.broker.Subscribe()
}

func (w *Watcher) UnSubscribe(channel chan Event) {
	w.broker.UnSubscribe(channel)
}

func (w *Watcher) Stop() {
	w.broker.Stop()
}

// Start consumes both sources until the context ends.
func (w *Watcher) Start(ctx context.Context, txs TxSource, blocks BlockSource) {
	txCh := txs.Subscribe()
	defer txs.UnSubscribe(txCh)
	blockCh := blocks.SubscribeBlocks()
	defer blocks.UnSubscribeBlocks(blockCh)

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-txCh:
			if !ok {
				return
			}
			hash := t.TxHash()
			if w.cache.Contains(hash) {
				continue
			}
			w.cache.Add(hash, struct{}{})
			w.broker.Publish(Event{Tx: t})
		case b, ok := <-blockCh:
			if !ok {
				return
			}
			for _, t := range b.Transactions {
				w.cache.Add(t.TxHash(), struct{}{})
			}
			w.logger.Debug("block connected",
				zap.Int32("height", b.Header.Height),
				zap.Int("txs", len(b.Transactions)))
			w.broker.Publish(Event{Block: b})
		}
	}
}
