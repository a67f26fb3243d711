package broadcaster

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Target is anything that can accept a raw transaction, typically a remote
// node REST client.
type Target interface {
	Server() string
	BroadcastRawTx(ctx context.Context, rawHex string) (string, error)
	Ping(ctx context.Context) error
}

// BroadCaster relays every transaction published on its broker to all
// configured targets.
type BroadCaster struct {
	Broker *Broker[*string]

	targets []Target
	logger  *zap.Logger
}

func New(targets []Target, logger *zap.Logger) *BroadCaster {
	b := &BroadCaster{
		Broker:  NewBroker[*string](),
		targets: targets,
		logger:  logger,
	}
	go b.Broker.Start()
	return b
}

func (b *BroadCaster) Connect(ctx context.Context) {
	broker := b.Broker
	logger := b.logger
	for _, target := range b.targets {
		target := target
		server := target.Server()
		go func() {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			sub := broker.Subscribe()
			defer broker.UnSubscribe(sub)
			for {
				select {
				case <-ctx.Done():
					return
				case <-broker.Done():
					return
				case msg := <-sub:
					res, err := target.BroadcastRawTx(ctx, *msg)
					if err != nil {
						logger.Warn("error broadcasting to node", zap.Error(err), zap.String("server", server))
					} else {
						logger.Info("successfully broadcasted", zap.String("txid", res),
							zap.String("server", server))
					}
				case <-ticker.C:
					if err := target.Ping(ctx); err != nil {
						logger.Warn("node unreachable", zap.Error(err), zap.String("server", server))
					}
				}
			}
		}()
	}
}

func (b *BroadCaster) Publish(rawHex string) {
	b.Broker.Publish(&rawHex)
}

func (b *BroadCaster) Stop() {
	b.Broker.Stop()
}
