package txfeed

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/h3tag-network/chaincore/internal/core/chain/tx"
	"github.com/h3tag-network/chaincore/pkg/broadcaster"
	"github.com/h3tag-network/chaincore/pkg/txhelper"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Sink is where decoded transactions go; the mempool satisfies it.
type Sink interface {
	Admit(t *tx.Transaction) error
}

func NewZeroFeed(host string, sink Sink, logger *zap.Logger) ZeroFeed {
	b := broadcaster.NewBroker[*tx.Transaction]()
	go b.Start()
	if !strings.HasPrefix(host, "tcp://") {
		host = "tcp://" + host
	}
	return ZeroFeed{host: host, sink: sink, broker: b, logger: logger}
}

// ZeroFeed subscribes to a zeromq rawtx publisher and relays every decoded
// transaction into the sink.
type ZeroFeed struct {
	host   string
	sink   Sink
	broker *broadcaster.Broker[*tx.Transaction]
	logger *zap.Logger
}

func (m *ZeroFeed) Subscribe() chan *tx.Transaction {
	return m.broker.Subscribe()
}

func (m *ZeroFeed) UnSubscribe(channel chan *tx.Transaction) {
	m.broker.UnSubscribe(channel)
}

func (m *ZeroFeed) Stop() {
	m.broker.Stop()
}

func (m *ZeroFeed) Start(ctx context.Context) error {
	sub := zmq4.NewSub(ctx)
	err := sub.Dial(m.host)
	if err != nil {
		return errors.Wrap(err, "could not dial")
	}

	err = sub.SetOption(zmq4.OptionSubscribe, "rawtx")
	if err != nil {
		return errors.Wrap(err, "could not subscribe")
	}

	var mu sync.RWMutex
	var lastMessageSentAt time.Time

	doneChan := make(chan struct{})

	defer func() {
		close(doneChan)
	}()

	go func() {
		tick := time.NewTicker(10 * time.Minute)
		defer tick.Stop()
		for {
			select {
			case <-doneChan:
				return
			case <-tick.C:
				currentTime := time.Now()
				mu.RLock()
				myTime := lastMessageSentAt
				mu.RUnlock()

				if currentTime.Sub(myTime) > 10*time.Minute {
					m.logger.Warn("feed has not seen a message in 10 minutes")
				}
			}
		}
	}()

	for {
		// Read envelope
		msg, err := sub.Recv()
		if err != nil {
			return errors.Wrap(err, "could not receive message")
		}

		if len(msg.Frames) < 2 {
			return errors.New("unexpected message frames")
		}
		t := txhelper.FromBytes(msg.Frames[1])
		if t == nil {
			return errors.New("bad tx detected")
		}

		if err := m.sink.Admit(t); err != nil {
			m.logger.Debug("feed tx rejected",
				zap.String("txid", t.TxHash().String()),
				zap.Error(err))
			continue
		}

		m.broker.Publish(t)
		mu.Lock()
		lastMessageSentAt = time.Now()
		mu.Unlock()
	}
}
