// Package exchange provides shared, venue-independent helpers used by the
// concrete core.Exchange adapters (pairing/splitting, candle fan-out).
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/StudioSol/set"
	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/logger"
)

// Common errors shared by exchange adapters.
var (
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInsufficientFunds = errors.New("insufficient funds or locked")
	ErrInvalidAsset      = errors.New("invalid asset")
)

// DataFeed carries candles and errors for one (pair, timeframe) subscription.
type DataFeed struct {
	Data chan core.Candle
	Err  chan error
}

// DataFeedSubscription fans out a venue's candle stream to every subscriber
// registered for a given (pair, timeframe), used by the engine loop to wire
// strategy/indicator consumers without each owning its own socket.
type DataFeedSubscription struct {
	exchange                core.Exchange
	Feeds                   *set.LinkedHashSetString
	DataFeeds               map[string]*DataFeed
	SubscriptionsByDataFeed map[string][]Subscription
	log                     logger.Logger
	mu                      sync.RWMutex
}

// Subscription is one registered candle consumer.
type Subscription struct {
	onCandleClose bool
	consumer      DataFeedConsumer
}

// OrderError wraps an order-related error with its pair/quantity context.
type OrderError struct {
	Err      error
	Pair     string
	Quantity float64
}

func (o *OrderError) Error() string {
	return fmt.Sprintf("order error: %v", o.Err)
}

// DataFeedConsumer receives candles as they arrive.
type DataFeedConsumer func(core.Candle)

// NewDataFeed creates a DataFeedSubscription over exchange.
func NewDataFeed(exchange core.Exchange, log logger.Logger) *DataFeedSubscription {
	return &DataFeedSubscription{
		exchange:                exchange,
		Feeds:                   set.NewLinkedHashSetString(),
		log:                     log,
		DataFeeds:               make(map[string]*DataFeed),
		SubscriptionsByDataFeed: make(map[string][]Subscription),
	}
}

func (d *DataFeedSubscription) feedKey(pair, timeframe string) string {
	return fmt.Sprintf("%s--%s", pair, timeframe)
}

func (d *DataFeedSubscription) pairTimeframeFromKey(key string) (pair, timeframe string) {
	parts := strings.Split(key, "--")
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// Subscribe registers consumer for candles on (pair, timeframe). When
// onCandleClose is true, consumer only sees Complete candles.
func (d *DataFeedSubscription) Subscribe(pair, timeframe string, consumer DataFeedConsumer, onCandleClose bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := d.feedKey(pair, timeframe)
	d.Feeds.Add(key)
	d.SubscriptionsByDataFeed[key] = append(d.SubscriptionsByDataFeed[key], Subscription{
		onCandleClose: onCandleClose,
		consumer:      consumer,
	})
}

// Preload replays historical candles to every subscriber of (pair, timeframe)
// before the live stream takes over (warm-up for indicators/regime state).
func (d *DataFeedSubscription) Preload(pair, timeframe string, candles []core.Candle) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	d.log.Infof("preloading %d candles for %s-%s", len(candles), pair, timeframe)
	key := d.feedKey(pair, timeframe)

	for _, candle := range candles {
		if !candle.Complete {
			continue
		}
		for _, subscription := range d.SubscriptionsByDataFeed[key] {
			subscription.consumer(candle)
		}
	}
}

// Connect opens a CandlesSubscription for every registered (pair, timeframe).
func (d *DataFeedSubscription) Connect() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.log.Infof("connecting to the exchange")

	for feed := range d.Feeds.Iter() {
		pair, timeframe := d.pairTimeframeFromKey(feed)
		ccandle, cerr := d.exchange.CandlesSubscription(context.Background(), pair, timeframe)
		d.DataFeeds[feed] = &DataFeed{
			Data: ccandle,
			Err:  cerr,
		}
	}
}

// Start connects and begins dispatching every feed to its subscribers. When
// loadSync is true, Start blocks until every feed goroutine returns (i.e.
// until every channel is closed) — used by the backtest path.
func (d *DataFeedSubscription) Start(loadSync bool) {
	d.Connect()

	var wg sync.WaitGroup

	d.mu.RLock()
	for key, feed := range d.DataFeeds {
		wg.Add(1)
		go d.processFeed(key, feed, &wg)
	}
	d.mu.RUnlock()

	d.log.Infof("data feed connected")

	if loadSync {
		wg.Wait()
	}
}

func (d *DataFeedSubscription) processFeed(key string, feed *DataFeed, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case candle, ok := <-feed.Data:
			if !ok {
				return
			}

			d.mu.RLock()
			subscriptions := d.SubscriptionsByDataFeed[key]
			d.mu.RUnlock()

			for _, subscription := range subscriptions {
				if subscription.onCandleClose && !candle.Complete {
					continue
				}
				subscription.consumer(candle)
			}

		case err, ok := <-feed.Err:
			if !ok {
				return
			}
			if err != nil {
				d.log.Error("dataFeedSubscription/processFeed: ", err)
			}
		}
	}
}
