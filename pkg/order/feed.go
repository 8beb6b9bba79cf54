package order

import (
	"sync"

	"github.com/solbot-labs/engine/pkg/core"
)

// FeedConsumer processes one order lifecycle event.
type FeedConsumer func(order core.Order)

// feedEvent is one Publish call: an order's latest state plus whether this
// is the order's creation (core.OrderStatusOpen/Placed) or a later update
// against an order already in flight (fill, cancel, reject).
type feedEvent struct {
	order core.Order
	isNew bool
}

// DataFeed is the per-pair channel pipeline an order moves through on its
// way from Controller.CreateOrder/IngestFill/Cancel to subscribers such as
// OCOManager.
type DataFeed struct {
	Data chan feedEvent
	Err  chan error
}

// Subscription is one consumer's registration against a pair's feed.
type Subscription struct {
	onlyNewOrder bool
	consumer     FeedConsumer
}

// Feed fans out order lifecycle events per pair, one goroutine per pair so a
// slow consumer on one pair never blocks Controller.IngestFill on another.
type Feed struct {
	mu                    sync.RWMutex
	OrderFeeds            map[string]*DataFeed
	SubscriptionsBySymbol map[string][]Subscription
}

// NewOrderFeed creates an empty order feed manager.
func NewOrderFeed() *Feed {
	return &Feed{
		OrderFeeds:            make(map[string]*DataFeed),
		SubscriptionsBySymbol: make(map[string][]Subscription),
	}
}

// Subscribe registers consumer for pair's order events. When onlyNewOrder is
// true, consumer only sees an order's creation event, never the
// fill/cancel/reject updates published afterward. OCOManager.WatchPair passes false: it needs the
// terminal-status updates to know when to cancel a sibling leg.
func (f *Feed) Subscribe(pair string, consumer FeedConsumer, onlyNewOrder bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.OrderFeeds[pair]; !ok {
		f.OrderFeeds[pair] = &DataFeed{
			Data: make(chan feedEvent, 100),
			Err:  make(chan error, 100),
		}
	}

	f.SubscriptionsBySymbol[pair] = append(f.SubscriptionsBySymbol[pair], Subscription{
		onlyNewOrder: onlyNewOrder,
		consumer:     consumer,
	})
}

// Publish sends order's current state to pair's subscribers. isNew marks the
// event as the order's creation, as opposed to a later update against an
// order already in flight; Controller.CreateOrder publishes isNew=true once
// the order is placed, while IngestFill, Cancel and a rejected placement
// publish isNew=false.
func (f *Feed) Publish(order core.Order, isNew bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if feed, ok := f.OrderFeeds[order.Pair]; ok {
		select {
		case feed.Data <- feedEvent{order: order, isNew: isNew}:
		default:
			// Subscriber backlog full; drop rather than block IngestFill.
		}
	}
}

// Start launches one fan-out goroutine per registered pair.
func (f *Feed) Start() {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for pair, feed := range f.OrderFeeds {
		go f.processOrdersForPair(pair, feed)
	}
}

func (f *Feed) processOrdersForPair(pair string, feed *DataFeed) {
	for event := range feed.Data {
		f.mu.RLock()
		subscriptions := f.SubscriptionsBySymbol[pair]
		f.mu.RUnlock()

		for _, subscription := range subscriptions {
			if subscription.onlyNewOrder && !event.isNew {
				continue
			}
			subscription.consumer(event.order)
		}
	}
}

// Stop closes every pair's channels and clears subscriptions.
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for pair, feed := range f.OrderFeeds {
		close(feed.Data)
		close(feed.Err)
		delete(f.OrderFeeds, pair)
	}

	f.SubscriptionsBySymbol = make(map[string][]Subscription)
}
