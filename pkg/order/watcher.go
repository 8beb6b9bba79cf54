package order

import (
	"context"
	"fmt"
	"time"

	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/logger"
)

// Watcher is the OrderWatcherTask (spec §4.7, §5): a periodic per-venue poll
// that reconciles locally-tracked Orders against the exchange and feeds any
// gap as a synthetic Fill into the Controller. Push fills (webhook/WS) are
// the primary path; this is the backstop for missed or dropped events.
type Watcher struct {
	controller  *Controller
	storage     core.OrderStorage
	exchange    core.Exchange
	log         logger.Logger
	openEvery   time.Duration
	recentEvery time.Duration
	recentFor   time.Duration
}

// NewWatcher builds a Watcher with the spec's default cadences: every 5
// minutes for open orders, every 30s for orders placed within recentFor
// (default 2 minutes) of now.
func NewWatcher(controller *Controller, storage core.OrderStorage, exch core.Exchange, log logger.Logger) *Watcher {
	return &Watcher{
		controller:  controller,
		storage:     storage,
		exchange:    exch,
		log:         log,
		openEvery:   5 * time.Minute,
		recentEvery: 30 * time.Second,
		recentFor:   2 * time.Minute,
	}
}

// Run blocks, polling on both cadences until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	openTicker := time.NewTicker(w.openEvery)
	recentTicker := time.NewTicker(w.recentEvery)
	defer openTicker.Stop()
	defer recentTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-openTicker.C:
			w.pollOrders(ctx, w.trackedOrders(time.Time{}))
		case <-recentTicker.C:
			w.pollOrders(ctx, w.trackedOrders(time.Now().Add(-w.recentFor)))
		}
	}
}

// trackedOrders returns locally-active orders, optionally restricted to
// those created after since (zero value means "no restriction").
func (w *Watcher) trackedOrders(since time.Time) []*core.Order {
	orders, err := w.storage.Orders(core.WithStatusIn(
		core.OrderStatusPlaced, core.OrderStatusPartiallyFilled,
	))
	if err != nil {
		w.log.WithError(err).Error("order watcher: list tracked orders")
		return nil
	}
	if since.IsZero() {
		return orders
	}
	filtered := orders[:0]
	for _, o := range orders {
		if o.CreatedAt.After(since) {
			filtered = append(filtered, o)
		}
	}
	return filtered
}

// pollOrders refetches each order from its venue and synthesizes a Fill for
// any filled_amount gap found.
func (w *Watcher) pollOrders(ctx context.Context, tracked []*core.Order) {
	for _, local := range tracked {
		remote, err := w.exchange.FetchOrder(ctx, local.Pair, local.ExchangeID)
		if err != nil {
			w.log.WithError(err).Warnf("order watcher: fetch %s/%s", local.Pair, local.ExchangeID)
			continue
		}

		delta := remote.FilledAmount - local.FilledAmount
		if delta > 0 {
			fill := core.Fill{
				OrderID:         local.ID,
				ExchangeID:      local.ExchangeID,
				ExchangeTradeID: fmt.Sprintf("poll-%.8f", remote.FilledAmount),
				Pair:            local.Pair,
				Side:            local.Side,
				Amount:          delta,
				Price:           remote.AvgFillPrice,
				Time:            time.Now().UTC(),
			}
			w.controller.IngestFill(local, fill)
			continue
		}

		if remote.Status == core.OrderStatusCanceled || remote.Status == core.OrderStatusRejected {
			local.Status = remote.Status
			local.UpdatedAt = time.Now().UTC()
			if err := w.storage.UpdateOrder(local); err != nil {
				w.log.WithError(err).Error("order watcher: persist terminal status")
			}
		}
	}
}
