package order

import (
	"sync"
	"testing"
	"time"

	"github.com/solbot-labs/engine/pkg/core"
)

func TestFeed_OnlyNewOrderFiltersLifecycleUpdates(t *testing.T) {
	feed := NewOrderFeed()

	var mu sync.Mutex
	var newOrderSeen, anyUpdateSeen []core.OrderStatusType

	feed.Subscribe("SOLUSDT", func(o core.Order) {
		mu.Lock()
		newOrderSeen = append(newOrderSeen, o.Status)
		mu.Unlock()
	}, true)
	feed.Subscribe("SOLUSDT", func(o core.Order) {
		mu.Lock()
		anyUpdateSeen = append(anyUpdateSeen, o.Status)
		mu.Unlock()
	}, false)

	feed.Start()
	defer feed.Stop()

	feed.Publish(core.Order{Pair: "SOLUSDT", Status: core.OrderStatusPlaced}, true)
	feed.Publish(core.Order{Pair: "SOLUSDT", Status: core.OrderStatusFilled}, false)

	waitForCondition(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(anyUpdateSeen) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if len(newOrderSeen) != 1 || newOrderSeen[0] != core.OrderStatusPlaced {
		t.Fatalf("onlyNewOrder subscriber should only see the creation event, got %v", newOrderSeen)
	}
	if len(anyUpdateSeen) != 2 {
		t.Fatalf("unrestricted subscriber should see both events, got %v", anyUpdateSeen)
	}
}

func TestFeed_PublishToUnsubscribedPairIsANoop(t *testing.T) {
	feed := NewOrderFeed()
	feed.Start()
	defer feed.Stop()

	// No subscriber and no OrderFeeds entry for this pair: Publish must not panic.
	feed.Publish(core.Order{Pair: "ETHUSDT", Status: core.OrderStatusFilled}, false)
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
