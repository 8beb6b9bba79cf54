package core

import (
	"testing"
	"time"
)

func TestPriorityQueueOrdersCandlesByOpenTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := NewPriorityQueue(nil)

	q.Push(Candle{Pair: "SOLUSDT", Time: base.Add(3 * time.Minute)})
	q.Push(Candle{Pair: "SOLUSDT", Time: base})
	q.Push(Candle{Pair: "ETHUSDT", Time: base.Add(time.Minute)})
	q.Push(Candle{Pair: "SOLUSDT", Time: base.Add(2 * time.Minute)})

	var order []time.Time
	for q.Len() > 0 {
		order = append(order, q.Pop().(Candle).Time)
	}

	for i := 1; i < len(order); i++ {
		if order[i].Before(order[i-1]) {
			t.Fatalf("candle at index %d (%s) popped before an earlier one (%s)", i, order[i], order[i-1])
		}
	}
}

func TestPriorityQueuePopLockDeliversPushedItems(t *testing.T) {
	q := NewPriorityQueue(nil)
	popped := q.PopLock()

	want := Candle{Pair: "SOLUSDT", Time: time.Now().UTC()}
	q.Push(want)

	select {
	case got := <-popped:
		if got.(Candle).Pair != want.Pair {
			t.Fatalf("got pair %s, want %s", got.(Candle).Pair, want.Pair)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PopLock to deliver the pushed candle")
	}
}

func TestPriorityQueuePeekDoesNotDequeue(t *testing.T) {
	q := NewPriorityQueue(nil)
	q.Push(Candle{Pair: "SOLUSDT", Time: time.Now().UTC()})

	if q.Peek() == nil {
		t.Fatal("Peek returned nil on a non-empty queue")
	}
	if q.Len() != 1 {
		t.Fatalf("Peek changed queue length to %d, want 1", q.Len())
	}
}
