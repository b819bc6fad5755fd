package broadcast

import (
	"testing"
	"time"
)

func TestPublishOrderingPerSubscriber(t *testing.T) {
	b := New[int]()
	sub := b.Subscribe()

	for i := 0; i < 5; i++ {
		b.Publish(i)
	}

	for i := 0; i < 5; i++ {
		v, ok := sub.Next()
		if !ok {
			t.Fatalf("expected value %d, got closed", i)
		}
		if v != i {
			t.Fatalf("expected %d, got %d", i, v)
		}
	}
}

func TestLateSubscriberGetsSeedSnapshotFirst(t *testing.T) {
	b := New[string]()

	b.Publish("missed-before-subscribe")

	sub := b.Subscribe("snapshot")
	b.Publish("after-subscribe")

	v, ok := sub.Next()
	if !ok || v != "snapshot" {
		t.Fatalf("expected snapshot first, got %q ok=%v", v, ok)
	}
	v, ok = sub.Next()
	if !ok || v != "after-subscribe" {
		t.Fatalf("expected after-subscribe second, got %q ok=%v", v, ok)
	}
}

func TestSentinelNeverDroppedUnderFanout(t *testing.T) {
	b := New[string]()
	subs := make([]*Subscription[string], 8)
	for i := range subs {
		subs[i] = b.Subscribe()
	}

	for i := 0; i < 1000; i++ {
		b.Publish("tick")
	}
	b.Publish(PipelineSentinel)

	for _, sub := range subs {
		var last string
		for i := 0; i < 1001; i++ {
			v, ok := sub.Next()
			if !ok {
				t.Fatal("subscriber starved before reaching sentinel")
			}
			last = v
		}
		if last != PipelineSentinel {
			t.Fatalf("expected sentinel as the final message, got %q", last)
		}
	}
}

func TestUnsubscribeDrainsThenCloses(t *testing.T) {
	b := New[int]()
	sub := b.Subscribe()
	b.Publish(1)
	sub.Unsubscribe()

	v, ok := sub.Next()
	if !ok || v != 1 {
		t.Fatalf("expected queued value to survive unsubscribe, got %d ok=%v", v, ok)
	}

	done := make(chan struct{})
	go func() {
		_, ok := sub.Next()
		if ok {
			t.Error("expected closed subscription to report ok=false")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after unsubscribe drained the queue")
	}
}
