package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestLocalBusFanOut(t *testing.T) {
	bus := NewLocalBus()
	got := make(chan Event, 2)

	for i := 0; i < 2; i++ {
		if _, err := bus.Subscribe(TopicOrderPaid, func(ctx context.Context, e Event) {
			got <- e
		}); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	payload, _ := json.Marshal(map[string]string{"order_id": "o_1"})
	if err := bus.Publish(context.Background(), Event{Topic: TopicOrderPaid, Payload: payload}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case e := <-got:
			if e.Topic != TopicOrderPaid {
				t.Fatalf("wrong topic %q", e.Topic)
			}
			if e.Timestamp.IsZero() {
				t.Fatal("timestamp not stamped")
			}
		case <-time.After(time.Second):
			t.Fatal("handler not invoked")
		}
	}
}

func TestLocalBusTopicIsolation(t *testing.T) {
	bus := NewLocalBus()
	got := make(chan Event, 1)
	if _, err := bus.Subscribe(TopicOrderFailed, func(ctx context.Context, e Event) {
		got <- e
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(context.Background(), Event{Topic: TopicOrderPaid}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-got:
		t.Fatal("handler fired for the wrong topic")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLocalBusUnsubscribe(t *testing.T) {
	bus := NewLocalBus()
	got := make(chan Event, 1)
	cancel, err := bus.Subscribe(TopicOrderFulfilled, func(ctx context.Context, e Event) {
		got <- e
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	if err := bus.Publish(context.Background(), Event{Topic: TopicOrderFulfilled}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-got:
		t.Fatal("unsubscribed handler fired")
	case <-time.After(100 * time.Millisecond):
	}
}
