package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(KindMessageUpserted, 1)
	defer cancel()

	b.Publish(Event{Kind: KindMessageUpserted, Timestamp: time.Now(), Payload: "m1"})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageUpserted {
			t.Errorf("kind = %q, want %q", evt.Kind, KindMessageUpserted)
		}
		if evt.Payload != "m1" {
			t.Errorf("payload = %v, want m1", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestNamespacePrefixFilter(t *testing.T) {
	b := New()
	msgCh, cancelMsg := b.Subscribe("message.", 4)
	defer cancelMsg()
	allCh, cancelAll := b.Subscribe("", 4)
	defer cancelAll()

	b.Publish(Event{Kind: KindMessagePromoted})
	b.Publish(Event{Kind: KindConversationUpdated})

	if got := len(msgCh); got != 1 {
		t.Errorf("message subscriber received %d events, want 1", got)
	}
	if got := len(allCh); got != 2 {
		t.Errorf("catch-all subscriber received %d events, want 2", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("remote.", 4)

	b.Publish(Event{Kind: KindRemoteMessage})
	cancel()
	b.Publish(Event{Kind: KindRemoteAck})

	if got := len(ch); got != 1 {
		t.Errorf("received %d events, want 1 (only before unsubscribe)", got)
	}
}

func TestFullSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("message.", 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Kind: KindMessageUpserted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
	if got := len(ch); got != 1 {
		t.Errorf("buffered %d events, want 1 (overflow dropped)", got)
	}
}
