package events

import "testing"

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(EventLineActivated)
	b := bus.Subscribe(EventLineActivated)
	other := bus.Subscribe(EventAllOff)

	bus.Publish(EventLineActivated, Payload{"channel": 11})

	for _, sub := range []Subscriber{a, b} {
		select {
		case p := <-sub:
			if p["channel"] != 11 {
				t.Fatalf("unexpected payload %v", p)
			}
		default:
			t.Fatal("expected payload")
		}
	}
	select {
	case p := <-other:
		t.Fatalf("unexpected delivery %v", p)
	default:
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus()
	sub := bus.SubscribeBuffered(EventLineActivated, 1)
	bus.Publish(EventLineActivated, Payload{"n": 1})
	bus.Publish(EventLineActivated, Payload{"n": 2})

	if p := <-sub; p["n"] != 1 {
		t.Fatalf("expected first payload, got %v", p)
	}
	select {
	case p := <-sub:
		t.Fatalf("expected second payload to be dropped, got %v", p)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventAllOff)
	bus.Unsubscribe(EventAllOff, sub)
	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}
	bus.Publish(EventAllOff, Payload{})
	bus.Unsubscribe(EventAllOff, sub)
}
