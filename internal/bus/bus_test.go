package bus

import "testing"

func TestPublishFansOutToSubscribers(t *testing.T) {
	b := New()
	var got []Event
	b.Subscribe(func(ev Event) { got = append(got, ev) })
	b.Subscribe(func(ev Event) { got = append(got, ev) })

	b.Publish(Event{Source: "security", Kind: "blocked"})

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	b := New()
	b.Publish(Event{Source: "health", Kind: "unhealthy"}) // must not panic
}
