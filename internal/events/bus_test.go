/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "testing"

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(EventStateChange)
	b := bus.Subscribe(EventStateChange)
	other := bus.Subscribe(EventNowPlaying)

	bus.Publish(EventStateChange, Payload{"state": "playing"})

	for name, sub := range map[string]Subscriber{"a": a, "b": b} {
		select {
		case payload := <-sub:
			if payload["state"] != "playing" {
				t.Errorf("%s: unexpected payload %v", name, payload)
			}
		default:
			t.Errorf("%s: expected a payload", name)
		}
	}
	select {
	case <-other:
		t.Error("subscriber of another event type must not receive")
	default:
	}
}

func TestPublishSkipsSlowSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventStateChange)

	// Fill the buffer past capacity; extra publishes must not block.
	for i := 0; i < 20; i++ {
		bus.Publish(EventStateChange, Payload{"i": i})
	}

	received := 0
	for {
		select {
		case <-sub:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 8 {
		t.Errorf("expected between 1 and the buffer size, got %d", received)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventDeviceJoined)

	bus.Unsubscribe(EventDeviceJoined, sub)

	if _, ok := <-sub; ok {
		t.Error("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventDeviceJoined, Payload{})
}
