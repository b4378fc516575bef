package roomsync

import (
	"testing"
	"time"
)

func TestObserversFanOut(t *testing.T) {
	o := newObservers()
	ch1, cancel1 := o.Subscribe()
	ch2, cancel2 := o.Subscribe()
	defer cancel1()
	defer cancel2()

	o.Publish(StateChanged{Old: StateOffline, New: StateConnecting})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			sc, ok := ev.(StateChanged)
			if !ok || sc.New != StateConnecting {
				t.Errorf("subscriber %d: got %#v", i, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event delivered", i)
		}
	}
}

func TestObserversCancelClosesChannel(t *testing.T) {
	o := newObservers()
	ch, cancel := o.Subscribe()
	cancel()
	cancel() // second cancel is a no-op

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
	o.Publish(Notice{Text: "late"}) // must not panic
}

func TestObserversPublishNeverBlocks(t *testing.T) {
	o := newObservers()
	_, cancel := o.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Overflow the subscriber buffer without ever draining it.
		for i := 0; i < subscriberBuffer*2; i++ {
			o.Publish(MessagesChanged{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestObserversClose(t *testing.T) {
	o := newObservers()
	ch, _ := o.Subscribe()
	o.Close()
	if _, open := <-ch; open {
		t.Error("channel still open after Close")
	}
}
