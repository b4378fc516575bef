package roomsync

import (
	"testing"
	"time"
)

func TestBackoffLinearGrowth(t *testing.T) {
	b := newBackoff(time.Second, 60)
	for n := 1; n <= 5; n++ {
		got := b.Next()
		want := time.Duration(n) * time.Second
		if got != want {
			t.Errorf("attempt %d: got %v, want %v", n, got, want)
		}
	}
}

func TestBackoffCap(t *testing.T) {
	b := newBackoff(time.Second, 3)
	for n := 0; n < 10; n++ {
		b.Next()
	}
	if got := b.Next(); got != 3*time.Second {
		t.Errorf("capped delay: got %v, want %v", got, 3*time.Second)
	}
}

func TestBackoffReset(t *testing.T) {
	b := newBackoff(time.Second, 60)
	b.Next()
	b.Next()
	b.Next()
	if b.Attempt() != 3 {
		t.Fatalf("attempt count: got %d, want 3", b.Attempt())
	}
	b.Reset()
	if b.Attempt() != 0 {
		t.Errorf("attempt count after reset: got %d, want 0", b.Attempt())
	}
	if got := b.Next(); got != time.Second {
		t.Errorf("first delay after reset: got %v, want %v", got, time.Second)
	}
}
