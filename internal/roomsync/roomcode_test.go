package roomsync

import (
	"math/rand"
	"testing"
	"time"
)

func TestValidRoomCode(t *testing.T) {
	valid := []string{"ABC123", "ZZZ000", "CAT007"}
	for _, code := range valid {
		if !ValidRoomCode(code) {
			t.Errorf("ValidRoomCode(%q) = false, want true", code)
		}
	}
	invalid := []string{"", "abc123", "ABCD12", "AB1234", "ABC12", "ABC1234", "R12345", "123ABC"}
	for _, code := range invalid {
		if ValidRoomCode(code) {
			t.Errorf("ValidRoomCode(%q) = true, want false", code)
		}
	}
}

func TestNewRoomCodeFormat(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		code := newRoomCode(rng)
		if !ValidRoomCode(code) {
			t.Fatalf("generated code %q does not match the canonical form", code)
		}
	}
}

func TestFallbackRoomCode(t *testing.T) {
	now := time.UnixMilli(1_234_567_890)
	code := fallbackRoomCode(now)
	if code != "R567890" {
		t.Errorf("fallback code: got %q, want %q", code, "R567890")
	}
	if ValidRoomCode(code) {
		t.Error("fallback code must not collide with the generated code space")
	}
}
