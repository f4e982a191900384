package broker

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestTickStreamCannotRestart(t *testing.T) {
	s := NewTickStream("ws://127.0.0.1:1", "key", "token", []string{"RELIANCE"}, 16, zerolog.Nop())

	if err := s.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("second Start while running must fail")
	}

	s.Stop()

	// The tick channel is closed now; a restart would send on it and panic.
	if err := s.Start(); err == nil {
		t.Error("Start after Stop must fail, the stream is single-use")
	}
}
