// Package mock provides a scripted [stt.Source] for unit tests.
package mock

import (
	"errors"
	"sync"

	"github.com/sonohq/roomlink/pkg/stt"
)

// Source is a mock [stt.Source]. Tests call [Source.Emit] to push fragments
// to the registered sink.
type Source struct {
	mu sync.Mutex

	// StartError, when non-nil, is returned by Start.
	StartError error

	// StopError, when non-nil, is returned by Stop.
	StopError error

	sink    func(stt.Transcript)
	started bool
	stopped bool
}

var _ stt.Source = (*Source)(nil)

// Start implements [stt.Source].
func (s *Source) Start(sink func(stt.Transcript)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartError != nil {
		return s.StartError
	}
	if s.started {
		return errors.New("mock stt: already started")
	}
	s.started = true
	s.sink = sink
	return nil
}

// Stop implements [stt.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.sink = nil
	return s.StopError
}

// Emit delivers a fragment to the sink registered via Start. Emitting before
// Start or after Stop is a no-op.
func (s *Source) Emit(t stt.Transcript) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink(t)
	}
}

// Started reports whether Start has been called successfully.
func (s *Source) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stopped reports whether Stop has been called.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
