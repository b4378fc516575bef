// Package stt defines the contract between the room synchronization core and
// an external speech-to-text engine.
//
// The core does not perform speech recognition. Whatever engine the host
// application uses (platform speech APIs, a streaming service, a keyboard
// fallback) feeds recognized fragments to the core through this interface.
package stt

// Transcript is one recognized fragment. Interim fragments carry the
// in-progress text of the current utterance and are superseded by later
// fragments; a final fragment ends the utterance.
type Transcript struct {
	Text    string
	IsFinal bool
}

// Source is a stream of recognized speech. Start registers the sink that
// receives every fragment and begins recognition; Stop ends recognition and
// releases engine resources. A stopped Source may not be restarted.
type Source interface {
	Start(sink func(Transcript)) error
	Stop() error
}
