// Package audio defines the PCM types and the device-facing contracts of the
// hushling detection pipeline.
//
// The two collaborator abstractions are:
//
//   - [Capture] opens a [Stream] of mono PCM16 samples from a microphone
//     or an external recorder process.
//   - [Sink] is a playback device that loads a track, ramps volume, seeks
//     and reports "ready" and "ended" events.
//
// Concrete implementations live in audio/pipe and test doubles in audio/mock.
package audio

import "context"

// Stream is an open capture session delivering mono signed 16-bit samples at
// a fixed rate.
//
// Read blocks until at least one sample is available and returns the number
// of samples written into p. Any error, including io.EOF, ends the stream;
// the caller treats it as fatal for the current detection session.
//
// Close unblocks a pending Read and releases the device. It is safe to call
// more than once.
type Stream interface {
	Read(p []int16) (int, error)
	Close() error
}

// Capture opens capture streams. Each call to Open starts a fresh session;
// the engine opens one stream per Start and closes it on Stop.
type Capture interface {
	// Open starts capturing. The returned stream delivers samples at
	// SampleRate. ctx bounds the setup only, not the life of the stream.
	Open(ctx context.Context) (Stream, error)

	// SampleRate reports the rate of the samples produced by Open.
	SampleRate() int
}
