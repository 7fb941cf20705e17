package audio

import "time"

// SinkEventType classifies notifications emitted by a [Sink].
type SinkEventType int

const (
	// SinkReady is emitted once a loaded track is buffered and its duration
	// is known. Duration is set on the event.
	SinkReady SinkEventType = iota

	// SinkEnded is emitted when playback reaches the natural end of the track.
	SinkEnded

	// SinkError is emitted when the device fails during playback. Err is set.
	SinkError
)

// String returns the human-readable name of the event type.
func (t SinkEventType) String() string {
	switch t {
	case SinkReady:
		return "READY"
	case SinkEnded:
		return "ENDED"
	case SinkError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SinkEvent is delivered to the listener registered with [Sink.SetListener].
type SinkEvent struct {
	Type SinkEventType

	// Duration is the full length of the loaded track. Only set for SinkReady.
	Duration time.Duration

	// Err describes the failure. Only set for SinkError.
	Err error
}

// Sink is the playback device abstraction.
//
// A Sink is not safe for concurrent use: callers must confine every method
// call to a single goroutine (the playback package runs a dedicated player
// goroutine for this). Events may be delivered on any goroutine and the
// listener must not block.
type Sink interface {
	// Load prepares the track at path for playback, replacing any previous
	// track. Duration becomes known asynchronously via a SinkReady event.
	Load(path string) error

	// Play starts or resumes playback from the current position.
	Play() error

	// Pause halts playback, keeping the position.
	Pause() error

	// Stop halts playback and unloads the track.
	Stop() error

	// SeekToStart moves the play position back to the beginning of the track.
	SeekToStart() error

	// SetVolume sets the output gain in [0, 1].
	SetVolume(v float64) error

	// SetListener registers the single event listener. Passing nil removes it.
	SetListener(fn func(SinkEvent))

	// Close releases the device. The sink must not be used afterwards.
	Close() error
}
