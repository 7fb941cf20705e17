package audio

import "time"

// DefaultSampleRate is the working sample rate of the detection pipeline.
// Capture sources delivering another rate are resampled to it.
const DefaultSampleRate = 16000

// Window is a fixed-length run of mono signed 16-bit samples in chronological
// order. Windows are produced by [RingBuffer.Snapshot] and treated as
// read-only by every consumer.
type Window []int16

// Duration returns how much audio the window covers at sampleRate.
func (w Window) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w)) * time.Second / time.Duration(sampleRate)
}

// SamplesFor returns the number of samples covering d at sampleRate.
func SamplesFor(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}
