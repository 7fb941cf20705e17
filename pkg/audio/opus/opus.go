// Package opus wraps gopus for mono speech-rate audio and defines the
// packet file hushling stores recordings in.
//
// A packet file is a small fixed header followed by length-prefixed Opus
// packets, one per 20 ms frame. It carries no container timing; the frame
// size in the header is enough to restore the PCM timeline.
package opus

import (
	"errors"
	"fmt"

	"layeh.com/gopus"
)

const (
	// FrameDuration is the length of one encoded frame in milliseconds.
	FrameDuration = 20

	// maxPacketBytes bounds one encoded packet.
	maxPacketBytes = 4000
)

// ErrUnsupportedRate is returned for sample rates Opus cannot encode.
var ErrUnsupportedRate = errors.New("opus: unsupported sample rate")

// FrameSize returns the samples per channel in one 20 ms frame at rate.
func FrameSize(rate int) int {
	return rate * FrameDuration / 1000
}

func checkRate(rate int) error {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedRate, rate)
	}
}

// Encoder encodes mono PCM16 into Opus packets. It buffers partial frames
// between calls. Not safe for concurrent use.
type Encoder struct {
	enc       *gopus.Encoder
	frameSize int
	pending   []int16
}

// NewEncoder creates a mono encoder at rate tuned for voice.
func NewEncoder(rate int) (*Encoder, error) {
	if err := checkRate(rate); err != nil {
		return nil, err
	}
	enc, err := gopus.NewEncoder(rate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc, frameSize: FrameSize(rate)}, nil
}

// FrameSize returns the samples per encoded frame.
func (e *Encoder) FrameSize() int { return e.frameSize }

// Write buffers pcm and returns a packet for every full frame.
func (e *Encoder) Write(pcm []int16) ([][]byte, error) {
	e.pending = append(e.pending, pcm...)
	var packets [][]byte
	for len(e.pending) >= e.frameSize {
		pkt, err := e.enc.Encode(e.pending[:e.frameSize], e.frameSize, maxPacketBytes)
		if err != nil {
			return packets, fmt.Errorf("opus: encode: %w", err)
		}
		packets = append(packets, pkt)
		e.pending = e.pending[e.frameSize:]
	}
	return packets, nil
}

// Flush pads the buffered remainder with silence and encodes it. It returns
// nil when nothing is buffered.
func (e *Encoder) Flush() ([]byte, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	frame := make([]int16, e.frameSize)
	copy(frame, e.pending)
	e.pending = e.pending[:0]
	pkt, err := e.enc.Encode(frame, e.frameSize, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return pkt, nil
}

// Decoder decodes Opus packets into mono PCM16.
type Decoder struct {
	dec       *gopus.Decoder
	frameSize int
}

// NewDecoder creates a mono decoder at rate.
func NewDecoder(rate int) (*Decoder, error) {
	if err := checkRate(rate); err != nil {
		return nil, err
	}
	dec, err := gopus.NewDecoder(rate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, frameSize: FrameSize(rate)}, nil
}

// Decode decodes one packet.
func (d *Decoder) Decode(pkt []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(pkt, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return pcm, nil
}
