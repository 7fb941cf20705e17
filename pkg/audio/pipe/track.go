package pipe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/hushling/pkg/audio"
	"github.com/MrWong99/hushling/pkg/audio/opus"
)

// ErrUnsupportedTrack is returned for track files the sink cannot decode.
var ErrUnsupportedTrack = errors.New("pipe: unsupported track format")

// DecodeTrack reads the track at path and returns mono PCM at rate. The
// format follows the extension: .opus packet files, .wav (16-bit PCM) and
// .pcm or .raw (s16le mono at rate).
func DecodeTrack(path string, rate int) ([]int16, error) {
	var (
		pcm     []int16
		srcRate int
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".opus":
		pcm, srcRate, err = opus.DecodeFile(path)
	case ".wav":
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			pcm, srcRate, err = ParseWAV(data)
		}
	case ".pcm", ".raw":
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			pcm, srcRate = audio.BytesToSamples(data), rate
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTrack, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("pipe: decode %s: %w", filepath.Base(path), err)
	}
	return audio.ResampleMono16(pcm, srcRate, rate), nil
}

// ParseWAV decodes a RIFF/WAVE file holding 16-bit integer PCM. Stereo is
// averaged down to mono.
func ParseWAV(data []byte) ([]int16, int, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, 0, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnsupportedTrack)
	}

	var (
		format, channels, bits uint16
		rate                   uint32
		haveFmt                bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4:]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			size = len(data) - body
		}
		chunk := data[body : body+size]

		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedTrack)
			}
			format = binary.LittleEndian.Uint16(chunk[0:])
			channels = binary.LittleEndian.Uint16(chunk[2:])
			rate = binary.LittleEndian.Uint32(chunk[4:])
			bits = binary.LittleEndian.Uint16(chunk[14:])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("%w: data before fmt", ErrUnsupportedTrack)
			}
			if format != 1 || bits != 16 || channels == 0 || channels > 2 {
				return nil, 0, fmt.Errorf("%w: need 16-bit PCM mono or stereo, got format %d, %d bits, %d channels",
					ErrUnsupportedTrack, format, bits, channels)
			}
			return downmix(audio.BytesToSamples(chunk), int(channels)), int(rate), nil
		}
		// Chunks are padded to an even size.
		off = body + size + size%2
	}
	return nil, 0, fmt.Errorf("%w: no data chunk", ErrUnsupportedTrack)
}

func downmix(pcm []int16, channels int) []int16 {
	if channels == 1 {
		return pcm
	}
	out := make([]int16, len(pcm)/channels)
	for i := range out {
		var sum int
		for c := range channels {
			sum += int(pcm[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// EncodeWAV wraps mono PCM in a minimal WAVE file.
func EncodeWAV(pcm []int16, rate int) []byte {
	var b bytes.Buffer
	dataLen := uint32(len(pcm) * 2)
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, 36+dataLen)
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, struct {
		Size       uint32
		Format     uint16
		Channels   uint16
		Rate       uint32
		ByteRate   uint32
		BlockAlign uint16
		Bits       uint16
	}{16, 1, 1, uint32(rate), uint32(rate * 2), 2, 16})
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, dataLen)
	b.Write(audio.SamplesToBytes(pcm))
	return b.Bytes()
}
