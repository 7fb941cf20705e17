package opus

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// magic opens every packet file.
var magic = [8]byte{'H', 'U', 'S', 'H', 'O', 'P', 'U', 'S'}

// ErrBadFile is returned when a packet file is malformed.
var ErrBadFile = errors.New("opus: malformed packet file")

// Header describes the stream stored in a packet file.
type Header struct {
	SampleRate int
	Channels   int
	FrameSize  int
}

// FrameDuration returns the play time of one packet.
func (h Header) FrameDuration() time.Duration {
	if h.SampleRate <= 0 {
		return 0
	}
	return time.Duration(h.FrameSize) * time.Second / time.Duration(h.SampleRate)
}

type rawHeader struct {
	Magic      [8]byte
	SampleRate uint32
	Channels   uint16
	FrameSize  uint16
}

// Writer writes a packet file.
type Writer struct {
	w     *bufio.Writer
	count int
}

// NewWriter writes h to w and returns a writer for the packets.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	bw := bufio.NewWriter(w)
	raw := rawHeader{
		Magic:      magic,
		SampleRate: uint32(h.SampleRate),
		Channels:   uint16(h.Channels),
		FrameSize:  uint16(h.FrameSize),
	}
	if err := binary.Write(bw, binary.LittleEndian, raw); err != nil {
		return nil, fmt.Errorf("opus: write header: %w", err)
	}
	return &Writer{w: bw}, nil
}

// WritePacket appends one packet.
func (w *Writer) WritePacket(pkt []byte) error {
	if len(pkt) > 0xFFFF {
		return fmt.Errorf("opus: packet of %d bytes too large", len(pkt))
	}
	if err := binary.Write(w.w, binary.LittleEndian, uint16(len(pkt))); err != nil {
		return err
	}
	if _, err := w.w.Write(pkt); err != nil {
		return err
	}
	w.count++
	return nil
}

// Packets returns how many packets were written.
func (w *Writer) Packets() int { return w.count }

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error { return w.w.Flush() }

// Reader reads a packet file.
type Reader struct {
	r      *bufio.Reader
	header Header
}

// NewReader reads and validates the header from r.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	var raw rawHeader
	if err := binary.Read(br, binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrBadFile, err)
	}
	if raw.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadFile)
	}
	if raw.Channels == 0 || raw.FrameSize == 0 || raw.SampleRate == 0 {
		return nil, fmt.Errorf("%w: empty stream parameters", ErrBadFile)
	}
	return &Reader{r: br, header: Header{
		SampleRate: int(raw.SampleRate),
		Channels:   int(raw.Channels),
		FrameSize:  int(raw.FrameSize),
	}}, nil
}

// Header returns the stream description.
func (r *Reader) Header() Header { return r.header }

// ReadPacket returns the next packet, or io.EOF after the last one.
func (r *Reader) ReadPacket() ([]byte, error) {
	var n uint16
	if err := binary.Read(r.r, binary.LittleEndian, &n); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: packet length: %w", ErrBadFile, err)
	}
	pkt := make([]byte, n)
	if _, err := io.ReadFull(r.r, pkt); err != nil {
		return nil, fmt.Errorf("%w: truncated packet: %w", ErrBadFile, err)
	}
	return pkt, nil
}

// DecodeFile reads the packet file at path and returns its PCM and rate.
func DecodeFile(path string) ([]int16, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r, err := NewReader(f)
	if err != nil {
		return nil, 0, err
	}
	h := r.Header()
	dec, err := NewDecoder(h.SampleRate)
	if err != nil {
		return nil, 0, err
	}
	var pcm []int16
	for {
		pkt, err := r.ReadPacket()
		if errors.Is(err, io.EOF) {
			return pcm, h.SampleRate, nil
		}
		if err != nil {
			return nil, 0, err
		}
		frame, err := dec.Decode(pkt)
		if err != nil {
			return nil, 0, err
		}
		pcm = append(pcm, frame...)
	}
}

// EncodeFile encodes pcm at rate into a packet file at path. The file is
// written to a temporary name in the same directory and renamed into place,
// so readers never see a partial file.
func EncodeFile(path string, pcm []int16, rate int) (err error) {
	enc, err := NewEncoder(rate)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".shush-*.tmp")
	if err != nil {
		return fmt.Errorf("opus: create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w, err := NewWriter(tmp, Header{SampleRate: rate, Channels: 1, FrameSize: enc.FrameSize()})
	if err != nil {
		return err
	}
	packets, err := enc.Write(pcm)
	if err != nil {
		return err
	}
	if last, ferr := enc.Flush(); ferr != nil {
		return ferr
	} else if last != nil {
		packets = append(packets, last)
	}
	for _, p := range packets {
		if err = w.WritePacket(p); err != nil {
			return fmt.Errorf("opus: write packet: %w", err)
		}
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("opus: flush: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("opus: close: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("opus: rename: %w", err)
	}
	return nil
}
