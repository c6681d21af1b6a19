package usbpro

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
)

// Frame delimiters and limits.
const (
	startOfMessage byte = 0x7E
	endOfMessage   byte = 0xE7

	// MaxPayloadSize is the largest data block a widget accepts in one frame.
	MaxPayloadSize = 600

	// headerSize is SOM + label + two length bytes.
	headerSize = 4
)

// EncodeFrame wraps data in a USB Pro frame.
//
// Format: SOM(1) + label(1) + length(2, little-endian) + data + EOM(1)
func EncodeFrame(label byte, data []byte) ([]byte, error) {
	if len(data) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(data), MaxPayloadSize)
	}

	frame := make([]byte, headerSize, headerSize+len(data)+1)
	frame[0] = startOfMessage
	frame[1] = label
	binary.LittleEndian.PutUint16(frame[2:4], uint16(len(data))) //nolint:gosec // bounded by MaxPayloadSize
	frame = append(frame, data...)
	frame = append(frame, endOfMessage)
	return frame, nil
}

// FrameReader parses USB Pro frames from a byte stream.
//
// Bytes before a start-of-message marker are skipped, so the reader
// resynchronises after line noise or a partial frame.
type FrameReader struct {
	r       *bufio.Reader
	skipped atomic.Uint64
}

// NewFrameReader creates a FrameReader over r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, MaxPayloadSize+headerSize+1)}
}

// ReadFrame returns the label and payload of the next frame.
//
// ErrFrameTooLarge and ErrInvalidFrame are recoverable: the offending frame
// has been discarded and the next call scans for a new start marker. Any
// other error comes from the underlying reader.
func (fr *FrameReader) ReadFrame() (byte, []byte, error) {
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		if b == startOfMessage {
			break
		}
		fr.skipped.Add(1)
	}

	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}
	label := hdr[0]
	size := int(binary.LittleEndian.Uint16(hdr[1:]))
	if size > MaxPayloadSize {
		return label, nil, fmt.Errorf("%w: label %d claims %d bytes", ErrFrameTooLarge, label, size)
	}

	// Payload plus the trailing end marker.
	buf := make([]byte, size+1)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return label, nil, fmt.Errorf("read payload: %w", err)
	}
	if buf[size] != endOfMessage {
		return label, nil, fmt.Errorf("%w: label %d missing end marker", ErrInvalidFrame, label)
	}

	return label, buf[:size:size], nil
}

// Skipped returns the number of bytes discarded while hunting for a start
// marker. Safe to call from any goroutine.
func (fr *FrameReader) Skipped() uint64 {
	return fr.skipped.Load()
}
