package universe

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Size is the number of channels in a DMX512 universe.
const Size = 512

// block is the shared backing storage of one or more buffers.
type block struct {
	refs atomic.Int32
	data [Size]byte
}

func newBlock() *block {
	b := &block{}
	b.refs.Store(1)
	return b
}

// Buffer is a DMX512 universe: up to 512 channel levels and a valid length.
//
// The zero value is an empty, uninitialized buffer. Range writes and
// SetChannel on an uninitialized buffer black it out first so that the
// channels before the write read as 0. A buffer emptied with Reset keeps its
// storage and does not black out again.
type Buffer struct {
	blk    *block
	length int
}

// NewBuffer returns a buffer holding a copy of data, truncated to Size.
func NewBuffer(data []byte) Buffer {
	var b Buffer
	b.SetString(string(data))
	return b
}

// Clone returns a buffer that shares this buffer's storage.
// The storage is copied by whichever buffer writes to it first.
func (b Buffer) Clone() Buffer {
	if b.blk != nil {
		b.blk.refs.Add(1)
	}
	return Buffer{blk: b.blk, length: b.length}
}

// Release drops this buffer's reference to its storage and leaves it
// uninitialized.
func (b *Buffer) Release() {
	if b.blk != nil {
		b.blk.refs.Add(-1)
	}
	b.blk = nil
	b.length = 0
}

// IsShared reports whether another buffer holds the same storage.
func (b Buffer) IsShared() bool {
	return b.blk != nil && b.blk.refs.Load() > 1
}

// detach makes sure b owns its storage exclusively, allocating or copying as
// required.
func (b *Buffer) detach() {
	if b.blk == nil {
		b.blk = newBlock()
		return
	}
	if b.blk.refs.Load() > 1 {
		nb := newBlock()
		nb.data = b.blk.data
		b.blk.refs.Add(-1)
		b.blk = nb
	}
}

// Blackout sets all 512 channels to 0 and the valid length to Size.
func (b *Buffer) Blackout() {
	b.detach()
	b.blk.data = [Size]byte{}
	b.length = Size
}

// Reset sets the valid length to 0. Storage is retained.
func (b *Buffer) Reset() {
	b.length = 0
}

// Set replaces the contents with data, truncated to Size.
func (b *Buffer) Set(data []byte) error {
	if data == nil {
		return ErrNilData
	}
	b.detach()
	b.length = copy(b.blk.data[:], data)
	return nil
}

// SetString replaces the contents with the bytes of s, truncated to Size.
func (b *Buffer) SetString(s string) {
	b.detach()
	b.length = copy(b.blk.data[:], s)
}

// SetBuffer replaces the contents with a copy of other's valid channels.
func (b *Buffer) SetBuffer(other Buffer) {
	if other.blk == nil {
		b.Reset()
		return
	}
	if other.blk == b.blk {
		b.length = other.length
		return
	}
	b.detach()
	b.length = copy(b.blk.data[:], other.blk.data[:other.length])
}

// SetFromString parses a comma separated list of decimal levels, for example
// "0,255,128". Spaces around a field are ignored. Fields that are not
// numbers become 0 and values wrap modulo 256. An empty string gives an
// empty buffer.
func (b *Buffer) SetFromString(text string) {
	b.detach()

	text = strings.TrimSpace(text)
	if text == "" {
		b.length = 0
		return
	}

	n := 0
	for _, field := range strings.Split(text, ",") {
		if n == Size {
			break
		}
		v, err := strconv.ParseUint(strings.TrimSpace(field), 10, 64)
		if err != nil {
			v = 0
		}
		b.blk.data[n] = byte(v)
		n++
	}
	b.length = n
}

// HTPMerge merges other into b, keeping the highest level of each channel.
// Channels past either buffer's valid length count as 0.
func (b *Buffer) HTPMerge(other Buffer) {
	b.detach()
	if other.blk == nil {
		return
	}

	common := min(b.length, other.length)
	for i := 0; i < common; i++ {
		b.blk.data[i] = max(b.blk.data[i], other.blk.data[i])
	}

	if other.length > b.length {
		copy(b.blk.data[common:other.length], other.blk.data[common:other.length])
		b.length = other.length
	}
}

// SetRange writes data starting at offset. The offset may not be past the
// current valid length, so writes either overwrite or extend contiguously.
// Bytes that would land past the last channel are dropped.
func (b *Buffer) SetRange(offset int, data []byte) error {
	if data == nil {
		return ErrNilData
	}
	if err := b.prepareRange(offset); err != nil {
		return err
	}

	n := copy(b.blk.data[offset:], data)
	b.length = max(b.length, offset+n)
	return nil
}

// SetRangeToValue sets length channels starting at offset to value. It
// follows the same offset rules as SetRange.
func (b *Buffer) SetRangeToValue(offset int, value byte, length int) error {
	if length < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	if err := b.prepareRange(offset); err != nil {
		return err
	}

	n := min(length, Size-offset)
	for i := offset; i < offset+n; i++ {
		b.blk.data[i] = value
	}
	b.length = max(b.length, offset+n)
	return nil
}

// prepareRange validates a range write at offset and leaves b ready to write.
func (b *Buffer) prepareRange(offset int) error {
	if offset < 0 || offset >= Size {
		return fmt.Errorf("%w: %d", ErrOffsetOutOfRange, offset)
	}
	if b.blk == nil {
		b.Blackout()
	}
	if offset > b.length {
		return fmt.Errorf("%w: %d exceeds valid length %d", ErrOffsetOutOfRange, offset, b.length)
	}
	b.detach()
	return nil
}

// SetChannel sets one channel. It never extends the valid length: channels
// at or past Size() are left alone.
func (b *Buffer) SetChannel(channel int, value byte) {
	if channel < 0 || channel >= Size {
		return
	}
	if b.blk == nil {
		b.Blackout()
	}
	if channel >= b.length {
		return
	}
	b.detach()
	b.blk.data[channel] = value
}

// Get returns the level of channel, or 0 if it is outside the valid range.
func (b Buffer) Get(channel int) byte {
	if b.blk == nil || channel < 0 || channel >= b.length {
		return 0
	}
	return b.blk.data[channel]
}

// Bytes returns a copy of the valid channels.
func (b Buffer) Bytes() []byte {
	out := make([]byte, b.length)
	if b.blk != nil {
		copy(out, b.blk.data[:b.length])
	}
	return out
}

// CopyTo copies the valid channels into dst and returns the number copied.
// It never writes past len(dst).
func (b Buffer) CopyTo(dst []byte) int {
	if b.blk == nil {
		return 0
	}
	return copy(dst, b.blk.data[:b.length])
}

// Size returns the valid length.
func (b Buffer) Size() int {
	return b.length
}

// Equal reports whether both buffers hold the same valid channels.
func (b Buffer) Equal(other Buffer) bool {
	if b.length != other.length {
		return false
	}
	if b.length == 0 || b.blk == other.blk {
		return true
	}
	return bytes.Equal(b.blk.data[:b.length], other.blk.data[:other.length])
}

// String renders the valid channels in the form accepted by SetFromString.
func (b Buffer) String() string {
	if b.length == 0 {
		return ""
	}
	var sb strings.Builder
	for i := 0; i < b.length; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(b.blk.data[i])))
	}
	return sb.String()
}
