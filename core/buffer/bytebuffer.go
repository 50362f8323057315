// File: core/buffer/bytebuffer.go
// Package buffer implements the growable byte buffer carried through pipelines.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ByteBuffer keeps readerIndex <= writerIndex <= capacity at all times.
// Moving a cursor out of those bounds is a programming error and panics with
// *api.FatalError rather than silently corrupting state.

package buffer

import (
	"io"

	"github.com/momentics/hioload-pipeline/api"
)

const defaultCapacity = 32

// Ensure compile-time interface compliance.
var _ api.Buffer = (*ByteBuffer)(nil)

// ByteBuffer is a growable byte container with independent read/write cursors.
// Not safe for concurrent use.
type ByteBuffer struct {
	data         []byte // len(data) == capacity
	readerIndex  int
	writerIndex  int
	markedReader int
	markedWriter int
}

// New returns an empty buffer with a small initial capacity.
func New() *ByteBuffer {
	return NewWithCapacity(defaultCapacity)
}

// NewWithCapacity returns an empty buffer able to hold capacity bytes.
func NewWithCapacity(capacity int) *ByteBuffer {
	if capacity < 0 {
		api.Fatalf("negative buffer capacity %d", capacity)
	}
	return &ByteBuffer{data: make([]byte, capacity)}
}

// Wrap returns a buffer whose readable region is p. The buffer is full:
// capacity equals len(p), so nothing is writable until it grows.
// p is not copied.
func Wrap(p []byte) *ByteBuffer {
	return &ByteBuffer{data: p, writerIndex: len(p)}
}

// FromString copies s into a new full buffer.
func FromString(s string) *ByteBuffer {
	return Wrap([]byte(s))
}

func (b *ByteBuffer) ReaderIndex() int { return b.readerIndex }
func (b *ByteBuffer) WriterIndex() int { return b.writerIndex }
func (b *ByteBuffer) Capacity() int    { return len(b.data) }

// SetReaderIndex moves the read cursor; it must stay within [0, writerIndex].
func (b *ByteBuffer) SetReaderIndex(i int) {
	if i < 0 || i > b.writerIndex {
		api.Fatalf("reader index %d out of bounds [0, %d]", i, b.writerIndex)
	}
	b.readerIndex = i
}

// SetWriterIndex moves the write cursor; it must stay within [readerIndex, capacity].
func (b *ByteBuffer) SetWriterIndex(i int) {
	if i < b.readerIndex || i > len(b.data) {
		api.Fatalf("writer index %d out of bounds [%d, %d]", i, b.readerIndex, len(b.data))
	}
	b.writerIndex = i
}

func (b *ByteBuffer) ReadableBytes() int { return b.writerIndex - b.readerIndex }
func (b *ByteBuffer) WritableBytes() int { return len(b.data) - b.writerIndex }
func (b *ByteBuffer) IsReadable() bool   { return b.ReadableBytes() > 0 }
func (b *ByteBuffer) IsWritable() bool   { return b.WritableBytes() > 0 }

// EnsureWritable grows the backing array so at least n bytes are writable.
func (b *ByteBuffer) EnsureWritable(n int) {
	if n < 0 {
		api.Fatalf("negative writable request %d", n)
	}
	if b.WritableBytes() >= n {
		return
	}
	need := b.writerIndex + n
	newCap := len(b.data) * 2
	if newCap < defaultCapacity {
		newCap = defaultCapacity
	}
	for newCap < need {
		newCap *= 2
	}
	grown := make([]byte, newCap)
	copy(grown, b.data[:b.writerIndex])
	b.data = grown
}

// Write appends p, growing as needed. It never fails.
func (b *ByteBuffer) Write(p []byte) (int, error) {
	b.EnsureWritable(len(p))
	n := copy(b.data[b.writerIndex:], p)
	b.writerIndex += n
	return n, nil
}

// WriteString appends s.
func (b *ByteBuffer) WriteString(s string) (int, error) {
	b.EnsureWritable(len(s))
	n := copy(b.data[b.writerIndex:], s)
	b.writerIndex += n
	return n, nil
}

// WriteByte appends c.
func (b *ByteBuffer) WriteByte(c byte) error {
	b.EnsureWritable(1)
	b.data[b.writerIndex] = c
	b.writerIndex++
	return nil
}

// Read consumes up to len(p) readable bytes. It returns io.EOF when the
// buffer has nothing readable.
func (b *ByteBuffer) Read(p []byte) (int, error) {
	if !b.IsReadable() {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.data[b.readerIndex:b.writerIndex])
	b.readerIndex += n
	return n, nil
}

// ReadByte consumes one byte.
func (b *ByteBuffer) ReadByte() (byte, error) {
	if !b.IsReadable() {
		return 0, io.EOF
	}
	c := b.data[b.readerIndex]
	b.readerIndex++
	return c, nil
}

// Bytes returns the readable region. The slice aliases the buffer and is
// valid until the next mutation.
func (b *ByteBuffer) Bytes() []byte {
	return b.data[b.readerIndex:b.writerIndex]
}

// Skip advances the read cursor by n bytes.
func (b *ByteBuffer) Skip(n int) {
	b.SetReaderIndex(b.readerIndex + n)
}

// Clear resets both cursors to zero; capacity is untouched.
func (b *ByteBuffer) Clear() {
	b.readerIndex = 0
	b.writerIndex = 0
	b.markedReader = 0
	b.markedWriter = 0
}

// Compact moves the readable region to the start of the backing array.
func (b *ByteBuffer) Compact() {
	if b.readerIndex == 0 {
		return
	}
	n := copy(b.data, b.data[b.readerIndex:b.writerIndex])
	b.readerIndex = 0
	b.writerIndex = n
	b.markedReader = 0
	b.markedWriter = 0
}

func (b *ByteBuffer) MarkReaderIndex()  { b.markedReader = b.readerIndex }
func (b *ByteBuffer) ResetReaderIndex() { b.SetReaderIndex(b.markedReader) }
func (b *ByteBuffer) MarkWriterIndex()  { b.markedWriter = b.writerIndex }
func (b *ByteBuffer) ResetWriterIndex() { b.SetWriterIndex(b.markedWriter) }

// String returns the readable region as a string without consuming it.
func (b *ByteBuffer) String() string {
	return string(b.Bytes())
}
