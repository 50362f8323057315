// Package api
// Author: momentics
//
// Growable byte container with reader and writer cursors.
//
// Invariant: 0 <= ReaderIndex <= WriterIndex <= Capacity. Setting a cursor
// outside of it is a usage error and panics with *FatalError.

package api

import "io"

// Buffer is the byte payload that flows between the channel and the codecs.
type Buffer interface {
	io.Reader
	io.Writer

	// ReaderIndex returns the position of the next byte to read.
	ReaderIndex() int
	// SetReaderIndex moves the read cursor.
	SetReaderIndex(i int)
	// WriterIndex returns the position of the next byte to write.
	WriterIndex() int
	// SetWriterIndex moves the write cursor.
	SetWriterIndex(i int)
	// Capacity is the number of bytes the buffer can hold without growing.
	Capacity() int

	ReadableBytes() int
	WritableBytes() int
	IsReadable() bool
	IsWritable() bool

	// EnsureWritable grows the capacity so at least n bytes are writable.
	EnsureWritable(n int)
	// Bytes returns the readable region without consuming it.
	Bytes() []byte
	// Skip advances the read cursor by n bytes.
	Skip(n int)
	// Clear resets both cursors to zero; capacity is unchanged.
	Clear()

	MarkReaderIndex()
	ResetReaderIndex()
	MarkWriterIndex()
	ResetWriterIndex()
}
