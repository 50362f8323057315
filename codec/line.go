// File: codec/line.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec

import (
	"bytes"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/core/buffer"
	"github.com/momentics/hioload-pipeline/pipeline"
)

// DefaultMaxLineLength bounds a line when no limit is given.
const DefaultMaxLineLength = 8192

// LineFrameDecoder splits inbound byte buffers on '\n' and forwards one
// buffer per complete line. Partial lines are kept until the rest arrives.
// A line longer than the limit is dropped and reported as
// *FrameTooLongError. Each instance buffers one connection's stream and
// must not be shared between pipelines.
type LineFrameDecoder struct {
	pipeline.HandlerAdapter
	maxLength      int
	stripDelimiter bool
	acc            *buffer.ByteBuffer
	discarding     bool
}

// NewLineFrameDecoder returns a "line-decoder" handler. When stripDelimiter
// is set, forwarded lines exclude the trailing "\n" or "\r\n".
func NewLineFrameDecoder(maxLength int, stripDelimiter bool) *LineFrameDecoder {
	if maxLength <= 0 {
		maxLength = DefaultMaxLineLength
	}
	return &LineFrameDecoder{
		HandlerAdapter: pipeline.NewHandlerAdapter("line-decoder"),
		maxLength:      maxLength,
		stripDelimiter: stripDelimiter,
		acc:            buffer.New(),
	}
}

func (d *LineFrameDecoder) OnRead(ctx api.HandlerContext, msg any) {
	in, ok := msg.(api.Buffer)
	if !ok {
		ctx.FireRead(msg)
		return
	}
	_, _ = d.acc.Write(in.Bytes())
	in.SetReaderIndex(in.WriterIndex())

	for {
		data := d.acc.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			switch {
			case d.discarding:
				d.acc.Clear()
			case len(data) > d.maxLength:
				d.discarding = true
				d.acc.Clear()
				ctx.FireError(&FrameTooLongError{Length: len(data), Max: d.maxLength})
			}
			break
		}
		end := idx
		if end > 0 && data[end-1] == '\r' {
			end--
		}
		if d.discarding {
			d.discarding = false
			d.acc.Skip(idx + 1)
			continue
		}
		if end > d.maxLength {
			d.acc.Skip(idx + 1)
			ctx.FireError(&FrameTooLongError{Length: end, Max: d.maxLength})
			continue
		}
		stop := idx + 1
		if d.stripDelimiter {
			stop = end
		}
		frame := buffer.NewWithCapacity(stop)
		_, _ = frame.Write(data[:stop])
		d.acc.Skip(idx + 1)
		ctx.FireRead(frame)
	}
	d.acc.Compact()
}

func (d *LineFrameDecoder) OnInactive(ctx api.HandlerContext) {
	d.acc.Clear()
	d.discarding = false
	ctx.FireInactive()
}

func (d *LineFrameDecoder) HandlerRemoved(api.HandlerContext) {
	d.acc.Clear()
}

// Buffered returns the number of bytes of an incomplete line held back.
func (d *LineFrameDecoder) Buffered() int { return d.acc.ReadableBytes() }
