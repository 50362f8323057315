// File: codec/codec.go
// Package codec provides handlers that convert messages between adjacent
// pipeline layers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Codec[D, U] sits between a lower layer carrying D values and an upper
// layer carrying U values. Inbound D messages are decoded to U; outbound U
// messages are encoded to D. Messages of any other type keep travelling in
// their original direction untouched. Conversion failures are fired as
// inbound errors.

package codec

import (
	"fmt"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/pipeline"
)

// Transcoder converts between the lower type D and the upper type U.
type Transcoder[D, U any] interface {
	Decode(data D) (U, error)
	Encode(data U) (D, error)
}

// Funcs adapts a pair of functions to Transcoder.
type Funcs[D, U any] struct {
	DecodeFunc func(D) (U, error)
	EncodeFunc func(U) (D, error)
}

func (f Funcs[D, U]) Decode(data D) (U, error) { return f.DecodeFunc(data) }
func (f Funcs[D, U]) Encode(data U) (D, error) { return f.EncodeFunc(data) }

// Codec is a pipeline handler driven by a Transcoder.
type Codec[D, U any] struct {
	pipeline.HandlerAdapter
	transcoder Transcoder[D, U]
}

// New returns a codec handler called name.
func New[D, U any](name string, t Transcoder[D, U]) *Codec[D, U] {
	return &Codec[D, U]{HandlerAdapter: pipeline.NewHandlerAdapter(name), transcoder: t}
}

// Transcoder returns the underlying converter.
func (c *Codec[D, U]) Transcoder() Transcoder[D, U] { return c.transcoder }

func (c *Codec[D, U]) OnRead(ctx api.HandlerContext, msg any) {
	data, ok := msg.(D)
	if !ok {
		ctx.FireRead(msg)
		return
	}
	out, err := c.transcoder.Decode(data)
	if err != nil {
		ctx.FireError(&DecodeError{Codec: c.Name(), Cause: err})
		return
	}
	ctx.FireRead(out)
}

func (c *Codec[D, U]) OnWrite(ctx api.HandlerContext, msg any) {
	data, ok := msg.(U)
	if !ok {
		ctx.FireWrite(msg)
		return
	}
	out, err := c.transcoder.Encode(data)
	if err != nil {
		ctx.FireError(&EncodeError{Codec: c.Name(), Cause: err})
		return
	}
	ctx.FireWrite(out)
}

// DecodeError reports an inbound message the codec could not convert.
type DecodeError struct {
	Codec string
	Cause error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("%s: decode: %v", e.Codec, e.Cause) }
func (e *DecodeError) Unwrap() error { return e.Cause }

// EncodeError reports an outbound message the codec could not convert.
type EncodeError struct {
	Codec string
	Cause error
}

func (e *EncodeError) Error() string { return fmt.Sprintf("%s: encode: %v", e.Codec, e.Cause) }
func (e *EncodeError) Unwrap() error { return e.Cause }

// FrameTooLongError reports a frame exceeding the decoder's limit. The
// oversized frame is discarded.
type FrameTooLongError struct {
	Length int
	Max    int
}

func (e *FrameTooLongError) Error() string {
	return fmt.Sprintf("frame length %d exceeds maximum %d", e.Length, e.Max)
}
