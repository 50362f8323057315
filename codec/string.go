// File: codec/string.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/core/buffer"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// ErrMalformedInput is the cause of strict-mode conversion failures.
var ErrMalformedInput = errors.New("malformed input for charset")

// StringCodec converts between byte buffers and strings.
type StringCodec = Codec[api.Buffer, string]

// StringOption configures NewStringCodec.
type StringOption func(*StringTranscoder)

// WithCharset selects the byte encoding; the default is UTF-8.
func WithCharset(enc encoding.Encoding) StringOption {
	return func(t *StringTranscoder) { t.enc = enc }
}

// Strict makes malformed input and unencodable text fail instead of being
// replaced.
func Strict() StringOption {
	return func(t *StringTranscoder) { t.strict = true }
}

// StringTranscoder converts api.Buffer payloads to text. Lenient mode maps
// malformed input to U+FFFD and unencodable runes to the charset's
// replacement byte.
type StringTranscoder struct {
	enc    encoding.Encoding
	strict bool
}

// NewStringCodec returns a "string-codec" handler.
func NewStringCodec(opts ...StringOption) *StringCodec {
	t := &StringTranscoder{enc: unicode.UTF8}
	for _, opt := range opts {
		opt(t)
	}
	return New[api.Buffer, string]("string-codec", t)
}

// Decode consumes the readable bytes of buf.
func (t *StringTranscoder) Decode(buf api.Buffer) (string, error) {
	data := buf.Bytes()
	buf.SetReaderIndex(buf.WriterIndex())

	if t.enc == unicode.UTF8 {
		if utf8.Valid(data) {
			return string(data), nil
		}
		if t.strict {
			return "", ErrMalformedInput
		}
		return string(bytes.ToValidUTF8(data, []byte(string(utf8.RuneError)))), nil
	}

	out, err := t.enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if t.strict && bytes.ContainsRune(out, utf8.RuneError) {
		return "", ErrMalformedInput
	}
	return string(out), nil
}

// Encode returns a new buffer holding s in the configured charset.
func (t *StringTranscoder) Encode(s string) (api.Buffer, error) {
	if t.enc == unicode.UTF8 {
		switch {
		case utf8.ValidString(s):
			return buffer.FromString(s), nil
		case t.strict:
			return nil, ErrMalformedInput
		}
		return buffer.FromString(strings.ToValidUTF8(s, string(utf8.RuneError))), nil
	}
	enc := t.enc.NewEncoder()
	if !t.strict {
		enc = encoding.ReplaceUnsupported(enc)
	}
	out, err := enc.Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buffer.Wrap(out), nil
}
