// Package sse decodes chat-completion event streams incrementally.
//
// Frames are separated by a blank line. Within a frame, lines that start with the data
// prefix carry the payload; multiple data lines are joined with newlines and any other
// line (event names, comments) is ignored. A payload equal to the sentinel ends the stream.
// Other payloads are JSON, and the content fragment is read at a gjson path.
//
// The decoder keeps a carry-over buffer, so chunks may split frames anywhere, including
// between the two newlines of a separator.
package sse

import (
	"bytes"
	"context"

	"github.com/tidwall/gjson"

	"github.com/davidbz/flow/internal/domain"
	"github.com/davidbz/flow/internal/observability"
)

const (
	// DefaultPrefix marks a payload line.
	DefaultPrefix = "data:"

	// DefaultSentinel is the payload that ends the stream.
	DefaultSentinel = "[DONE]"

	// DefaultContentPath locates the fragment in an OpenAI chat-completion chunk.
	DefaultContentPath = "choices.0.delta.content"

	// DefaultMaxFrameBytes bounds the carry-over buffer.
	DefaultMaxFrameBytes = 1 << 20
)

//nolint:gochecknoglobals // read-only separator
var frameSeparator = []byte("\n\n")

// Options configure a Decoder. Zero values take the defaults above.
type Options struct {
	Prefix        string
	Sentinel      string
	ContentPath   string
	MaxFrameBytes int
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.Sentinel == "" {
		o.Sentinel = DefaultSentinel
	}
	if o.ContentPath == "" {
		o.ContentPath = DefaultContentPath
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = DefaultMaxFrameBytes
	}
	return o
}

// Decoder is a stateful, single-session event stream decoder. It is not safe for
// concurrent use.
type Decoder struct {
	ctx     context.Context
	opts    Options
	prefix  []byte
	buf     []byte
	done    bool
	skipped int
}

// NewDecoder creates a decoder. ctx is used only for logging.
func NewDecoder(ctx context.Context, opts Options) *Decoder {
	opts = opts.withDefaults()
	return &Decoder{
		ctx:    ctx,
		opts:   opts,
		prefix: []byte(opts.Prefix),
	}
}

// Factory returns a domain.DecoderFactory producing decoders with opts.
func Factory(opts Options) domain.DecoderFactory {
	return func(ctx context.Context) domain.StreamDecoder {
		return NewDecoder(ctx, opts)
	}
}

// Feed appends chunk to the carry-over buffer and decodes every complete frame in it, in
// order. After the sentinel it returns done and ignores further input.
func (d *Decoder) Feed(chunk []byte) ([]domain.DeltaEvent, bool) {
	if d.done {
		return nil, true
	}

	d.buf = appendWithoutCR(d.buf, chunk)

	var deltas []domain.DeltaEvent
	for {
		idx := bytes.Index(d.buf, frameSeparator)
		if idx < 0 {
			break
		}

		frame := d.buf[:idx]
		d.buf = d.buf[idx+len(frameSeparator):]

		if delta, ok := d.decodeFrame(frame); ok {
			deltas = append(deltas, delta)
		}
		if d.done {
			d.buf = nil
			return deltas, true
		}
	}

	if len(d.buf) > d.opts.MaxFrameBytes {
		d.skip("frame exceeds size limit", observability.Int("buffered_bytes", len(d.buf)))
		d.buf = nil
	}

	// Compact so the carried-over tail does not pin earlier chunks.
	if len(d.buf) > 0 {
		d.buf = append([]byte(nil), d.buf...)
	}

	return deltas, false
}

// Flush decodes whatever remains in the buffer as a final frame. It is meant to be
// called once, when the body ends.
func (d *Decoder) Flush() ([]domain.DeltaEvent, bool) {
	if d.done {
		return nil, true
	}

	frame := bytes.TrimSpace(d.buf)
	d.buf = nil
	if len(frame) == 0 {
		return nil, false
	}

	delta, ok := d.decodeFrame(frame)
	if !ok {
		return nil, d.done
	}
	return []domain.DeltaEvent{delta}, d.done
}

// Done reports whether the sentinel was seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Skipped returns the number of frames dropped as malformed.
func (d *Decoder) Skipped() int {
	return d.skipped
}

func (d *Decoder) decodeFrame(frame []byte) (domain.DeltaEvent, bool) {
	payload, ok := d.payload(frame)
	if !ok {
		return domain.DeltaEvent{}, false
	}

	if string(payload) == d.opts.Sentinel {
		d.done = true
		return domain.DeltaEvent{}, false
	}

	if !gjson.ValidBytes(payload) {
		d.skip("malformed frame payload", observability.Int("payload_bytes", len(payload)))
		return domain.DeltaEvent{}, false
	}

	content := gjson.GetBytes(payload, d.opts.ContentPath)
	if content.Type != gjson.String || content.Str == "" {
		// Role-only and finish-reason frames carry no fragment.
		return domain.DeltaEvent{}, false
	}

	return domain.DeltaEvent{Content: content.Str}, true
}

// payload joins the data lines of a frame. Frames without data lines yield false.
func (d *Decoder) payload(frame []byte) ([]byte, bool) {
	var data [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		if !bytes.HasPrefix(line, d.prefix) {
			continue
		}
		data = append(data, bytes.TrimPrefix(line, d.prefix))
	}

	if len(data) == 0 {
		return nil, false
	}

	return bytes.TrimSpace(bytes.Join(data, []byte("\n"))), true
}

func (d *Decoder) skip(reason string, fields ...observability.Field) {
	d.skipped++
	fields = append(fields, observability.Int("skipped_total", d.skipped))
	observability.FromContext(d.ctx).Warn(reason, fields...)
}

func appendWithoutCR(dst, src []byte) []byte {
	for {
		idx := bytes.IndexByte(src, '\r')
		if idx < 0 {
			return append(dst, src...)
		}
		dst = append(dst, src[:idx]...)
		src = src[idx+1:]
	}
}
