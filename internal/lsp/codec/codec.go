package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrFraming reports a header block without exactly one usable
	// Content-Length, or one that never terminates.
	ErrFraming = errors.New("malformed frame header")

	// ErrTooLarge reports a frame whose declared body exceeds the decoder's
	// limit. The body is skipped without being buffered.
	ErrTooLarge = fmt.Errorf("%w: body exceeds size limit", ErrFraming)

	// ErrDecode reports a frame body that is not valid JSON.
	ErrDecode = errors.New("frame body is not valid JSON")
)

const (
	headerTerminator = "\r\n\r\n"
	contentLength    = "Content-Length"
	readChunkSize    = 32 * 1024

	// DefaultMaxBodySize bounds a single frame body.
	DefaultMaxBodySize = 16 << 20
	maxHeaderSize      = 8 * 1024
)

type decodeState int

const (
	stateHeader decodeState = iota
	stateBody
	stateSkip
)

// DropFunc is called for every frame the decoder discards.
type DropFunc func(err error, frame []byte)

// Decoder reads Content-Length framed JSON messages from a byte stream.
// It is not safe for concurrent use; run it on one goroutine.
type Decoder struct {
	r      io.Reader
	chunk  []byte
	buf    []byte
	state  decodeState
	length int
	max    int
	onDrop DropFunc
	err    error
}

// NewDecoder creates a decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:     r,
		chunk: make([]byte, readChunkSize),
		state: stateHeader,
		max:   DefaultMaxBodySize,
	}
}

// SetMaxBodySize changes the largest body the decoder accepts.
func (d *Decoder) SetMaxBodySize(n int) {
	d.max = n
}

// OnDrop registers a callback for discarded frames.
func (d *Decoder) OnDrop(fn DropFunc) {
	d.onDrop = fn
}

// Next returns the next decoded message. It returns io.EOF once the stream
// ends between frames and io.ErrUnexpectedEOF if it ends inside one.
func (d *Decoder) Next() (json.RawMessage, error) {
	if d.err != nil {
		return nil, d.err
	}

	for {
		switch d.state {
		case stateHeader:
			idx := bytes.Index(d.buf, []byte(headerTerminator))
			if idx < 0 {
				if len(d.buf) > maxHeaderSize {
					// Keep a tail that may hold the start of a terminator.
					keep := len(headerTerminator) - 1
					d.drop(ErrFraming, d.buf[:len(d.buf)-keep])
					d.consume(len(d.buf) - keep)
				}
				if err := d.fill(); err != nil {
					return nil, d.fail(err)
				}
				continue
			}

			header := string(d.buf[:idx])
			d.consume(idx + len(headerTerminator))

			length, ok := parseContentLength(header)
			if !ok {
				d.drop(ErrFraming, []byte(header))
				continue
			}
			d.length = length
			d.state = stateBody
			if length > d.max {
				d.drop(ErrTooLarge, []byte(header))
				d.state = stateSkip
			}

		case stateBody:
			if len(d.buf) < d.length {
				if err := d.fill(); err != nil {
					return nil, d.fail(err)
				}
				continue
			}

			body := make([]byte, d.length)
			copy(body, d.buf[:d.length])
			d.consume(d.length)
			d.state = stateHeader

			if !json.Valid(body) {
				d.drop(ErrDecode, body)
				continue
			}
			return body, nil

		case stateSkip:
			n := min(len(d.buf), d.length)
			d.consume(n)
			d.length -= n
			if d.length == 0 {
				d.state = stateHeader
				continue
			}
			if err := d.fill(); err != nil {
				return nil, d.fail(err)
			}
		}
	}
}

// Messages yields decoded messages until the stream ends. The sequence can
// only be ranged over once; Err reports why it stopped.
func (d *Decoder) Messages() iter.Seq[json.RawMessage] {
	return func(yield func(json.RawMessage) bool) {
		for {
			msg, err := d.Next()
			if err != nil {
				return
			}
			if !yield(msg) {
				return
			}
		}
	}
}

// Err returns the error that ended decoding, or nil for a clean end of stream.
func (d *Decoder) Err() error {
	if errors.Is(d.err, io.EOF) {
		return nil
	}
	return d.err
}

// fill performs one read. A zero-length read counts as end of stream.
func (d *Decoder) fill() error {
	n, err := d.r.Read(d.chunk)
	if n > 0 {
		d.buf = append(d.buf, d.chunk[:n]...)
		return nil
	}
	if err != nil {
		return err
	}
	return io.EOF
}

func (d *Decoder) fail(err error) error {
	if errors.Is(err, io.EOF) && (len(d.buf) > 0 || d.state != stateHeader) {
		err = io.ErrUnexpectedEOF
	}
	d.err = err
	return err
}

func (d *Decoder) consume(n int) {
	d.buf = d.buf[n:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
}

func (d *Decoder) drop(err error, frame []byte) {
	if d.onDrop != nil {
		d.onDrop(err, frame)
	}
}

// parseContentLength scans a header block for Content-Length, ignoring case
// and any other header fields. A repeated Content-Length is rejected.
func parseContentLength(header string) (int, bool) {
	length, seen := 0, false
	for _, line := range strings.Split(header, "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(name), contentLength) {
			continue
		}
		if seen {
			return 0, false
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, false
		}
		length, seen = n, true
	}
	return length, seen
}

type flusher interface {
	Flush() error
}

// Encoder writes Content-Length framed JSON messages. Encode is safe for
// concurrent use: each frame is written whole under the encoder's lock.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder creates an encoder over w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v to compact JSON and writes it as a single frame.
func (e *Encoder) Encode(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	frame := make([]byte, 0, len(body)+len(contentLength)+16)
	frame = append(frame, contentLength...)
	frame = append(frame, ": "...)
	frame = strconv.AppendInt(frame, int64(len(body)), 10)
	frame = append(frame, headerTerminator...)
	frame = append(frame, body...)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if f, ok := e.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush frame: %w", err)
		}
	}
	return nil
}
