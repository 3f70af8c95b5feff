// Package sse implements an incremental, line-oriented parser for
// server-sent-event style chat streams.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
)

// DefaultMaxLineBytes bounds the bytes the parser keeps while waiting for a
// line or a payload to complete.
const DefaultMaxLineBytes = 1 << 20

// ErrLineTooLong is returned when buffered input exceeds the configured limit.
var ErrLineTooLong = errors.New("sse: buffered line exceeds limit")

var (
	dataPrefix   = []byte("data: ")
	doneSentinel = []byte("[DONE]")
)

// FrameKind classifies a parsed frame.
type FrameKind int

const (
	// FramePayload carries a complete JSON payload.
	FramePayload FrameKind = iota
	// FrameDone marks the end of the stream.
	FrameDone
	// FrameMalformed carries a payload that never became valid JSON.
	FrameMalformed
)

func (k FrameKind) String() string {
	switch k {
	case FramePayload:
		return "payload"
	case FrameDone:
		return "done"
	case FrameMalformed:
		return "malformed"
	}
	return "unknown"
}

// Frame is one classified unit of the stream.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Option configures a Parser.
type Option func(*Parser)

// WithMaxLineBytes overrides DefaultMaxLineBytes.
func WithMaxLineBytes(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxLineBytes = n
		}
	}
}

// Parser splits a byte stream into lines and classifies them. Input is
// buffered as raw bytes and only split at '\n', so multi-byte UTF-8
// sequences cut across chunks are reassembled before anything is decoded.
//
// A data payload that is not valid JSON is held back and the following raw
// lines are joined to it until it parses. If a new "data: " line arrives
// first, the held payload is reported as FrameMalformed and dropped.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	buf          []byte
	held         []byte
	holding      bool
	done         bool
	err          error
	maxLineBytes int
}

// NewParser creates a parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{maxLineBytes: DefaultMaxLineBytes}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Done reports whether the [DONE] sentinel has been seen.
func (p *Parser) Done() bool {
	return p.done
}

// Feed appends chunk to the buffer and returns the frames of every line it
// completed, in order. Once the stream is done further input is discarded.
func (p *Parser) Feed(chunk []byte) ([]Frame, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.done {
		return nil, nil
	}

	p.buf = append(p.buf, chunk...)

	var frames []Frame
	for !p.done {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(p.buf[:idx], []byte{'\r'})
		if len(line)+len(p.held) > p.maxLineBytes {
			p.buf = nil
			p.held = nil
			p.err = ErrLineTooLong
			return frames, p.err
		}
		p.buf = p.buf[idx+1:]
		frames = p.handleLine(line, frames)
	}

	if p.done {
		p.buf = nil
		p.held = nil
		return frames, nil
	}

	if len(p.buf)+len(p.held) > p.maxLineBytes {
		p.err = ErrLineTooLong
		return frames, p.err
	}

	// Release the consumed prefix once the buffer drains.
	if len(p.buf) == 0 {
		p.buf = nil
	}

	return frames, nil
}

// Flush processes whatever remains once the underlying stream has ended:
// an unterminated last line is handled as if it ended with a newline, and a
// payload still held is reported as malformed.
func (p *Parser) Flush() []Frame {
	if p.err != nil || p.done {
		return nil
	}

	var frames []Frame
	if len(p.buf) > 0 {
		line := bytes.TrimSuffix(p.buf, []byte{'\r'})
		p.buf = nil
		frames = p.handleLine(line, frames)
	}
	if p.holding {
		frames = append(frames, Frame{Kind: FrameMalformed, Data: p.held})
		p.held = nil
		p.holding = false
	}
	return frames
}

func (p *Parser) handleLine(line []byte, frames []Frame) []Frame {
	if p.holding {
		if !bytes.HasPrefix(line, dataPrefix) {
			joined := make([]byte, 0, len(p.held)+1+len(line))
			joined = append(joined, p.held...)
			joined = append(joined, '\n')
			joined = append(joined, line...)
			if json.Valid(joined) {
				p.held = nil
				p.holding = false
				return append(frames, Frame{Kind: FramePayload, Data: joined})
			}
			p.held = joined
			return frames
		}
		frames = append(frames, Frame{Kind: FrameMalformed, Data: p.held})
		p.held = nil
		p.holding = false
	}

	if len(line) == 0 || line[0] == ':' {
		return frames
	}
	if !bytes.HasPrefix(line, dataPrefix) {
		return frames
	}

	payload := line[len(dataPrefix):]
	if bytes.Equal(bytes.TrimSpace(payload), doneSentinel) {
		p.done = true
		return append(frames, Frame{Kind: FrameDone})
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	if json.Valid(data) {
		return append(frames, Frame{Kind: FramePayload, Data: data})
	}

	p.held = data
	p.holding = true
	return frames
}
