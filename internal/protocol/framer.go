package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
)

// MaxFrameBytes bounds the framer's accumulation buffer. A buffer that grows
// past this without producing a parseable frame is a framing error.
const MaxFrameBytes = 1 << 20

// ErrFrameTooLarge is returned when the accumulation buffer exceeds
// MaxFrameBytes; the buffer is discarded and the framer stays usable.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Framer splits a line-oriented byte stream into complete JSON-RPC message
// texts. Each appended line is buffered and the whole buffer is tried as one
// JSON document; when that fails but the buffer looks like it holds JSON-RPC
// objects, the framer falls back to per-line parsing and drops whatever does
// not parse. This handles both compact one-object-per-line clients and
// payloads that arrive fragmented across lines.
type Framer struct {
	buf bytes.Buffer
}

// NewFramer returns a framer with an empty buffer.
func NewFramer() *Framer {
	return &Framer{}
}

// Push appends one raw line and returns any complete frames it produced.
// A returned ErrFrameTooLarge means the buffer was dropped; subsequent lines
// start fresh.
func (f *Framer) Push(line []byte) ([][]byte, error) {
	if f.buf.Len() > 0 {
		f.buf.WriteByte('\n')
	}
	f.buf.Write(bytes.TrimRight(line, "\r\n"))

	if f.buf.Len() > MaxFrameBytes {
		f.buf.Reset()
		return nil, ErrFrameTooLarge
	}

	whole := f.buf.Bytes()
	if len(bytes.TrimSpace(whole)) == 0 {
		f.buf.Reset()
		return nil, nil
	}

	// Common case: the buffer is one complete JSON document.
	if json.Valid(whole) {
		frame := make([]byte, len(whole))
		copy(frame, whole)
		f.buf.Reset()
		return [][]byte{frame}, nil
	}

	// Not yet parseable. If the buffer carries what looks like finished
	// JSON-RPC objects, salvage the lines that parse on their own and drop
	// the rest; otherwise keep accumulating.
	if !bytes.Contains(whole, []byte(`"jsonrpc"`)) || !bytes.Contains(whole, []byte("}")) {
		return nil, nil
	}

	var frames [][]byte
	for _, part := range bytes.Split(whole, []byte("\n")) {
		part = bytes.TrimSpace(part)
		if len(part) == 0 || !json.Valid(part) {
			continue
		}
		frame := make([]byte, len(part))
		copy(frame, part)
		frames = append(frames, frame)
	}
	f.buf.Reset()
	return frames, nil
}

// Reset discards any partial input, restarting the framer for a new
// connection.
func (f *Framer) Reset() {
	f.buf.Reset()
}
