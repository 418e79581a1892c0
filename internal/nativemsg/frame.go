// Package nativemsg implements the browser native messaging transport: a
// 4-byte length in native byte order followed by a UTF-8 JSON payload.
package nativemsg

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxMessageSize is the largest payload accepted in either direction.
const MaxMessageSize = 1024 * 1024

var (
	// ErrInvalidLength is returned for a zero or oversized length prefix.
	// No payload bytes are consumed in that case.
	ErrInvalidLength = errors.New("invalid message length")

	// ErrTruncated is returned when the stream ends inside a payload.
	ErrTruncated = errors.New("truncated message payload")
)

// ReadFrame reads one frame. It returns io.EOF when the stream ends before a
// new length prefix, which means the browser has gone away.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read length: %w", err)
	}

	n := binary.NativeEndian.Uint32(header[:])
	if n == 0 || n > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}

// WriteFrame writes payload as a single frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxMessageSize {
		return fmt.Errorf("%w: %d", ErrInvalidLength, len(payload))
	}

	buf := make([]byte, 4+len(payload))
	binary.NativeEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

type flusher interface {
	Flush() error
}

// Writer serializes frames from concurrent senders onto one stream so
// frames never interleave.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Send encodes msg as JSON and writes it as one frame, flushing if the
// underlying writer buffers.
func (fw *Writer) Send(msg Outbound) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if err := WriteFrame(fw.w, payload); err != nil {
		return err
	}
	if f, ok := fw.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
