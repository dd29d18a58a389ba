// Package protocol implements the collector wire format: a 4 byte
// big-endian length followed by that many bytes of JSON.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeadLength is the size of the length prefix.
const HeadLength = 4

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrShortFrame    = errors.New("connection closed inside a frame")
)

// ReadFrame reads one length-prefixed payload. A clean EOF before the
// length prefix is returned as io.EOF; any other short read is ErrShortFrame.
func ReadFrame(r io.Reader, maxBytes uint32) ([]byte, error) {
	var head [HeadLength]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read frame length: %w", ErrShortFrame)
		}
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(head[:])
	if maxBytes > 0 && length > maxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, length, maxBytes)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read frame payload: %w", ErrShortFrame)
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}

// WriteFrame writes payload with its length prefix in a single write.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, HeadLength+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeadLength:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
