// Package framing implements the length-prefixed multi-file stream used
// between the ceremony host and the enclave. Each file on the wire is a
// 10-byte little-endian header (u64 size, u16 name length), the UTF-8 file
// name, and then the body.
package framing

import (
	"encoding/binary"
	"fmt"
)

// FrameError is a typed error for framing-related errors.
type FrameError string

func (e FrameError) Error() string { return string(e) }

const (
	// ErrSizeOutOfRange is returned when a header's size field is zero or exceeds MaxFileSize.
	ErrSizeOutOfRange = FrameError("frame size out of range")
	// ErrNameLengthOutOfRange is returned when a header's name length is zero or exceeds MaxNameLen.
	ErrNameLengthOutOfRange = FrameError("frame name length out of range")
	// ErrShortBody is returned when the stream ends before a full file body has arrived.
	ErrShortBody = FrameError("stream ended mid-file")
)

const (
	// HeaderSize is the fixed byte length of a frame header.
	HeaderSize = 10
	// MaxFileSize is the exclusive upper bound on a file body.
	MaxFileSize = uint64(1e12)
	// MaxNameLen is the inclusive upper bound on a file name.
	MaxNameLen = 4096
)

// Header describes one file on the wire.
type Header struct {
	Size    uint64
	NameLen uint16
}

// Valid reports whether the header passes the sanity bounds. Receivers use
// this predicate to reject spurious prefix bytes before committing to a frame.
func (h Header) Valid() bool {
	return h.Size > 0 && h.Size < MaxFileSize && h.NameLen > 0 && h.NameLen <= MaxNameLen
}

// Encode writes the header into a 10-byte buffer.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.Size)
	binary.LittleEndian.PutUint16(buf[8:10], h.NameLen)
	return buf
}

// DecodeHeader interprets the first 10 bytes of buf as a frame header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("header needs %d bytes, got %d", HeaderSize, len(buf))
	}
	return Header{
		Size:    binary.LittleEndian.Uint64(buf[0:8]),
		NameLen: binary.LittleEndian.Uint16(buf[8:10]),
	}, nil
}

// CheckBounds validates a header that is about to be sent.
func (h Header) CheckBounds() error {
	if h.Size == 0 || h.Size >= MaxFileSize {
		return fmt.Errorf("%w: %d", ErrSizeOutOfRange, h.Size)
	}
	if h.NameLen == 0 || h.NameLen > MaxNameLen {
		return fmt.Errorf("%w: %d", ErrNameLengthOutOfRange, h.NameLen)
	}
	return nil
}
