package rng

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Secret holds entropy that must not outlive its single use. Both the raw
// bytes and the derived hex form are zeroized by Destroy; callers defer it
// immediately after construction so every exit path wipes the buffers.
type Secret struct {
	raw []byte
	hex []byte
}

// NewSecret reads n bytes from the reader into a zeroizable buffer.
func NewSecret(reader io.Reader, n int) (*Secret, error) {
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		zero(raw)
		return nil, fmt.Errorf("failed to read %d secret bytes: %w", n, err)
	}
	hexBuf := make([]byte, hex.EncodedLen(n))
	hex.Encode(hexBuf, raw)
	return &Secret{raw: raw, hex: hexBuf}, nil
}

// NewSecretFromDevice reads n bytes from a device file.
func NewSecretFromDevice(path string, n int) (*Secret, error) {
	device, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open entropy device %s: %w", path, err)
	}
	defer device.Close() //nolint:errcheck
	return NewSecret(device, n)
}

// Hex returns the lowercase hex form. The returned slice aliases the
// secret's buffer and is wiped by Destroy; callers must not retain it.
func (s *Secret) Hex() []byte {
	return s.hex
}

// Destroy overwrites the secret material with zeros. Safe to call more than
// once.
func (s *Secret) Destroy() {
	zero(s.raw)
	zero(s.hex)
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
