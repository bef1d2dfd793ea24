package framing

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// halfCloser is implemented by TCP and VSOCK connections.
type halfCloser interface {
	CloseWrite() error
}

// Sender streams a fixed batch of files over a single connection.
type Sender struct {
	conn   net.Conn
	logger *zerolog.Logger
}

// NewSender wraps an established connection.
func NewSender(conn net.Conn, logger zerolog.Logger) *Sender {
	return &Sender{conn: conn, logger: &logger}
}

// SendFiles sends the named files in order, then half-closes the connection
// and waits for the peer to close its side.
func (s *Sender) SendFiles(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if err := s.sendFile(ctx, path); err != nil {
			return fmt.Errorf("failed to send %s: %w", filepath.Base(path), err)
		}
	}
	if hc, ok := s.conn.(halfCloser); ok {
		if err := hc.CloseWrite(); err != nil {
			return fmt.Errorf("failed to half-close connection: %w", err)
		}
	}
	// Wait for the peer to finish reading and close.
	buf := make([]byte, 1)
	_, err := s.conn.Read(buf)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to wait for peer close: %w", err)
	}
	return nil
}

func (s *Sender) sendFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	name := filepath.Base(path)
	header := Header{Size: uint64(info.Size()), NameLen: uint16(len(name))}
	if err := header.CheckBounds(); err != nil {
		return err
	}

	headerBytes := header.Encode()
	if err := writeFull(s.conn, headerBytes[:]); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := writeFull(s.conn, []byte(name)); err != nil {
		return fmt.Errorf("failed to write name: %w", err)
	}
	written, err := io.Copy(s.conn, file)
	if err != nil {
		return fmt.Errorf("failed to write body: %w", err)
	}
	if written != info.Size() {
		return fmt.Errorf("short body write: wrote %d of %d bytes", written, info.Size())
	}
	s.logger.Info().Str("file", name).Int64("bytes", info.Size()).Msg("Sent file")
	return nil
}

// writeFull loops until every byte of buf has been handed to the connection.
// The VSOCK send primitive may accept fewer bytes than offered.
func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
