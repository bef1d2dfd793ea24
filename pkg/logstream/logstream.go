// Package logstream receives the enclave's log stream on the host side so
// that both peers' logs land in the delivered output set.
package logstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"
)

// Tunnel copies data from accepted connections to a writer, typically the
// host's stdout or a log file.
type Tunnel struct {
	out    io.Writer
	logger *zerolog.Logger
}

// NewTunnel creates a tunnel writing to out.
func NewTunnel(out io.Writer, logger zerolog.Logger) *Tunnel {
	return &Tunnel{out: out, logger: &logger}
}

// HandleConn copies one connection's data to the output writer.
func (t *Tunnel) HandleConn(conn net.Conn) {
	defer conn.Close() //nolint:errcheck
	_, err := io.Copy(t.out, conn)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to copy enclave log stream")
		return
	}
}

// Listen accepts connections until the context is canceled.
func (t *Tunnel) Listen(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to accept log stream connection: %w", err)
		}
		go t.HandleConn(conn)
	}
}
