// Package watchdog supervises enclave liveness while the host waits through
// the long beacon delay. The enclave periodically writes its ceremony ID; if
// the stream goes quiet or the ID changes, the host tears the ceremony down
// instead of waiting on a dead peer.
package watchdog

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Austin-Williams/nitro-pinky-swear/pkg/enclave"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"
)

// WatchdogError is a typed error for watchdog-related errors.
type WatchdogError string

func (e WatchdogError) Error() string { return string(e) }

const (
	// ErrCeremonyIDRequired is returned when the ceremony ID is missing in the settings.
	ErrCeremonyIDRequired = WatchdogError("ceremony ID is required")
	// ErrHeartbeatTimeout is returned when the enclave doesn't send a heartbeat within the interval.
	ErrHeartbeatTimeout = WatchdogError("enclave heartbeat timeout")
	// ErrCeremonyIDMismatch is returned when the heartbeat carries an unexpected ceremony ID.
	ErrCeremonyIDMismatch = WatchdogError("ceremony ID mismatch")
)

// Settings configures the watchdog.
type Settings struct {
	// CeremonyID identifies the ceremony run both peers agreed on.
	CeremonyID uuid.UUID
	// Interval is the longest tolerated gap between heartbeats.
	Interval time.Duration
}

// Watchdog is a struct that handles the enclave heartbeat.
type Watchdog struct {
	settings     *Settings
	timer        *time.Ticker
	watchErrChan chan error
}

// New creates a new watchdog.
func New(settings *Settings) (*Watchdog, error) {
	if settings.CeremonyID == uuid.Nil {
		return nil, ErrCeremonyIDRequired
	}
	return &Watchdog{
		settings:     settings,
		timer:        time.NewTicker(settings.Interval),
		watchErrChan: make(chan error),
	}, nil
}

// StartServerSide accepts heartbeat connections on the listener. It returns
// an error if a connection carries the wrong ceremony ID or no heartbeat
// arrives within the interval. If the context is canceled, the watchdog
// stops without error.
func (w *Watchdog) StartServerSide(ctx context.Context, listener net.Listener) error {
	logger := zerolog.Ctx(ctx).With().Str("component", "watchdog").Logger()
	defer listener.Close() //nolint:errcheck
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				logger.Error().Err(err).Msg("failed to accept connection")
				continue
			}
			go w.handleConn(ctx, conn)
		}
	}()
	return w.startTimer(ctx)
}

func (w *Watchdog) startTimer(ctx context.Context) error {
	w.timer.Reset(w.settings.Interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.timer.C:
			return fmt.Errorf("%w: no heartbeat within %s", ErrHeartbeatTimeout, w.settings.Interval)
		case watchErr := <-w.watchErrChan:
			return watchErr
		}
	}
}

func (w *Watchdog) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close() //nolint:errcheck
	for {
		ceremonyID, err := enclave.ReadBytesWithContext(ctx, conn, '\n')
		if err != nil {
			// This will error if something happens to the connection or the
			// context is cancelled. In either case, we don't need to do
			// anything.
			return
		}
		// Remove the newline character
		ceremonyID = ceremonyID[:len(ceremonyID)-1]
		if w.settings.CeremonyID != uuid.FromBytesOrNil(ceremonyID) {
			w.watchErrChan <- fmt.Errorf("%w: got %v, expected %v",
				ErrCeremonyIDMismatch, uuid.FromBytesOrNil(ceremonyID), w.settings.CeremonyID)
			return
		}
		w.timer.Reset(w.settings.Interval)
	}
}

// SendHeartbeats writes the ceremony ID on the connection every interval
// until the context is canceled. The enclave runs this for the lifetime of
// the ceremony.
func SendHeartbeats(ctx context.Context, conn net.Conn, ceremonyID uuid.UUID, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	payload := append(ceremonyID.Bytes(), '\n')
	for {
		if err := enclave.WriteWithContext(ctx, conn, payload); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to send heartbeat: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// NewStandardSettings returns watchdog settings with a fresh ceremony ID.
func NewStandardSettings() Settings {
	return Settings{
		CeremonyID: uuid.Must(uuid.NewV4()),
		Interval:   time.Second * 30,
	}
}
