package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/Austin-Williams/nitro-pinky-swear/internal/ceremony"
	"github.com/Austin-Williams/nitro-pinky-swear/internal/config"
	"github.com/Austin-Williams/nitro-pinky-swear/internal/rng"
	"github.com/Austin-Williams/nitro-pinky-swear/internal/toolchain"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/attest"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/beacon"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/enclave"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/watchdog"
	"github.com/caarlos0/env/v11"
	"github.com/gofrs/uuid"
	"github.com/mdlayher/vsock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const appName = "ceremony-enclave"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	settings, err := env.ParseAs[config.EnclaveSettings]()
	if err != nil {
		fallback := enclave.DefaultLogger(appName, os.Stdout)
		fallback.Fatal().Err(err).Msg("Failed to parse environment.")
	}

	// Forward the log stream to the host when the vsock port is reachable;
	// stdout is the fallback for local development.
	logger, closeLogger, err := enclave.DefaultWithSocket(appName, settings.LogPort)
	if err != nil {
		logger = enclave.DefaultLogger(appName, os.Stdout)
		logger.Warn().Err(err).Msg("Log forwarding unavailable, using stdout.")
	} else {
		defer closeLogger()
	}
	enclave.SetLevel(&logger, settings.LogLevel)

	if settings.CeremonyID == uuid.Nil {
		logger.Fatal().Msg("CEREMONY_ID is required.")
	}
	if err := os.MkdirAll(settings.WorkDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create working directory.")
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// Heartbeats let the host distinguish a slow ceremony from a dead one.
	heartbeatConn, err := vsock.Dial(enclave.DefaultHostCID, settings.HeartbeatPort, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to dial heartbeat port.")
	}
	group.Go(func() error {
		defer heartbeatConn.Close() //nolint:errcheck
		return watchdog.SendHeartbeats(groupCtx, heartbeatConn, settings.CeremonyID, settings.HeartbeatInterval)
	})

	listener, err := vsock.ListenContextID(unix.VMADDR_CID_ANY, settings.FilePort, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to listen on file port.")
	}
	group.Go(func() error {
		<-groupCtx.Done()
		_ = listener.Close()
		return nil
	})

	var issuer attest.Issuer = attest.NSMIssuer{}
	if settings.AttestationCLI != "" {
		issuer = attest.CLIIssuer{Path: settings.AttestationCLI}
	}

	machine := ceremony.NewEnclave(ceremony.EnclaveParams{
		WorkDir:       settings.WorkDir,
		Gate:          rng.Gate{SourcePath: settings.RNGSourcePath},
		EntropyDevice: settings.EntropyDevice,
		Issuer:        issuer,
		Snarkjs:       toolchain.NewSnarkjs(settings.SnarkjsBin, logger),
		Circom:        toolchain.NewCircom(settings.CircomBin, logger),
		Solc:          toolchain.NewSolc(settings.SolcBin, logger),
		Chain:         beacon.Mainnet,
		Accept:        acceptFrom(listener),
		Dial: func(ctx context.Context) (net.Conn, error) {
			return vsock.Dial(enclave.DefaultHostCID, settings.HostFilePort, nil)
		},
		Logger: logger,
	})

	group.Go(func() error {
		defer cancel()
		if err := machine.Run(groupCtx); err != nil {
			return fmt.Errorf("ceremony failed: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("Ceremony failed.")
	}
}

func acceptFrom(listener net.Listener) ceremony.Acceptor {
	return func(ctx context.Context) (net.Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return listener.Accept()
	}
}
