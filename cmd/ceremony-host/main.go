package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Austin-Williams/nitro-pinky-swear/internal/ceremony"
	"github.com/Austin-Williams/nitro-pinky-swear/internal/config"
	"github.com/Austin-Williams/nitro-pinky-swear/internal/toolchain"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/beacon"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/enclave"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/logstream"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/watchdog"
	"github.com/caarlos0/env/v11"
	"github.com/gofrs/uuid"
	"github.com/mdlayher/vsock"
	"golang.org/x/sync/errgroup"
)

const appName = "ceremony-host"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := enclave.DefaultLogger(appName, os.Stdout)

	settings, err := env.ParseAs[config.HostSettings]()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to parse environment.")
	}
	enclave.SetLevel(&logger, settings.LogLevel)

	if settings.CeremonyID == uuid.Nil {
		settings.CeremonyID = uuid.Must(uuid.NewV4())
		logger.Info().Str("ceremonyId", settings.CeremonyID.String()).Msg("Generated ceremony ID")
	}
	if err := os.MkdirAll(settings.WorkDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create working directory.")
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// Monitoring server with prometheus metrics.
	monApp := CreateMonitoringServer(strconv.Itoa(settings.MonPort))
	RunFiber(groupCtx, monApp, ":"+strconv.Itoa(settings.MonPort), group)

	// Enclave log stream lands in the host's stdout alongside its own.
	logListener, err := vsock.ListenContextID(enclave.DefaultHostCID, settings.LogPort, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to listen on log port.")
	}
	logTunnel := logstream.NewTunnel(os.Stdout, logger.With().Str("component", "logstream").Logger())
	group.Go(func() error {
		return logTunnel.Listen(groupCtx, logListener)
	})

	// Watchdog terminates the ceremony if the enclave goes quiet.
	heartbeatListener, err := vsock.ListenContextID(enclave.DefaultHostCID, settings.HeartbeatPort, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to listen on heartbeat port.")
	}
	dog, err := watchdog.New(&watchdog.Settings{
		CeremonyID: settings.CeremonyID,
		Interval:   settings.HeartbeatInterval,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create watchdog.")
	}
	group.Go(func() error {
		watchdogCtx := logger.WithContext(groupCtx)
		return dog.StartServerSide(watchdogCtx, heartbeatListener)
	})

	// File channel the enclave dials into for attestation and artifacts.
	fileListener, err := vsock.ListenContextID(enclave.DefaultHostCID, settings.HostFilePort, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to listen on file port.")
	}
	group.Go(func() error {
		<-groupCtx.Done()
		_ = fileListener.Close()
		return nil
	})

	// The enclave launch itself is an opaque job-runner step.
	if settings.EnclaveCommand != "" {
		group.Go(func() error {
			cmd := exec.CommandContext(groupCtx, "/bin/sh", "-c", settings.EnclaveCommand)
			cmd.Env = append(os.Environ(), "CEREMONY_ID="+settings.CeremonyID.String())
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil && groupCtx.Err() == nil {
				return fmt.Errorf("enclave command failed: %w", err)
			}
			return nil
		})
	}

	machine := ceremony.NewHost(ceremony.HostParams{
		WorkDir:     settings.WorkDir,
		CircuitPath: settings.CircuitPath,
		Snarkjs:     toolchain.NewSnarkjs(settings.SnarkjsBin, logger),
		Circom:      toolchain.NewCircom(settings.CircomBin, logger),
		Beacons: beacon.NewClient(settings.BeaconURL, settings.HTTPTimeout,
			logger.With().Str("component", "beacon-client").Logger()),
		Chain: beacon.Mainnet,
		Accept: func(ctx context.Context) (net.Conn, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return fileListener.Accept()
		},
		Dial: func(ctx context.Context) (net.Conn, error) {
			return vsock.Dial(settings.EnclaveCID, settings.FilePort, nil)
		},
		Logger:               logger,
		PreflightAttestation: settings.PreflightAttestation,
		ExpectedPCRs:         settings.ExpectedPCRs(),
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
