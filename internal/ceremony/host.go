package ceremony

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Austin-Williams/nitro-pinky-swear/internal/toolchain"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/attest"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/beacon"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/framing"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/ptau"
	"github.com/hf/nitrite"
	"github.com/rs/zerolog"
)

// Host-side phases, in execution order.
const (
	PhasePrepareInputs    Phase = "PREPARE_INPUTS"
	PhaseShipInputs       Phase = "SHIP_INPUTS"
	PhaseAwaitAttestation Phase = "AWAIT_ATTESTATION"
	PhaseBeaconWait       Phase = "BEACON_WAIT"
	PhaseFetchBeacon      Phase = "FETCH_BEACON"
	PhaseShipBeacon       Phase = "SHIP_BEACON"
	PhaseCollectArtifacts Phase = "COLLECT_ARTIFACTS"
)

// beaconPublishMargin pads the sleep past the round's nominal emission time
// so relays have propagated it.
const beaconPublishMargin = 10 * time.Second

// Host drives the untrusted side of the ceremony. Nothing here is
// security-critical: every check the host performs is a pre-flight that the
// enclave repeats authoritatively.
type Host struct {
	workDir     string
	circuitPath string
	snarkjs     *toolchain.Snarkjs
	circom      *toolchain.Circom
	beacons     *beacon.Client
	chain       beacon.Info
	catalog     ptau.Catalog
	httpClient  *http.Client
	accept      Acceptor
	dial        Dialer
	logger      zerolog.Logger

	// preflightAttestation enables nitrite verification of the time
	// attestation before the beacon wait.
	preflightAttestation bool
	// expectedPCRs, when non-empty, is compared against the time
	// attestation's registers as a host-side pre-flight.
	expectedPCRs map[int]string
}

// HostParams collects everything the host state machine needs.
type HostParams struct {
	WorkDir              string
	CircuitPath          string
	Snarkjs              *toolchain.Snarkjs
	Circom               *toolchain.Circom
	Beacons              *beacon.Client
	Chain                beacon.Info
	Catalog              ptau.Catalog
	HTTPClient           *http.Client
	Accept               Acceptor
	Dial                 Dialer
	Logger               zerolog.Logger
	PreflightAttestation bool
	ExpectedPCRs         map[int]string
}

// NewHost builds the host state machine. A nil catalog pins the published
// one.
func NewHost(params HostParams) *Host {
	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if params.Catalog == nil {
		params.Catalog = ptau.Default
	}
	return &Host{
		workDir:              params.WorkDir,
		circuitPath:          params.CircuitPath,
		snarkjs:              params.Snarkjs,
		circom:               params.Circom,
		beacons:              params.Beacons,
		chain:                params.Chain,
		catalog:              params.Catalog,
		httpClient:           httpClient,
		accept:               params.Accept,
		dial:                 params.Dial,
		logger:               params.Logger,
		preflightAttestation: params.PreflightAttestation,
		expectedPCRs:         params.ExpectedPCRs,
	}
}

func (h *Host) path(name string) string {
	return filepath.Join(h.workDir, name)
}

func (h *Host) enter(phase Phase) time.Time {
	h.logger.Info().Str("phase", string(phase)).Msg("Entering phase")
	return time.Now()
}

// Run executes the host state machine. The returned error means the ceremony
// failed; the caller exits non-zero.
func (h *Host) Run(ctx context.Context) error {
	started := h.enter(PhasePrepareInputs)
	if err := h.prepareInputs(ctx); err != nil {
		return fmt.Errorf("%s: %w", PhasePrepareInputs, err)
	}
	observePhase(PhasePrepareInputs, started)

	started = h.enter(PhaseShipInputs)
	if err := h.sendFiles(ctx, inputPaths(h.workDir)); err != nil {
		return fmt.Errorf("%s: %w", PhaseShipInputs, err)
	}
	observePhase(PhaseShipInputs, started)

	started = h.enter(PhaseAwaitAttestation)
	timestamp, err := h.awaitAttestation(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", PhaseAwaitAttestation, err)
	}
	observePhase(PhaseAwaitAttestation, started)

	started = h.enter(PhaseBeaconWait)
	round := h.chain.RoundAt(time.UnixMilli(int64(timestamp)).Add(beaconDelay))
	if err := h.waitForRound(ctx, round); err != nil {
		return fmt.Errorf("%s: %w", PhaseBeaconWait, err)
	}
	observePhase(PhaseBeaconWait, started)

	started = h.enter(PhaseFetchBeacon)
	if err := h.fetchBeacon(ctx, round); err != nil {
		return fmt.Errorf("%s: %w", PhaseFetchBeacon, err)
	}
	observePhase(PhaseFetchBeacon, started)

	started = h.enter(PhaseShipBeacon)
	if err := h.sendFiles(ctx, []string{h.path(BeaconFile)}); err != nil {
		return fmt.Errorf("%s: %w", PhaseShipBeacon, err)
	}
	observePhase(PhaseShipBeacon, started)

	started = h.enter(PhaseCollectArtifacts)
	if err := h.collectArtifacts(ctx); err != nil {
		return fmt.Errorf("%s: %w", PhaseCollectArtifacts, err)
	}
	observePhase(PhaseCollectArtifacts, started)

	h.logger.Info().Msg("Ceremony complete")
	return nil
}

func inputPaths(dir string) []string {
	paths := make([]string, 0, len(InputArtifacts))
	for _, name := range InputArtifacts {
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths
}

// prepareInputs compiles the circuit, fetches and checks the parameter file,
// and builds the unsafe initial key. The enclave re-verifies all of it.
func (h *Host) prepareInputs(ctx context.Context) error {
	source, err := os.ReadFile(h.circuitPath)
	if err != nil {
		return fmt.Errorf("failed to read circuit source: %w", err)
	}
	if err := os.WriteFile(h.path(CircuitSourceFile), source, 0o644); err != nil {
		return fmt.Errorf("failed to stage circuit source: %w", err)
	}

	result, err := h.circom.Compile(ctx, h.path(CircuitSourceFile), h.workDir)
	if err != nil {
		return err
	}
	count, err := h.snarkjs.ConstraintCount(ctx, result.R1CSPath)
	if err != nil {
		return err
	}
	desc, err := h.catalog.ForConstraints(count)
	if err != nil {
		return err
	}
	h.logger.Info().Uint64("constraints", count).Int("power", desc.Power).Msg("Selected powers-of-tau")

	if err := h.downloadPtau(ctx, desc); err != nil {
		return err
	}
	return h.snarkjs.NewZKey(ctx, result.R1CSPath, h.path(PtauFile), h.path(InitialZKeyFile))
}

// downloadPtau fetches the parameter file and verifies its digest before the
// ceremony starts; reachability problems surface here, not mid-ceremony.
func (h *Host) downloadPtau(ctx context.Context, desc ptau.Descriptor) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build parameter request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch parameter file: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("parameter endpoint returned status %d", resp.StatusCode)
	}

	out, err := os.Create(h.path(PtauFile))
	if err != nil {
		return fmt.Errorf("failed to create parameter file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to download parameter file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close parameter file: %w", err)
	}

	file, err := os.Open(h.path(PtauFile))
	if err != nil {
		return fmt.Errorf("failed to reopen parameter file: %w", err)
	}
	defer file.Close() //nolint:errcheck
	return desc.CheckDigest(file)
}

// awaitAttestation receives the time attestation and extracts its timestamp.
func (h *Host) awaitAttestation(ctx context.Context) (uint64, error) {
	conn, err := h.accept(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to accept attestation connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	receiver := framing.NewReceiver(h.workDir, h.logger)
	received, err := receiver.ReceiveFiles(ctx, conn, 1)
	if err != nil {
		return 0, err
	}
	if received[0].Name != TimeAttestationFile {
		return 0, fmt.Errorf("received %q, expected %q", received[0].Name, TimeAttestationFile)
	}

	raw, err := os.ReadFile(h.path(TimeAttestationFile))
	if err != nil {
		return 0, fmt.Errorf("failed to read time attestation: %w", err)
	}
	env, err := attest.Parse(raw)
	if err != nil {
		return 0, err
	}

	if h.preflightAttestation {
		if _, err := nitrite.Verify(raw, nitrite.VerifyOptions{CurrentTime: time.Now()}); err != nil {
			return 0, fmt.Errorf("attestation pre-flight failed: %w", err)
		}
	}
	if err := h.checkPCRs(env.Doc); err != nil {
		return 0, err
	}

	h.logger.Info().Uint64("timestamp", env.Doc.Timestamp).Msg("Time attestation received")
	return env.Doc.Timestamp, nil
}

// checkPCRs compares attested registers against the configured expectations.
// An empty expectation table disables the check; external verifiers compare
// the published values regardless.
func (h *Host) checkPCRs(doc attest.Document) error {
	for index, wantHex := range h.expectedPCRs {
		got, ok := doc.PCRs[index]
		if !ok {
			return fmt.Errorf("attestation is missing PCR %d", index)
		}
		if hex.EncodeToString(got) != wantHex {
			return fmt.Errorf("PCR %d mismatch: got %s", index, hex.EncodeToString(got))
		}
	}
	return nil
}

// waitForRound sleeps until the derived round is publicly available.
func (h *Host) waitForRound(ctx context.Context, round uint64) error {
	available := time.Unix(h.chain.RoundTime(round), 0).Add(beaconPublishMargin)
	wait := time.Until(available)
	if wait <= 0 {
		return nil
	}
	h.logger.Info().Uint64("round", round).Dur("wait", wait).Msg("Waiting for beacon round")
	beaconWait.Set(wait.Seconds())

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fetchBeacon retrieves the derived round, pre-flight verifies it, and
// stages the oracle's raw bytes for the enclave.
func (h *Host) fetchBeacon(ctx context.Context, round uint64) error {
	parsed, raw, err := h.beacons.Get(ctx, round)
	if err != nil {
		return err
	}
	if err := beacon.VerifyRound(h.chain, parsed, round); err != nil {
		return fmt.Errorf("beacon pre-flight failed: %w", err)
	}
	// The bytes received from the oracle are the canonical representation;
	// the enclave hashes and parses exactly these.
	if err := os.WriteFile(h.path(BeaconFile), raw, 0o644); err != nil {
		return fmt.Errorf("failed to stage beacon file: %w", err)
	}
	return nil
}

// collectArtifacts receives the final artifact set and checks the manifest
// is internally consistent with what arrived.
func (h *Host) collectArtifacts(ctx context.Context) error {
	conn, err := h.accept(ctx)
	if err != nil {
		return fmt.Errorf("failed to accept artifact connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	receiver := framing.NewReceiver(h.workDir, h.logger)
	received, err := receiver.ReceiveFiles(ctx, conn, len(ShippedArtifacts))
	if err != nil {
		return err
	}
	for i, want := range ShippedArtifacts {
		if received[i].Name != want {
			return fmt.Errorf("artifact %d is %q, expected %q", i, received[i].Name, want)
		}
	}

	// Absence of the final attestation is the canonical failure signal;
	// reject an empty one outright.
	info, err := os.Stat(h.path(FinalAttestationFile))
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("final attestation missing from artifact set")
	}

	manifest, err := BuildManifest(h.workDir)
	if err != nil {
		return fmt.Errorf("failed to rebuild manifest from artifacts: %w", err)
	}
	shipped, err := os.ReadFile(h.path(ManifestFile))
	if err != nil {
		return fmt.Errorf("failed to read shipped manifest: %w", err)
	}
	if string(shipped) != string(manifest.Render()) {
		return fmt.Errorf("shipped manifest does not match received artifacts")
	}
	sum := sha256.Sum256(shipped)
	h.logger.Info().Str("manifestSha256", hex.EncodeToString(sum[:])).Msg("Artifacts collected")
	return nil
}

func (h *Host) sendFiles(ctx context.Context, paths []string) error {
	conn, err := h.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to dial enclave: %w", err)
	}
	defer conn.Close() //nolint:errcheck
	sender := framing.NewSender(conn, h.logger)
	return sender.SendFiles(ctx, paths)
}
