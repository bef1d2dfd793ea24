package ceremony

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/Austin-Williams/nitro-pinky-swear/internal/rng"
	"github.com/Austin-Williams/nitro-pinky-swear/internal/toolchain"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/attest"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/beacon"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/framing"
	"github.com/Austin-Williams/nitro-pinky-swear/pkg/ptau"
	"github.com/rs/zerolog"
)

// Phase names the ordered states of the ceremony. There are no back-edges;
// any failure is terminal.
type Phase string

// Enclave-side phases, in execution order.
const (
	PhaseRNGCheck           Phase = "RNG_CHECK"
	PhaseAwaitInputs        Phase = "AWAIT_INPUTS"
	PhaseCompile            Phase = "COMPILE"
	PhasePtauCheck          Phase = "PTAU_CHECK"
	PhaseVerifyInitial      Phase = "VERIFY_INITIAL"
	PhaseContribute         Phase = "CONTRIBUTE"
	PhaseVerifyIntermediate Phase = "VERIFY_INTERMEDIATE"
	PhaseTimeAttestation    Phase = "TIME_ATTESTATION"
	PhaseShipAttestation    Phase = "SHIP_ATTESTATION"
	PhaseAwaitBeacon        Phase = "AWAIT_BEACON"
	PhaseVerifyBeacon       Phase = "VERIFY_BEACON"
	PhaseApplyBeacon        Phase = "APPLY_BEACON"
	PhaseVerifyFinal        Phase = "VERIFY_FINAL"
	PhaseExportVerifier     Phase = "EXPORT_VERIFIER"
	PhaseCommit             Phase = "COMMIT"
	PhaseFinalAttestation   Phase = "FINAL_ATTESTATION"
	PhaseShipArtifacts      Phase = "SHIP_ARTIFACTS"
)

const (
	// contributionLabel names the enclave's contribution inside the key.
	contributionLabel = "Nitro Enclave Contribution"
	// beaconLabel names the beacon finalization inside the key.
	beaconLabel = "Final Beacon"
	// beaconIterations is the iteration count passed to the beacon step.
	beaconIterations = 10
	// beaconDelay is added to the attestation timestamp before deriving
	// the target round, guaranteeing the round is in the future when the
	// contribution is sealed.
	beaconDelay = 90 * time.Second
	// secretLen is the number of entropy bytes drawn for the contribution.
	secretLen = 32
)

// Dialer opens a connection to the peer; Acceptor waits for one from it. The
// commands wire these to VSOCK, tests to loopback TCP.
type (
	Dialer   func(ctx context.Context) (net.Conn, error)
	Acceptor func(ctx context.Context) (net.Conn, error)
)

// Enclave drives the trusted side of the ceremony.
type Enclave struct {
	workDir string
	gate    rng.Gate
	entropy string
	issuer  attest.Issuer
	snarkjs *toolchain.Snarkjs
	circom  *toolchain.Circom
	solc    *toolchain.Solc
	chain   beacon.Info
	catalog ptau.Catalog
	accept  Acceptor
	dial    Dialer
	logger  zerolog.Logger

	// verify configures the local re-check of issuer documents; tests
	// override the pinned root through it.
	verify attest.VerifyOptions
}

// EnclaveParams collects everything the enclave state machine needs.
type EnclaveParams struct {
	WorkDir       string
	Gate          rng.Gate
	EntropyDevice string
	Issuer        attest.Issuer
	Snarkjs       *toolchain.Snarkjs
	Circom        *toolchain.Circom
	Solc          *toolchain.Solc
	Chain         beacon.Info
	Catalog       ptau.Catalog
	Accept        Acceptor
	Dial          Dialer
	Logger        zerolog.Logger
	VerifyOptions attest.VerifyOptions
}

// NewEnclave builds the enclave state machine. A nil catalog pins the
// published one.
func NewEnclave(params EnclaveParams) *Enclave {
	if params.Catalog == nil {
		params.Catalog = ptau.Default
	}
	return &Enclave{
		workDir: params.WorkDir,
		gate:    params.Gate,
		entropy: params.EntropyDevice,
		issuer:  params.Issuer,
		snarkjs: params.Snarkjs,
		circom:  params.Circom,
		solc:    params.Solc,
		chain:   params.Chain,
		catalog: params.Catalog,
		accept:  params.Accept,
		dial:    params.Dial,
		logger:  params.Logger,
		verify:  params.VerifyOptions,
	}
}

func (e *Enclave) path(name string) string {
	return filepath.Join(e.workDir, name)
}

func (e *Enclave) enter(phase Phase) {
	e.logger.Info().Str("phase", string(phase)).Msg("Entering phase")
}

// Run executes the enclave state machine from RNG_CHECK through
// SHIP_ARTIFACTS. Any error is terminal; the caller must exit non-zero
// without producing further output.
func (e *Enclave) Run(ctx context.Context) error {
	e.enter(PhaseRNGCheck)
	if err := e.gate.Check(); err != nil {
		return fmt.Errorf("%s: %w", PhaseRNGCheck, err)
	}

	e.enter(PhaseAwaitInputs)
	if err := e.awaitInputs(ctx); err != nil {
		return fmt.Errorf("%s: %w", PhaseAwaitInputs, err)
	}

	e.enter(PhaseCompile)
	if err := e.compile(ctx); err != nil {
		return fmt.Errorf("%s: %w", PhaseCompile, err)
	}

	e.enter(PhasePtauCheck)
	if err := e.checkPtau(ctx); err != nil {
		return fmt.Errorf("%s: %w", PhasePtauCheck, err)
	}

	e.enter(PhaseVerifyInitial)
	if err := e.snarkjs.VerifyZKey(ctx, e.path(R1CSFile), e.path(PtauFile), e.path(InitialZKeyFile)); err != nil {
		return fmt.Errorf("%s: %w", PhaseVerifyInitial, err)
	}

	e.enter(PhaseContribute)
	if err := e.contribute(ctx); err != nil {
		return fmt.Errorf("%s: %w", PhaseContribute, err)
	}

	e.enter(PhaseVerifyIntermediate)
	if err := e.snarkjs.VerifyZKey(ctx, e.path(R1CSFile), e.path(PtauFile), e.path(IntermediateZKeyFile)); err != nil {
		return fmt.Errorf("%s: %w", PhaseVerifyIntermediate, err)
	}

	e.enter(PhaseTimeAttestation)
	timeEnv, err := e.timeAttestation(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", PhaseTimeAttestation, err)
	}

	e.enter(PhaseShipAttestation)
	if err := e.sendFiles(ctx, []string{e.path(TimeAttestationFile)}); err != nil {
		return fmt.Errorf("%s: %w", PhaseShipAttestation, err)
	}

	e.enter(PhaseAwaitBeacon)
	expectedRound := e.chain.RoundAt(time.UnixMilli(int64(timeEnv.Doc.Timestamp)).Add(beaconDelay))
	if err := e.awaitBeacon(ctx); err != nil {
		return fmt.Errorf("%s: %w", PhaseAwaitBeacon, err)
	}

	e.enter(PhaseVerifyBeacon)
	beaconValue, err := e.verifyBeacon(expectedRound)
	if err != nil {
		return fmt.Errorf("%s: %w", PhaseVerifyBeacon, err)
	}

	e.enter(PhaseApplyBeacon)
	err = e.snarkjs.ApplyBeacon(ctx, e.path(IntermediateZKeyFile), e.path(FinalZKeyFile),
		beaconValue.Randomness, beaconIterations, beaconLabel)
	if err != nil {
		return fmt.Errorf("%s: %w", PhaseApplyBeacon, err)
	}

	e.enter(PhaseVerifyFinal)
	if err := e.snarkjs.VerifyZKey(ctx, e.path(R1CSFile), e.path(PtauFile), e.path(FinalZKeyFile)); err != nil {
		return fmt.Errorf("%s: %w", PhaseVerifyFinal, err)
	}
	// The intermediate key only exists between contribution and beacon
	// application.
	if err := os.Remove(e.path(IntermediateZKeyFile)); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to remove intermediate key")
	}

	e.enter(PhaseExportVerifier)
	if err := e.exportVerifier(ctx); err != nil {
		return fmt.Errorf("%s: %w", PhaseExportVerifier, err)
	}

	e.enter(PhaseCommit)
	manifest, err := e.commit()
	if err != nil {
		return fmt.Errorf("%s: %w", PhaseCommit, err)
	}

	e.enter(PhaseFinalAttestation)
	if err := e.finalAttestation(ctx, manifest); err != nil {
		return fmt.Errorf("%s: %w", PhaseFinalAttestation, err)
	}

	e.enter(PhaseShipArtifacts)
	paths := make([]string, 0, len(ShippedArtifacts))
	for _, name := range ShippedArtifacts {
		paths = append(paths, e.path(name))
	}
	if err := e.sendFiles(ctx, paths); err != nil {
		return fmt.Errorf("%s: %w", PhaseShipArtifacts, err)
	}

	e.logger.Info().Msg("Ceremony complete")
	return nil
}

// awaitInputs receives the circuit source, parameters, and initial key, in
// that order, on a single connection.
func (e *Enclave) awaitInputs(ctx context.Context) error {
	conn, err := e.accept(ctx)
	if err != nil {
		return fmt.Errorf("failed to accept input connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	receiver := framing.NewReceiver(e.workDir, e.logger)
	received, err := receiver.ReceiveFiles(ctx, conn, len(InputArtifacts))
	if err != nil {
		return err
	}
	for i, want := range InputArtifacts {
		if received[i].Name != want {
			return fmt.Errorf("input %d is %q, expected %q", i, received[i].Name, want)
		}
	}
	return nil
}

// compile runs circom on the received source and places the outputs under
// their canonical artifact names.
func (e *Enclave) compile(ctx context.Context) error {
	result, err := e.circom.Compile(ctx, e.path(CircuitSourceFile), e.workDir)
	if err != nil {
		return err
	}
	if result.R1CSPath != e.path(R1CSFile) {
		if err := os.Rename(result.R1CSPath, e.path(R1CSFile)); err != nil {
			return fmt.Errorf("failed to place r1cs artifact: %w", err)
		}
	}
	wasm, err := os.ReadFile(result.WasmPath)
	if err != nil {
		return fmt.Errorf("failed to read compiled wasm: %w", err)
	}
	if err := os.WriteFile(e.path(WasmFile), wasm, 0o644); err != nil {
		return fmt.Errorf("failed to place wasm artifact: %w", err)
	}
	return nil
}

// checkPtau derives the required power from the constraint count and
// authoritatively re-verifies the received parameter file against the pinned
// catalog.
func (e *Enclave) checkPtau(ctx context.Context) error {
	count, err := e.snarkjs.ConstraintCount(ctx, e.path(R1CSFile))
	if err != nil {
		return err
	}
	desc, err := e.catalog.ForConstraints(count)
	if err != nil {
		return err
	}
	e.logger.Info().Uint64("constraints", count).Int("power", desc.Power).Msg("Checking powers-of-tau digest")

	file, err := os.Open(e.path(PtauFile))
	if err != nil {
		return fmt.Errorf("failed to open parameter file: %w", err)
	}
	defer file.Close() //nolint:errcheck
	return desc.CheckDigest(file)
}

// contribute draws the secret entropy and folds it into the key. The raw
// bytes and the hex form are wiped on every exit path.
func (e *Enclave) contribute(ctx context.Context) error {
	secret, err := rng.NewSecretFromDevice(e.entropy, secretLen)
	if err != nil {
		return err
	}
	defer secret.Destroy()

	err = e.snarkjs.Contribute(ctx, e.path(InitialZKeyFile), e.path(IntermediateZKeyFile),
		contributionLabel, secret.Hex())
	secret.Destroy()
	if err != nil {
		return err
	}
	return nil
}

// timeAttestation binds the intermediate key hash into a signed attestation
// and re-verifies the document locally before it leaves the enclave.
func (e *Enclave) timeAttestation(ctx context.Context) (*attest.Envelope, error) {
	keyBytes, err := os.ReadFile(e.path(IntermediateZKeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read intermediate key: %w", err)
	}
	nonce := sha256.Sum256(keyBytes)

	doc, err := e.issuer.Attest(ctx, nonce[:], nil)
	if err != nil {
		return nil, err
	}
	env, err := attest.Parse(doc)
	if err != nil {
		return nil, err
	}
	if err := attest.Verify(env, e.verify); err != nil {
		return nil, err
	}
	if !bytes.Equal(env.Doc.Nonce, nonce[:]) {
		return nil, fmt.Errorf("attestation nonce does not match submitted value")
	}
	if err := os.WriteFile(e.path(TimeAttestationFile), doc, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write time attestation: %w", err)
	}
	e.logger.Info().Uint64("timestamp", env.Doc.Timestamp).Msg("Time attestation sealed")
	return env, nil
}

// awaitBeacon receives the beacon file from the host.
func (e *Enclave) awaitBeacon(ctx context.Context) error {
	conn, err := e.accept(ctx)
	if err != nil {
		return fmt.Errorf("failed to accept beacon connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	receiver := framing.NewReceiver(e.workDir, e.logger)
	received, err := receiver.ReceiveFiles(ctx, conn, 1)
	if err != nil {
		return err
	}
	if received[0].Name != BeaconFile {
		return fmt.Errorf("received %q, expected %q", received[0].Name, BeaconFile)
	}
	return nil
}

// verifyBeacon parses the received beacon bytes and checks round,
// randomness, and signature against the pinned chain.
func (e *Enclave) verifyBeacon(expectedRound uint64) (*beacon.Beacon, error) {
	raw, err := os.ReadFile(e.path(BeaconFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read beacon file: %w", err)
	}
	b, err := beacon.ParseBeacon(raw)
	if err != nil {
		return nil, err
	}
	if err := beacon.VerifyRound(e.chain, b, expectedRound); err != nil {
		return nil, err
	}
	e.logger.Info().Uint64("round", b.Round).Msg("Beacon verified")
	return b, nil
}

// exportVerifier emits the Solidity verifier and the deterministic bytecode
// artifacts derived from it.
func (e *Enclave) exportVerifier(ctx context.Context) error {
	if err := e.snarkjs.ExportSolidityVerifier(ctx, e.path(FinalZKeyFile), e.path(VerifierSourceFile)); err != nil {
		return err
	}
	bytecode, err := e.solc.CompileVerifier(ctx, e.path(VerifierSourceFile))
	if err != nil {
		return err
	}
	if err := os.WriteFile(e.path(VerifierBytecodeFile), []byte(bytecode.CreationHex), 0o644); err != nil {
		return fmt.Errorf("failed to write creation bytecode: %w", err)
	}
	if err := os.WriteFile(e.path(VerifierKeccakFile), []byte(bytecode.RuntimeKeccakHex), 0o644); err != nil {
		return fmt.Errorf("failed to write runtime keccak: %w", err)
	}
	return nil
}

// commit hashes every artifact and writes the manifest.
func (e *Enclave) commit() (*Manifest, error) {
	manifest, err := BuildManifest(e.workDir)
	if err != nil {
		return nil, err
	}
	if _, err := manifest.WriteFile(e.workDir); err != nil {
		return nil, err
	}
	return manifest, nil
}

// finalAttestation seals the manifest into the second attestation and
// re-verifies nonce and user_data before shipping anything.
func (e *Enclave) finalAttestation(ctx context.Context, manifest *Manifest) error {
	nonce := manifest.FinalAttestationNonce()
	userData := manifest.HashOfHashes()

	doc, err := e.issuer.Attest(ctx, nonce, userData)
	if err != nil {
		return err
	}
	env, err := attest.Parse(doc)
	if err != nil {
		return err
	}
	if err := attest.Verify(env, e.verify); err != nil {
		return err
	}
	if !bytes.Equal(env.Doc.Nonce, nonce) {
		return fmt.Errorf("final attestation nonce does not match submitted value")
	}
	if !bytes.Equal(env.Doc.UserData, userData) {
		return fmt.Errorf("final attestation user_data does not match submitted value")
	}
	if err := os.WriteFile(e.path(FinalAttestationFile), doc, 0o644); err != nil {
		return fmt.Errorf("failed to write final attestation: %w", err)
	}
	return nil
}

func (e *Enclave) sendFiles(ctx context.Context, paths []string) error {
	conn, err := e.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to dial host: %w", err)
	}
	defer conn.Close() //nolint:errcheck
	sender := framing.NewSender(conn, e.logger)
	return sender.SendFiles(ctx, paths)
}
