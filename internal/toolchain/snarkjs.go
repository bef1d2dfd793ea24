// Package toolchain wraps the external ceremony tools: the circom compiler,
// the snarkjs Groth16 implementation, and the Solidity compiler. Each tool is
// an opaque subprocess; this package owns argument construction, output
// parsing, and nothing else.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"
)

// Snarkjs invokes the snarkjs CLI.
type Snarkjs struct {
	// Bin is the snarkjs executable.
	Bin    string
	logger *zerolog.Logger
}

// NewSnarkjs wraps the given snarkjs binary.
func NewSnarkjs(bin string, logger zerolog.Logger) *Snarkjs {
	return &Snarkjs{Bin: bin, logger: &logger}
}

func (s *Snarkjs) run(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.Bin, args...)
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	s.logger.Debug().Strs("args", args).Msg("Running snarkjs")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("snarkjs %s failed: %w: %s", args[0], err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// NewZKey builds the initial (unsafe) proving key from the constraint system
// and the powers-of-tau parameters.
func (s *Snarkjs) NewZKey(ctx context.Context, r1csPath, ptauPath, outPath string) error {
	_, err := s.run(ctx, nil, "groth16", "setup", r1csPath, ptauPath, outPath)
	return err
}

// Contribute adds a contribution to the proving key. The entropy travels on
// stdin, answering the interactive prompt, so it never appears in argv.
func (s *Snarkjs) Contribute(ctx context.Context, inPath, outPath, name string, entropyHex []byte) error {
	stdin := bytes.NewReader(append(append([]byte{}, entropyHex...), '\n'))
	_, err := s.run(ctx, stdin, "zkey", "contribute", inPath, outPath, "--name="+name, "-v")
	return err
}

// ApplyBeacon finalizes the proving key with public beacon randomness.
func (s *Snarkjs) ApplyBeacon(ctx context.Context, inPath, outPath, beaconHex string, iterations int, name string) error {
	_, err := s.run(ctx, nil, "zkey", "beacon", inPath, outPath, beaconHex,
		strconv.Itoa(iterations), "--name="+name)
	return err
}

// VerifyZKey checks a proving key against the constraint system and
// parameters. Any outcome other than success is an error.
func (s *Snarkjs) VerifyZKey(ctx context.Context, r1csPath, ptauPath, zkeyPath string) error {
	_, err := s.run(ctx, nil, "zkey", "verify", r1csPath, ptauPath, zkeyPath)
	return err
}

// ExportSolidityVerifier writes the Solidity verifier contract for the key.
func (s *Snarkjs) ExportSolidityVerifier(ctx context.Context, zkeyPath, outPath string) error {
	_, err := s.run(ctx, nil, "zkey", "export", "solidityverifier", zkeyPath, outPath)
	return err
}

var constraintsPattern = regexp.MustCompile(`# of Constraints:\s*(\d+)`)

// ConstraintCount reports the number of constraints in an r1cs file.
func (s *Snarkjs) ConstraintCount(ctx context.Context, r1csPath string) (uint64, error) {
	out, err := s.run(ctx, nil, "r1cs", "info", r1csPath)
	if err != nil {
		return 0, err
	}
	return parseConstraintCount(out)
}

func parseConstraintCount(out []byte) (uint64, error) {
	match := constraintsPattern.FindSubmatch(out)
	if match == nil {
		return 0, fmt.Errorf("constraint count not found in r1cs info output")
	}
	count, err := strconv.ParseUint(string(match[1]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse constraint count: %w", err)
	}
	return count, nil
}
