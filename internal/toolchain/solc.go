package toolchain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// Solc invokes the Solidity compiler.
type Solc struct {
	// Bin is the solc executable.
	Bin    string
	logger *zerolog.Logger
}

// NewSolc wraps the given solc binary.
func NewSolc(bin string, logger zerolog.Logger) *Solc {
	return &Solc{Bin: bin, logger: &logger}
}

// VerifierBytecode is the deterministic compilation output committed by the
// ceremony: the creation bytecode and the keccak-256 of the runtime bytecode,
// both hex encoded.
type VerifierBytecode struct {
	CreationHex      string
	RuntimeKeccakHex string
}

// CompileVerifier compiles the exported verifier contract with metadata
// hashing disabled so the output depends only on the source.
func (s *Solc) CompileVerifier(ctx context.Context, solPath string) (*VerifierBytecode, error) {
	cmd := exec.CommandContext(ctx, s.Bin,
		"--combined-json", "bin,bin-runtime",
		"--metadata-hash", "none",
		"--optimize",
		solPath,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	s.logger.Info().Str("source", solPath).Msg("Compiling verifier contract")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("solc failed: %w: %s", err, stderr.String())
	}
	return parseCombinedJSON(stdout.Bytes())
}

type combinedJSON struct {
	Contracts map[string]struct {
		Bin        string `json:"bin"`
		BinRuntime string `json:"bin-runtime"`
	} `json:"contracts"`
}

// parseCombinedJSON extracts the verifier contract from solc's combined-json
// output. With one contract in the file it is taken directly; otherwise the
// entry named Groth16Verifier wins.
func parseCombinedJSON(data []byte) (*VerifierBytecode, error) {
	var combined combinedJSON
	if err := json.Unmarshal(data, &combined); err != nil {
		return nil, fmt.Errorf("failed to parse solc output: %w", err)
	}
	if len(combined.Contracts) == 0 {
		return nil, fmt.Errorf("solc output contains no contracts")
	}

	var creation, runtime string
	if len(combined.Contracts) == 1 {
		for _, contract := range combined.Contracts {
			creation, runtime = contract.Bin, contract.BinRuntime
		}
	} else {
		for key, contract := range combined.Contracts {
			if strings.HasSuffix(key, ":Groth16Verifier") {
				creation, runtime = contract.Bin, contract.BinRuntime
				break
			}
		}
	}
	if creation == "" || runtime == "" {
		return nil, fmt.Errorf("verifier contract not found in solc output")
	}

	runtimeBytes, err := hex.DecodeString(runtime)
	if err != nil {
		return nil, fmt.Errorf("failed to decode runtime bytecode: %w", err)
	}
	return &VerifierBytecode{
		CreationHex:      creation,
		RuntimeKeccakHex: hex.EncodeToString(crypto.Keccak256(runtimeBytes)),
	}, nil
}
