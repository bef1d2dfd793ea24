package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Circom invokes the circom compiler.
type Circom struct {
	// Bin is the circom executable.
	Bin    string
	logger *zerolog.Logger
}

// NewCircom wraps the given circom binary.
func NewCircom(bin string, logger zerolog.Logger) *Circom {
	return &Circom{Bin: bin, logger: &logger}
}

// CompileResult locates the compiler outputs.
type CompileResult struct {
	R1CSPath string
	WasmPath string
}

// Compile builds the circuit source into r1cs and wasm under outDir. Circom
// places the wasm inside a <name>_js subdirectory; the returned path points
// there.
func (c *Circom) Compile(ctx context.Context, sourcePath, outDir string) (*CompileResult, error) {
	cmd := exec.CommandContext(ctx, c.Bin, sourcePath, "--r1cs", "--wasm", "--output", outDir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	c.logger.Info().Str("source", filepath.Base(sourcePath)).Msg("Compiling circuit")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("circom failed: %w: %s", err, stderr.String())
	}

	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	result := &CompileResult{
		R1CSPath: filepath.Join(outDir, base+".r1cs"),
		WasmPath: filepath.Join(outDir, base+"_js", base+".wasm"),
	}
	for _, path := range []string{result.R1CSPath, result.WasmPath} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("circom did not produce %s: %w", path, err)
		}
	}
	return result, nil
}
