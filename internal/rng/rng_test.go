package rng_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Austin-Williams/nitro-pinky-swear/internal/rng"
	"github.com/stretchr/testify/require"
)

func writeSourceFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rng_current")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestGateAcceptsExpectedSource(t *testing.T) {
	t.Parallel()

	gate := rng.Gate{SourcePath: writeSourceFile(t, "nsm-hwrng\n")}
	require.NoError(t, gate.Check())
}

func TestGateRejectsOtherSource(t *testing.T) {
	t.Parallel()

	gate := rng.Gate{SourcePath: writeSourceFile(t, "virtio_rng.0\n")}
	err := gate.Check()
	require.ErrorIs(t, err, rng.ErrWrongSource)
}

func TestGateRejectsMissingFile(t *testing.T) {
	t.Parallel()

	gate := rng.Gate{SourcePath: filepath.Join(t.TempDir(), "missing")}
	require.Error(t, gate.Check())
}

func TestGateCustomExpected(t *testing.T) {
	t.Parallel()

	gate := rng.Gate{SourcePath: writeSourceFile(t, "test-rng"), Expected: "test-rng"}
	require.NoError(t, gate.Check())
}

func TestSecretHexAndZeroize(t *testing.T) {
	t.Parallel()

	entropy := bytes.Repeat([]byte{0xab}, 32)
	secret, err := rng.NewSecret(bytes.NewReader(entropy), 32)
	require.NoError(t, err)

	hexForm := secret.Hex()
	require.Len(t, hexForm, 64)
	require.Equal(t, []byte("abababababababababababababababababababababababababababababababab"), hexForm)

	secret.Destroy()
	require.Equal(t, make([]byte, 64), hexForm, "hex buffer must be wiped in place")

	// Destroy is idempotent.
	secret.Destroy()
}

func TestSecretShortRead(t *testing.T) {
	t.Parallel()

	_, err := rng.NewSecret(bytes.NewReader([]byte{0x01, 0x02}), 32)
	require.Error(t, err)
}
