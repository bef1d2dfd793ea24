package ceremony_test

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Austin-Williams/nitro-pinky-swear/internal/ceremony"
	"github.com/stretchr/testify/require"
)

func TestManifestNonceFromConcatenation(t *testing.T) {
	t.Parallel()

	// Four artifacts whose "digests" are the strings a, b, c, d: the nonce
	// is the SHA-256 of their concatenation.
	manifest := &ceremony.Manifest{Entries: []ceremony.ManifestEntry{
		{Path: "one", SHA256: "a"},
		{Path: "two", SHA256: "b"},
		{Path: "three", SHA256: "c"},
		{Path: "four", SHA256: "d"},
	}}
	require.Equal(t, "abcd", manifest.Concatenated())

	want := sha256.Sum256([]byte("abcd"))
	require.Equal(t, want[:], manifest.FinalAttestationNonce())
}

func TestManifestReorderChangesNonce(t *testing.T) {
	t.Parallel()

	original := &ceremony.Manifest{Entries: []ceremony.ManifestEntry{
		{Path: "one", SHA256: "a"},
		{Path: "two", SHA256: "b"},
	}}
	swapped := &ceremony.Manifest{Entries: []ceremony.ManifestEntry{
		{Path: "two", SHA256: "b"},
		{Path: "one", SHA256: "a"},
	}}
	require.NotEqual(t, original.FinalAttestationNonce(), swapped.FinalAttestationNonce())
	require.NotEqual(t, original.HashOfHashes(), swapped.HashOfHashes())
}

func TestManifestRendering(t *testing.T) {
	t.Parallel()

	manifest := &ceremony.Manifest{Entries: []ceremony.ManifestEntry{
		{Path: "circuit.circom", SHA256: "aa"},
		{Path: "powersOfTau.ptau", SHA256: "bb"},
	}}
	rendered := string(manifest.Render())

	nonce := sha256.Sum256([]byte("aabb"))
	want := "circuit.circom: aa\n" +
		"powersOfTau.ptau: bb\n" +
		"\n" +
		"concatenated: aabb\n" +
		"finalAttestationNonce: " + hex.EncodeToString(nonce[:]) + "\n"
	require.Equal(t, want, rendered)

	// The manifest digest depends only on the rendered bytes; a trailing
	// newline is a breaking change, so the rendering must be stable.
	require.Equal(t, rendered, string(manifest.Render()))
}

func TestBuildManifestHashesInDeclaredOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for i, name := range ceremony.CommittedArtifacts {
		body := []byte(fmt.Sprintf("artifact body %d", i))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), body, 0o600))
	}

	manifest, err := ceremony.BuildManifest(dir)
	require.NoError(t, err)
	require.Len(t, manifest.Entries, len(ceremony.CommittedArtifacts))
	for i, entry := range manifest.Entries {
		require.Equal(t, ceremony.CommittedArtifacts[i], entry.Path)
		body := fmt.Sprintf("artifact body %d", i)
		want := sha256.Sum256([]byte(body))
		require.Equal(t, hex.EncodeToString(want[:]), entry.SHA256)
	}
}

func TestBuildManifestMissingArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := ceremony.BuildManifest(dir)
	require.Error(t, err)
}

func TestArtifactOrderIsFrozen(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{
		"circuit.circom",
		"powersOfTau.ptau",
		"circuit_0000.zkey",
		"circuit.r1cs",
		"circuit.wasm",
		"attestation-time.cbor",
		"drand-beacon.json",
		"circuit_final.zkey",
		"verifier.sol",
		"verifier-bytecode.txt",
		"verifier-runtime-keccak.txt",
	}, ceremony.CommittedArtifacts)

	require.Len(t, ceremony.ShippedArtifacts, 9)
	require.Equal(t, "attestation-final.cbor", ceremony.ShippedArtifacts[len(ceremony.ShippedArtifacts)-1])

	require.Equal(t, []string{"circuit.circom", "powersOfTau.ptau", "circuit_0000.zkey"}, ceremony.InputArtifacts)
}

func TestManifestWriteFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	manifest := &ceremony.Manifest{Entries: []ceremony.ManifestEntry{{Path: "x", SHA256: "aa"}}}
	path, err := manifest.WriteFile(dir)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, ceremony.ManifestFile))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, manifest.Render(), body)

	sum := sha256.Sum256(body)
	require.Equal(t, manifest.HashOfHashes(), sum[:])
}
