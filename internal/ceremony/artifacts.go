// Package ceremony drives the two-party trusted-setup protocol: the enclave
// and host state machines, the artifact set they exchange, and the manifest
// that commits to every output.
package ceremony

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Fixed artifact names. External verifiers recompute the manifest from these
// files; both the names and their order below are part of the protocol.
const (
	CircuitSourceFile    = "circuit.circom"
	PtauFile             = "powersOfTau.ptau"
	InitialZKeyFile      = "circuit_0000.zkey"
	R1CSFile             = "circuit.r1cs"
	WasmFile             = "circuit.wasm"
	IntermediateZKeyFile = "circuit_0001.zkey"
	TimeAttestationFile  = "attestation-time.cbor"
	BeaconFile           = "drand-beacon.json"
	FinalZKeyFile        = "circuit_final.zkey"
	VerifierSourceFile   = "verifier.sol"
	VerifierBytecodeFile = "verifier-bytecode.txt"
	VerifierKeccakFile   = "verifier-runtime-keccak.txt"
	ManifestFile         = "manifest.txt"
	FinalAttestationFile = "attestation-final.cbor"
)

// CommittedArtifacts is the fixed-order list of files whose digests enter the
// manifest. Reordering this list is a breaking protocol change.
var CommittedArtifacts = []string{
	CircuitSourceFile,
	PtauFile,
	InitialZKeyFile,
	R1CSFile,
	WasmFile,
	TimeAttestationFile,
	BeaconFile,
	FinalZKeyFile,
	VerifierSourceFile,
	VerifierBytecodeFile,
	VerifierKeccakFile,
}

// ShippedArtifacts is the fixed-order list of files the enclave sends back to
// the host after the final attestation is sealed.
var ShippedArtifacts = []string{
	R1CSFile,
	WasmFile,
	FinalZKeyFile,
	VerifierSourceFile,
	VerifierBytecodeFile,
	VerifierKeccakFile,
	ManifestFile,
	TimeAttestationFile,
	FinalAttestationFile,
}

// InputArtifacts is the fixed-order list of files the host ships to the
// enclave at the start of the ceremony.
var InputArtifacts = []string{
	CircuitSourceFile,
	PtauFile,
	InitialZKeyFile,
}

// ManifestEntry is one committed file.
type ManifestEntry struct {
	Path   string
	SHA256 string
}

// Manifest is the ordered digest list that the final attestation commits to.
type Manifest struct {
	Entries []ManifestEntry
}

// BuildManifest hashes every committed artifact in dir, in the declared
// order.
func BuildManifest(dir string) (*Manifest, error) {
	manifest := &Manifest{Entries: make([]ManifestEntry, 0, len(CommittedArtifacts))}
	for _, name := range CommittedArtifacts {
		digest, err := hashFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to hash artifact %s: %w", name, err)
		}
		manifest.Entries = append(manifest.Entries, ManifestEntry{Path: name, SHA256: digest})
	}
	return manifest, nil
}

// Concatenated returns the digest hex strings joined in listed order.
func (m *Manifest) Concatenated() string {
	var builder strings.Builder
	for _, entry := range m.Entries {
		builder.WriteString(entry.SHA256)
	}
	return builder.String()
}

// FinalAttestationNonce is the SHA-256 of the concatenated digest string.
func (m *Manifest) FinalAttestationNonce() []byte {
	sum := sha256.Sum256([]byte(m.Concatenated()))
	return sum[:]
}

// Render produces the plain-text manifest artifact. The byte-exact layout is
// part of the protocol: one "path: digest" line per file, a blank line, then
// the two derived values.
func (m *Manifest) Render() []byte {
	var builder strings.Builder
	for _, entry := range m.Entries {
		builder.WriteString(entry.Path)
		builder.WriteString(": ")
		builder.WriteString(entry.SHA256)
		builder.WriteString("\n")
	}
	builder.WriteString("\n")
	builder.WriteString("concatenated: ")
	builder.WriteString(m.Concatenated())
	builder.WriteString("\n")
	builder.WriteString("finalAttestationNonce: ")
	builder.WriteString(hex.EncodeToString(m.FinalAttestationNonce()))
	builder.WriteString("\n")
	return []byte(builder.String())
}

// HashOfHashes is the SHA-256 of the rendered manifest text; it becomes the
// final attestation's user_data.
func (m *Manifest) HashOfHashes() []byte {
	sum := sha256.Sum256(m.Render())
	return sum[:]
}

// WriteFile renders the manifest into dir and returns its full path.
func (m *Manifest) WriteFile(dir string) (string, error) {
	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, m.Render(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return path, nil
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close() //nolint:errcheck
	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
