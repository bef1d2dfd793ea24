package attest

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os/exec"

	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
)

// Issuer obtains signed attestation documents from the platform. The nonce
// and user data are bound into the signed payload; either may be nil.
type Issuer interface {
	Attest(ctx context.Context, nonce, userData []byte) ([]byte, error)
}

// NSMIssuer requests attestations directly from the Nitro Security Module
// device. It only works inside a running enclave.
type NSMIssuer struct{}

// Attest opens an NSM session and requests a document binding the given
// nonce and user data.
func (NSMIssuer) Attest(_ context.Context, nonce, userData []byte) ([]byte, error) {
	session, err := nsm.OpenDefaultSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open NSM session: %w", err)
	}
	defer session.Close() //nolint:errcheck

	res, err := session.Send(&request.Attestation{
		Nonce:    nonce,
		UserData: userData,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send attestation request: %w", err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("NSM returned error: %s", res.Error)
	}
	if res.Attestation == nil || len(res.Attestation.Document) == 0 {
		return nil, fmt.Errorf("NSM returned an empty attestation document")
	}
	return res.Attestation.Document, nil
}

// CLIIssuer shells out to a get-attestation binary that takes positional
// hex-encoded nonce and user-data arguments (empty string encodes absent)
// and writes the raw CBOR document to stdout.
type CLIIssuer struct {
	// Path locates the issuer binary.
	Path string
}

// Attest runs the issuer binary and returns its stdout.
func (c CLIIssuer) Attest(ctx context.Context, nonce, userData []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Path, hex.EncodeToString(nonce), hex.EncodeToString(userData))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("attestation issuer failed: %w: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("attestation issuer produced no output")
	}
	return stdout.Bytes(), nil
}
