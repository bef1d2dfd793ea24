package attest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// VerifyError is a typed error for cryptographic attestation failures.
type VerifyError string

func (e VerifyError) Error() string { return string(e) }

const (
	// ErrWrongAlgorithm is returned when the protected header does not pin ECDSA-P384-SHA384.
	ErrWrongAlgorithm = VerifyError("protected header algorithm is not ECDSA-P384-SHA384")
	// ErrUntrustedRoot is returned when the chain does not terminate at the pinned root.
	ErrUntrustedRoot = VerifyError("certificate chain does not end at the pinned root")
	// ErrBrokenChain is returned when adjacent certificates do not link.
	ErrBrokenChain = VerifyError("certificate chain is broken")
	// ErrCertExpired is returned when a certificate's validity window misses the clock.
	ErrCertExpired = VerifyError("certificate outside its validity window")
	// ErrBadSignature is returned when the COSE signature fails under the leaf key.
	ErrBadSignature = VerifyError("attestation signature verification failed")
)

// algES384 is the COSE algorithm code point for ECDSA with SHA-384 on P-384.
const algES384 = -35

// VerifyOptions configures attestation verification.
type VerifyOptions struct {
	// CurrentTime anchors certificate validity checks; zero means time.Now().
	CurrentTime time.Time
	// RootDER overrides the compiled-in AWS root certificate. Tests use
	// this; production code leaves it nil.
	RootDER []byte
}

// Verify checks an attestation envelope cryptographically: the protected
// header pins ES384, the certificate chain [leaf, reversed cabundle] links
// pairwise and terminates byte-for-byte at the pinned root, every certificate
// covers the clock, and the COSE signature verifies under the leaf key.
func Verify(env *Envelope, opts VerifyOptions) error {
	now := opts.CurrentTime
	if now.IsZero() {
		now = time.Now()
	}
	rootDER := opts.RootDER
	if rootDER == nil {
		rootDER = RootDER()
	}

	if err := checkAlgorithm(env.Protected); err != nil {
		return err
	}

	chain, err := buildChain(env.Doc)
	if err != nil {
		return err
	}
	if !bytes.Equal(chain[len(chain)-1].Raw, rootDER) {
		return ErrUntrustedRoot
	}
	for i := 0; i < len(chain)-1; i++ {
		child, issuer := chain[i], chain[i+1]
		if !bytes.Equal(child.RawIssuer, issuer.RawSubject) {
			return fmt.Errorf("%w: certificate %d issuer does not match certificate %d subject", ErrBrokenChain, i, i+1)
		}
		if now.Before(child.NotBefore) || now.After(child.NotAfter) {
			return fmt.Errorf("%w: certificate %d", ErrCertExpired, i)
		}
		if err := child.CheckSignatureFrom(issuer); err != nil {
			return fmt.Errorf("%w: certificate %d: %w", ErrBrokenChain, i, err)
		}
	}
	root := chain[len(chain)-1]
	if now.Before(root.NotBefore) || now.After(root.NotAfter) {
		return fmt.Errorf("%w: root", ErrCertExpired)
	}

	return checkSignature(chain[0], env)
}

func checkAlgorithm(protected []byte) error {
	var header map[int]int
	if err := cbor.Unmarshal(protected, &header); err != nil {
		return fmt.Errorf("failed to parse protected header: %w", err)
	}
	alg, ok := header[1]
	if !ok {
		return fmt.Errorf("%w: missing algorithm entry", ErrWrongAlgorithm)
	}
	if alg != algES384 {
		return fmt.Errorf("%w: got %d", ErrWrongAlgorithm, alg)
	}
	return nil
}

// buildChain parses the leaf and intermediates and orders them so each
// certificate is followed by its issuer. The cabundle arrives root first, so
// it is reversed. The pinned root is matched against the constructed chain's
// final element, never against the attacker-controllable bundle directly.
func buildChain(doc Document) ([]*x509.Certificate, error) {
	leaf, err := x509.ParseCertificate(doc.Certificate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse leaf certificate: %w", err)
	}
	chain := make([]*x509.Certificate, 0, len(doc.CABundle)+1)
	chain = append(chain, leaf)
	for i := len(doc.CABundle) - 1; i >= 0; i-- {
		cert, err := x509.ParseCertificate(doc.CABundle[i])
		if err != nil {
			return nil, fmt.Errorf("failed to parse cabundle certificate %d: %w", i, err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

// checkSignature reconstructs the COSE Sig_structure and verifies the raw
// r||s signature, converted to ASN.1 DER, under the leaf's P-384 key.
func checkSignature(leaf *x509.Certificate, env *Envelope) error {
	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: leaf key is not ECDSA", ErrBadSignature)
	}
	if pub.Curve != elliptic.P384() {
		return fmt.Errorf("%w: leaf key is not P-384", ErrBadSignature)
	}
	if len(env.Signature) != 96 {
		return fmt.Errorf("%w: signature is %d bytes, expected 96", ErrBadSignature, len(env.Signature))
	}

	sigStructure := []any{
		"Signature1",
		env.Protected,
		[]byte{},
		env.Payload,
	}
	encoded, err := cbor.Marshal(sigStructure)
	if err != nil {
		return fmt.Errorf("failed to encode Sig_structure: %w", err)
	}
	digest := sha512.Sum384(encoded)

	der, err := rawSignatureToDER(env.Signature)
	if err != nil {
		return err
	}
	if !ecdsa.VerifyASN1(pub, digest[:], der) {
		return ErrBadSignature
	}
	return nil
}

// rawSignatureToDER converts a raw r||s signature into an ASN.1 DER sequence
// of two INTEGERs with minimal encodings.
func rawSignatureToDER(sig []byte) ([]byte, error) {
	half := len(sig) / 2
	r := new(big.Int).SetBytes(sig[:half])
	s := new(big.Int).SetBytes(sig[half:])
	der, err := asn1.Marshal(struct{ R, S *big.Int }{r, s})
	if err != nil {
		return nil, fmt.Errorf("failed to encode signature as DER: %w", err)
	}
	return der, nil
}
