package beacon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/ethereum/go-ethereum/crypto"
)

// Scheme identifiers drand assigns to its deployed chains.
const (
	// SchemeChained signs on G2 and chains each round to the previous signature.
	SchemeChained = "pedersen-bls-chained"
	// SchemeUnchained signs on G2 over the round number alone.
	SchemeUnchained = "pedersen-bls-unchained"
	// SchemeShortSig signs on G1 but retains the historical G2 hash-to-curve domain.
	SchemeShortSig = "bls-unchained-on-g1"
	// SchemeRFC9380 signs on G1 with the RFC 9380 G1 domain.
	SchemeRFC9380 = "bls-unchained-g1-rfc9380"
	// SchemeBN254 signs on BN254 G1 with keccak-256 message expansion.
	SchemeBN254 = "bls-bn254-unchained-on-g1"
)

// Hash-to-curve domain separation tags.
const (
	dstG2       = "BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_"
	dstG1       = "BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_"
	dstBN254    = "BLS_SIG_BN254G1_XMD:KECCAK-256_SVDW_RO_NUL_"
	dstShortSig = dstG2 // historical: early G1-signature chains reused the G2 tag
)

// Scheme is one member of the closed set of recognized beacon schemes. The
// concrete type is selected from pinned chain info, never from the beacon.
type Scheme interface {
	// ID returns the drand scheme identifier.
	ID() string

	verify(info Info, b *Beacon, sig []byte) error
}

// SchemeFor maps a pinned schemeID to its verifier.
func SchemeFor(id string) (Scheme, error) {
	switch id {
	case SchemeChained:
		return chainedG2{}, nil
	case SchemeUnchained:
		return unchainedG2{}, nil
	case SchemeShortSig:
		return shortSigG1{dst: dstShortSig}, nil
	case SchemeRFC9380:
		return shortSigG1{dst: dstG1}, nil
	case SchemeBN254:
		return bn254G1{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, id)
	}
}

// chainedG2 verifies signatures on G2 over SHA-256(previous_signature || round).
type chainedG2 struct{}

func (chainedG2) ID() string { return SchemeChained }

func (chainedG2) verify(info Info, b *Beacon, sig []byte) error {
	prev, err := hex.DecodeString(b.PreviousSignature)
	if err != nil {
		return fmt.Errorf("failed to decode previous signature hex: %w", err)
	}
	if len(prev) == 0 {
		return fmt.Errorf("chained beacon is missing previous_signature")
	}
	msg := sha256.Sum256(append(prev, roundBytes(b.Round)...))
	return verifyOnG2(info.PublicKey, msg[:], sig)
}

// unchainedG2 verifies signatures on G2 over SHA-256(round).
type unchainedG2 struct{}

func (unchainedG2) ID() string { return SchemeUnchained }

func (unchainedG2) verify(info Info, b *Beacon, sig []byte) error {
	msg := sha256.Sum256(roundBytes(b.Round))
	return verifyOnG2(info.PublicKey, msg[:], sig)
}

// shortSigG1 verifies signatures on G1 over SHA-256(round); the domain tag
// distinguishes the historical chains from the RFC 9380 ones.
type shortSigG1 struct {
	dst string
}

func (s shortSigG1) ID() string {
	if s.dst == dstG1 {
		return SchemeRFC9380
	}
	return SchemeShortSig
}

func (s shortSigG1) verify(info Info, b *Beacon, sig []byte) error {
	msg := sha256.Sum256(roundBytes(b.Round))
	return verifyOnG1(info.PublicKey, msg[:], sig, s.dst)
}

// bn254G1 verifies short signatures on BN254 G1 over keccak_256(round).
type bn254G1 struct{}

func (bn254G1) ID() string { return SchemeBN254 }

func (bn254G1) verify(info Info, b *Beacon, sig []byte) error {
	msg := crypto.Keccak256(roundBytes(b.Round))
	return verifyOnBN254(info.PublicKey, msg, sig)
}

// verifyOnG2 checks a G2 signature under a G1 public key:
// e(pk, Hm) * e(-g1, S) == 1.
func verifyOnG2(publicKeyHex string, msg, sig []byte) error {
	pkBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return fmt.Errorf("failed to decode public key hex: %w", err)
	}
	var pk bls12381.G1Affine
	if _, err := pk.SetBytes(pkBytes); err != nil {
		return fmt.Errorf("failed to decode G1 public key: %w", err)
	}
	var sigPoint bls12381.G2Affine
	if _, err := sigPoint.SetBytes(sig); err != nil {
		return fmt.Errorf("failed to decode G2 signature: %w", err)
	}
	hm, err := bls12381.HashToG2(msg, []byte(dstG2))
	if err != nil {
		return fmt.Errorf("failed to hash message to G2: %w", err)
	}

	_, _, g1, _ := bls12381.Generators()
	var negG1 bls12381.G1Affine
	negG1.Neg(&g1)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{pk, negG1},
		[]bls12381.G2Affine{hm, sigPoint},
	)
	if err != nil {
		return fmt.Errorf("pairing check failed: %w", err)
	}
	if !ok {
		return ErrSignatureInvalid
	}
	return nil
}

// verifyOnG1 checks a G1 signature under a G2 public key:
// e(Hm, -pk) * e(S, g2) == 1.
func verifyOnG1(publicKeyHex string, msg, sig []byte, dst string) error {
	pkBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return fmt.Errorf("failed to decode public key hex: %w", err)
	}
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(pkBytes); err != nil {
		return fmt.Errorf("failed to decode G2 public key: %w", err)
	}
	var sigPoint bls12381.G1Affine
	if _, err := sigPoint.SetBytes(sig); err != nil {
		return fmt.Errorf("failed to decode G1 signature: %w", err)
	}
	hm, err := bls12381.HashToG1(msg, []byte(dst))
	if err != nil {
		return fmt.Errorf("failed to hash message to G1: %w", err)
	}

	_, _, _, g2 := bls12381.Generators()
	var negPk bls12381.G2Affine
	negPk.Neg(&pk)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{hm, sigPoint},
		[]bls12381.G2Affine{negPk, g2},
	)
	if err != nil {
		return fmt.Errorf("pairing check failed: %w", err)
	}
	if !ok {
		return ErrSignatureInvalid
	}
	return nil
}

// verifyOnBN254 checks a BN254 G1 signature under a G2 public key, with the
// keccak-based hash-to-curve the evm chains use.
func verifyOnBN254(publicKeyHex string, msg, sig []byte) error {
	pkBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return fmt.Errorf("failed to decode public key hex: %w", err)
	}
	var pk bn254.G2Affine
	if _, err := pk.SetBytes(pkBytes); err != nil {
		return fmt.Errorf("failed to decode BN254 G2 public key: %w", err)
	}
	var sigPoint bn254.G1Affine
	if _, err := sigPoint.SetBytes(sig); err != nil {
		return fmt.Errorf("failed to decode BN254 G1 signature: %w", err)
	}
	hm, err := hashToBN254G1(msg, []byte(dstBN254))
	if err != nil {
		return fmt.Errorf("failed to hash message to BN254 G1: %w", err)
	}

	_, _, _, g2 := bn254.Generators()
	var negPk bn254.G2Affine
	negPk.Neg(&pk)

	ok, err := bn254.PairingCheck(
		[]bn254.G1Affine{hm, sigPoint},
		[]bn254.G2Affine{negPk, g2},
	)
	if err != nil {
		return fmt.Errorf("pairing check failed: %w", err)
	}
	if !ok {
		return ErrSignatureInvalid
	}
	return nil
}
