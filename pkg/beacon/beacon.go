package beacon

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// BeaconError is a typed error for beacon validation failures.
type BeaconError string

func (e BeaconError) Error() string { return string(e) }

const (
	// ErrRoundMismatch is returned when the beacon's round differs from the expected round.
	ErrRoundMismatch = BeaconError("beacon round mismatch")
	// ErrRandomnessMismatch is returned when SHA-256(signature) differs from the randomness field.
	ErrRandomnessMismatch = BeaconError("beacon randomness does not match signature hash")
	// ErrSignatureInvalid is returned when the BLS signature fails verification.
	ErrSignatureInvalid = BeaconError("beacon signature verification failed")
	// ErrUnknownScheme is returned for a schemeID outside the recognized set.
	ErrUnknownScheme = BeaconError("unrecognized beacon scheme")
)

// Beacon is one emission of a drand chain.
type Beacon struct {
	Round             uint64 `json:"round"`
	Signature         string `json:"signature"`
	Randomness        string `json:"randomness"`
	PreviousSignature string `json:"previous_signature,omitempty"`
}

// ParseBeacon decodes the oracle's JSON representation.
func ParseBeacon(data []byte) (*Beacon, error) {
	var b Beacon
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse beacon JSON: %w", err)
	}
	if b.Round == 0 {
		return nil, fmt.Errorf("beacon round is zero")
	}
	if b.Signature == "" {
		return nil, fmt.Errorf("beacon signature is empty")
	}
	if b.Randomness == "" {
		return nil, fmt.Errorf("beacon randomness is empty")
	}
	return &b, nil
}

// Verify checks a beacon against the pinned chain: the randomness must be the
// SHA-256 of the signature bytes, and the signature must verify under the
// chain's public key using the scheme the chain pins. The beacon payload
// itself carries no trusted scheme information.
func Verify(info Info, b *Beacon) error {
	sig, err := hex.DecodeString(b.Signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature hex: %w", err)
	}
	randomness, err := hex.DecodeString(b.Randomness)
	if err != nil {
		return fmt.Errorf("failed to decode randomness hex: %w", err)
	}
	sigHash := sha256.Sum256(sig)
	if subtle.ConstantTimeCompare(sigHash[:], randomness) != 1 {
		return ErrRandomnessMismatch
	}

	scheme, err := SchemeFor(info.SchemeID)
	if err != nil {
		return err
	}
	if err := scheme.verify(info, b, sig); err != nil {
		return err
	}
	return nil
}

// VerifyRound checks the beacon against both the pinned chain and an expected
// round number.
func VerifyRound(info Info, b *Beacon, expectedRound uint64) error {
	if b.Round != expectedRound {
		return fmt.Errorf("%w: got %d, expected %d", ErrRoundMismatch, b.Round, expectedRound)
	}
	return Verify(info, b)
}

// roundBytes is the 8-byte big-endian encoding of a round number.
func roundBytes(round uint64) []byte {
	return []byte{
		byte(round >> 56), byte(round >> 48), byte(round >> 40), byte(round >> 32),
		byte(round >> 24), byte(round >> 16), byte(round >> 8), byte(round),
	}
}
