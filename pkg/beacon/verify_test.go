package beacon_test

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/Austin-Williams/nitro-pinky-swear/pkg/beacon"
	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	blsfr "github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	bnfr "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"
)

const (
	testDSTG2 = "BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_"
	testDSTG1 = "BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_"
)

func roundBE(round uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, round)
	return buf
}

// blsKeyG1 generates a secret scalar and its G1 public key (used by chains
// that sign on G2).
func blsKeyG1(t *testing.T) (*big.Int, string) {
	t.Helper()
	var sk blsfr.Element
	_, err := sk.SetRandom()
	require.NoError(t, err)
	skInt := new(big.Int)
	sk.BigInt(skInt)
	var pk bls12381.G1Affine
	pk.ScalarMultiplicationBase(skInt)
	pkBytes := pk.Bytes()
	return skInt, hex.EncodeToString(pkBytes[:])
}

// blsKeyG2 generates a secret scalar and its G2 public key (used by chains
// that sign on G1).
func blsKeyG2(t *testing.T) (*big.Int, string) {
	t.Helper()
	var sk blsfr.Element
	_, err := sk.SetRandom()
	require.NoError(t, err)
	skInt := new(big.Int)
	sk.BigInt(skInt)
	var pk bls12381.G2Affine
	pk.ScalarMultiplicationBase(skInt)
	pkBytes := pk.Bytes()
	return skInt, hex.EncodeToString(pkBytes[:])
}

func signOnG2(t *testing.T, sk *big.Int, msg []byte) []byte {
	t.Helper()
	hm, err := bls12381.HashToG2(msg, []byte(testDSTG2))
	require.NoError(t, err)
	var sig bls12381.G2Affine
	sig.ScalarMultiplication(&hm, sk)
	sigBytes := sig.Bytes()
	return sigBytes[:]
}

func signOnG1(t *testing.T, sk *big.Int, msg []byte, dst string) []byte {
	t.Helper()
	hm, err := bls12381.HashToG1(msg, []byte(dst))
	require.NoError(t, err)
	var sig bls12381.G1Affine
	sig.ScalarMultiplication(&hm, sk)
	sigBytes := sig.Bytes()
	return sigBytes[:]
}

// beaconFor assembles a beacon whose randomness is the hash of its signature.
func beaconFor(round uint64, sig []byte, prevSig []byte) *beacon.Beacon {
	randomness := sha256.Sum256(sig)
	b := &beacon.Beacon{
		Round:      round,
		Signature:  hex.EncodeToString(sig),
		Randomness: hex.EncodeToString(randomness[:]),
	}
	if prevSig != nil {
		b.PreviousSignature = hex.EncodeToString(prevSig)
	}
	return b
}

func TestVerifyChained(t *testing.T) {
	t.Parallel()

	sk, pk := blsKeyG1(t)
	info := beacon.Info{PublicKey: pk, SchemeID: beacon.SchemeChained}

	const round = 3_485_635
	prevSig := signOnG2(t, sk, []byte("previous round message"))
	msg := sha256.Sum256(append(append([]byte{}, prevSig...), roundBE(round)...))
	sig := signOnG2(t, sk, msg[:])

	b := beaconFor(round, sig, prevSig)
	require.NoError(t, beacon.Verify(info, b))
	require.NoError(t, beacon.VerifyRound(info, b, round))
}

func TestVerifyUnchained(t *testing.T) {
	t.Parallel()

	sk, pk := blsKeyG1(t)
	info := beacon.Info{PublicKey: pk, SchemeID: beacon.SchemeUnchained}

	const round = 42
	msg := sha256.Sum256(roundBE(round))
	sig := signOnG2(t, sk, msg[:])

	require.NoError(t, beacon.Verify(info, beaconFor(round, sig, nil)))
}

func TestVerifyShortSigSchemes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		schemeID string
		dst      string
	}{
		{name: "historical G2 domain", schemeID: beacon.SchemeShortSig, dst: testDSTG2},
		{name: "rfc9380 G1 domain", schemeID: beacon.SchemeRFC9380, dst: testDSTG1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sk, pk := blsKeyG2(t)
			info := beacon.Info{PublicKey: pk, SchemeID: tt.schemeID}

			const round = 1_000_000
			msg := sha256.Sum256(roundBE(round))
			sig := signOnG1(t, sk, msg[:], tt.dst)

			require.NoError(t, beacon.Verify(info, beaconFor(round, sig, nil)))

			// The two G1 schemes are not interchangeable: a signature made
			// under one domain must fail under the other.
			otherID := beacon.SchemeRFC9380
			if tt.schemeID == beacon.SchemeRFC9380 {
				otherID = beacon.SchemeShortSig
			}
			otherInfo := beacon.Info{PublicKey: pk, SchemeID: otherID}
			require.ErrorIs(t, beacon.Verify(otherInfo, beaconFor(round, sig, nil)), beacon.ErrSignatureInvalid)
		})
	}
}

func TestVerifyBN254(t *testing.T) {
	t.Parallel()

	var sk bnfr.Element
	_, err := sk.SetRandom()
	require.NoError(t, err)
	skInt := new(big.Int)
	sk.BigInt(skInt)
	var pk bn254.G2Affine
	pk.ScalarMultiplicationBase(skInt)
	pkBytes := pk.Bytes()

	info := beacon.Info{PublicKey: hex.EncodeToString(pkBytes[:]), SchemeID: beacon.SchemeBN254}

	const round = 77
	hm, err := beacon.HashToBN254G1ForTest(roundBE(round))
	require.NoError(t, err)
	var sig bn254.G1Affine
	sig.ScalarMultiplication(&hm, skInt)
	sigBytes := sig.Bytes()

	require.NoError(t, beacon.Verify(info, beaconFor(round, sigBytes[:], nil)))

	// Any other round must fail.
	require.Error(t, beacon.Verify(info, beaconFor(round+1, sigBytes[:], nil)))
}

func TestVerifyRejectsWrongRound(t *testing.T) {
	t.Parallel()

	sk, pk := blsKeyG1(t)
	info := beacon.Info{PublicKey: pk, SchemeID: beacon.SchemeUnchained}

	const round = 42
	msg := sha256.Sum256(roundBE(round))
	sig := signOnG2(t, sk, msg[:])

	// Round substituted in the payload: the signature no longer covers it.
	tampered := beaconFor(round+1, sig, nil)
	require.ErrorIs(t, beacon.Verify(info, tampered), beacon.ErrSignatureInvalid)

	// Round intact but differs from the expected round.
	require.ErrorIs(t, beacon.VerifyRound(info, beaconFor(round, sig, nil), round+5), beacon.ErrRoundMismatch)
}

func TestVerifyRejectsRandomnessMismatch(t *testing.T) {
	t.Parallel()

	sk, pk := blsKeyG1(t)
	info := beacon.Info{PublicKey: pk, SchemeID: beacon.SchemeUnchained}

	const round = 42
	msg := sha256.Sum256(roundBE(round))
	sig := signOnG2(t, sk, msg[:])
	b := beaconFor(round, sig, nil)

	// Flip one bit of the randomness.
	randomness, err := hex.DecodeString(b.Randomness)
	require.NoError(t, err)
	randomness[0] ^= 0x01
	b.Randomness = hex.EncodeToString(randomness)

	require.ErrorIs(t, beacon.Verify(info, b), beacon.ErrRandomnessMismatch)
}

func TestVerifyRejectsUnknownScheme(t *testing.T) {
	t.Parallel()

	_, pk := blsKeyG1(t)
	info := beacon.Info{PublicKey: pk, SchemeID: "not-a-scheme"}
	sig := []byte{0x01, 0x02}
	require.ErrorIs(t, beacon.Verify(info, beaconFor(1, sig, nil)), beacon.ErrUnknownScheme)
}

func TestParseBeacon(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"round":3485635,"signature":"aabb","randomness":"ccdd","previous_signature":"eeff"}`)
	b, err := beacon.ParseBeacon(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(3485635), b.Round)
	require.Equal(t, "aabb", b.Signature)
	require.Equal(t, "eeff", b.PreviousSignature)

	_, err = beacon.ParseBeacon([]byte(`{"round":0,"signature":"aa","randomness":"bb"}`))
	require.Error(t, err)
	_, err = beacon.ParseBeacon([]byte(`not json`))
	require.Error(t, err)
}
