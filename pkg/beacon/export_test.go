package beacon

import (
	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashToBN254G1ForTest exposes the BN254 message hashing used by the
// bls-bn254-unchained-on-g1 verifier: keccak-256 of the round bytes followed
// by the keccak-based hash-to-curve.
func HashToBN254G1ForTest(roundMsg []byte) (bn254.G1Affine, error) {
	return hashToBN254G1(crypto.Keccak256(roundMsg), []byte(dstBN254))
}
