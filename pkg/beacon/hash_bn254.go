package beacon

import (
	"fmt"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"golang.org/x/crypto/sha3"
)

// Field element expansion parameters for BN254 per RFC 9380: L = 48 bytes per
// element, keccak-256 output size 32, keccak-256 rate 136.
const (
	bn254L          = 48
	keccakOutSize   = 32
	keccakBlockSize = 136
)

// hashToBN254G1 implements hash_to_curve for BN254 G1 with keccak-256 message
// expansion and the SVDW map. The drand evm chains diverge from gnark's
// built-in SHA-256 suite only in the expansion hash.
func hashToBN254G1(msg, dst []byte) (bn254.G1Affine, error) {
	uniform, err := expandMsgXmdKeccak256(msg, dst, 2*bn254L)
	if err != nil {
		return bn254.G1Affine{}, err
	}

	var u0, u1 fp.Element
	u0.SetBytes(uniform[:bn254L])
	u1.SetBytes(uniform[bn254L:])

	q0 := bn254.MapToG1(u0)
	q1 := bn254.MapToG1(u1)

	var res bn254.G1Affine
	res.Add(&q0, &q1)
	return res, nil
}

// expandMsgXmdKeccak256 is expand_message_xmd from RFC 9380 §5.3.1
// instantiated with keccak-256.
func expandMsgXmdKeccak256(msg, dst []byte, lenInBytes int) ([]byte, error) {
	ell := (lenInBytes + keccakOutSize - 1) / keccakOutSize
	if ell > 255 {
		return nil, fmt.Errorf("expand_message_xmd: requested %d bytes exceeds limit", lenInBytes)
	}
	if len(dst) > 255 {
		return nil, fmt.Errorf("expand_message_xmd: domain tag longer than 255 bytes")
	}
	dstPrime := append(append([]byte{}, dst...), byte(len(dst)))

	// b0 = H(Z_pad || msg || l_i_b_str || 0 || DST')
	h := sha3.NewLegacyKeccak256()
	h.Write(make([]byte, keccakBlockSize))
	h.Write(msg)
	h.Write([]byte{byte(lenInBytes >> 8), byte(lenInBytes)})
	h.Write([]byte{0})
	h.Write(dstPrime)
	b0 := h.Sum(nil)

	// b1 = H(b0 || 1 || DST')
	h.Reset()
	h.Write(b0)
	h.Write([]byte{1})
	h.Write(dstPrime)
	bi := h.Sum(nil)

	out := make([]byte, 0, ell*keccakOutSize)
	out = append(out, bi...)
	for i := 2; i <= ell; i++ {
		h.Reset()
		xored := make([]byte, keccakOutSize)
		for j := range xored {
			xored[j] = b0[j] ^ bi[j]
		}
		h.Write(xored)
		h.Write([]byte{byte(i)})
		h.Write(dstPrime)
		bi = h.Sum(nil)
		out = append(out, bi...)
	}
	return out[:lenInBytes], nil
}
