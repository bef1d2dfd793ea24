// Package attest parses and verifies AWS Nitro attestation documents and
// requests new ones from the Nitro Security Module. Verification chains the
// document's certificate to the pinned AWS root; nothing about the operator
// or the host is trusted.
package attest

// Field size limits from the attestation document specification.
const (
	// MaxNonceLen is the cap on the caller-supplied nonce.
	MaxNonceLen = 64
	// MaxUserDataLen is the cap on the caller-supplied user data.
	MaxUserDataLen = 512
	// MaxPublicKeyLen is the cap on the optional public key field.
	MaxPublicKeyLen = 1024
	// MaxCertLen is the cap on each DER certificate.
	MaxCertLen = 1024
	// MaxPCRIndex is the exclusive upper bound on PCR indexes.
	MaxPCRIndex = 32
)

// coseSign1 is the COSE_Sign1 four-tuple as it appears on the wire.
type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[any]any
	Payload     []byte
	Signature   []byte
}

// Document is the parsed and validated attestation payload.
type Document struct {
	// ModuleID is the issuing NSM ID.
	ModuleID string
	// Digest is the register digest function; always "SHA384" on Nitro.
	Digest string
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp uint64
	// PCRs maps register index to register value, normalized from either
	// CBOR key encoding.
	PCRs map[int][]byte
	// Certificate is the DER leaf certificate that signed the document.
	Certificate []byte
	// CABundle holds the issuing chain, root first.
	CABundle [][]byte
	// PublicKey is the optional consumer public key.
	PublicKey []byte
	// UserData is the optional caller-bound data.
	UserData []byte
	// Nonce is the optional caller-supplied nonce.
	Nonce []byte
}

// Envelope is a parsed attestation: the signed COSE pieces plus the decoded
// payload.
type Envelope struct {
	// Protected is the serialized protected header.
	Protected []byte
	// Payload is the serialized attestation document.
	Payload []byte
	// Signature is the raw r||s ECDSA signature.
	Signature []byte
	// Doc is the decoded payload.
	Doc Document
}
