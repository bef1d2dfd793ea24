package attest

import (
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// ParseError is a typed error for structural attestation failures.
type ParseError string

func (e ParseError) Error() string { return string(e) }

const (
	// ErrNotCoseSign1 is returned when the outer CBOR item is not a COSE_Sign1 four-tuple.
	ErrNotCoseSign1 = ParseError("attestation is not a COSE_Sign1 structure")
	// ErrFieldMissing is returned when a mandatory payload field is absent.
	ErrFieldMissing = ParseError("mandatory attestation field missing")
	// ErrFieldOversized is returned when a field exceeds its documented cap,
	// and for an empty cabundle entry.
	ErrFieldOversized = ParseError("attestation field exceeds size cap")
	// ErrBadPCR is returned for a PCR with an invalid index or value length.
	ErrBadPCR = ParseError("invalid PCR entry")
)

const coseSign1Tag = 18

// payload mirrors the CBOR attestation document; PCRs stay raw so both key
// encodings can be normalized after decoding.
type payload struct {
	ModuleID    string          `cbor:"module_id"`
	Digest      string          `cbor:"digest"`
	Timestamp   uint64          `cbor:"timestamp"`
	PCRs        cbor.RawMessage `cbor:"pcrs"`
	Certificate []byte          `cbor:"certificate"`
	CABundle    [][]byte        `cbor:"cabundle"`
	PublicKey   []byte          `cbor:"public_key"`
	UserData    []byte          `cbor:"user_data"`
	Nonce       []byte          `cbor:"nonce"`
}

// Parse decodes an attestation document from its raw CBOR bytes. It accepts
// both a bare COSE_Sign1 four-tuple and one wrapped in CBOR tag 18, and
// validates every structural rule of the payload. Parse performs no
// cryptographic checks; see Verify.
func Parse(data []byte) (*Envelope, error) {
	var tagged cbor.RawTag
	if err := cbor.Unmarshal(data, &tagged); err == nil {
		if tagged.Number != coseSign1Tag {
			return nil, fmt.Errorf("%w: unexpected CBOR tag %d", ErrNotCoseSign1, tagged.Number)
		}
		data = tagged.Content
	}

	var cose coseSign1
	if err := cbor.Unmarshal(data, &cose); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotCoseSign1, err)
	}
	if len(cose.Protected) == 0 {
		return nil, fmt.Errorf("%w: empty protected header", ErrNotCoseSign1)
	}
	if len(cose.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrNotCoseSign1)
	}
	if len(cose.Signature) == 0 {
		return nil, fmt.Errorf("%w: empty signature", ErrNotCoseSign1)
	}

	doc, err := parsePayload(cose.Payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Protected: cose.Protected,
		Payload:   cose.Payload,
		Signature: cose.Signature,
		Doc:       *doc,
	}, nil
}

func parsePayload(data []byte) (*Document, error) {
	var p payload
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse attestation payload: %w", err)
	}

	if p.ModuleID == "" {
		return nil, fmt.Errorf("%w: module_id", ErrFieldMissing)
	}
	if p.Digest != "SHA384" {
		return nil, fmt.Errorf("invalid digest: expected SHA384, got %q", p.Digest)
	}
	if p.Timestamp == 0 {
		return nil, fmt.Errorf("%w: timestamp", ErrFieldMissing)
	}
	if len(p.Certificate) == 0 {
		return nil, fmt.Errorf("%w: certificate", ErrFieldMissing)
	}
	if len(p.Certificate) > MaxCertLen {
		return nil, fmt.Errorf("%w: certificate is %d bytes", ErrFieldOversized, len(p.Certificate))
	}
	if len(p.CABundle) == 0 {
		return nil, fmt.Errorf("%w: cabundle", ErrFieldMissing)
	}
	for i, cert := range p.CABundle {
		if len(cert) == 0 || len(cert) > MaxCertLen {
			return nil, fmt.Errorf("%w: cabundle[%d] is %d bytes", ErrFieldOversized, i, len(cert))
		}
	}
	if len(p.Nonce) > MaxNonceLen {
		return nil, fmt.Errorf("%w: nonce is %d bytes", ErrFieldOversized, len(p.Nonce))
	}
	if len(p.UserData) > MaxUserDataLen {
		return nil, fmt.Errorf("%w: user_data is %d bytes", ErrFieldOversized, len(p.UserData))
	}
	if len(p.PublicKey) > MaxPublicKeyLen {
		return nil, fmt.Errorf("%w: public_key is %d bytes", ErrFieldOversized, len(p.PublicKey))
	}

	pcrs, err := parsePCRs(p.PCRs)
	if err != nil {
		return nil, err
	}

	return &Document{
		ModuleID:    p.ModuleID,
		Digest:      p.Digest,
		Timestamp:   p.Timestamp,
		PCRs:        pcrs,
		Certificate: p.Certificate,
		CABundle:    p.CABundle,
		PublicKey:   p.PublicKey,
		UserData:    p.UserData,
		Nonce:       p.Nonce,
	}, nil
}

// parsePCRs accepts the register map in either of its CBOR encodings
// (integer-keyed or text-keyed) and normalizes to integer indexes.
func parsePCRs(raw cbor.RawMessage) (map[int][]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: pcrs", ErrFieldMissing)
	}

	byIndex := map[int][]byte{}
	if err := cbor.Unmarshal(raw, &byIndex); err != nil {
		byName := map[string][]byte{}
		if err := cbor.Unmarshal(raw, &byName); err != nil {
			return nil, fmt.Errorf("failed to parse pcrs map: %w", err)
		}
		for key, value := range byName {
			index, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("%w: non-numeric index %q", ErrBadPCR, key)
			}
			byIndex[index] = value
		}
	}
	if len(byIndex) == 0 {
		return nil, fmt.Errorf("%w: pcrs", ErrFieldMissing)
	}

	for index, value := range byIndex {
		if index < 0 || index >= MaxPCRIndex {
			return nil, fmt.Errorf("%w: index %d out of range", ErrBadPCR, index)
		}
		switch len(value) {
		case 32, 48, 64:
		default:
			return nil, fmt.Errorf("%w: index %d has %d-byte value", ErrBadPCR, index, len(value))
		}
	}
	return byIndex, nil
}
