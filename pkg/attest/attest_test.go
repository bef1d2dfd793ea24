package attest_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/Austin-Williams/nitro-pinky-swear/pkg/attest"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

// fixture is a synthetic attestation issuer: a three-certificate P-384 chain
// and the pieces of a signed COSE_Sign1 document.
type fixture struct {
	rootDER   []byte
	leafKey   *ecdsa.PrivateKey
	leafDER   []byte
	caBundle  [][]byte // root first, as the real issuer orders it
	now       time.Time
	protected []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Now()

	rootKey, rootDER := makeCert(t, nil, nil, "aws.nitro-enclaves", true, now)
	rootCert, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	interKey, interDER := makeCert(t, rootCert, rootKey, "intermediate", true, now)
	interCert, err := x509.ParseCertificate(interDER)
	require.NoError(t, err)

	leafKey, leafDER := makeCert(t, interCert, interKey, "enclave-leaf", false, now)

	protected, err := cbor.Marshal(map[int]int{1: -35})
	require.NoError(t, err)

	return &fixture{
		rootDER:   rootDER,
		leafKey:   leafKey,
		leafDER:   leafDER,
		caBundle:  [][]byte{rootDER, interDER},
		now:       now,
		protected: protected,
	}
}

// makeCert issues a minimal P-384 certificate. A nil parent self-signs.
func makeCert(t *testing.T, parent *x509.Certificate, parentKey *ecdsa.PrivateKey, cn string, isCA bool, now time.Time) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(time.Hour),
		IsCA:                  isCA,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	signerCert := template
	signerKey := key
	if parent != nil {
		signerCert = parent
		signerKey = parentKey
	}
	der, err := x509.CreateCertificate(rand.Reader, template, signerCert, &key.PublicKey, signerKey)
	require.NoError(t, err)
	require.LessOrEqual(t, len(der), attest.MaxCertLen)
	return key, der
}

// defaultPayload returns a well-formed attestation payload map.
func (f *fixture) defaultPayload() map[string]any {
	pcr := make([]byte, 48)
	for i := range pcr {
		pcr[i] = byte(i)
	}
	return map[string]any{
		"module_id":   "i-0123456789abcdef0-enc0123456789abcdef",
		"digest":      "SHA384",
		"timestamp":   uint64(f.now.UnixMilli()),
		"pcrs":        map[int][]byte{0: pcr, 1: pcr, 2: pcr},
		"certificate": f.leafDER,
		"cabundle":    f.caBundle,
		"nonce":       []byte("nonce-bytes"),
		"user_data":   []byte("user-data-bytes"),
	}
}

// sign produces the raw r||s signature over the COSE Sig_structure.
func (f *fixture) sign(t *testing.T, payload []byte) []byte {
	t.Helper()
	sigStructure, err := cbor.Marshal([]any{"Signature1", f.protected, []byte{}, payload})
	require.NoError(t, err)
	digest := sha512.Sum384(sigStructure)
	r, s, err := ecdsa.Sign(rand.Reader, f.leafKey, digest[:])
	require.NoError(t, err)
	sig := make([]byte, 96)
	r.FillBytes(sig[:48])
	s.FillBytes(sig[48:])
	return sig
}

// assemble builds the serialized COSE_Sign1 document.
func (f *fixture) assemble(t *testing.T, payload, signature []byte, tagged bool) []byte {
	t.Helper()
	raw, err := cbor.Marshal([]any{f.protected, map[any]any{}, payload, signature})
	require.NoError(t, err)
	if tagged {
		raw, err = cbor.Marshal(cbor.RawTag{Number: 18, Content: raw})
		require.NoError(t, err)
	}
	return raw
}

// document signs the default payload and returns the full attestation bytes.
func (f *fixture) document(t *testing.T, tagged bool) []byte {
	t.Helper()
	payload, err := cbor.Marshal(f.defaultPayload())
	require.NoError(t, err)
	return f.assemble(t, payload, f.sign(t, payload), tagged)
}

func (f *fixture) verifyOpts() attest.VerifyOptions {
	return attest.VerifyOptions{CurrentTime: f.now, RootDER: f.rootDER}
}

func TestParseWellFormed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, tagged := range []bool{false, true} {
		env, err := attest.Parse(f.document(t, tagged))
		require.NoError(t, err)
		require.Equal(t, "i-0123456789abcdef0-enc0123456789abcdef", env.Doc.ModuleID)
		require.Equal(t, "SHA384", env.Doc.Digest)
		require.NotZero(t, env.Doc.Timestamp)
		require.Len(t, env.Doc.PCRs, 3)
		require.Equal(t, []byte("nonce-bytes"), env.Doc.Nonce)
		require.Equal(t, []byte("user-data-bytes"), env.Doc.UserData)
	}
}

func TestParseTextKeyedPCRs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	payloadMap := f.defaultPayload()
	pcrValue := make([]byte, 32)
	payloadMap["pcrs"] = map[string][]byte{"0": pcrValue, "15": pcrValue}
	payload, err := cbor.Marshal(payloadMap)
	require.NoError(t, err)

	env, err := attest.Parse(f.assemble(t, payload, f.sign(t, payload), false))
	require.NoError(t, err)
	require.Len(t, env.Doc.PCRs, 2)
	require.Equal(t, pcrValue, env.Doc.PCRs[15])
}

func TestParseRejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name    string
		mutate  func(payloadMap map[string]any)
		wantErr error
	}{
		{name: "missing module id", mutate: func(m map[string]any) { m["module_id"] = "" }, wantErr: attest.ErrFieldMissing},
		{name: "wrong digest", mutate: func(m map[string]any) { m["digest"] = "SHA256" }},
		{name: "zero timestamp", mutate: func(m map[string]any) { m["timestamp"] = uint64(0) }, wantErr: attest.ErrFieldMissing},
		{name: "empty pcrs", mutate: func(m map[string]any) { m["pcrs"] = map[int][]byte{} }, wantErr: attest.ErrFieldMissing},
		{name: "pcr index out of range", mutate: func(m map[string]any) { m["pcrs"] = map[int][]byte{32: make([]byte, 48)} }, wantErr: attest.ErrBadPCR},
		{name: "pcr bad length", mutate: func(m map[string]any) { m["pcrs"] = map[int][]byte{0: make([]byte, 47)} }, wantErr: attest.ErrBadPCR},
		{name: "oversized nonce", mutate: func(m map[string]any) { m["nonce"] = make([]byte, 65) }, wantErr: attest.ErrFieldOversized},
		{name: "oversized user data", mutate: func(m map[string]any) { m["user_data"] = make([]byte, 513) }, wantErr: attest.ErrFieldOversized},
		{name: "missing certificate", mutate: func(m map[string]any) { m["certificate"] = []byte{} }, wantErr: attest.ErrFieldMissing},
		{name: "empty cabundle", mutate: func(m map[string]any) { m["cabundle"] = [][]byte{} }, wantErr: attest.ErrFieldMissing},
		{name: "oversized cabundle entry", mutate: func(m map[string]any) { m["cabundle"] = [][]byte{make([]byte, 1025)} }, wantErr: attest.ErrFieldOversized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			payloadMap := f.defaultPayload()
			tt.mutate(payloadMap)
			payload, err := cbor.Marshal(payloadMap)
			require.NoError(t, err)

			_, err = attest.Parse(f.assemble(t, payload, f.sign(t, payload), false))
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestParseRejectsNonCose(t *testing.T) {
	t.Parallel()

	_, err := attest.Parse([]byte{0xff, 0x00})
	require.Error(t, err)

	threeTuple, err := cbor.Marshal([]any{[]byte{0xa0}, map[any]any{}, []byte{0x01}})
	require.NoError(t, err)
	_, err = attest.Parse(threeTuple)
	require.ErrorIs(t, err, attest.ErrNotCoseSign1)
}

func TestVerifyWellFormed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	env, err := attest.Parse(f.document(t, true))
	require.NoError(t, err)
	require.NoError(t, attest.Verify(env, f.verifyOpts()))
}

func TestVerifyRejectsTamperedFields(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(payloadMap map[string]any)
	}{
		{name: "timestamp", mutate: func(m map[string]any) { m["timestamp"] = m["timestamp"].(uint64) + 1 }},
		{name: "nonce", mutate: func(m map[string]any) { m["nonce"] = []byte("nonce-bytez") }},
		{name: "user data", mutate: func(m map[string]any) { m["user_data"] = []byte("user-data-bytez") }},
		{name: "pcrs", mutate: func(m map[string]any) {
			pcr := make([]byte, 48)
			pcr[0] = 0xff
			m["pcrs"] = map[int][]byte{0: pcr}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			payloadMap := f.defaultPayload()
			honest, err := cbor.Marshal(payloadMap)
			require.NoError(t, err)
			signature := f.sign(t, honest)

			// Swap the payload after signing; the signature no longer covers it.
			tt.mutate(payloadMap)
			tampered, err := cbor.Marshal(payloadMap)
			require.NoError(t, err)

			env, err := attest.Parse(f.assemble(t, tampered, signature, false))
			require.NoError(t, err)
			require.ErrorIs(t, attest.Verify(env, f.verifyOpts()), attest.ErrBadSignature)
		})
	}
}

func TestVerifyRejectsFlippedCertificates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(f *fixture)
	}{
		{name: "leaf certificate", mutate: func(f *fixture) {
			f.leafDER = append([]byte{}, f.leafDER...)
			f.leafDER[40] ^= 0x01
		}},
		{name: "cabundle root entry", mutate: func(f *fixture) {
			tampered := append([]byte{}, f.caBundle[0]...)
			tampered[40] ^= 0x01
			f.caBundle = [][]byte{tampered, f.caBundle[1]}
		}},
		{name: "cabundle intermediate entry", mutate: func(f *fixture) {
			tampered := append([]byte{}, f.caBundle[1]...)
			tampered[40] ^= 0x01
			f.caBundle = [][]byte{f.caBundle[0], tampered}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tampered := newFixture(t)
			tampered.rootDER = f.rootDER
			tampered.leafDER = f.leafDER
			tampered.leafKey = f.leafKey
			tampered.caBundle = f.caBundle
			tt.mutate(tampered)

			env, err := attest.Parse(tampered.document(t, false))
			if err != nil {
				// A flip that breaks DER parsing is an acceptable rejection.
				return
			}
			require.Error(t, attest.Verify(env, f.verifyOpts()))
		})
	}
}

func TestVerifyRejectsFlippedSignature(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	payload, err := cbor.Marshal(f.defaultPayload())
	require.NoError(t, err)
	signature := f.sign(t, payload)
	signature[10] ^= 0x01

	env, err := attest.Parse(f.assemble(t, payload, signature, false))
	require.NoError(t, err)
	require.ErrorIs(t, attest.Verify(env, f.verifyOpts()), attest.ErrBadSignature)
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	wrongAlg, err := cbor.Marshal(map[int]int{1: -7})
	require.NoError(t, err)
	f.protected = wrongAlg

	env, err := attest.Parse(f.document(t, false))
	require.NoError(t, err)
	require.ErrorIs(t, attest.Verify(env, f.verifyOpts()), attest.ErrWrongAlgorithm)
}

func TestVerifyRejectsForeignRoot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// A well-formed chain ending at a different root must not verify
	// against the pinned one.
	other := newFixture(t)
	env, err := attest.Parse(other.document(t, false))
	require.NoError(t, err)
	require.ErrorIs(t, attest.Verify(env, f.verifyOpts()), attest.ErrUntrustedRoot)
}

func TestVerifyRejectsExpiredCertificate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	env, err := attest.Parse(f.document(t, false))
	require.NoError(t, err)

	opts := f.verifyOpts()
	opts.CurrentTime = f.now.Add(48 * time.Hour)
	require.ErrorIs(t, attest.Verify(env, opts), attest.ErrCertExpired)
}

func TestVerifyRejectsReorderedBundle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// Swapping root and intermediate breaks the chain construction: the
	// reversed bundle no longer links leaf -> intermediate -> root.
	f.caBundle = [][]byte{f.caBundle[1], f.caBundle[0]}
	env, err := attest.Parse(f.document(t, false))
	require.NoError(t, err)
	require.Error(t, attest.Verify(env, f.verifyOpts()))
}

func TestVerifyAgainstEmbeddedRootFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// Without the test root override the chain must be rejected: it does
	// not terminate at the pinned AWS certificate.
	env, err := attest.Parse(f.document(t, false))
	require.NoError(t, err)
	err = attest.Verify(env, attest.VerifyOptions{CurrentTime: f.now})
	require.ErrorIs(t, err, attest.ErrUntrustedRoot)
}

func TestRootDERIsStable(t *testing.T) {
	t.Parallel()
	der := attest.RootDER()
	require.NotEmpty(t, der)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	require.Equal(t, "aws.nitro-enclaves", cert.Subject.CommonName)
}
