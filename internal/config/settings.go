// Package config holds the environment-driven settings for both ceremony
// processes.
package config

import (
	"time"

	"github.com/gofrs/uuid"
)

// EnclaveSettings configures the enclave process. Values arrive through the
// environment baked into the enclave image.
type EnclaveSettings struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	WorkDir  string `env:"WORK_DIR" envDefault:"/ceremony"`

	// CeremonyID must match the host's; it travels in every heartbeat.
	CeremonyID uuid.UUID `env:"CEREMONY_ID"`

	FilePort          uint32        `env:"FILE_PORT" envDefault:"5005"`
	HostFilePort      uint32        `env:"HOST_FILE_PORT" envDefault:"5006"`
	HeartbeatPort     uint32        `env:"HEARTBEAT_PORT" envDefault:"5001"`
	LogPort           uint32        `env:"LOG_PORT" envDefault:"4999"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"10s"`

	RNGSourcePath string `env:"RNG_SOURCE_PATH"`
	EntropyDevice string `env:"ENTROPY_DEVICE" envDefault:"/dev/random"`

	// AttestationCLI selects the external issuer binary; empty uses the
	// NSM device directly.
	AttestationCLI string `env:"ATTESTATION_CLI"`

	SnarkjsBin string `env:"SNARKJS_BIN" envDefault:"snarkjs"`
	CircomBin  string `env:"CIRCOM_BIN" envDefault:"circom"`
	SolcBin    string `env:"SOLC_BIN" envDefault:"solc"`
}

// HostSettings configures the host process.
type HostSettings struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	WorkDir  string `env:"WORK_DIR" envDefault:"./ceremony-output"`

	// CircuitPath locates the circuit source to run the ceremony for.
	CircuitPath string `env:"CIRCUIT_PATH,required"`

	CeremonyID uuid.UUID `env:"CEREMONY_ID"`

	// EnclaveCID addresses the enclave on the vsock fabric.
	EnclaveCID        uint32        `env:"ENCLAVE_CID" envDefault:"16"`
	FilePort          uint32        `env:"FILE_PORT" envDefault:"5005"`
	HostFilePort      uint32        `env:"HOST_FILE_PORT" envDefault:"5006"`
	HeartbeatPort     uint32        `env:"HEARTBEAT_PORT" envDefault:"5001"`
	LogPort           uint32        `env:"LOG_PORT" envDefault:"4999"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"60s"`
	MonPort           int           `env:"MON_PORT" envDefault:"8888"`

	// EnclaveCommand, when set, is the shell command that launches the
	// enclave (typically a nitro-cli run-enclave invocation). Empty means
	// the enclave is started out of band.
	EnclaveCommand string `env:"ENCLAVE_COMMAND"`

	// BeaconURL is the drand HTTP endpoint base.
	BeaconURL   string        `env:"BEACON_URL" envDefault:"https://api.drand.sh"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	SnarkjsBin string `env:"SNARKJS_BIN" envDefault:"snarkjs"`
	CircomBin  string `env:"CIRCOM_BIN" envDefault:"circom"`

	// PreflightAttestation verifies the time attestation with nitrite
	// before the beacon wait. Disable when running against a stub issuer
	// off Nitro hardware.
	PreflightAttestation bool `env:"PREFLIGHT_ATTESTATION" envDefault:"true"`

	// ExpectedPCR0..2 enable the optional host-side measurement pre-flight
	// when set. External verifiers compare published values regardless.
	ExpectedPCR0 string `env:"EXPECTED_PCR0"`
	ExpectedPCR1 string `env:"EXPECTED_PCR1"`
	ExpectedPCR2 string `env:"EXPECTED_PCR2"`
}

// ExpectedPCRs assembles the configured measurement expectations.
func (s HostSettings) ExpectedPCRs() map[int]string {
	expected := map[int]string{}
	for index, value := range map[int]string{0: s.ExpectedPCR0, 1: s.ExpectedPCR1, 2: s.ExpectedPCR2} {
		if value != "" {
			expected[index] = value
		}
	}
	return expected
}
