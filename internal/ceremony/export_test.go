package ceremony

import "github.com/Austin-Williams/nitro-pinky-swear/pkg/attest"

// CheckPCRsForTest exposes the host-side measurement pre-flight.
func (h *Host) CheckPCRsForTest(doc attest.Document) error {
	return h.checkPCRs(doc)
}
