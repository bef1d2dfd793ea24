package attest

import (
	_ "embed"
	"encoding/pem"
	"fmt"
	"sync"
)

// nitroRootPEM is the AWS Nitro Enclaves Root-G1 certificate, published at
// https://aws-nitro-enclaves.amazonaws.com/AWS_NitroEnclaves_Root-G1.zip.
//
//go:embed nitro_root.pem
var nitroRootPEM []byte

var rootDER = sync.OnceValue(func() []byte {
	block, _ := pem.Decode(nitroRootPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		panic(fmt.Errorf("embedded nitro root is not a PEM certificate"))
	}
	return block.Bytes
})

// RootDER returns the DER encoding of the pinned AWS Nitro root certificate.
func RootDER() []byte {
	return rootDER()
}
