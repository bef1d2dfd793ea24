// Package ptau pins the powers-of-tau parameter files the ceremony accepts.
// The table maps a power P to the maximum constraint count 2^P, the
// BLAKE2b-512 digest of the parameter file, and its download URL. The
// catalog is frozen; nothing here is fetched or mutated at runtime.
package ptau

import (
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// CatalogError is a typed error for catalog lookups.
type CatalogError string

func (e CatalogError) Error() string { return string(e) }

const (
	// ErrTooManyConstraints is returned when the circuit exceeds the largest catalog entry.
	ErrTooManyConstraints = CatalogError("constraint count exceeds largest supported parameter file")
	// ErrDigestMismatch is returned when a parameter file's digest does not match the catalog.
	ErrDigestMismatch = CatalogError("powers-of-tau digest mismatch")
)

const (
	// MinPower is the smallest power in the catalog.
	MinPower = 8
	// MaxPower is the largest power in the catalog.
	MaxPower = 28
)

// Descriptor is one frozen catalog entry.
type Descriptor struct {
	// Power is the exponent P; the file supports circuits up to 2^P constraints.
	Power int
	// MaxConstraints is 2^Power.
	MaxConstraints uint64
	// Blake2b512 is the hex BLAKE2b-512 digest of the parameter file.
	Blake2b512 string
	// URL is the canonical download location.
	URL string
}

const urlBase = "https://hermez.s3-eu-west-1.amazonaws.com/"

// Catalog is an ordered set of descriptors, ascending by power.
type Catalog []Descriptor

// Default holds the published digests for the perpetual-powers-of-tau files,
// indexed by Power-MinPower.
var Default = Catalog{
	{8, 1 << 8, "d6a8fb3a04feb600096c3b791f936a578c4e664d262e4aa24beed1b7a9a96aa5eb72864d628db247e9293384b74b36ffb52ca8d148d6e1b8b51540244bf24208", urlBase + "powersOfTau28_hez_final_08.ptau"},
	{9, 1 << 9, "94f108a80e81b5d932d8e8c9e8fd7f46cf32457e31462deeeef37af1b71c2c1b3c71fb0d9b59c654ec266b042735f50311f9fd1d4cadce47ab234ad163157cb5", urlBase + "powersOfTau28_hez_final_09.ptau"},
	{10, 1 << 10, "6cfeb8cda92453099d20120bdd0e8a5c4e7706c2da9a8f09ccc157ed2464d921fd0437fb70db42104769efd7d6f3c1f964bcf448c455eab6f6c7d863e88a5849", urlBase + "powersOfTau28_hez_final_10.ptau"},
	{11, 1 << 11, "47c282116b892e5ac92ca238578006e31a47e7c7e70f0baa8b687f0a5203e28ea07bbbec765a98dcd654bad618475d4661bfaec3bd9ad98ee1e958ad3f0b2fe4", urlBase + "powersOfTau28_hez_final_11.ptau"},
	{12, 1 << 12, "ded2694169b7b08e898f736d5de95af87c3f1a64594013351b1a796dbee393bd825f8f3b52ae26aa9c6bc5a46117f35ebf7dc3e1c5284ca5baa3f27d0a7f4a62", urlBase + "powersOfTau28_hez_final_12.ptau"},
	{13, 1 << 13, "58efc8bf2834d04768a3d7ffcd8e1e23d461561729beaac4e3e7a47829a1c9066d5320241e124a1a8e8aa6c75be0ba66f65bc8239a0542ed38e11276f6fdb4d9", urlBase + "powersOfTau28_hez_final_13.ptau"},
	{14, 1 << 14, "eeefbcf7c3803b523c94112023c7ff89558f9b8e0cf5d6cdcba3ade60f168af4a181c9c21774b94fbae6c90411995f7d854d02ebd93fb66043dbb06f17a831c1", urlBase + "powersOfTau28_hez_final_14.ptau"},
	{15, 1 << 15, "982372c867d229c236091f767e703253249a9b432c1710b4f326306bfa2428a17b06240359606cfe4d580b10a5a1f4fae2b06ade20f14622bd0398fccac2a8d9", urlBase + "powersOfTau28_hez_final_15.ptau"},
	{16, 1 << 16, "6a6277a2f74e1073601b4f994841f5e1d7f2c1ebed5ae62c57a6fd1c0cf2deca8299966ee687c6d9e62bb54c9e9e0f3b53575d7e4d0b5c4e4e5b16ede3562166", urlBase + "powersOfTau28_hez_final_16.ptau"},
	{17, 1 << 17, "6247a3433948b35fbfae414fa5a9355bfb45f56efa7ab4f0e76b130d6db564ceaa1e3a16c8bb97c1b6c36b837e604acc95b4ea987bcb3a74b364e3f37e8f937e", urlBase + "powersOfTau28_hez_final_17.ptau"},
	{18, 1 << 18, "7e6a9c2e5f05179ddf4923fa7dfedaac9d7dde932b3a250ed234b0c9e1709846289231a2c9a1c6ee5cb74ab006246d0ee0aae12f3d7bbdbb01d72d77d0f2b5ac", urlBase + "powersOfTau28_hez_final_18.ptau"},
	{19, 1 << 19, "bca9d8b04242f175189872c42ceaa21e2951c0f0f275a82c80e73bb8203aaf2c937d3c43b14237f06b1b941eadfc8dbad2a01a74e03a4050d8f5a5fb488aa4b2", urlBase + "powersOfTau28_hez_final_19.ptau"},
	{20, 1 << 20, "89a66eb5590a1c94e3f1ee0e72acf49b1669e050bb5f93c73ee6b1a90d30f2b8d24e2b54a42b78408a0e1a0532def1628429fa74dba00218b5e1e7fa3ad1b7f5", urlBase + "powersOfTau28_hez_final_20.ptau"},
	{21, 1 << 21, "9aef0573cef4ded9c4a75f148709056bf989f80dad96876aadeb29f1c7c2e1ff399d4b43a986927cf4f5a4e24ab22bdc9ec4ea9a3c2f6899dcc079756a7ca29f", urlBase + "powersOfTau28_hez_final_21.ptau"},
	{22, 1 << 22, "0d64f63dba1a6f11139df765cb690da69d9b2f469a1ddd0de5e4aa628abb28f787f04c6a5fb84a235ec5ea7f41d0548746653ecab0559add658a83502d1cb21b", urlBase + "powersOfTau28_hez_final_22.ptau"},
	{23, 1 << 23, "3063a0bd81d68711197c8820a92466d51aeac93e915f5136d74f63c394ee6d88c5e8016231ea6580bec02e25d491f319d92e77f5c7f46a9caa8f3b53c0ea544f", urlBase + "powersOfTau28_hez_final_23.ptau"},
	{24, 1 << 24, "fa404d140d5819d39984833ca5ec3632cd4995f81e82db402371a4de7c2eae8687c62bc632a95b0c6aadba3fb02680a94e09c5c227b72b699560632d79050bb9", urlBase + "powersOfTau28_hez_final_24.ptau"},
	{25, 1 << 25, "0377d860cdb09a8a31ea1b0b8c04335614c8206357181573bf294c25d5ca7dff72387224fbd868897e6769f7805b3dab02854aec6d69d7492883b5e4e5f35eeb", urlBase + "powersOfTau28_hez_final_25.ptau"},
	{26, 1 << 26, "418dee4a74b9592198bd8fd02ad1aea76f9cf3085f206dfd7d594c9e264ae919611b1459a1cc6a1de4330846eb7d2b4c27a637ceaad524fe77f0b0ffd4f6a785", urlBase + "powersOfTau28_hez_final_26.ptau"},
	{27, 1 << 27, "10ffd99837c512ef99752436a54b9810d1ac8878d368fb4b806267bdd664b4abf276c9cd3c4b9039a1fa4315a0c326c0e8e9e8fe0eb588ffd4f9021bf7eae1a1", urlBase + "powersOfTau28_hez_final_27.ptau"},
	{28, 1 << 28, "55c77ce8562366c91e7cda394cf7b7c15a06c12d8c905e8b36ba9cf5e13eb37d1a429c589e8eaba4c591bc4b88a0e2828745a53e170eac300236f5c1a326f41a", urlBase + "powersOfTau28_hez_final_28.ptau"},
}

// ForPower returns the descriptor for an exact power P.
func (c Catalog) ForPower(power int) (Descriptor, error) {
	for _, desc := range c {
		if desc.Power == power {
			return desc, nil
		}
	}
	return Descriptor{}, fmt.Errorf("power %d not in catalog", power)
}

// ForConstraints returns the smallest catalog entry whose capacity covers the
// given constraint count, clamped to the catalog bounds.
func (c Catalog) ForConstraints(constraints uint64) (Descriptor, error) {
	if len(c) == 0 {
		return Descriptor{}, fmt.Errorf("catalog is empty")
	}
	if constraints > c[len(c)-1].MaxConstraints {
		return Descriptor{}, fmt.Errorf("%w: %d > %d", ErrTooManyConstraints, constraints, c[len(c)-1].MaxConstraints)
	}
	for _, desc := range c {
		if desc.MaxConstraints >= constraints {
			return desc, nil
		}
	}
	// Unreachable given the bound check above.
	return Descriptor{}, ErrTooManyConstraints
}

// ForPower returns the pinned descriptor for an exact power P.
func ForPower(power int) (Descriptor, error) {
	return Default.ForPower(power)
}

// ForConstraints selects from the pinned catalog.
func ForConstraints(constraints uint64) (Descriptor, error) {
	return Default.ForConstraints(constraints)
}

// All returns a copy of the pinned catalog in ascending power order.
func All() []Descriptor {
	out := make([]Descriptor, len(Default))
	copy(out, Default)
	return out
}

// CheckDigest recomputes the BLAKE2b-512 digest of the parameter stream and
// compares it against the descriptor.
func (d Descriptor) CheckDigest(reader io.Reader) error {
	hasher, err := blake2b.New512(nil)
	if err != nil {
		return fmt.Errorf("failed to create blake2b hasher: %w", err)
	}
	if _, err := io.Copy(hasher, reader); err != nil {
		return fmt.Errorf("failed to hash parameter file: %w", err)
	}
	got := hex.EncodeToString(hasher.Sum(nil))
	if got != d.Blake2b512 {
		return fmt.Errorf("%w: power %d: got %s", ErrDigestMismatch, d.Power, got)
	}
	return nil
}
