// Package acpi defines the byte-exact ACPI Root System Description
// Pointer layouts and the consumed table-discovery interface. No
// discovery is implemented here -- finding the RSDP in the UEFI
// configuration table and walking the MADT is an external
// collaborator's job; this package only describes the wire layout and
// the interface pkg/handoff drives it through.
//
// Each layout is a packed struct matching the on-disk layout
// field-for-field, parsed with a single binary.Read call.
package acpi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/barrelfish/hagfish/pkg/bootconfig"
)

// ErrChecksumMismatch indicates an RSDP's checksum byte does not make
// its structure sum to zero mod 256 (ACPI spec 5.2.5.3).
var ErrChecksumMismatch = errors.New("acpi: RSDP checksum mismatch")

// RSDPv1 is the ACPI 1.0 Root System Description Pointer, 20 bytes.
type RSDPv1 struct {
	Signature [8]byte
	Checksum  byte
	OEMID     [6]byte
	Revision  byte
	RSDTAddr  uint32
}

// RSDPv2 is the ACPI 2.0+ Root System Description Pointer: the v1
// fields followed by the extended block, 36 bytes total.
type RSDPv2 struct {
	RSDPv1
	Length          uint32
	XSDTAddr        uint64
	ExtendedChecksum byte
	Reserved        [3]byte
}

// ParseRSDPv1 reads a 20-byte ACPI 1.0 RSDP and validates its checksum.
func ParseRSDPv1(r io.Reader) (*RSDPv1, error) {
	var v RSDPv1
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return nil, fmt.Errorf("acpi: reading RSDPv1: %w", err)
	}
	if !checksumOK(v) {
		return nil, ErrChecksumMismatch
	}
	return &v, nil
}

// ParseRSDPv2 reads a 36-byte ACPI 2.0+ RSDP and validates both the
// legacy and extended checksums.
func ParseRSDPv2(r io.Reader) (*RSDPv2, error) {
	var v RSDPv2
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return nil, fmt.Errorf("acpi: reading RSDPv2: %w", err)
	}
	if !checksumOK(v.RSDPv1) {
		return nil, ErrChecksumMismatch
	}
	if !checksumOK(v) {
		return nil, ErrChecksumMismatch
	}
	return &v, nil
}

func checksumOK(v interface{}) bool {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, v)
	var sum byte
	for _, b := range buf.Bytes() {
		sum += b
	}
	return sum == 0
}

// Discovery is the external ACPI root-table finder and MADT parser.
// Both operations are best-effort: a missing RSDP is a logged warning
// in pkg/handoff, never a fatal error.
type Discovery interface {
	FindRootTable(cfg *bootconfig.ConfigRecord) error
	ParseMADT(cfg *bootconfig.ConfigRecord) error
}
