// Package efi describes the slice of UEFI boot services and protocols
// that hagfish drives. It does not implement firmware: these are
// collaborators, not reimplementations, so that pkg/component,
// pkg/elfload, pkg/multiboot and pkg/handoff can be built and tested
// against a fake without a real UEFI environment.
//
// GUID reuses pkg/guid's mixed-endian representation, since a UEFI
// GUID is exactly that: a 128-bit identifier serialized in the same
// mixed-endian layout Microsoft tooling uses.
package efi

import (
	"unsafe"

	"github.com/barrelfish/hagfish/pkg/guid"
)

// GUID identifies a UEFI protocol.
type GUID = guid.GUID

// Handle is an opaque firmware handle (device handle, image handle, ...).
type Handle uintptr

// PhysicalAddress is a physical memory address as returned by AllocatePages.
// Before boot-services exit, physical addresses are identity-accessible
// from the running image, so Bytes provides a direct byte-slice view,
// treating the address as a pointer via unsafe.Pointer over a fixed
// memory location.
type PhysicalAddress uint64

// Bytes returns a byte slice view of the n bytes starting at a. The
// caller must only do this for addresses obtained from AllocatePages
// and only while boot services (and thus the identity mapping) are
// still active.
func (a PhysicalAddress) Bytes(n uint64) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(a))), n)
}

// MapKey is the opaque token GetMemoryMap returns and ExitBootServices
// requires; it is invalidated by any intervening allocation.
type MapKey uint64

// MemoryType classifies an allocation so the kernel knows, from the
// memory map alone, which regions it inherits and must preserve.
// These mirror Hagfish's EfiBarrelfish* memory-type enum.
type MemoryType uint32

// Reserved memory-type classifications used across the boot, one per
// firmware memory-type tag the loader needs to distinguish.
const (
	ELFImageData MemoryType = iota + 0x80000000
	CPUDriverCode
	MultibootData
	CPUDriverStack
	Bookkeeping
)

// MemoryDescriptor is one entry of a UEFI memory map, as returned by
// GetMemoryMap. Field widths match the UEFI spec; VirtualStart is
// rewritten by RelocateMemoryMap once the kernel's direct map is known.
type MemoryDescriptor struct {
	Type          uint32
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

// MemoryMap is a captured snapshot of the firmware's view of physical
// memory, plus the bookkeeping GetMemoryMap reports alongside it.
type MemoryMap struct {
	Key           MapKey
	DescriptorSize uint64
	DescriptorVersion uint32
	Descriptors   []MemoryDescriptor
}

// Size returns the total byte length the raw descriptor array would
// occupy if packed at DescriptorSize stride (the form the Multiboot
// EFI_MMAP tag payload copies verbatim).
func (m MemoryMap) Size() uint64 {
	return uint64(len(m.Descriptors)) * m.DescriptorSize
}
