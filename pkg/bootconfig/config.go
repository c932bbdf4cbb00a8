// Package bootconfig defines the data model the external configuration
// parser populates and the hand-off driver fills in as the boot
// progresses: component descriptors, the top-level configuration
// record, and the consumed Parser/ACPIDiscovery interfaces. No
// configuration grammar is implemented here -- that parser is an
// explicit non-goal of the core.
package bootconfig

import "github.com/barrelfish/hagfish/pkg/memregion"

// ComponentDescriptor represents one file named in the configuration:
// the boot driver, the CPU driver, or one module. path_start/path_len
// and args_start/args_len are offsets into the raw configuration
// buffer the parser owns, not copies -- strings are sliced lazily so
// the descriptor stays cheap to copy.
type ComponentDescriptor struct {
	PathStart int
	PathLen   int
	ArgsStart int
	ArgsLen   int

	// ImageAddress is the 4 KiB-aligned physical base of the loaded
	// file bytes, filled by pkg/component's Load.
	ImageAddress uintptr
	// ImageSize is the exact byte length of the file, filled by Load.
	ImageSize uint64

	// Codec names the decompression codec to apply before the image
	// is committed to its allocated pages, derived from the path's
	// suffix (pkg/componentcodec). Empty means no decompression.
	Codec string
}

// Path returns the component's path string, sliced out of the raw
// configuration buffer the ConfigRecord owns.
func (c *ComponentDescriptor) Path(cfgBuf []byte) string {
	return string(cfgBuf[c.PathStart : c.PathStart+c.PathLen])
}

// Args returns the component's command-line string, sliced out of the
// raw configuration buffer.
func (c *ComponentDescriptor) Args(cfgBuf []byte) string {
	if c.ArgsLen == 0 {
		return ""
	}
	return string(cfgBuf[c.ArgsStart : c.ArgsStart+c.ArgsLen])
}

// ACPIPointers holds the RSDP addresses found by ACPI discovery. Either
// field may be zero if that revision's table was not found -- a missing
// RSDP is a logged warning, not a fatal error.
type ACPIPointers struct {
	RSDPv1 uintptr
	RSDPv2 uintptr
}

// ConfigRecord is the populated configuration, owned by the external
// parser until just before hand-off. Strings referenced by descriptors
// are slices into Buf and remain valid only as long as Buf is retained.
type ConfigRecord struct {
	// Buf is the raw configuration buffer the parser was given;
	// all descriptor Path/Args offsets are relative to it.
	Buf []byte

	BootDriver ComponentDescriptor
	CPUDriver  ComponentDescriptor
	Modules    []ComponentDescriptor

	ACPI ACPIPointers

	// StackSize is the CPU driver's requested kernel stack size in
	// bytes. The hand-off driver clamps this to at least one page
	// before allocating -- Hagfish's prepare_cpu_driver always
	// allocates COVER(stack_size, PAGE_4k) pages regardless of the
	// requested size, so zero or sub-page is not an error.
	StackSize uint64

	// Filled during boot:
	MultibootBase   uintptr
	MmapTagOffset   int
	MmapSlotOffset  int
	BootDriverRegions *memregion.RegionList
	CPUDriverRegions  *memregion.RegionList
	BootDriverEntry   uintptr
	CPUDriverEntry    uintptr

	// CPUDriverStackBase is the physical base of the CPU driver's
	// kernel stack, allocated under efi.CPUDriverStack once the
	// effective stack size is known.
	CPUDriverStackBase uintptr
}

// EffectiveStackSize returns StackSize rounded up to at least one page.
func (c *ConfigRecord) EffectiveStackSize() uint64 {
	if c.StackSize < memregion.PageSize {
		return memregion.PageSize
	}
	return memregion.CoverBytes(c.StackSize)
}

// Parser is the external configuration-file parser (explicit
// non-goal): it takes ownership of buf and returns a populated
// ConfigRecord whose descriptor strings are slices into buf.
type Parser interface {
	Parse(buf []byte) (*ConfigRecord, error)
}

// ACPIDiscovery is the external ACPI root-table finder. FindRootTable
// fills cfg.ACPI; ParseMADT is best-effort and is not required to
// populate anything if no MADT is present.
type ACPIDiscovery interface {
	FindRootTable(cfg *ConfigRecord) error
	ParseMADT(cfg *ConfigRecord) error
}
