// Package pagetable declares the consumed page-table builder: an
// external, architecture-specific collaborator that constructs the
// kernel's direct-mapped AArch64 page tables and installs them. No
// page-table encoding is implemented here -- MMU table formats are
// outside this repository's scope, exactly as pkg/bootconfig's Parser
// and pkg/acpi's Discovery are external.
package pagetable

import (
	"github.com/barrelfish/hagfish/pkg/bootconfig"
	"github.com/barrelfish/hagfish/pkg/efi"
)

// Builder constructs and installs the kernel's page tables.
// BuildPageTables also computes the kernel-virtual offset used by
// pkg/handoff's RelocateMemoryMap, since only the page-table layout
// knows where physical memory is direct-mapped in kernel-virtual space.
type Builder interface {
	// BuildPageTables walks mmap and constructs a direct map covering
	// every descriptor, plus whatever fixed mappings the kernel needs
	// (loaded components, the multiboot structure).
	BuildPageTables(cfg *bootconfig.ConfigRecord, mmap efi.MemoryMap) error

	// GetRootTable returns the physical address to install as the
	// translation table base once BuildPageTables has run.
	GetRootTable(cfg *bootconfig.ConfigRecord) (uintptr, error)

	// ArchInit installs root as the active translation table and
	// enables the MMU. Must not be called before ExitBootServices
	// succeeds.
	ArchInit(root uintptr) error

	// ArchProbe validates that the running CPU supports the page-table
	// format ArchInit will install (translation granule, address
	// space size), run once before BuildPageTables so a mismatch fails
	// as Firmware-refused rather than mid-build.
	ArchProbe() error

	// KernelVirtualOffset returns the offset RelocateMemoryMap adds to
	// each descriptor's PhysicalStart to produce VirtualStart, once
	// BuildPageTables has established the direct-map layout.
	KernelVirtualOffset() uint64
}
