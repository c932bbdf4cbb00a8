// Package handoff implements the hand-off driver: the linear,
// irreversible state machine that orchestrates every other component,
// captures the final firmware memory map, exits boot services,
// installs page tables, and transfers control to the kernel.
//
// Run is the only exported entry point; cmd/hagfish's main does
// nothing but build Deps and call it.
package handoff

import (
	"context"
	"fmt"

	"github.com/barrelfish/hagfish/pkg/acpi"
	"github.com/barrelfish/hagfish/pkg/bootconfig"
	"github.com/barrelfish/hagfish/pkg/bootlog"
	"github.com/barrelfish/hagfish/pkg/component"
	"github.com/barrelfish/hagfish/pkg/efi"
	"github.com/barrelfish/hagfish/pkg/elfload"
	"github.com/barrelfish/hagfish/pkg/loader"
	"github.com/barrelfish/hagfish/pkg/memregion"
	"github.com/barrelfish/hagfish/pkg/multiboot"
	"github.com/barrelfish/hagfish/pkg/pagetable"
)

// KernelOffset is the CPU driver's fixed kernel-virtual relocation
// offset.
const KernelOffset = 0xffff_0000_0000_0000

// state is one of the 14 stages of the boot exit sequence.
type state int

const (
	stateInit state = iota
	stateConfigLoaded
	stateComponentsLoaded
	statePageTablesBuilt
	stateDriversPrepared
	stateMultibootAssembled
	stateLoaderRetired
	stateImageRetired
	stateMemoryMapCaptured
	stateMmapRelocated
	stateMmapTagFilled
	stateBootServicesExited
	stateMMUReconfigured
	stateControlTransferred
)

func (s state) String() string {
	names := [...]string{
		"INIT", "CONFIG_LOADED", "COMPONENTS_LOADED", "PAGE_TABLES_BUILT",
		"DRIVERS_PREPARED", "MULTIBOOT_ASSEMBLED", "LOADER_RETIRED",
		"IMAGE_RETIRED", "MEMORY_MAP_CAPTURED", "MMAP_RELOCATED",
		"MMAP_TAG_FILLED", "BOOT_SERVICES_EXITED", "MMU_RECONFIGURED",
		"CONTROL_TRANSFERRED",
	}
	if int(s) < 0 || int(s) >= len(names) {
		return "UNKNOWN"
	}
	return names[s]
}

// machine guards the exit sequence's irreversible forward-only
// transitions. It runs once per boot and a backward or skipped
// transition is a programming error, not a recoverable condition.
type machine struct {
	current state
}

func (m *machine) transition(to state) error {
	if to != m.current+1 {
		return fmt.Errorf("handoff: illegal transition %s -> %s", m.current, to)
	}
	m.current = to
	return nil
}

// Deps bundles every external collaborator Run drives. image is the
// firmware-issued handle to this loaded UEFI application, threaded
// explicitly rather than held as a package global.
type Deps struct {
	BS     efi.BootServices
	Image  efi.Handle
	Loader loader.Loader
	Parser bootconfig.Parser
	ACPI   acpi.Discovery
	Arch   pagetable.Builder

	// transfer overrides Transfer for tests, which cannot safely branch
	// to an arbitrary "kernel entry" address. Left nil in production;
	// Run falls back to the real Transfer.
	transfer func(entry, multibootBase, stack uintptr)
}

// handoffState is the stack-local snapshot taken immediately before
// cfg's bookkeeping is released: everything Run needs after that
// point, copied onto the local stack with no remaining dependency on
// cfg, which may then be safely released.
type handoffState struct {
	kernelEntry     uintptr
	multibootBase   uintptr
	multibootSize   uint64
	mmapTagOffset   int
	mmapSlotOffset  int
	kernelStackBase uintptr
	kernelStackSize uint64
	rootTable       uintptr
}

// Run orchestrates the boot transport already produced as deps.Loader
// by the caller through the full exit sequence: parser → ACPI →
// component loads (boot driver, CPU driver, modules) → page tables →
// ELF preparation (boot driver, CPU driver) → multiboot assembly →
// retire loader → capture map → exit boot services → MMU → jump.
//
// Every error before BOOT_SERVICES_EXITED is pre-exit and returns to
// the caller, classified ConfigUnreachable/ImageInvalid/
// ResourceExhausted/FirmwareRefused. Once ExitBootServices succeeds,
// the only path out is the diverging Transfer call; any failure past
// that point is unrecoverable by construction and Run cannot return
// from that branch except via a PostExitFatal error immediately before
// diverging -- the machine is stuck past that point.
func Run(ctx context.Context, deps Deps) error {
	m := &machine{current: stateInit}

	if err := deps.BS.SetWatchdogTimer(ctx, 0, 0, nil); err != nil {
		return bootlog.NewBootError(bootlog.FirmwareRefused, fmt.Errorf("handoff: disarming watchdog: %w", err))
	}

	cfg, err := loadConfig(ctx, deps.Loader, deps.Parser)
	if err != nil {
		return bootlog.NewBootError(bootlog.ConfigUnreachable, err)
	}
	if err := m.transition(stateConfigLoaded); err != nil {
		return err
	}

	if err := deps.ACPI.FindRootTable(cfg); err != nil {
		bootlog.Warnf("handoff: ACPI root table not found: %v", err)
	}
	if err := deps.ACPI.ParseMADT(cfg); err != nil {
		bootlog.Warnf("handoff: ACPI MADT parse failed: %v", err)
	}

	if err := loadComponents(ctx, deps.Loader, cfg, deps.BS); err != nil {
		return bootlog.NewBootError(bootlog.ResourceExhausted, err)
	}
	if err := m.transition(stateComponentsLoaded); err != nil {
		return err
	}

	preMmap, err := deps.BS.GetMemoryMap(ctx)
	if err != nil {
		return bootlog.NewBootError(bootlog.FirmwareRefused, fmt.Errorf("handoff: querying preliminary memory map: %w", err))
	}
	if err := deps.Arch.ArchProbe(); err != nil {
		return bootlog.NewBootError(bootlog.FirmwareRefused, fmt.Errorf("handoff: CPU does not support required page-table format: %w", err))
	}
	if err := deps.Arch.BuildPageTables(cfg, preMmap); err != nil {
		return bootlog.NewBootError(bootlog.ResourceExhausted, fmt.Errorf("handoff: building page tables: %w", err))
	}
	rootTable, err := deps.Arch.GetRootTable(cfg)
	if err != nil {
		return bootlog.NewBootError(bootlog.ResourceExhausted, err)
	}
	if err := m.transition(statePageTablesBuilt); err != nil {
		return err
	}

	if err := prepareDrivers(ctx, cfg, deps.BS); err != nil {
		return bootlog.NewBootError(bootlog.ImageInvalid, err)
	}
	if err := m.transition(stateDriversPrepared); err != nil {
		return err
	}

	multibootSize, err := multiboot.Size(cfg)
	if err != nil {
		return bootlog.NewBootError(bootlog.ResourceExhausted, err)
	}
	if err := multiboot.Assemble(ctx, cfg, deps.Loader, deps.BS); err != nil {
		return bootlog.NewBootError(bootlog.ResourceExhausted, fmt.Errorf("handoff: assembling multiboot structure: %w", err))
	}
	if err := m.transition(stateMultibootAssembled); err != nil {
		return err
	}

	if err := deps.Loader.Done(); err != nil {
		bootlog.Warnf("handoff: retiring loader: %v", err)
	}
	if err := m.transition(stateLoaderRetired); err != nil {
		return err
	}

	hs := handoffState{
		// Transfer branches to the boot driver, not the CPU driver
		// directly -- the boot driver reads the EFI64 tag (which holds
		// the CPU driver's relocated entry point) and jumps there
		// itself once it has relocated.
		kernelEntry:     cfg.BootDriverEntry,
		multibootBase:   cfg.MultibootBase,
		multibootSize:   multibootSize,
		mmapTagOffset:   cfg.MmapTagOffset,
		mmapSlotOffset:  cfg.MmapSlotOffset,
		kernelStackBase: cfg.CPUDriverStackBase,
		kernelStackSize: cfg.EffectiveStackSize(),
		rootTable:       rootTable,
	}
	cfg = nil // bookkeeping may now be released; nothing below may touch cfg.
	if err := m.transition(stateImageRetired); err != nil {
		return err
	}

	mmap, err := deps.BS.GetMemoryMap(ctx)
	if err != nil {
		return bootlog.NewBootError(bootlog.FirmwareRefused, fmt.Errorf("handoff: capturing final memory map: %w", err))
	}
	if err := m.transition(stateMemoryMapCaptured); err != nil {
		return err
	}

	RelocateMemoryMap(mmap, deps.Arch.KernelVirtualOffset())
	if err := m.transition(stateMmapRelocated); err != nil {
		return err
	}

	mem := efi.PhysicalAddress(hs.multibootBase).Bytes(hs.multibootSize)
	if err := multiboot.FillMemoryMapTag(mem, hs.mmapTagOffset, hs.mmapSlotOffset, mmap); err != nil {
		return bootlog.NewBootError(bootlog.ResourceExhausted, err)
	}
	if err := m.transition(stateMmapTagFilled); err != nil {
		return err
	}

	if err := deps.BS.ExitBootServices(ctx, deps.Image, mmap.Key); err != nil {
		return bootlog.NewBootError(bootlog.FirmwareRefused, fmt.Errorf("handoff: ExitBootServices: %w", err))
	}
	if err := m.transition(stateBootServicesExited); err != nil {
		return bootlog.NewBootError(bootlog.PostExitFatal, err)
	}

	// No firmware service may be invoked past this point. Any failure
	// below is unrecoverable.
	if err := deps.Arch.ArchInit(hs.rootTable); err != nil {
		return bootlog.NewBootError(bootlog.PostExitFatal, fmt.Errorf("handoff: ArchInit: %w", err))
	}
	if err := m.transition(stateMMUReconfigured); err != nil {
		return bootlog.NewBootError(bootlog.PostExitFatal, err)
	}
	if err := m.transition(stateControlTransferred); err != nil {
		return bootlog.NewBootError(bootlog.PostExitFatal, err)
	}

	stackTop := hs.kernelStackBase + uintptr(hs.kernelStackSize) - 16
	transfer := deps.transfer
	if transfer == nil {
		transfer = Transfer
	}
	transfer(hs.kernelEntry, hs.multibootBase, stackTop)
	panic("handoff: Transfer returned")
}

func loadConfig(ctx context.Context, ld loader.Loader, parser bootconfig.Parser) (*bootconfig.ConfigRecord, error) {
	name, err := ld.ConfigName()
	if err != nil {
		return nil, fmt.Errorf("handoff: resolving configuration name: %w", err)
	}
	size, err := ld.Size(name)
	if err != nil {
		return nil, fmt.Errorf("handoff: querying configuration size: %w", err)
	}
	buf := make([]byte, size)
	if _, err := ld.Read(name, buf); err != nil {
		return nil, fmt.Errorf("handoff: reading configuration: %w", err)
	}
	cfg, err := parser.Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("handoff: parsing configuration: %w", err)
	}
	return cfg, nil
}

func loadComponents(ctx context.Context, ld loader.Loader, cfg *bootconfig.ConfigRecord, bs efi.BootServices) error {
	if err := component.Load(ctx, ld, &cfg.BootDriver, cfg.Buf, bs); err != nil {
		return fmt.Errorf("handoff: loading boot driver: %w", err)
	}
	if err := component.Load(ctx, ld, &cfg.CPUDriver, cfg.Buf, bs); err != nil {
		return fmt.Errorf("handoff: loading CPU driver: %w", err)
	}
	for i := range cfg.Modules {
		if err := component.Load(ctx, ld, &cfg.Modules[i], cfg.Buf, bs); err != nil {
			return fmt.Errorf("handoff: loading module %d: %w", i, err)
		}
	}
	return nil
}

// prepareDrivers prepares both ELF images: the boot driver is relocated
// identity (kernelOffset 0, since it is what Hagfish branches to
// first), the CPU driver is relocated to its kernel-virtual addresses.
func prepareDrivers(ctx context.Context, cfg *bootconfig.ConfigRecord, bs efi.BootServices) error {
	bootImg := efi.PhysicalAddress(cfg.BootDriver.ImageAddress).Bytes(cfg.BootDriver.ImageSize)
	regions, entry, err := elfload.Prepare(ctx, bootImg, 0, bs)
	if err != nil {
		return fmt.Errorf("preparing boot driver: %w", err)
	}
	cfg.BootDriverRegions = regions
	cfg.BootDriverEntry = entry

	cpuImg := efi.PhysicalAddress(cfg.CPUDriver.ImageAddress).Bytes(cfg.CPUDriver.ImageSize)
	regions, entry, err = elfload.Prepare(ctx, cpuImg, KernelOffset, bs)
	if err != nil {
		return fmt.Errorf("preparing CPU driver: %w", err)
	}
	cfg.CPUDriverRegions = regions
	cfg.CPUDriverEntry = entry

	stackPages := memregion.CoverPages(cfg.EffectiveStackSize())
	stackAddr, err := bs.AllocatePages(ctx, stackPages, efi.CPUDriverStack)
	if err != nil {
		return fmt.Errorf("allocating CPU driver stack: %w", err)
	}
	cfg.CPUDriverStackBase = uintptr(stackAddr)
	return nil
}

// RelocateMemoryMap rewrites each descriptor's VirtualStart to the
// kernel's virtual address space, so the kernel can index the map
// post-MMU-switch.
func RelocateMemoryMap(mmap efi.MemoryMap, kernelVirtualOffset uint64) {
	for i := range mmap.Descriptors {
		mmap.Descriptors[i].VirtualStart = mmap.Descriptors[i].PhysicalStart + kernelVirtualOffset
	}
}
