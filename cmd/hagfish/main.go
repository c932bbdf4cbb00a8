// Command hagfish is the UEFI application entry point: UefiMain's Go
// analogue. It wires transport selection through handoff.Run's full
// orchestration, then hands control to the kernel.
//
// hagfish itself implements no firmware: pkg/efi is interfaces only --
// collaborators, not reimplementations of firmware -- so this binary
// has nothing to link against on its own. Run cmd/hfsim to exercise
// component loading, ELF preparation and multiboot assembly on a host
// without real firmware; a production build supplies a concrete
// pkg/efi binding, a bootconfig.Parser, an acpi.Discovery and a
// pagetable.Builder and calls Boot from its own entry glue.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/barrelfish/hagfish/pkg/acpi"
	"github.com/barrelfish/hagfish/pkg/bootconfig"
	"github.com/barrelfish/hagfish/pkg/bootlog"
	"github.com/barrelfish/hagfish/pkg/efi"
	"github.com/barrelfish/hagfish/pkg/handoff"
	"github.com/barrelfish/hagfish/pkg/loader"
	"github.com/barrelfish/hagfish/pkg/pagetable"
)

// defaultLocalConfigPath is the local file system loader's
// configuration path when a shell connected, mirroring Hagfish.c's
// configure_loader: L"/menu.lst".
const defaultLocalConfigPath = "/menu.lst"

// newLoader selects the transport exactly as Hagfish.c's
// configure_loader does: local file system if the UEFI shell
// connected (tryShell), PXE boot otherwise.
func newLoader(ctx context.Context, bs efi.BootServices, image efi.LoadedImageProtocol, tryShell bool) (loader.Loader, error) {
	if tryShell {
		bootlog.Infof("try local file system")
		return loader.NewLocalFSLoader(ctx, bs, defaultLocalConfigPath)
	}

	bootlog.Infof("could not connect to shell or not enough parameters, assuming PXE boot")
	handle := image.DeviceHandle()
	proto, err := bs.OpenProtocol(ctx, handle, efi.PXEBaseCodeProtocolGUID, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("hagfish: opening PXE base code protocol: %w", err)
	}
	pxe, ok := proto.(efi.PXEBaseCodeProtocol)
	if !ok {
		return nil, fmt.Errorf("hagfish: device handle does not implement PXEBaseCodeProtocol")
	}
	return loader.NewPXELoader(ctx, bs, handle, pxe)
}

// Boot drives the full boot: transport selection, then handoff.Run for
// everything else. bs, imageHandle, loadedImage, parser, disc and arch
// are the firmware-specific collaborators a concrete build supplies;
// this package owns none of them.
func Boot(ctx context.Context, bs efi.BootServices, imageHandle efi.Handle, loadedImage efi.LoadedImageProtocol, tryShell bool, parser bootconfig.Parser, disc acpi.Discovery, arch pagetable.Builder) error {
	ld, err := newLoader(ctx, bs, loadedImage, tryShell)
	if err != nil {
		return fmt.Errorf("hagfish: selecting boot transport: %w", err)
	}

	deps := handoff.Deps{
		BS:     bs,
		Image:  imageHandle,
		Loader: ld,
		Parser: parser,
		ACPI:   disc,
		Arch:   arch,
	}
	return handoff.Run(ctx, deps)
}

func main() {
	bootlog.Errorf("hagfish is an interfaces-only UEFI application; link it against a concrete pkg/efi binding and call Boot from that build's entry glue, or run cmd/hfsim to exercise the pipeline on a host")
	os.Exit(1)
}
