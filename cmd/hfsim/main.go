// Command hfsim is a host-side simulator for developing and testing
// pkg/multiboot's assembler without real firmware: it drives the
// local-FS loader variant (pkg/loader's transport shape, reimplemented
// here directly against a plain directory since pkg/loader's own
// localFSLoader needs a real efi.BootServices/SimpleFileSystemProtocol)
// through component loading, ELF preparation and multiboot assembly,
// then prints a summary table and optionally writes the assembled
// buffer for cmd/mbinfo to inspect.
//
// It never imports pkg/handoff: handoff's Transfer is implemented in
// architecture-specific assembly that only links for the target
// kernel's architecture, not whatever host hfsim happens to run on.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jessevdk/go-flags"

	"github.com/barrelfish/hagfish/pkg/bootconfig"
	"github.com/barrelfish/hagfish/pkg/component"
	"github.com/barrelfish/hagfish/pkg/efi"
	"github.com/barrelfish/hagfish/pkg/elfload"
	"github.com/barrelfish/hagfish/pkg/loader"
	"github.com/barrelfish/hagfish/pkg/memregion"
	"github.com/barrelfish/hagfish/pkg/multiboot"
)

var opts struct {
	Dir          string `short:"d" long:"dir" required:"true" description:"directory containing the configuration and component files"`
	Config       string `short:"c" long:"config" default:"menu.lst" description:"configuration file name, relative to dir"`
	KernelOffset uint64 `long:"kernel-offset" default:"18446462598732840960" description:"CPU driver kernel-virtual relocation offset"`
	Out          string `short:"o" long:"out" description:"path to write the assembled multiboot buffer, for cmd/mbinfo"`
}

// hostLoader serves component bytes straight off disk -- the same five
// operations pkg/loader.Loader exposes, minus any firmware protocol.
type hostLoader struct {
	dir        string
	configName string
}

func (h *hostLoader) Size(path string) (uint64, error) {
	fi, err := os.Stat(filepath.Join(h.dir, path))
	if err != nil {
		return 0, fmt.Errorf("hfsim: stat %q: %w", path, err)
	}
	return uint64(fi.Size()), nil
}

func (h *hostLoader) Read(path string, buf []byte) (int, error) {
	data, err := os.ReadFile(filepath.Join(h.dir, path))
	if err != nil {
		return 0, fmt.Errorf("hfsim: reading %q: %w", path, err)
	}
	return copy(buf, data), nil
}

func (h *hostLoader) ConfigName() (string, error) { return h.configName, nil }
func (h *hostLoader) Done() error                 { return nil }

// PrepareNetTag emits DHCPPacketSize zero bytes, matching the local-FS
// variant's own behaviour (pkg/loader.localFSLoader.PrepareNetTag).
func (h *hostLoader) PrepareNetTag(w io.Writer) (int, error) {
	return w.Write(make([]byte, loader.DHCPPacketSize))
}

// hostBootServices backs AllocatePages with real heap buffers, the
// same pattern the component, elfload, multiboot and handoff test
// fakes use, so elfload and
// multiboot can dereference PhysicalAddress.Bytes safely.
type hostBootServices struct{ allocated [][]byte }

func (b *hostBootServices) AllocatePages(ctx context.Context, pages uint64, memType efi.MemoryType) (efi.PhysicalAddress, error) {
	buf := make([]byte, pages*memregion.PageSize+1)
	b.allocated = append(b.allocated, buf)
	return efi.PhysicalAddress(uintptr(unsafe.Pointer(&buf[0]))), nil
}
func (b *hostBootServices) FreePages(ctx context.Context, addr efi.PhysicalAddress, pages uint64) error {
	return nil
}
func (b *hostBootServices) OpenProtocol(ctx context.Context, handle efi.Handle, guid efi.GUID, agent, controller efi.Handle, attr uint32) (interface{}, error) {
	return nil, fmt.Errorf("hfsim: no firmware protocols are available")
}
func (b *hostBootServices) CloseProtocol(ctx context.Context, handle efi.Handle, guid efi.GUID, agent, controller efi.Handle) error {
	return nil
}
func (b *hostBootServices) GetMemoryMap(ctx context.Context) (efi.MemoryMap, error) {
	return efi.MemoryMap{}, fmt.Errorf("hfsim: no memory map on a host simulator")
}
func (b *hostBootServices) ExitBootServices(ctx context.Context, image efi.Handle, mapKey efi.MapKey) error {
	return fmt.Errorf("hfsim: there are no boot services to exit")
}
func (b *hostBootServices) SetWatchdogTimer(ctx context.Context, timeout uint64, code uint64, data []uint16) error {
	return nil
}
func (b *hostBootServices) LocateHandleBuffer(ctx context.Context, guid efi.GUID) ([]efi.Handle, error) {
	return nil, nil
}

// configBuilder accumulates path/args strings into one buffer, the
// shape bootconfig.ConfigRecord.Buf expects every descriptor to slice
// into.
type configBuilder struct{ buf []byte }

func (cb *configBuilder) add(s string) (start, length int) {
	start = len(cb.buf)
	cb.buf = append(cb.buf, s...)
	return start, len(s)
}

// parseConfig reads hfsim's own deliberately tiny configuration
// grammar -- one "bootdriver|cpudriver|module <path> [args...]"
// directive per line, plus an optional "stacksize <bytes>" -- since
// the real configuration grammar is an explicit non-goal of the core
// (pkg/bootconfig.Parser is a consumed interface, not implemented
// here). It exists only so hfsim has something to drive pkg/component
// and pkg/multiboot with.
func parseConfig(raw []byte) (*bootconfig.ConfigRecord, error) {
	cb := &configBuilder{}
	cfg := &bootconfig.ConfigRecord{}

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "bootdriver", "cpudriver", "module":
			if len(fields) < 2 {
				return nil, fmt.Errorf("hfsim: %s directive needs a path", fields[0])
			}
			pathStart, pathLen := cb.add(fields[1])
			argsStart, argsLen := cb.add(strings.Join(fields[2:], " "))
			desc := bootconfig.ComponentDescriptor{
				PathStart: pathStart, PathLen: pathLen,
				ArgsStart: argsStart, ArgsLen: argsLen,
			}
			switch fields[0] {
			case "bootdriver":
				cfg.BootDriver = desc
			case "cpudriver":
				cfg.CPUDriver = desc
			case "module":
				cfg.Modules = append(cfg.Modules, desc)
			}
		case "stacksize":
			if len(fields) != 2 {
				return nil, fmt.Errorf("hfsim: stacksize directive needs exactly one value")
			}
			n, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("hfsim: parsing stacksize: %w", err)
			}
			cfg.StackSize = n
		default:
			return nil, fmt.Errorf("hfsim: unknown directive %q", fields[0])
		}
	}
	cfg.Buf = cb.buf

	if cfg.BootDriver.PathLen == 0 {
		return nil, fmt.Errorf("hfsim: configuration is missing a bootdriver directive")
	}
	if cfg.CPUDriver.PathLen == 0 {
		return nil, fmt.Errorf("hfsim: configuration is missing a cpudriver directive")
	}
	return cfg, nil
}

func run() error {
	ctx := context.Background()
	ld := &hostLoader{dir: opts.Dir, configName: opts.Config}
	bs := &hostBootServices{}

	name, err := ld.ConfigName()
	if err != nil {
		return err
	}
	size, err := ld.Size(name)
	if err != nil {
		return err
	}
	raw := make([]byte, size)
	if _, err := ld.Read(name, raw); err != nil {
		return err
	}
	cfg, err := parseConfig(raw)
	if err != nil {
		return err
	}

	if err := component.Load(ctx, ld, &cfg.BootDriver, cfg.Buf, bs); err != nil {
		return fmt.Errorf("hfsim: loading boot driver: %w", err)
	}
	if err := component.Load(ctx, ld, &cfg.CPUDriver, cfg.Buf, bs); err != nil {
		return fmt.Errorf("hfsim: loading CPU driver: %w", err)
	}
	for i := range cfg.Modules {
		if err := component.Load(ctx, ld, &cfg.Modules[i], cfg.Buf, bs); err != nil {
			return fmt.Errorf("hfsim: loading module %d: %w", i, err)
		}
	}

	bootImg := efi.PhysicalAddress(cfg.BootDriver.ImageAddress).Bytes(cfg.BootDriver.ImageSize)
	_, entry, err := elfload.Prepare(ctx, bootImg, 0, bs)
	if err != nil {
		return fmt.Errorf("hfsim: preparing boot driver: %w", err)
	}
	cfg.BootDriverEntry = entry

	cpuImg := efi.PhysicalAddress(cfg.CPUDriver.ImageAddress).Bytes(cfg.CPUDriver.ImageSize)
	_, entry, err = elfload.Prepare(ctx, cpuImg, opts.KernelOffset, bs)
	if err != nil {
		return fmt.Errorf("hfsim: preparing CPU driver: %w", err)
	}
	cfg.CPUDriverEntry = entry

	multibootSize, err := multiboot.Size(cfg)
	if err != nil {
		return fmt.Errorf("hfsim: sizing multiboot structure: %w", err)
	}
	if err := multiboot.Assemble(ctx, cfg, ld, bs); err != nil {
		return fmt.Errorf("hfsim: assembling multiboot structure: %w", err)
	}

	printSummary(cfg, multibootSize)

	if opts.Out != "" {
		mem := efi.PhysicalAddress(cfg.MultibootBase).Bytes(multibootSize)
		if err := os.WriteFile(opts.Out, mem, 0644); err != nil {
			return fmt.Errorf("hfsim: writing %q: %w", opts.Out, err)
		}
		fmt.Printf("wrote %s to %s\n", humanize.Bytes(multibootSize), opts.Out)
	}
	return nil
}

func printSummary(cfg *bootconfig.ConfigRecord, multibootSize uint64) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("hfsim component summary")
	t.AppendHeader(table.Row{"Component", "Path", "Size", "Codec", "Entry"})
	t.AppendRow(table.Row{"boot driver", cfg.BootDriver.Path(cfg.Buf), humanize.Bytes(cfg.BootDriver.ImageSize), componentCodec(cfg.BootDriver.Codec), fmt.Sprintf("%#x", cfg.BootDriverEntry)})
	t.AppendRow(table.Row{"CPU driver", cfg.CPUDriver.Path(cfg.Buf), humanize.Bytes(cfg.CPUDriver.ImageSize), componentCodec(cfg.CPUDriver.Codec), fmt.Sprintf("%#x", cfg.CPUDriverEntry)})
	for i, m := range cfg.Modules {
		t.AppendRow(table.Row{fmt.Sprintf("module %d", i), m.Path(cfg.Buf), humanize.Bytes(m.ImageSize), componentCodec(m.Codec), "-"})
	}
	t.AppendFooter(table.Row{"multiboot buffer", "", humanize.Bytes(multibootSize), "", ""})
	t.Render()
}

func componentCodec(name string) string {
	if name == "" {
		return "identity"
	}
	return name
}

func main() {
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
