package multiboot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/xaionaro-go/bytesextra"

	"github.com/barrelfish/hagfish/pkg/bootconfig"
	"github.com/barrelfish/hagfish/pkg/efi"
	"github.com/barrelfish/hagfish/pkg/loader"
	"github.com/barrelfish/hagfish/pkg/memregion"
)

// MemMapSize is the reserved byte size of the post-exit UEFI memory-map
// payload slot.
const MemMapSize = 32 * 1024

// ErrAssertionFailed indicates the emission pass did not consume
// exactly the precomputed size.
var ErrAssertionFailed = errors.New("multiboot: emitted size does not match precomputed size")

// Size computes the word-aligned sum of the fixed header, EFI64 tag,
// CMDLINE tag, network tag, optional ACPI tags, one module tag per
// component, the EFI mmap tag header, and the reserved mmap payload
// slot -- then rounded up to a page.
func Size(cfg *bootconfig.ConfigRecord) (uint64, error) {
	return alignPage(emittedSize(cfg)), nil
}

// emittedSize is the word-aligned sum Size rounds up to a page: exactly
// the number of bytes Assemble's emission pass writes.
func emittedSize(cfg *bootconfig.ConfigRecord) uint64 {
	total := align(fixedHeaderSize)
	total += align(efi64TagSize)
	total += align(tagHeaderSize + uint64(cfg.CPUDriver.ArgsLen) + 1)
	total += align(tagHeaderSize + loader.DHCPPacketSize)

	if cfg.ACPI.RSDPv1 != 0 {
		total += align(tagHeaderSize + acpiOldSize)
	}
	if cfg.ACPI.RSDPv2 != 0 {
		total += align(tagHeaderSize + acpiNewSize)
	}

	total += align(moduleTagSize(&cfg.BootDriver))
	total += align(moduleTagSize(&cfg.CPUDriver))
	for i := range cfg.Modules {
		total += align(moduleTagSize(&cfg.Modules[i]))
	}

	total += align(tagHeaderSize + 8) // mmap tag header (descr_size, descr_vers)
	total += align(MemMapSize)

	return total
}

func moduleTagSize(c *bootconfig.ComponentDescriptor) uint64 {
	return moduleTagFixedSize + uint64(c.ArgsLen) + 1 + c.ImageSize
}

// cursor is the mutating write position into the pre-sized Multiboot2
// buffer, backed by an io.WriteSeeker over the allocated physical
// memory -- the same bytesextra adapter pkg/elfload uses for reading a
// []byte as a seekable stream, used here the other direction to write one.
type cursor struct {
	w    io.WriteSeeker
	base uint64
	pos  uint64
}

func (c *cursor) writeHeader(tagType, size uint32) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:], tagType)
	binary.LittleEndian.PutUint32(hdr[4:], size)
	return c.write(hdr[:])
}

func (c *cursor) write(b []byte) error {
	n, err := c.w.Write(b)
	c.pos += uint64(n)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("multiboot: short write: %d of %d bytes", n, len(b))
	}
	return nil
}

// pad advances the cursor to the next word boundary by writing zero bytes.
func (c *cursor) pad() error {
	target := align(c.pos - c.base)
	gap := target - (c.pos - c.base)
	if gap == 0 {
		return nil
	}
	return c.write(make([]byte, gap))
}

// finishTag pads to the next word boundary, then back-patches the
// tag's size field at start+4 with the now-known aligned size,
// including header and payload.
func (c *cursor) finishTag(mem []byte, start uint64) error {
	if err := c.pad(); err != nil {
		return err
	}
	return patchUint32(mem, start+4, uint32(c.pos-start))
}

// Assemble allocates the precomputed size under efi.MultibootData,
// zeroes it, then writes tags in the fixed order. cfg is updated with
// MultibootBase, MmapTagOffset and MmapSlotOffset for pkg/handoff's
// post-exit fill.
func Assemble(ctx context.Context, cfg *bootconfig.ConfigRecord, ld loader.Loader, bs efi.BootServices) error {
	size, err := Size(cfg)
	if err != nil {
		return err
	}
	pages := memregion.CoverPages(size)
	addr, err := bs.AllocatePages(ctx, pages, efi.MultibootData)
	if err != nil {
		return fmt.Errorf("multiboot: allocating %d pages: %w", pages, err)
	}
	mem := efi.PhysicalAddress(addr).Bytes(pages * memregion.PageSize)
	for i := range mem {
		mem[i] = 0
	}

	w := bytesextra.NewReadWriteSeeker(mem)
	c := &cursor{w: w, base: 0}

	// 1. Fixed header -- checksum and header_length are back-patched
	// once the total emitted size is known.
	if err := c.write(make([]byte, fixedHeaderSize)); err != nil {
		return err
	}
	if err := c.pad(); err != nil {
		return err
	}

	// 2. EFI64 tag: the CPU driver's relocated entry point. Hagfish
	// branches to the boot driver first (identity-mapped); the boot
	// driver reads this tag to find the CPU driver's relocated
	// high-half entry and jumps there itself.
	efi64Start := c.pos
	if err := c.writeHeader(TagEFI64, 0); err != nil {
		return err
	}
	var entryBuf [8]byte
	binary.LittleEndian.PutUint64(entryBuf[:], uint64(cfg.CPUDriverEntry))
	if err := c.write(entryBuf[:]); err != nil {
		return err
	}
	if err := c.finishTag(mem, efi64Start); err != nil {
		return err
	}

	// 3. CMDLINE tag: the CPU driver's command line.
	cmdStart := c.pos
	args := cfg.CPUDriver.Args(cfg.Buf)
	if err := c.writeHeader(TagCmdline, 0); err != nil {
		return err
	}
	if err := c.write(append([]byte(args), 0)); err != nil {
		return err
	}
	if err := c.finishTag(mem, cmdStart); err != nil {
		return err
	}

	// 4. Network tag, delegated to the loader.
	netStart := c.pos
	if err := c.writeHeader(TagNetwork, 0); err != nil {
		return err
	}
	n, err := ld.PrepareNetTag(w)
	if err != nil {
		return fmt.Errorf("multiboot: preparing network tag: %w", err)
	}
	c.pos += uint64(n)
	if err := c.finishTag(mem, netStart); err != nil {
		return err
	}

	// 5/6. Optional ACPI tags.
	if cfg.ACPI.RSDPv1 != 0 {
		acpiStart := c.pos
		if err := c.writeHeader(TagOldACPI, 0); err != nil {
			return err
		}
		if err := c.write(efi.PhysicalAddress(cfg.ACPI.RSDPv1).Bytes(acpiOldSize)); err != nil {
			return err
		}
		if err := c.finishTag(mem, acpiStart); err != nil {
			return err
		}
	}
	if cfg.ACPI.RSDPv2 != 0 {
		acpiStart := c.pos
		if err := c.writeHeader(TagNewACPI, 0); err != nil {
			return err
		}
		if err := c.write(efi.PhysicalAddress(cfg.ACPI.RSDPv2).Bytes(acpiNewSize)); err != nil {
			return err
		}
		if err := c.finishTag(mem, acpiStart); err != nil {
			return err
		}
	}

	// 7/8/9. Module tags: boot driver, CPU driver, then configured
	// modules in configuration-file order.
	if err := writeModuleTag(c, mem, &cfg.BootDriver, cfg.Buf); err != nil {
		return err
	}
	if err := writeModuleTag(c, mem, &cfg.CPUDriver, cfg.Buf); err != nil {
		return err
	}
	for i := range cfg.Modules {
		if err := writeModuleTag(c, mem, &cfg.Modules[i], cfg.Buf); err != nil {
			return err
		}
	}

	// 10/11. EFI mmap tag header + reserved payload slot. The payload
	// is filled post-exit by FillMemoryMapTag; here only the header
	// (with a placeholder size covering the whole reserved slot) and
	// zeroed slot are reserved.
	mmapTagOffset := c.pos
	if err := c.writeHeader(TagEFIMmap, 0); err != nil {
		return err
	}
	if err := c.write(make([]byte, 8)); err != nil { // descr_size, descr_vers placeholders
		return err
	}
	mmapSlotOffset := c.pos
	if err := c.write(make([]byte, MemMapSize)); err != nil {
		return err
	}
	if err := c.finishTag(mem, mmapTagOffset); err != nil {
		return err
	}

	cfg.MultibootBase = uintptr(addr)
	cfg.MmapTagOffset = int(mmapTagOffset)
	cfg.MmapSlotOffset = int(mmapSlotOffset)

	// Back-patch the fixed header now that header_length is known:
	// it equals the distance from the base to the end of the
	// reserved mmap payload slot.
	if err := writeFixedHeader(mem, uint32(c.pos)); err != nil {
		return err
	}

	if want := emittedSize(cfg); c.pos != want {
		return fmt.Errorf("%w: wrote %d bytes, precomputed %d", ErrAssertionFailed, c.pos, want)
	}

	return nil
}

func writeModuleTag(c *cursor, mem []byte, cmp *bootconfig.ComponentDescriptor, cfgBuf []byte) error {
	start := c.pos
	args := cmp.Args(cfgBuf)
	if err := c.writeHeader(TagModule, 0); err != nil {
		return err
	}
	modStart := uint64(cmp.ImageAddress)
	var modEnd uint64
	if cmp.ImageSize == 0 {
		modEnd = modStart - 1
	} else {
		modEnd = modStart + cmp.ImageSize - 1
	}
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[0:], modStart)
	binary.LittleEndian.PutUint64(hdr[8:], modEnd)
	if err := c.write(hdr[:]); err != nil {
		return err
	}
	if err := c.write(append([]byte(args), 0)); err != nil {
		return err
	}
	if cmp.ImageSize > 0 {
		if err := c.write(efi.PhysicalAddress(cmp.ImageAddress).Bytes(cmp.ImageSize)); err != nil {
			return err
		}
	}
	return c.finishTag(mem, start)
}

func patchUint32(mem []byte, offset uint64, v uint32) error {
	if offset+4 > uint64(len(mem)) {
		return fmt.Errorf("multiboot: patch offset %#x out of range", offset)
	}
	binary.LittleEndian.PutUint32(mem[offset:], v)
	return nil
}

// writeFixedHeader back-patches the Multiboot2 fixed header once the
// total emitted length is known: magic, AArch64 architecture code,
// header_length, and a checksum satisfying (magic + architecture +
// header_length + checksum) mod 2^32 == 0.
func writeFixedHeader(mem []byte, headerLength uint32) error {
	binary.LittleEndian.PutUint32(mem[0:], headerMagic)
	binary.LittleEndian.PutUint32(mem[4:], ArchAArch64)
	binary.LittleEndian.PutUint32(mem[8:], headerLength)
	checksum := -(headerMagic + uint32(ArchAArch64) + headerLength)
	binary.LittleEndian.PutUint32(mem[12:], checksum)
	return nil
}

// FillMemoryMapTag implements the post-exit capture fill: truncates
// DescriptorSize/Version to the Multiboot 32-bit width, copies the raw
// descriptor bytes into the pre-reserved slot, and rewrites the tag's
// size field. Called with the same buf Assemble wrote into -- no new
// allocation happens here; nothing may allocate between GetMemoryMap
// and ExitBootServices.
func FillMemoryMapTag(mem []byte, tagOffset, slotOffset int, mmap efi.MemoryMap) error {
	actual := mmap.Size()
	if uint64(slotOffset)+actual > uint64(len(mem)) {
		return fmt.Errorf("multiboot: captured memory map of %d bytes does not fit reserved slot", actual)
	}

	binary.LittleEndian.PutUint32(mem[tagOffset+8:], uint32(mmap.DescriptorSize))
	binary.LittleEndian.PutUint32(mem[tagOffset+12:], mmap.DescriptorVersion)

	off := slotOffset
	for _, d := range mmap.Descriptors {
		var entry [40]byte
		binary.LittleEndian.PutUint32(entry[0:], d.Type)
		binary.LittleEndian.PutUint64(entry[8:], d.PhysicalStart)
		binary.LittleEndian.PutUint64(entry[16:], d.VirtualStart)
		binary.LittleEndian.PutUint64(entry[24:], d.NumberOfPages)
		binary.LittleEndian.PutUint64(entry[32:], d.Attribute)
		copy(mem[off:], entry[:minInt(int(mmap.DescriptorSize), len(entry))])
		off += int(mmap.DescriptorSize)
	}

	newSize := uint32(tagHeaderSize+8) + uint32(actual)
	binary.LittleEndian.PutUint32(mem[tagOffset+4:], newSize)
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
