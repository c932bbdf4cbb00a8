// Package elfload implements the ELF64 preparer: validates the header,
// allocates physical regions for each PT_LOAD segment, copies file
// data, zero-fills BSS, applies R_AARCH64_RELATIVE relocations, and
// locates the entry point.
//
// Parsing goes through the standard library's debug/elf, wrapped via
// xaionaro-go/bytesextra.NewReadWriteSeeker so a plain []byte can be
// handed to code that wants a seekable stream, the same adapter
// pkg/multiboot uses as the write cursor over its allocated buffer.
package elfload

import (
	"context"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/bytesextra"

	"github.com/barrelfish/hagfish/pkg/bootlog"
	"github.com/barrelfish/hagfish/pkg/efi"
	"github.com/barrelfish/hagfish/pkg/memregion"
)

// Sentinel errors for the Image-invalid failure kind.
var (
	ErrUnsupportedClass       = errors.New("elfload: not a 64-bit little-endian AArch64 ELF")
	ErrUnsupportedRelocation  = errors.New("elfload: unsupported relocation")
	ErrEntryNotFound          = errors.New("elfload: entry point is not contained in any PT_LOAD segment")
)

// r_AARCH64_RELATIVE is the only relocation type the preparer accepts;
// debug/elf does not define AArch64 relocation constants, so it is
// named here directly (ELF ABI for the 64-bit ARM architecture).
const r_AARCH64_RELATIVE = 1027

// Prepare validates, loads PT_LOAD segments, applies relocations, and
// locates the relocated entry point. kernelOffset
// is 0 for the boot driver (identity-mapped) and KERNEL_OFFSET for the
// CPU driver.
func Prepare(ctx context.Context, img []byte, kernelOffset uint64, bs efi.BootServices) (*memregion.RegionList, uintptr, error) {
	rws := bytesextra.NewReadWriteSeeker(img)
	f, err := elf.NewFile(rws)
	if err != nil {
		return nil, 0, fmt.Errorf("elfload: parsing elf header: %w", err)
	}

	if err := validateClass(f); err != nil {
		return nil, 0, err
	}
	if warn := validateSoft(f); warn != nil {
		bootlog.Warnf("elfload: %v", warn)
	}

	regions := &memregion.RegionList{}
	var loadable []*elf.Prog
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		loadable = append(loadable, prog)

		pages := memregion.CoverPages(prog.Memsz)
		addr, err := bs.AllocatePages(ctx, pages, efi.CPUDriverCode)
		if err != nil {
			return nil, 0, fmt.Errorf("elfload: allocating %d pages for segment at %#x: %w", pages, prog.Vaddr, err)
		}

		mem := efi.PhysicalAddress(addr).Bytes(pages * memregion.PageSize)
		for i := range mem {
			mem[i] = 0
		}
		if prog.Filesz > 0 {
			data := make([]byte, prog.Filesz)
			if _, err := rws.Seek(int64(prog.Off), 0); err != nil {
				return nil, 0, fmt.Errorf("elfload: seeking to segment file offset %#x: %w", prog.Off, err)
			}
			if _, err := rws.Read(data); err != nil {
				return nil, 0, fmt.Errorf("elfload: reading segment data: %w", err)
			}
			copy(mem, data)
		}

		if err := regions.Append(uintptr(addr), pages); err != nil {
			return nil, 0, fmt.Errorf("elfload: %w", err)
		}
	}

	entry, err := locateEntry(f, loadable, regions, kernelOffset)
	if err != nil {
		return nil, 0, err
	}

	if err := relocate(f, loadable, regions, kernelOffset); err != nil {
		return nil, 0, err
	}

	return regions, entry, nil
}

func validateClass(f *elf.File) error {
	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB || f.Machine != elf.EM_AARCH64 {
		return fmt.Errorf("%w: class=%s data=%s machine=%s", ErrUnsupportedClass, f.Class, f.Data, f.Machine)
	}
	return nil
}

// validateSoft checks the warn-but-continue conditions (OSABI,
// ET_EXEC), aggregating them with go-multierror so the caller gets
// every violation in one log line instead of only the first.
func validateSoft(f *elf.File) error {
	var result *multierror.Error
	if f.OSABI != elf.ELFOSABI_NONE && f.OSABI != elf.ELFOSABI_STANDALONE {
		result = multierror.Append(result, fmt.Errorf("unexpected OSABI %s", f.OSABI))
	}
	if f.Type != elf.ET_EXEC {
		result = multierror.Append(result, fmt.Errorf("unexpected ET type %s (expected ET_EXEC)", f.Type))
	}
	return result.ErrorOrNil()
}

// locateEntry finds the PT_LOAD segment containing f.Entry and
// computes the relocated entry point: region[i].Base + (entry -
// phdr[i].Vaddr) + kernelOffset.
func locateEntry(f *elf.File, loadable []*elf.Prog, regions *memregion.RegionList, kernelOffset uint64) (uintptr, error) {
	for i, prog := range loadable {
		if f.Entry >= prog.Vaddr && f.Entry < prog.Vaddr+prog.Memsz {
			region, ok := regions.At(i)
			if !ok {
				return 0, ErrEntryNotFound
			}
			return region.Base + uintptr(f.Entry-prog.Vaddr) + uintptr(kernelOffset), nil
		}
	}
	return 0, ErrEntryNotFound
}

// relocate applies R_AARCH64_RELATIVE relocations from every SHT_RELA
// section. The delta is computed once from segment 0 only -- the
// single-segment-delta behavior of the Hagfish original, preserved
// faithfully (see DESIGN.md's open-question note).
func relocate(f *elf.File, loadable []*elf.Prog, regions *memregion.RegionList, kernelOffset uint64) error {
	if len(loadable) == 0 {
		return nil
	}
	region0, ok := regions.At(0)
	if !ok {
		return ErrEntryNotFound
	}
	segmentDelta := uint64(region0.Base) - loadable[0].Vaddr

	for _, sec := range f.Sections {
		if sec.Type == elf.SHT_REL {
			return fmt.Errorf("%w: SHT_REL section %q (addend-less relocations unsupported)", ErrUnsupportedRelocation, sec.Name)
		}
		if sec.Type != elf.SHT_RELA {
			continue
		}
		if sec.Info != 0 {
			return fmt.Errorf("%w: SHT_RELA section %q has non-zero sh_info (local relocations unsupported)", ErrUnsupportedRelocation, sec.Name)
		}

		data, err := sec.Data()
		if err != nil {
			return fmt.Errorf("elfload: reading relocation section %q: %w", sec.Name, err)
		}
		if len(data)%24 != 0 {
			return fmt.Errorf("elfload: relocation section %q has malformed size %d", sec.Name, len(data))
		}

		for off := 0; off < len(data); off += 24 {
			entryOffset := binary.LittleEndian.Uint64(data[off:])
			info := binary.LittleEndian.Uint64(data[off+8:])
			addend := binary.LittleEndian.Uint64(data[off+16:])

			sym := info >> 32
			relType := info & 0xffffffff

			if relType != r_AARCH64_RELATIVE {
				return fmt.Errorf("%w: relocation type %d at offset %#x", ErrUnsupportedRelocation, relType, entryOffset)
			}
			if sym != 0 {
				return fmt.Errorf("%w: relocation at offset %#x has non-zero symbol %d", ErrUnsupportedRelocation, entryOffset, sym)
			}

			target := uintptr(entryOffset + segmentDelta)
			value := addend + segmentDelta + kernelOffset
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, value)
			copy(efi.PhysicalAddress(target).Bytes(8), buf)
		}
	}
	return nil
}
