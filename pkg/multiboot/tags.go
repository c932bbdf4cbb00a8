// Package multiboot implements the Multiboot2 boot-information
// assembler: a two-pass design -- precompute the exact total size,
// then emit a single contiguous, page-aligned, tagged structure
// through a cursor that trusts the precomputed size.
//
// Tag struct layouts are ported from the Hagfish C structs
// (multiboot_header, multiboot_tag_efi64, multiboot_tag_string, ...),
// keeping the same 8-byte tag alignment and {type,size} tag header
// convention a Multiboot2-aware kernel expects on the other end.
package multiboot

// Tag types, per the Multiboot2 wire format.
const (
	TagCmdline = 1
	TagModule  = 3
	TagOldACPI = 14
	TagNewACPI = 15
	TagNetwork = 16
	TagEFI64   = 12
	TagEFIMmap = 17
)

// ArchAArch64 is the Multiboot2 fixed-header architecture code for
// AArch64.
const ArchAArch64 = 0

// wordSize is the machine-word alignment every tag boundary is padded to.
const wordSize = 8

// headerMagic is the Multiboot2 fixed-header magic number.
const headerMagic = 0xe85250d6

// align rounds n up to the next multiple of wordSize.
func align(n uint64) uint64 {
	return (n + wordSize - 1) &^ (wordSize - 1)
}

// alignPage rounds n up to the next 4 KiB page boundary.
func alignPage(n uint64) uint64 {
	const page = 4096
	return (n + page - 1) &^ (page - 1)
}

// fixedHeaderSize is the size of the 16-byte Multiboot2 fixed header.
const fixedHeaderSize = 16

// tagHeaderSize is the size of a tag's {type, size} prefix.
const tagHeaderSize = 8

// efi64TagSize is the EFI64 tag: header + one pointer-sized entry-point slot.
const efi64TagSize = tagHeaderSize + 8

// moduleTagFixedSize is the fixed portion of a module_64 tag: header +
// mod_start + mod_end, before the null-terminated command line and
// image bytes.
const moduleTagFixedSize = tagHeaderSize + 16

// acpiOldSize, acpiNewSize are RSDPv1/RSDPv2 struct sizes.
const (
	acpiOldSize = 20
	acpiNewSize = 36
)
