// Command mbinfo dumps an assembled Multiboot2 buffer (captured from
// cmd/hfsim's -out flag) as a table: fixed header fields, then every
// tag's offset, type and size. It is the Go-CLI descendant of
// Hagfish.c's print_multiboot_layout debug dump, which walked the same
// structure tag-by-tag with AsciiPrint before ExitBootServices.
package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	flag "github.com/spf13/pflag"

	"github.com/barrelfish/hagfish/pkg/multiboot"
)

// Multiboot2 wire-format constants: a fixed 16-byte header and 8-byte
// tag headers, every boundary word-aligned to 8 bytes. pkg/multiboot
// keeps its own copies unexported since they are an implementation
// detail of assembly; mbinfo only ever reads the wire format back, so
// it restates them rather than importing unexported constants.
const (
	fixedHeaderSize = 16
	tagHeaderSize   = 8
	wordSize        = 8
)

var tagNames = map[uint32]string{
	multiboot.TagCmdline: "CMDLINE",
	multiboot.TagModule:  "MODULE",
	multiboot.TagOldACPI: "ACPI_OLD",
	multiboot.TagNewACPI: "ACPI_NEW",
	multiboot.TagNetwork: "NETWORK",
	multiboot.TagEFI64:   "EFI64",
	multiboot.TagEFIMmap: "EFI_MMAP",
}

func tagName(t uint32) string {
	if t == 0 {
		return "END"
	}
	if n, ok := tagNames[t]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN(%d)", t)
}

func align(n uint64) uint64 {
	return (n + wordSize - 1) &^ (wordSize - 1)
}

// tagDetail renders a tag-specific detail column: the EFI64 tag's
// entry pointer, a MODULE tag's mod_start/mod_end, or a CMDLINE tag's
// string -- the same per-tag fields Hagfish.c's print_multiboot_layout
// printed one AsciiPrint block at a time.
func tagDetail(tagType uint32, payload []byte) string {
	switch tagType {
	case multiboot.TagEFI64:
		if len(payload) >= 8 {
			return fmt.Sprintf("entry=%#x", binary.LittleEndian.Uint64(payload))
		}
	case multiboot.TagModule:
		if len(payload) >= 16 {
			start := binary.LittleEndian.Uint64(payload[0:])
			end := binary.LittleEndian.Uint64(payload[8:])
			return fmt.Sprintf("mod_start=%#x mod_end=%#x", start, end)
		}
	case multiboot.TagCmdline:
		return fmt.Sprintf("cmdline=%q", cString(payload))
	case multiboot.TagEFIMmap:
		if len(payload) >= 8 {
			descrSize := binary.LittleEndian.Uint32(payload[0:])
			descrVers := binary.LittleEndian.Uint32(payload[4:])
			return fmt.Sprintf("descr_size=%d descr_vers=%d entries=%s", descrSize, descrVers,
				humanize.Bytes(uint64(len(payload)-8)))
		}
	}
	return ""
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func dump(buf []byte, verbose bool) error {
	if uint64(len(buf)) < fixedHeaderSize {
		return fmt.Errorf("mbinfo: buffer too short for a fixed header: %d bytes", len(buf))
	}
	magic := binary.LittleEndian.Uint32(buf[0:])
	arch := binary.LittleEndian.Uint32(buf[4:])
	headerLength := binary.LittleEndian.Uint32(buf[8:])
	checksum := binary.LittleEndian.Uint32(buf[12:])

	fmt.Printf("magic=%#x arch=%d header_length=%s checksum=%#x (sum mod 2^32=%#x, valid=%v)\n",
		magic, arch, humanize.Bytes(uint64(headerLength)), checksum,
		magic+arch+headerLength+checksum, magic+arch+headerLength+checksum == 0)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("multiboot2 tags")
	header := table.Row{"Offset", "Type", "Size"}
	if verbose {
		header = append(header, "Detail")
	}
	t.AppendHeader(header)

	pos := align(fixedHeaderSize)
	for pos+tagHeaderSize <= uint64(headerLength) && pos+tagHeaderSize <= uint64(len(buf)) {
		tagType := binary.LittleEndian.Uint32(buf[pos:])
		tagSize := binary.LittleEndian.Uint32(buf[pos+4:])

		row := table.Row{fmt.Sprintf("%#x", pos), tagName(tagType), humanize.Bytes(uint64(tagSize))}
		if verbose {
			payloadEnd := pos + uint64(tagSize)
			if payloadEnd > uint64(len(buf)) {
				payloadEnd = uint64(len(buf))
			}
			row = append(row, tagDetail(tagType, buf[pos+tagHeaderSize:payloadEnd]))
		}
		t.AppendRow(row)

		if tagType == 0 {
			break
		}
		if tagSize < tagHeaderSize {
			return fmt.Errorf("mbinfo: tag at %#x has implausible size %d", pos, tagSize)
		}
		pos += align(uint64(tagSize))
	}
	t.Render()
	return nil
}

var verbose = flag.BoolP("verbose", "v", false, "print per-tag detail fields")

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: mbinfo [-v] <multiboot-buffer-file>")
		os.Exit(1)
	}

	buf, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := dump(buf, *verbose); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
