package multiboot

import (
	"context"
	"encoding/binary"
	"io"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barrelfish/hagfish/pkg/bootconfig"
	"github.com/barrelfish/hagfish/pkg/efi"
	"github.com/barrelfish/hagfish/pkg/loader"
	"github.com/barrelfish/hagfish/pkg/memregion"
)

type fakeBootServices struct {
	allocated [][]byte
}

func (f *fakeBootServices) AllocatePages(ctx context.Context, pages uint64, memType efi.MemoryType) (efi.PhysicalAddress, error) {
	buf := make([]byte, pages*memregion.PageSize+1)
	f.allocated = append(f.allocated, buf)
	return efi.PhysicalAddress(uintptr(unsafe.Pointer(&buf[0]))), nil
}
func (f *fakeBootServices) FreePages(ctx context.Context, addr efi.PhysicalAddress, pages uint64) error {
	return nil
}
func (f *fakeBootServices) OpenProtocol(ctx context.Context, handle efi.Handle, guid efi.GUID, agent, controller efi.Handle, attr uint32) (interface{}, error) {
	return nil, nil
}
func (f *fakeBootServices) CloseProtocol(ctx context.Context, handle efi.Handle, guid efi.GUID, agent, controller efi.Handle) error {
	return nil
}
func (f *fakeBootServices) GetMemoryMap(ctx context.Context) (efi.MemoryMap, error) {
	return efi.MemoryMap{}, nil
}
func (f *fakeBootServices) ExitBootServices(ctx context.Context, image efi.Handle, mapKey efi.MapKey) error {
	return nil
}
func (f *fakeBootServices) SetWatchdogTimer(ctx context.Context, timeout uint64, code uint64, data []uint16) error {
	return nil
}
func (f *fakeBootServices) LocateHandleBuffer(ctx context.Context, guid efi.GUID) ([]efi.Handle, error) {
	return nil, nil
}

type fakeLoader struct{ payload []byte }

func (f *fakeLoader) Size(path string) (uint64, error)          { return 0, nil }
func (f *fakeLoader) Read(path string, buf []byte) (int, error) { return 0, nil }
func (f *fakeLoader) ConfigName() (string, error)                { return "", nil }
func (f *fakeLoader) Done() error                                 { return nil }

// PrepareNetTag always writes a loader.DHCPPacketSize buffer, copying
// payload into its front, matching the fixed-size invariant both real
// loader variants guarantee (a full DHCP ACK, or zero-fill of the same
// size).
func (f *fakeLoader) PrepareNetTag(w io.Writer) (int, error) {
	buf := make([]byte, loader.DHCPPacketSize)
	copy(buf, f.payload)
	return w.Write(buf)
}

// fakeImage allocates a real backing buffer and returns its address as a
// PhysicalAddress, since writeModuleTag dereferences ImageAddress to copy
// the image bytes into the assembled structure -- a literal placeholder
// address would segfault.
func fakeImage(size uint64) uintptr {
	buf := make([]byte, size)
	return uintptr(unsafe.Pointer(&buf[0]))
}

func minimalConfig() *bootconfig.ConfigRecord {
	buf := []byte("loglevel=3")
	return &bootconfig.ConfigRecord{
		Buf:        buf,
		BootDriver: bootconfig.ComponentDescriptor{ImageAddress: fakeImage(128 * 1024), ImageSize: 128 * 1024},
		CPUDriver: bootconfig.ComponentDescriptor{
			ArgsStart: 0, ArgsLen: len(buf), ImageAddress: fakeImage(256 * 1024), ImageSize: 256 * 1024,
		},
	}
}

func TestSizeIsPageAlignedAndNonZero(t *testing.T) {
	cfg := minimalConfig()
	size, err := Size(cfg)
	require.NoError(t, err)
	assert.Greater(t, size, uint64(0))
	assert.Equal(t, uint64(0), size%4096, "total size must be page-aligned")
}

func TestSizeGrowsWithACPITags(t *testing.T) {
	cfg := minimalConfig()
	base, err := Size(cfg)
	require.NoError(t, err)

	cfg.ACPI.RSDPv1 = 0x3000
	cfg.ACPI.RSDPv2 = 0x4000
	withACPI, err := Size(cfg)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, withACPI, base)
}

func TestAssembleProducesValidFixedHeader(t *testing.T) {
	cfg := minimalConfig()
	cfg.BootDriverEntry = 0x1000

	bs := &fakeBootServices{}
	ld := &fakeLoader{}

	err := Assemble(context.Background(), cfg, ld, bs)
	require.NoError(t, err)
	require.NotZero(t, cfg.MultibootBase)

	size, err := Size(cfg)
	require.NoError(t, err)
	mem := efi.PhysicalAddress(cfg.MultibootBase).Bytes(size)

	magic := binary.LittleEndian.Uint32(mem[0:])
	arch := binary.LittleEndian.Uint32(mem[4:])
	headerLength := binary.LittleEndian.Uint32(mem[8:])
	checksum := binary.LittleEndian.Uint32(mem[12:])

	assert.Equal(t, uint32(headerMagic), magic)
	assert.Equal(t, uint32(ArchAArch64), arch)
	assert.Equal(t, uint32(0), magic+arch+headerLength+checksum,
		"magic + architecture + header_length + checksum must be 0 mod 2^32")
}

func TestAssembleTagsAreWordAlignedAndWalkable(t *testing.T) {
	cfg := minimalConfig()
	cfg.BootDriverEntry = 0x1000
	bs := &fakeBootServices{}
	ld := &fakeLoader{payload: []byte{1, 2, 3}}

	require.NoError(t, Assemble(context.Background(), cfg, ld, bs))

	size, err := Size(cfg)
	require.NoError(t, err)
	mem := efi.PhysicalAddress(cfg.MultibootBase).Bytes(size)
	headerLength := binary.LittleEndian.Uint32(mem[8:])

	cursor := uint64(fixedHeaderSize)
	var sawModule, sawEFI64, sawNetwork, sawCmdline int
	for cursor < uint64(headerLength) {
		tagType := binary.LittleEndian.Uint32(mem[cursor:])
		tagSize := binary.LittleEndian.Uint32(mem[cursor+4:])
		require.NotZero(t, tagSize, "tag at %#x has zero size", cursor)
		assert.Equal(t, uint64(0), uint64(tagSize)%wordSize, "tag at %#x must be word-aligned", cursor)

		switch tagType {
		case TagModule:
			sawModule++
		case TagEFI64:
			sawEFI64++
		case TagNetwork:
			sawNetwork++
		case TagCmdline:
			sawCmdline++
		}

		cursor += uint64(tagSize)
	}

	assert.Equal(t, 2, sawModule, "boot driver and cpu driver module tags")
	assert.Equal(t, 1, sawEFI64)
	assert.Equal(t, 1, sawNetwork)
	assert.Equal(t, 1, sawCmdline)
}

func TestFillMemoryMapTagUpdatesSizeAndCopiesDescriptors(t *testing.T) {
	cfg := minimalConfig()
	cfg.BootDriverEntry = 0x1000
	bs := &fakeBootServices{}
	ld := &fakeLoader{}
	require.NoError(t, Assemble(context.Background(), cfg, ld, bs))

	size, err := Size(cfg)
	require.NoError(t, err)
	mem := efi.PhysicalAddress(cfg.MultibootBase).Bytes(size)

	mmap := efi.MemoryMap{
		DescriptorSize:    40,
		DescriptorVersion: 1,
		Descriptors: []efi.MemoryDescriptor{
			{Type: 7, PhysicalStart: 0x100000, NumberOfPages: 16},
		},
	}

	require.NoError(t, FillMemoryMapTag(mem, cfg.MmapTagOffset, cfg.MmapSlotOffset, mmap))

	gotType := binary.LittleEndian.Uint32(mem[cfg.MmapTagOffset:])
	gotSize := binary.LittleEndian.Uint32(mem[cfg.MmapTagOffset+4:])
	assert.Equal(t, uint32(TagEFIMmap), gotType)
	assert.Equal(t, uint32(tagHeaderSize+8)+uint32(mmap.Size()), gotSize)

	descPhys := binary.LittleEndian.Uint64(mem[cfg.MmapSlotOffset+8:])
	assert.Equal(t, uint64(0x100000), descPhys)
}
