package component

import (
	"bytes"
	"context"
	"testing"
	"unsafe"

	"github.com/pierrec/lz4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barrelfish/hagfish/pkg/bootconfig"
	"github.com/barrelfish/hagfish/pkg/efi"
	"github.com/barrelfish/hagfish/pkg/memregion"
)

func lz4Encode(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type fakeLoader struct {
	files map[string][]byte
}

func (f *fakeLoader) Size(path string) (uint64, error) {
	return uint64(len(f.files[path])), nil
}

func (f *fakeLoader) Read(path string, buf []byte) (int, error) {
	return copy(buf, f.files[path]), nil
}

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

func TestLoadUncompressed(t *testing.T) {
	contents := []byte("cpu driver bytes")
	ld := &fakeLoader{files: map[string][]byte{"/boot/cpu.img": contents}}
	bs := &fakeBootServices{}
	cfgBuf := []byte("/boot/cpu.img")
	cmp := &bootconfig.ComponentDescriptor{PathStart: 0, PathLen: len(cfgBuf)}

	err := Load(context.Background(), ld, cmp, cfgBuf, bs)
	require.NoError(t, err)

	assert.Equal(t, uint64(len(contents)), cmp.ImageSize)
	assert.Equal(t, "", cmp.Codec)
	got := efi.PhysicalAddress(cmp.ImageAddress).Bytes(cmp.ImageSize)
	assert.Equal(t, contents, got)
}

func TestLoadZeroSizeComponent(t *testing.T) {
	ld := &fakeLoader{files: map[string][]byte{"/boot/empty": {}}}
	bs := &fakeBootServices{}
	cfgBuf := []byte("/boot/empty")
	cmp := &bootconfig.ComponentDescriptor{PathStart: 0, PathLen: len(cfgBuf)}

	err := Load(context.Background(), ld, cmp, cfgBuf, bs)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cmp.ImageSize)
}

func TestLoadDecompressesByPathSuffix(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64)

	// Build an LZ4-encoded fixture the same way componentcodec's own
	// round-trip test does.
	encoded := lz4Encode(t, payload)

	ld := &fakeLoader{files: map[string][]byte{"/boot/mod.lz4": encoded}}
	bs := &fakeBootServices{}
	cfgBuf := []byte("/boot/mod.lz4")
	cmp := &bootconfig.ComponentDescriptor{PathStart: 0, PathLen: len(cfgBuf)}

	err := Load(context.Background(), ld, cmp, cfgBuf, bs)
	require.NoError(t, err)
	assert.Equal(t, "LZ4", cmp.Codec)
	assert.Equal(t, uint64(len(payload)), cmp.ImageSize)
	got := efi.PhysicalAddress(cmp.ImageAddress).Bytes(cmp.ImageSize)
	assert.Equal(t, payload, got)
}
