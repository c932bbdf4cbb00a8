package loader

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/barrelfish/hagfish/pkg/bootlog"
	"github.com/barrelfish/hagfish/pkg/efi"
)

// localFSLoader binds the first handle carrying the simple-file-system
// protocol and opens its volume root. Mirrors Loader.c's
// hagfish_loader_local_fs_init/fs_size_fn/fs_read_fn.
//
// Uses handles[0] unconditionally; a deployment with more than one FAT
// volume should match by volume label instead. See DESIGN.md.
type localFSLoader struct {
	ctx       context.Context
	bs        efi.BootServices
	handle    efi.Handle
	root      efi.FileProtocol
	imagePath string
}

// NewLocalFSLoader enumerates handles carrying EFI_SIMPLE_FILE_SYSTEM_PROTOCOL,
// binds to the first one, opens its volume root, and remembers the
// operator-supplied image path used by ConfigName.
func NewLocalFSLoader(ctx context.Context, bs efi.BootServices, imagePath string) (Loader, error) {
	handles, err := bs.LocateHandleBuffer(ctx, efi.SimpleFileSystemProtocolGUID)
	if err != nil {
		return nil, fmt.Errorf("loader: locating simple file system handles: %w", err)
	}
	if len(handles) == 0 {
		return nil, ErrNoFileSystem
	}
	handle := handles[0]

	proto, err := bs.OpenProtocol(ctx, handle, efi.SimpleFileSystemProtocolGUID, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("loader: opening simple file system protocol: %w", err)
	}
	sfs, ok := proto.(efi.SimpleFileSystemProtocol)
	if !ok {
		return nil, fmt.Errorf("loader: protocol handle does not implement SimpleFileSystemProtocol")
	}
	root, err := sfs.OpenVolume(ctx)
	if err != nil {
		return nil, fmt.Errorf("loader: opening volume root: %w", err)
	}

	return &localFSLoader{ctx: ctx, bs: bs, handle: handle, root: root, imagePath: imagePath}, nil
}

// uefiPath converts a POSIX-style path to the form UEFI's file protocol
// expects: forward slashes become backslashes. FileProtocol.Open takes
// a Go string; marshaling it to CHAR16 is the concrete firmware
// binding's job below this interface, the same as Mtftp's path
// argument on the PXE side.
func uefiPath(path string) string {
	return strings.ReplaceAll(path, "/", "\\")
}

func (l *localFSLoader) open(path string) (efi.FileProtocol, error) {
	f, err := l.root.Open(l.ctx, uefiPath(path))
	if err != nil {
		return nil, fmt.Errorf("loader: opening %q: %w", path, err)
	}
	return f, nil
}

func (l *localFSLoader) Size(path string) (uint64, error) {
	f, err := l.open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close(l.ctx)
	size, err := f.GetInfoSize(l.ctx)
	if err != nil {
		return 0, fmt.Errorf("loader: stat of %q: %w", path, err)
	}
	return size, nil
}

func (l *localFSLoader) Read(path string, buf []byte) (int, error) {
	f, err := l.open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close(l.ctx)

	n, err := f.Read(l.ctx, buf)
	if err != nil {
		return n, fmt.Errorf("loader: reading %q: %w", path, err)
	}
	if n != len(buf) {
		return n, fmt.Errorf("%w: got %d of %d bytes for %q", ErrPartialRead, n, len(buf), path)
	}
	return n, nil
}

// ConfigName returns the operator-supplied image path unchanged.
func (l *localFSLoader) ConfigName() (string, error) {
	return l.imagePath, nil
}

// Done releases the volume root and the bound protocol handle,
// aggregating any failure on either so a problem closing one does not
// suppress closing the other.
func (l *localFSLoader) Done() error {
	var result *multierror.Error
	if err := l.root.Close(l.ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("loader: closing volume root: %w", err))
	}
	if err := l.bs.CloseProtocol(l.ctx, l.handle, efi.SimpleFileSystemProtocolGUID, 0, 0); err != nil {
		result = multierror.Append(result, fmt.Errorf("loader: closing simple file system protocol: %w", err))
	}
	bootlog.LoadFilef("local file system loader released")
	return result.ErrorOrNil()
}

// PrepareNetTag emits DHCPPacketSize zero bytes: the local-volume
// variant carries no DHCP data but still reserves the tag's full
// space, matching Loader.c's fs_multiboot_perpare_fn.
func (l *localFSLoader) PrepareNetTag(w io.Writer) (int, error) {
	n, err := w.Write(make([]byte, DHCPPacketSize))
	if err != nil {
		return n, fmt.Errorf("loader: writing local-fs network tag payload: %w", err)
	}
	return n, nil
}
