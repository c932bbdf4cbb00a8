package loader

import (
	"context"
	"fmt"
	"io"

	"github.com/barrelfish/hagfish/pkg/bootlog"
	"github.com/barrelfish/hagfish/pkg/efi"
)

// pxeLoader binds the firmware's PXE base-code protocol, installed on
// the device handle that loaded this image. Mirrors Loader.c's
// pxe_loader/net_config.
type pxeLoader struct {
	ctx    context.Context
	bs     efi.BootServices
	handle efi.Handle
	pxe    efi.PXEBaseCodeProtocol
}

// NewPXELoader builds a Loader bound to pxe, after validating that
// DHCP has completed and the station is not configured for IPv6. bs and
// handle are remembered so Done can close the protocol it was opened
// with.
func NewPXELoader(ctx context.Context, bs efi.BootServices, handle efi.Handle, pxe efi.PXEBaseCodeProtocol) (Loader, error) {
	mode := pxe.Mode()
	if !mode.DhcpAckReceived {
		return nil, ErrNotReady
	}
	if mode.UsingIPv6 {
		return nil, ErrUnsupportedIPv6
	}
	return &pxeLoader{ctx: ctx, bs: bs, handle: handle, pxe: pxe}, nil
}

func (l *pxeLoader) Size(path string) (uint64, error) {
	size, err := l.pxe.MtftpSize(l.ctx, path)
	if err != nil {
		return 0, fmt.Errorf("loader: pxe size query for %q: %w", path, err)
	}
	return size, nil
}

func (l *pxeLoader) Read(path string, buf []byte) (int, error) {
	n, err := l.pxe.Mtftp(l.ctx, path, buf)
	if err != nil {
		return n, fmt.Errorf("loader: pxe read of %q: %w", path, err)
	}
	if n != len(buf) {
		return n, fmt.Errorf("%w: got %d of %d bytes for %q", ErrPartialRead, n, len(buf), path)
	}
	return n, nil
}

// ConfigName formats a per-host filename from the station IP's four
// octets, Hagfish's hagfish_config_fmt/pxe_config_file_name.
func (l *pxeLoader) ConfigName() (string, error) {
	ip := l.pxe.Mode().StationIP
	return fmt.Sprintf("hagfish-%d.%d.%d.%d.conf", ip[0], ip[1], ip[2], ip[3]), nil
}

// Done closes the PXE base code protocol on the handle it was opened
// with, mirroring Loader.c's pxe_done.
func (l *pxeLoader) Done() error {
	if err := l.bs.CloseProtocol(l.ctx, l.handle, efi.PXEBaseCodeProtocolGUID, 0, 0); err != nil {
		return fmt.Errorf("loader: closing pxe base code protocol: %w", err)
	}
	bootlog.Netf("releasing pxe base code protocol")
	return nil
}

// PrepareNetTag copies the raw DHCPv4 ACK packet byte-for-byte into the
// Multiboot2 network tag payload, per Loader.c's pxe_prepare_multiboot_fn.
func (l *pxeLoader) PrepareNetTag(w io.Writer) (int, error) {
	raw := l.pxe.Mode().DhcpAck.Raw
	n, err := w.Write(raw)
	if err != nil {
		return n, fmt.Errorf("loader: writing pxe network tag payload: %w", err)
	}
	return n, nil
}
