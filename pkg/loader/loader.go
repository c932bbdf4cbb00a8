// Package loader implements the file-transport abstraction: a
// five-operation capability set shared by two variants -- network boot
// over the firmware's PXE/TFTP stack, and a local FAT volume --
// represented as a tagged variant with a dispatch table, not
// inheritance.
package loader

import (
	"errors"
	"io"
)

// Sentinel errors for the transport's named failure modes.
var (
	ErrNotReady        = errors.New("loader: dhcp has not completed")
	ErrUnsupportedIPv6 = errors.New("loader: ipv6 network boot is not supported")
	ErrNoFileSystem    = errors.New("loader: no simple file system handle found")
	ErrPartialRead     = errors.New("loader: partial read")
)

// DHCPPacketSize is the fixed size of EFI_PXE_BASE_CODE_PACKET, the
// DHCPv4 ACK structure the Multiboot2 network tag always reserves
// space for. The local-FS variant carries no DHCP data but still
// writes this many zero bytes, so the tag is always the same size
// whether or not the transport actually populated it.
const DHCPPacketSize = 1472

// Loader is the five-operation capability set: query a component's
// size, read it, format the per-variant config file name, release the
// underlying protocol, and emit the Multiboot2 network tag. Both
// variants guarantee no open file handle survives a Size or Read call.
type Loader interface {
	// Size returns the byte length of the named component.
	Size(path string) (uint64, error)
	// Read reads the named component in full into buf, which must be
	// at least as large as the value Size previously returned.
	// Returns the number of bytes read; fewer than len(buf) is a
	// partial-read failure, not success.
	Read(path string, buf []byte) (int, error)
	// ConfigName returns the path of the configuration file to load,
	// formatted per variant (station-IP template for PXE, an
	// operator-supplied path for local FS).
	ConfigName() (string, error)
	// Done releases the underlying firmware protocol handle. After
	// Done returns, the Loader is invalid.
	Done() error
	// PrepareNetTag writes the Multiboot2 network tag payload (the
	// DHCPv4 ACK for PXE, DHCPPacketSize zero bytes for local FS) to w
	// and returns the number of bytes written.
	PrepareNetTag(w io.Writer) (int, error)
}
