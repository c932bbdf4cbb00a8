package efi

import "context"

// BootServices is the subset of the UEFI Boot Services table hagfish
// drives directly. Modeled on the EDK2 calls Hagfish.c and Loader.c make:
// OpenProtocol/CloseProtocol around loaded-image, PXE and simple-file-system
// protocols; AllocatePages/FreePages for every physical region the kernel
// inherits; GetMemoryMap/ExitBootServices for the hand-off; SetWatchdogTimer
// to disarm the boot watchdog at entry.
type BootServices interface {
	OpenProtocol(ctx context.Context, handle Handle, guid GUID, agent, controller Handle, attr uint32) (interface{}, error)
	CloseProtocol(ctx context.Context, handle Handle, guid GUID, agent, controller Handle) error
	AllocatePages(ctx context.Context, pages uint64, memType MemoryType) (PhysicalAddress, error)
	FreePages(ctx context.Context, addr PhysicalAddress, pages uint64) error
	GetMemoryMap(ctx context.Context) (MemoryMap, error)
	ExitBootServices(ctx context.Context, image Handle, mapKey MapKey) error
	SetWatchdogTimer(ctx context.Context, timeout uint64, code uint64, data []uint16) error
	LocateHandleBuffer(ctx context.Context, guid GUID) ([]Handle, error)
}

// LoadedImageProtocol carries the subset of EFI_LOADED_IMAGE_PROTOCOL
// hagfish reads: the device handle that loaded this image, used to look
// up the network-boot or file-system protocol on the same handle.
type LoadedImageProtocol interface {
	DeviceHandle() Handle
}

// PXEBaseCodeMode mirrors the fields of EFI_PXE_BASE_CODE_MODE that
// Loader.c's net_config reads out of the cached DHCP transaction.
type PXEBaseCodeMode struct {
	DhcpAckReceived bool
	UsingIPv6       bool
	StationIP       [4]byte
	DhcpAck         DHCPv4Packet
}

// DHCPv4Packet is the cached DHCPv4 ACK packet. Loader.c's
// pxe_prepare_multiboot_fn copies it byte-for-byte into the Multiboot2
// network tag payload, so hagfish keeps the raw bytes rather than
// re-deriving a subset of fields.
type DHCPv4Packet struct {
	BootpSiAddr [4]byte // next-server (boot file server) address
	Raw         []byte  // full packet bytes, exactly as cached by firmware
}

// PXEBaseCodeProtocol mirrors EFI_PXE_BASE_CODE_PROTOCOL's Mode pointer
// and the Mtftp read call hagfish's network loader variant uses.
type PXEBaseCodeProtocol interface {
	Mode() *PXEBaseCodeMode
	Mtftp(ctx context.Context, path string, buf []byte) (int, error)
	MtftpSize(ctx context.Context, path string) (uint64, error)
}

// FileProtocol mirrors EFI_FILE_PROTOCOL's Open/Read/GetInfo/Close quartet
// used by the local filesystem loader variant.
type FileProtocol interface {
	Open(ctx context.Context, name string) (FileProtocol, error)
	Read(ctx context.Context, buf []byte) (int, error)
	GetInfoSize(ctx context.Context) (uint64, error)
	Close(ctx context.Context) error
}

// SimpleFileSystemProtocol mirrors EFI_SIMPLE_FILE_SYSTEM_PROTOCOL's
// OpenVolume call, the entry point for the local filesystem loader variant.
type SimpleFileSystemProtocol interface {
	OpenVolume(ctx context.Context) (FileProtocol, error)
}
