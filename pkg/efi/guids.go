package efi

import "github.com/barrelfish/hagfish/pkg/guid"

// Well-known protocol GUIDs, parsed with guid.MustParse on the
// EDK2-published string forms.
var (
	LoadedImageProtocolGUID      = guid.MustParse("5B1B31A1-9562-11D2-8E3F-00A0C969723B")
	PXEBaseCodeProtocolGUID      = guid.MustParse("03C4E603-AC28-11D3-9A2D-0090273FC14D")
	SimpleFileSystemProtocolGUID = guid.MustParse("964E5B22-6459-11D2-8E39-00A0C969723B")
)
