// Package component implements the component loader: given a loader
// and a component descriptor, build the path, query its size, read the
// bytes in, optionally decompress, allocate page-aligned physical
// memory for the result, and record it in the descriptor. Every error
// here is fatal to the boot -- no retry, no partial load.
package component

import (
	"context"
	"fmt"

	"github.com/barrelfish/hagfish/pkg/bootconfig"
	"github.com/barrelfish/hagfish/pkg/bootlog"
	"github.com/barrelfish/hagfish/pkg/componentcodec"
	"github.com/barrelfish/hagfish/pkg/efi"
	"github.com/barrelfish/hagfish/pkg/memregion"
	"github.com/dustin/go-humanize"
)

// Load builds the path from cfgBuf, queries size, reads the on-disk
// bytes, optionally decodes them, then allocates page-aligned physical
// memory sized to the *decoded* image -- rounding up to the page
// operates on the bytes actually committed to memory -- copies them
// in, and records the result in the descriptor. Every error here is
// fatal to the boot -- no retry, no partial load.
func Load(ctx context.Context, ld Loader, cmp *bootconfig.ComponentDescriptor, cfgBuf []byte, bs efi.BootServices) error {
	path := cmp.Path(cfgBuf)

	size, err := ld.Size(path)
	if err != nil {
		return fmt.Errorf("component: querying size of %q: %w", path, err)
	}

	raw := make([]byte, size)
	n, err := ld.Read(path, raw)
	if err != nil {
		return fmt.Errorf("component: reading %q: %w", path, err)
	}
	if uint64(n) != size {
		return fmt.Errorf("component: partial read of %q: got %d of %d bytes", path, n, size)
	}

	codec := componentcodec.CodecForPath(path)
	decoded := raw
	if codec.Name() != "identity" {
		decoded, err = codec.Decode(raw)
		if err != nil {
			return fmt.Errorf("component: decoding %q with %s: %w", path, codec.Name(), err)
		}
		cmp.Codec = codec.Name()
	}

	pages := memregion.CoverPages(uint64(len(decoded)))
	addr, err := bs.AllocatePages(ctx, pages, efi.ELFImageData)
	if err != nil {
		return fmt.Errorf("component: allocating %d pages for %q: %w", pages, path, err)
	}
	copy(addr.Bytes(pages*memregion.PageSize), decoded)

	cmp.ImageAddress = uintptr(addr)
	cmp.ImageSize = uint64(len(decoded))

	bootlog.LoadFilef("loaded %q: %s at %#x", path, humanize.Bytes(cmp.ImageSize), cmp.ImageAddress)
	return nil
}

// Loader is the subset of pkg/loader.Loader that Load needs -- an
// interface of its own so component does not import pkg/loader;
// any pkg/loader.Loader satisfies it.
type Loader interface {
	Size(path string) (uint64, error)
	Read(path string, buf []byte) (int, error)
}
