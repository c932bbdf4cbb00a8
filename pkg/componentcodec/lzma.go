package componentcodec

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// LZMA decodes component images compressed with LZMA, the format used
// by common UEFI firmware-volume compression. Decode-only since
// hagfish never encodes.
type LZMA struct{}

// Name returns the codec's name.
func (c *LZMA) Name() string { return "LZMA" }

// Decode decodes a byte slice of LZMA data.
func (c *LZMA) Decode(encoded []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
