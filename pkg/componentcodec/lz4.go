package componentcodec

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4"
)

// LZ4 decodes component images compressed with LZ4, decode-only.
type LZ4 struct{}

// Name returns the codec's name.
func (c *LZ4) Name() string { return "LZ4" }

// Decode decodes a byte slice of LZ4 data.
func (c *LZ4) Decode(encoded []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(encoded)))
}
