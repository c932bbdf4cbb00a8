package componentcodec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Zstd decodes component images compressed with zstd.
type Zstd struct{}

// Name returns the codec's name.
func (c *Zstd) Name() string { return "zstd" }

// Decode decodes a byte slice of zstd data.
func (c *Zstd) Decode(encoded []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
