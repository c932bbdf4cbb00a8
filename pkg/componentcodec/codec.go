// Package componentcodec optionally decompresses a component's image
// bytes before pkg/component commits them to the component's allocated
// pages. Hagfish itself never decompresses, but nothing rules it out,
// and keying codecs by filename suffix rather than a GUID-section
// wrapper fits a component path, which has no such wrapper.
package componentcodec

import "strings"

// Codec decodes a compressed component image. Decode-only: the
// bootloader never produces compressed images, only consumes them.
type Codec interface {
	Name() string
	Decode(encoded []byte) ([]byte, error)
}

type identity struct{}

func (identity) Name() string                        { return "identity" }
func (identity) Decode(encoded []byte) ([]byte, error) { return encoded, nil }

var byExtension = map[string]Codec{
	".lzma": &LZMA{},
	".lz4":  &LZ4{},
	".zst":  &Zstd{},
}

// CodecForPath returns the Codec named by path's suffix, or the
// identity codec if the suffix is not recognized.
func CodecForPath(path string) Codec {
	for ext, codec := range byExtension {
		if strings.HasSuffix(path, ext) {
			return codec
		}
	}
	return identity{}
}
