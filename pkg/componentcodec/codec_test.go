package componentcodec

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"
)

func TestCodecForPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"kernel.img.lzma", "LZMA"},
		{"kernel.img.lz4", "LZ4"},
		{"kernel.img.zst", "zstd"},
		{"kernel.img", "identity"},
		{"", "identity"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CodecForPath(c.path).Name())
	}
}

func TestLZMARoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("hagfish"), 100)

	wc := lzma.WriterConfig{SizeInHeader: true, Size: int64(len(payload))}
	require.NoError(t, wc.Verify())
	var buf bytes.Buffer
	w, err := wc.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	decoded, err := (&LZMA{}).Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestLZ4RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("hagfish"), 100)

	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	decoded, err := (&LZ4{}).Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestZstdRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("hagfish"), 100)

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	decoded, err := (&Zstd{}).Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}
