package acpi

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRSDPv1(rsdtAddr uint32) []byte {
	buf := make([]byte, 20)
	copy(buf[0:8], []byte("RSD PTR "))
	buf[15] = 0  // Revision = ACPI 1.0
	buf[16] = byte(rsdtAddr)
	buf[17] = byte(rsdtAddr >> 8)
	buf[18] = byte(rsdtAddr >> 16)
	buf[19] = byte(rsdtAddr >> 24)

	var sum byte
	for i, b := range buf {
		if i == 8 {
			continue
		}
		sum += b
	}
	buf[8] = byte(-sum)
	return buf
}

func TestParseRSDPv1ValidatesChecksum(t *testing.T) {
	buf := buildRSDPv1(0x1000)
	v, err := ParseRSDPv1(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1000), v.RSDTAddr)
}

func TestParseRSDPv1RejectsBadChecksum(t *testing.T) {
	buf := buildRSDPv1(0x1000)
	buf[8] ^= 0xFF
	_, err := ParseRSDPv1(bytes.NewReader(buf))
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestParseRSDPv1RejectsShortRead(t *testing.T) {
	_, err := ParseRSDPv1(bytes.NewReader(make([]byte, 4)))
	assert.Error(t, err)
}
