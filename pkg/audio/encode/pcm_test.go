// ABOUTME: Unit tests for PCM encoder
// ABOUTME: Tests 16-bit and 24-bit PCM encoding and clipping
package encode

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/stagesound/pkg/audio"
)

func TestNewPCM(t *testing.T) {
	tests := []struct {
		name     string
		bitDepth int
		wantErr  bool
	}{
		{"16-bit", 16, false},
		{"24-bit", 24, false},
		{"8-bit", 8, true},
		{"32-bit", 32, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewPCM(tt.bitDepth)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBitDepth)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bitDepth, enc.BitDepth())
		})
	}
}

func TestEncode16Bit(t *testing.T) {
	enc, err := NewPCM(16)
	require.NoError(t, err)

	samples := []int32{0, 1000 << 8, -1000 << 8, audio.Max24Bit, audio.Min24Bit}
	out, err := enc.Encode(samples)
	require.NoError(t, err)
	require.Len(t, out, len(samples)*2)

	want := []int16{0, 1000, -1000, 32767, -32768}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(out[i*2:]))
		assert.Equal(t, w, got, "sample %d", i)
	}
	assert.Equal(t, []byte{0x00, 0x01, 0xFF, 0xFF}, mustEncode(t, enc, []int32{256 << 8, -1 << 8}))
}

func TestEncode24Bit(t *testing.T) {
	enc, err := NewPCM(24)
	require.NoError(t, err)

	out, err := enc.Encode([]int32{0x123456, -1, audio.Max24Bit})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x56, 0x34, 0x12,
		0xFF, 0xFF, 0xFF,
		0xFF, 0xFF, 0x7F,
	}, out)
}

func TestEncodeClipsOutOfRange(t *testing.T) {
	enc, err := NewPCM(16)
	require.NoError(t, err)

	out := mustEncode(t, enc, []int32{audio.Max24Bit + 5000, audio.Min24Bit - 5000})
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(out[0:])))
	assert.Equal(t, int16(-32768), int16(binary.LittleEndian.Uint16(out[2:])))
}

func TestFrameBytes(t *testing.T) {
	enc16, _ := NewPCM(16)
	enc24, _ := NewPCM(24)
	assert.Equal(t, 4, enc16.FrameBytes(2))
	assert.Equal(t, 2, enc16.FrameBytes(1))
	assert.Equal(t, 6, enc24.FrameBytes(2))
}

func mustEncode(t *testing.T, enc Encoder, samples []int32) []byte {
	t.Helper()
	out, err := enc.Encode(samples)
	require.NoError(t, err)
	return out
}
