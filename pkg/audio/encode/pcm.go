// ABOUTME: PCM audio encoder
// ABOUTME: Encodes int32 samples to signed 16-bit or 24-bit little-endian bytes
package encode

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/harperreed/stagesound/pkg/audio"
)

// ErrBitDepth is returned for bit depths the PCM encoder cannot produce
var ErrBitDepth = errors.New("unsupported bit depth")

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	bitDepth int
}

// NewPCM creates a PCM encoder for 16 or 24 bits per sample
func NewPCM(bitDepth int) (*PCMEncoder, error) {
	if bitDepth != 16 && bitDepth != 24 {
		return nil, fmt.Errorf("%w: %d (supported: 16, 24)", ErrBitDepth, bitDepth)
	}
	return &PCMEncoder{bitDepth: bitDepth}, nil
}

// BitDepth returns the encoded bits per sample
func (e *PCMEncoder) BitDepth() int {
	return e.bitDepth
}

// FrameBytes returns the encoded size of one frame
func (e *PCMEncoder) FrameBytes(channels int) int {
	return channels * e.bitDepth / 8
}

// Encode converts int32 samples to PCM bytes
func (e *PCMEncoder) Encode(samples []int32) ([]byte, error) {
	if e.bitDepth == 24 {
		// 3 bytes per sample
		out := make([]byte, len(samples)*3)
		for i, s := range samples {
			s = clamp24(s)
			out[i*3] = byte(s)
			out[i*3+1] = byte(s >> 8)
			out[i*3+2] = byte(s >> 16)
		}
		return out, nil
	}

	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(audio.SampleToInt16(clamp24(s))))
	}
	return out, nil
}

func clamp24(s int32) int32 {
	if s > audio.Max24Bit {
		return audio.Max24Bit
	}
	if s < audio.Min24Bit {
		return audio.Min24Bit
	}
	return s
}
