// ABOUTME: Raw PCM audio decoder
// ABOUTME: Decodes headerless 16-bit and 24-bit little-endian PCM
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/harperreed/stagesound/pkg/audio"
)

// PCMDecoder decodes raw PCM with a fixed format
type PCMDecoder struct {
	format audio.Format
}

// NewPCM creates a raw PCM decoder.
// Zero fields default to 44.1kHz stereo 16-bit.
func NewPCM(format audio.Format) *PCMDecoder {
	if format.SampleRate <= 0 {
		format.SampleRate = 44100
	}
	if format.Channels <= 0 {
		format.Channels = 2
	}
	if format.BitDepth == 0 {
		format.BitDepth = 16
	}
	format.Codec = "pcm"
	return &PCMDecoder{format: format}
}

// Decode converts PCM bytes to a clip
func (d *PCMDecoder) Decode(r io.Reader) (*audio.Clip, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcm data: %w", err)
	}

	var samples []int32
	switch d.format.BitDepth {
	case 16:
		samples = make([]int32, len(data)/2)
		for i := range samples {
			samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(data[i*2:])))
		}
	case 24:
		samples = make([]int32, len(data)/3)
		for i := range samples {
			b := data[i*3 : i*3+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			// Sign-extend from 24 bits
			if v&0x800000 != 0 {
				v |= ^0xFFFFFF
			}
			samples[i] = v
		}
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", d.format.BitDepth)
	}

	return &audio.Clip{Format: d.format, Samples: samples}, nil
}
