// ABOUTME: WAV audio decoder
// ABOUTME: Decodes RIFF WAV files through go-audio/wav
package decode

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/harperreed/stagesound/pkg/audio"
)

// DecodeWAV decodes an entire WAV stream
func DecodeWAV(r io.Reader) (*audio.Clip, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read wav data: %w", err)
		}
		rs = bytes.NewReader(data)
	}

	decoder := wav.NewDecoder(rs)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM buffer: %w", err)
	}

	bitDepth := int(decoder.BitDepth)
	samples := make([]int32, len(buf.Data))
	for i, s := range buf.Data {
		if bitDepth == 8 {
			// 8-bit WAV is unsigned
			s -= 128
		}
		samples[i] = audio.SampleFromBits(int32(s), bitDepth)
	}

	return &audio.Clip{
		Format: audio.Format{
			Codec:      "wav",
			SampleRate: int(decoder.SampleRate),
			Channels:   int(decoder.NumChans),
			BitDepth:   bitDepth,
		},
		Samples: samples,
	}, nil
}
