// ABOUTME: Ogg Vorbis audio decoder
// ABOUTME: Decodes Vorbis float samples into the 24-bit range
package decode

import (
	"fmt"
	"io"

	"github.com/harperreed/stagesound/pkg/audio"
	"github.com/jfreymuth/oggvorbis"
)

// DecodeVorbis decodes an entire Ogg Vorbis stream
func DecodeVorbis(r io.Reader) (*audio.Clip, error) {
	data, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("vorbis decode: %w", err)
	}

	samples := make([]int32, len(data))
	for i, f := range data {
		samples[i] = audio.SampleFromFloat(f)
	}

	return &audio.Clip{
		Format: audio.Format{
			Codec:      "vorbis",
			SampleRate: format.SampleRate,
			Channels:   format.Channels,
			BitDepth:   24,
		},
		Samples: samples,
	}, nil
}
