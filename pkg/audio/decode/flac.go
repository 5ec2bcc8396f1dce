// ABOUTME: FLAC audio decoder
// ABOUTME: Decodes FLAC frames to interleaved int32 samples
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/harperreed/stagesound/pkg/audio"
	"github.com/mewkiz/flac"
)

// DecodeFLAC decodes an entire FLAC stream
func DecodeFLAC(r io.Reader) (*audio.Clip, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	channels := int(info.NChannels)
	bitDepth := int(info.BitsPerSample)

	samples := make([]int32, 0, int(info.NSamples)*channels)
	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("flac frame: %w", err)
		}

		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < channels; ch++ {
				samples = append(samples, audio.SampleFromBits(frame.Subframes[ch].Samples[i], bitDepth))
			}
		}
	}

	return &audio.Clip{
		Format: audio.Format{
			Codec:      "flac",
			SampleRate: int(info.SampleRate),
			Channels:   channels,
			BitDepth:   bitDepth,
		},
		Samples: samples,
	}, nil
}
