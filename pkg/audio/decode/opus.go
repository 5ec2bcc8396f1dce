// ABOUTME: Ogg Opus audio decoder
// ABOUTME: Decodes Opus files through libopusfile at 48kHz
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/harperreed/stagesound/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// Opus always decodes at 48kHz
const opusSampleRate = 48000

// OpusConfig configures the Opus decoder
type OpusConfig struct {
	Channels int // Channel count of the encoded files (default 2)
}

// OpusDecoder decodes Ogg Opus files
type OpusDecoder struct {
	channels int
}

// NewOpus creates an Opus decoder
func NewOpus(config OpusConfig) *OpusDecoder {
	if config.Channels <= 0 {
		config.Channels = 2
	}
	return &OpusDecoder{channels: config.Channels}
}

// Decode converts an Ogg Opus stream to a clip
func (d *OpusDecoder) Decode(r io.Reader) (*audio.Clip, error) {
	stream, err := opus.NewStream(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open opus stream: %w", err)
	}
	defer stream.Close()

	// Max frame size is 120ms at 48kHz
	pcm16 := make([]int16, 5760*d.channels)
	var samples []int32
	for {
		n, err := stream.Read(pcm16)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("opus decode failed: %w", err)
		}

		for i := 0; i < n*d.channels; i++ {
			samples = append(samples, audio.SampleFromInt16(pcm16[i]))
		}
	}

	return &audio.Clip{
		Format: audio.Format{
			Codec:      "opus",
			SampleRate: opusSampleRate,
			Channels:   d.channels,
			BitDepth:   16,
		},
		Samples: samples,
	}, nil
}
