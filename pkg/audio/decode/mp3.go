// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes MP3 fully or as a seekable 16-bit stereo stream
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/harperreed/stagesound/pkg/audio"
)

// MP3Stream is a seekable signed 16-bit little-endian stereo PCM stream
type MP3Stream struct {
	*mp3.Decoder
}

// NewMP3Stream wraps an MP3 source for lazy decoding
func NewMP3Stream(r io.Reader) (*MP3Stream, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}
	return &MP3Stream{Decoder: decoder}, nil
}

// Format returns the PCM format produced by the stream
func (s *MP3Stream) Format() audio.Format {
	return audio.Format{Codec: "mp3", SampleRate: s.SampleRate(), Channels: 2, BitDepth: 16}
}

// DecodeMP3 decodes an entire MP3 stream
func DecodeMP3(r io.Reader) (*audio.Clip, error) {
	stream, err := NewMP3Stream(r)
	if err != nil {
		return nil, err
	}

	// go-mp3 always produces 16-bit stereo
	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode error: %w", err)
	}

	numSamples := len(data) / 2
	samples := make([]int32, numSamples)
	for i := 0; i < numSamples; i++ {
		samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}

	return &audio.Clip{Format: stream.Format(), Samples: samples}, nil
}
