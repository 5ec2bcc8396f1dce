// ABOUTME: Tests for the resampler and channel mapping
// ABOUTME: Covers rate conversion, remixing and clip conversion
package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harperreed/stagesound/pkg/audio"
)

func TestResampleUpsamplesLinearly(t *testing.T) {
	r := New(1, 2, 1)
	out := make([]int32, 8)
	n := r.Resample([]int32{0, 100, 200}, out)

	assert.Equal(t, 4, n)
	assert.Equal(t, []int32{0, 50, 100, 150}, out[:n])
}

func TestResampleDownsamples(t *testing.T) {
	r := New(2, 1, 2)
	input := []int32{0, 0, 1, 1, 2, 2, 3, 3, 4, 4}
	out := make([]int32, r.OutputSamplesNeeded(len(input)))
	n := r.Resample(input, out)

	assert.Equal(t, []int32{0, 0, 2, 2}, out[:n])
}

func TestRemix(t *testing.T) {
	tests := []struct {
		name     string
		in       []int32
		from, to int
		want     []int32
	}{
		{"mono to stereo", []int32{1, 2}, 1, 2, []int32{1, 1, 2, 2}},
		{"stereo to mono", []int32{2, 4, 10, 20}, 2, 1, []int32{3, 15}},
		{"quad to stereo", []int32{1, 2, 3, 4}, 4, 2, []int32{1, 2}},
		{"same", []int32{5, 6}, 2, 2, []int32{5, 6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Remix(tt.in, tt.from, tt.to))
		})
	}
}

func TestConvert(t *testing.T) {
	clip := &audio.Clip{
		Format:  audio.Format{Codec: "wav", SampleRate: 22050, Channels: 1, BitDepth: 16},
		Samples: make([]int32, 22050),
	}

	out := Convert(clip, 44100, 2)
	assert.Equal(t, 44100, out.Format.SampleRate)
	assert.Equal(t, 2, out.Format.Channels)
	assert.InDelta(t, 44100, out.Frames(), 4)

	assert.Same(t, out, Convert(out, 44100, 2))
}
