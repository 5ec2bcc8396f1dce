// ABOUTME: Linear resampler and channel mapper for decoded clips
// ABOUTME: Converts clips to the sample rate and channel count of the device
package resample

import "github.com/harperreed/stagesound/pkg/audio"

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	channels int
	ratio    float64
	position float64
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		channels: channels,
		ratio:    float64(inputRate) / float64(outputRate),
	}
}

// Resample converts input samples to output sample rate using linear interpolation.
// Both slices are interleaved. Returns the number of output samples written.
func (r *Resampler) Resample(input []int32, output []int32) int {
	if len(input) == 0 {
		return 0
	}

	inputFrames := len(input) / r.channels
	outputFrames := len(output) / r.channels

	outIdx := 0
	for outIdx < outputFrames {
		inputIdx := int(r.position)
		if inputIdx >= inputFrames-1 {
			break
		}

		frac := r.position - float64(inputIdx)
		for ch := 0; ch < r.channels; ch++ {
			sample1 := input[inputIdx*r.channels+ch]
			sample2 := input[(inputIdx+1)*r.channels+ch]
			output[outIdx*r.channels+ch] = int32(float64(sample1)*(1.0-frac) + float64(sample2)*frac)
		}

		outIdx++
		r.position += r.ratio
	}

	// Keep the fractional part for the next chunk
	r.position -= float64(int(r.position))

	return outIdx * r.channels
}

// OutputSamplesNeeded calculates how many output samples will be produced from input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	return int(float64(inputFrames)/r.ratio) * r.channels
}

// Remix maps interleaved samples from one channel count to another.
// Mono is duplicated to every output channel; downmixing to mono averages.
// Other layouts copy matching channels and silence the rest.
func Remix(samples []int32, from, to int) []int32 {
	if from == to || from <= 0 || to <= 0 {
		return samples
	}

	frames := len(samples) / from
	out := make([]int32, frames*to)
	for f := 0; f < frames; f++ {
		in := samples[f*from : f*from+from]
		switch {
		case from == 1:
			for ch := 0; ch < to; ch++ {
				out[f*to+ch] = in[0]
			}
		case to == 1:
			var sum int64
			for _, s := range in {
				sum += int64(s)
			}
			out[f] = int32(sum / int64(from))
		default:
			for ch := 0; ch < to && ch < from; ch++ {
				out[f*to+ch] = in[ch]
			}
		}
	}
	return out
}

// Convert returns clip at the given rate and channel count.
// The input clip is returned unchanged when it already matches.
func Convert(clip *audio.Clip, rate, channels int) *audio.Clip {
	format := clip.Format
	if format.SampleRate == rate && format.Channels == channels {
		return clip
	}

	samples := Remix(clip.Samples, format.Channels, channels)
	if format.SampleRate != rate {
		r := New(format.SampleRate, rate, channels)
		out := make([]int32, r.OutputSamplesNeeded(len(samples)))
		n := r.Resample(samples, out)
		samples = out[:n]
	}

	format.SampleRate = rate
	format.Channels = channels
	return &audio.Clip{Format: format, Samples: samples}
}
