// ABOUTME: Audio type definitions
// ABOUTME: Defines PCM formats, decoded clips and sample conversions
package audio

import "time"

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Format describes a PCM stream format
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// Clip is a fully decoded source.
// Samples are interleaved and left-justified in the 24-bit range.
type Clip struct {
	Format  Format
	Samples []int32
}

// Frames returns the number of sample frames in the clip
func (c *Clip) Frames() int {
	if c == nil || c.Format.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Format.Channels
}

// Duration returns the playback length of the clip
func (c *Clip) Duration() time.Duration {
	return FramesToDuration(c.Frames(), c.Format.SampleRate)
}

// FramesToDuration converts a frame count at rate to wall time
func FramesToDuration(frames, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(rate))
}

// DurationToFrames converts wall time to a frame count at rate
func DurationToFrames(d time.Duration, rate int) int {
	if d <= 0 || rate <= 0 {
		return 0
	}
	return int(int64(d) * int64(rate) / int64(time.Second))
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleFromBits rescales a signed sample of the given bit depth into the 24-bit range
func SampleFromBits(sample int32, bits int) int32 {
	switch {
	case bits == 24:
		return sample
	case bits < 24:
		return sample << uint(24-bits)
	default:
		return sample >> uint(bits-24)
	}
}

// SampleFromFloat converts a [-1, 1] float sample into the 24-bit range with clipping
func SampleFromFloat(f float32) int32 {
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	return int32(f * Max24Bit)
}
