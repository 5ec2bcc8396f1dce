// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Clip types and sample conversion functions
// Package audio provides the PCM types shared by the decoders, the resampler
// and the playback device.
//
//   - Format: describes a PCM stream (codec, sample rate, channels, bit depth)
//   - Clip: a fully decoded source with interleaved samples
//
// Samples are int32 values left-justified in the 24-bit range regardless of
// the source bit depth, so decoders and output code agree on one scale.
//
// Example:
//
//	clip := &audio.Clip{
//	    Format:  audio.Format{Codec: "wav", SampleRate: 44100, Channels: 2, BitDepth: 16},
//	    Samples: samples,
//	}
//	fmt.Println(clip.Duration())
package audio
