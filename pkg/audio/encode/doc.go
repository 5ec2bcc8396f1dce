// ABOUTME: Audio encoder package for turning clips into device bytes
// ABOUTME: Provides the Encoder interface and little-endian PCM encoders
// Package encode converts decoded samples into the byte layout an output
// device consumes.
//
// Supports: signed 16-bit and 24-bit little-endian PCM
//
// All encoders accept int32 samples in 24-bit range.
//
// Example:
//
//	encoder, err := encode.NewPCM(16)
//	data, err := encoder.Encode(clip.Samples)
package encode
