// ABOUTME: Audio decoder package for multiple codec support
// ABOUTME: Provides Decoder interface and implementations for MP3, WAV, FLAC, Vorbis, Opus and PCM
// Package decode turns encoded audio files into PCM clips.
//
// Supports: MP3, WAV, FLAC, Ogg Vorbis, Ogg Opus and raw PCM, chosen by
// the source extension.
//
// All decoders output int32 samples in 24-bit range.
//
// Example:
//
//	clip, err := decode.Decode("music/theme.ogg", data)
//	if errors.Is(err, decode.ErrUnsupportedFormat) {
//	    ...
//	}
package decode
