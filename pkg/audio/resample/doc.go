// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts clips between sample rates and channel layouts
// Package resample provides sample rate and channel conversion.
//
// Example:
//
//	clip = resample.Convert(clip, 48000, 2)
package resample
