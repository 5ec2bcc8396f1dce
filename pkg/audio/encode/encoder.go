// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for turning decoded samples into device bytes
package encode

// Encoder encodes PCM int32 samples to a byte layout
type Encoder interface {
	// Encode converts interleaved samples to encoded bytes
	Encode(samples []int32) ([]byte, error)

	// FrameBytes returns the encoded size of one frame for channels
	FrameBytes(channels int) int
}
