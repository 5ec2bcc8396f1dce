// ABOUTME: Decoder interface definition and source-based lookup
// ABOUTME: Picks a decoder from the source extension and decodes to a Clip
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/harperreed/stagesound/pkg/audio"
)

// ErrUnsupportedFormat is returned when no decoder handles a source
var ErrUnsupportedFormat = errors.New("decode: unsupported format")

// Decoder decodes a complete encoded stream to a PCM clip
type Decoder interface {
	Decode(r io.Reader) (*audio.Clip, error)
}

// DecoderFunc adapts a function to the Decoder interface
type DecoderFunc func(r io.Reader) (*audio.Clip, error)

// Decode calls f(r)
func (f DecoderFunc) Decode(r io.Reader) (*audio.Clip, error) {
	return f(r)
}

var byExtension = map[string]Decoder{
	"mp3":  DecoderFunc(DecodeMP3),
	"wav":  DecoderFunc(DecodeWAV),
	"flac": DecoderFunc(DecodeFLAC),
	"ogg":  DecoderFunc(DecodeVorbis),
	"oga":  DecoderFunc(DecodeVorbis),
	"opus": NewOpus(OpusConfig{}),
	"pcm":  NewPCM(audio.Format{}),
	"raw":  NewPCM(audio.Format{}),
}

// Codec returns the lower-case extension of src, ignoring URL query strings
func Codec(src string) string {
	p := src
	if u, err := url.Parse(src); err == nil && u.Scheme != "" {
		p = u.Path
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
}

// ForSource returns the decoder for src based on its extension
func ForSource(src string) (Decoder, error) {
	codec := Codec(src)
	dec, ok := byExtension[codec]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, codec)
	}
	return dec, nil
}

// Decode decodes the full encoded bytes of src
func Decode(src string, data []byte) (*audio.Clip, error) {
	dec, err := ForSource(src)
	if err != nil {
		return nil, err
	}
	clip, err := dec.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", src, err)
	}
	if clip.Format.Channels <= 0 || clip.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("decode %s: invalid format %+v", src, clip.Format)
	}
	return clip, nil
}
