// ABOUTME: Playback device interfaces
// ABOUTME: Device loads Sounds, Sounds spawn independently controlled Voices
package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrLoad wraps every fetch or decode failure from Device.Load
	ErrLoad = errors.New("output: load failed")

	// ErrClosed is returned when using a closed device or sound
	ErrClosed = errors.New("output: closed")
)

// Mode selects how a sound is held in memory
type Mode int

const (
	// ModeBuffered decodes the whole source to PCM up front
	ModeBuffered Mode = iota
	// ModeStream keeps the encoded bytes and decodes per voice when possible
	ModeStream
)

func (m Mode) String() string {
	if m == ModeStream {
		return "stream"
	}
	return "buffered"
}

// Device loads sources into playable sounds
type Device interface {
	Load(ctx context.Context, src string, mode Mode) (Sound, error)
	Close() error
}

// Sound is a loaded source. It may sound through many voices at once.
type Sound interface {
	NewVoice() (Voice, error)
	Duration() time.Duration
	// Close closes every voice of the sound
	Close() error
}

// Voice is one playback cursor over a sound
type Voice interface {
	Play()
	Pause()
	// Stop pauses and rewinds to the start
	Stop()
	Seek(pos time.Duration) error
	SetVolume(v float64)
	Volume() float64
	SetLoop(loop bool)
	Loop() bool
	IsPlaying() bool
	Position() time.Duration
	// OnEnd registers fn to run when a non-looping play reaches the end of the sound.
	// It never runs because of Pause, Stop or Close.
	OnEnd(fn func())
	Close() error
}

// Opener resolves a source identifier to its encoded bytes
type Opener interface {
	Open(ctx context.Context, src string) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to the Opener interface
type OpenerFunc func(ctx context.Context, src string) (io.ReadCloser, error)

// Open calls f(ctx, src)
func (f OpenerFunc) Open(ctx context.Context, src string) (io.ReadCloser, error) {
	return f(ctx, src)
}

// DirOpener opens sources as slash-separated paths below Root
type DirOpener struct {
	Root string
}

// Open opens src below the root directory
func (d DirOpener) Open(ctx context.Context, src string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel := filepath.FromSlash(src)
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("source %q escapes asset root", src)
	}
	return os.Open(filepath.Join(d.Root, rel))
}
