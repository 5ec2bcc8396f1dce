// ABOUTME: In-memory playback device for tests
// ABOUTME: Records loads and voices and lets tests end playback on demand
package audiotest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harperreed/stagesound/pkg/audio/output"
)

// Device is a fake output.Device.
// Loads succeed immediately unless configured with Fail or Delay.
type Device struct {
	mu        sync.Mutex
	fail      map[string]error
	delay     map[string]time.Duration
	durations map[string]time.Duration
	loads     map[string]int
	sounds    map[string][]*Sound
	closed    bool
}

// NewDevice creates an empty fake device
func NewDevice() *Device {
	return &Device{
		fail:      make(map[string]error),
		delay:     make(map[string]time.Duration),
		durations: make(map[string]time.Duration),
		loads:     make(map[string]int),
		sounds:    make(map[string][]*Sound),
	}
}

// Fail makes every load of src fail with err. A nil err clears the failure.
func (d *Device) Fail(src string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, src)
		return
	}
	d.fail[src] = err
}

// Delay makes loads of src take dur, or until the load context is done
func (d *Device) Delay(src string, dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay[src] = dur
}

// SetDuration sets the reported length of src
func (d *Device) SetDuration(src string, dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.durations[src] = dur
}

// Load implements output.Device
func (d *Device) Load(ctx context.Context, src string, mode output.Mode) (output.Sound, error) {
	d.mu.Lock()
	d.loads[src]++
	delay := d.delay[src]
	d.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, output.ErrClosed
	}
	if err := d.fail[src]; err != nil {
		return nil, fmt.Errorf("%w: %s: %w", output.ErrLoad, src, err)
	}

	duration := d.durations[src]
	if duration == 0 {
		duration = time.Minute
	}
	s := &Sound{Src: src, Mode: mode, duration: duration}
	d.sounds[src] = append(d.sounds[src], s)
	return s, nil
}

// Close implements output.Device
func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	var all []*Sound
	for _, list := range d.sounds {
		all = append(all, list...)
	}
	d.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	return nil
}

// Loads returns how many times src was loaded
func (d *Device) Loads(src string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loads[src]
}

// Sounds returns every sound loaded for src, oldest first
func (d *Device) Sounds(src string) []*Sound {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Sound(nil), d.sounds[src]...)
}

// Voices returns every voice created for src
func (d *Device) Voices(src string) []*Voice {
	var voices []*Voice
	for _, s := range d.Sounds(src) {
		voices = append(voices, s.Voices()...)
	}
	return voices
}

// Playing returns the voices of src that are currently playing
func (d *Device) Playing(src string) []*Voice {
	var playing []*Voice
	for _, v := range d.Voices(src) {
		if v.IsPlaying() {
			playing = append(playing, v)
		}
	}
	return playing
}

// Sound is a fake output.Sound
type Sound struct {
	Src      string
	Mode     output.Mode
	duration time.Duration

	mu     sync.Mutex
	voices []*Voice
	closed bool
}

// NewVoice implements output.Sound
func (s *Sound) NewVoice() (output.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, output.ErrClosed
	}
	v := &Voice{sound: s, volume: 1}
	s.voices = append(s.voices, v)
	return v, nil
}

// Duration implements output.Sound
func (s *Sound) Duration() time.Duration {
	return s.duration
}

// Close implements output.Sound
func (s *Sound) Close() error {
	s.mu.Lock()
	s.closed = true
	voices := append([]*Voice(nil), s.voices...)
	s.mu.Unlock()

	for _, v := range voices {
		v.Close()
	}
	return nil
}

// Closed reports whether the sound was closed
func (s *Sound) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Voices returns the voices created from this sound
func (s *Sound) Voices() []*Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Voice(nil), s.voices...)
}

// Voice is a fake output.Voice
type Voice struct {
	sound *Sound

	mu       sync.Mutex
	volume   float64
	loop     bool
	playing  bool
	position time.Duration
	onEnd    func()
	closed   bool
	plays    int
}

func (v *Voice) Play() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.playing = true
	v.plays++
}

func (v *Voice) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.playing = false
}

func (v *Voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.playing = false
	v.position = 0
}

func (v *Voice) Seek(pos time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return output.ErrClosed
	}
	v.position = pos
	return nil
}

func (v *Voice) SetVolume(vol float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.volume = vol
}

func (v *Voice) Volume() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.volume
}

func (v *Voice) SetLoop(loop bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loop = loop
}

func (v *Voice) Loop() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loop
}

func (v *Voice) IsPlaying() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}

func (v *Voice) Position() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.position
}

func (v *Voice) OnEnd(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onEnd = fn
}

func (v *Voice) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.playing = false
	return nil
}

// End simulates playback reaching the end of the sound.
// Looping voices rewind and keep playing; others stop and run the end callback.
// Reports whether the voice was playing.
func (v *Voice) End() bool {
	v.mu.Lock()
	if v.closed || !v.playing {
		v.mu.Unlock()
		return false
	}
	if v.loop {
		v.position = 0
		v.mu.Unlock()
		return true
	}
	v.playing = false
	v.position = v.sound.duration
	fn := v.onEnd
	v.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// Closed reports whether the voice was closed
func (v *Voice) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Plays returns how many times Play was called
func (v *Voice) Plays() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.plays
}

// Src returns the source of the voice's sound
func (v *Voice) Src() string {
	return v.sound.Src
}
