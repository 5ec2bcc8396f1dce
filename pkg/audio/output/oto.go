// ABOUTME: Oto-based playback device
// ABOUTME: One oto player per voice with software volume and end-of-play monitoring
package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/harperreed/stagesound/pkg/audio"
	"github.com/harperreed/stagesound/pkg/audio/decode"
	"github.com/harperreed/stagesound/pkg/audio/encode"
	"github.com/harperreed/stagesound/pkg/audio/resample"
)

// oto only allows one context per process
var (
	otoOnce   sync.Once
	otoCtx    *oto.Context
	otoErr    error
	otoFormat [2]int
)

// Config holds oto device configuration
type Config struct {
	SampleRate   int           // Device sample rate (default 44100)
	Channels     int           // Device channel count (default 2)
	BufferSize   time.Duration // Hardware buffer (0 = oto default)
	PollInterval time.Duration // End-of-play detection interval (default 20ms)
	Opener       Opener        // Source opener (default DirOpener{"."})
	Logger       *slog.Logger
}

// OtoDevice plays sounds through the system audio device
type OtoDevice struct {
	config Config
	logger  *slog.Logger
	ctx     *oto.Context
	encoder *encode.PCMEncoder

	mu     sync.Mutex
	sounds map[*otoSound]struct{}
	closed bool
}

// NewOto opens the process-wide oto context
func NewOto(config Config) (*OtoDevice, error) {
	if config.SampleRate <= 0 {
		config.SampleRate = 44100
	}
	if config.Channels <= 0 {
		config.Channels = 2
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 20 * time.Millisecond
	}
	if config.Opener == nil {
		config.Opener = DirOpener{Root: "."}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   config.SampleRate,
			ChannelCount: config.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   config.BufferSize,
		}
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(op)
		if otoErr == nil {
			<-ready
			otoFormat = [2]int{config.SampleRate, config.Channels}
		}
	})
	if otoErr != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", otoErr)
	}
	if otoFormat != [2]int{config.SampleRate, config.Channels} {
		return nil, fmt.Errorf("oto context already open at %dHz %dch", otoFormat[0], otoFormat[1])
	}

	logger := config.Logger.With("module", "output")
	logger.Info("audio output initialized", "sample_rate", config.SampleRate, "channels", config.Channels)

	encoder, err := encode.NewPCM(16)
	if err != nil {
		return nil, err
	}

	return &OtoDevice{
		config:  config,
		logger:  logger,
		ctx:     otoCtx,
		encoder: encoder,
		sounds:  make(map[*otoSound]struct{}),
	}, nil
}

// Load fetches and prepares src for playback
func (d *OtoDevice) Load(ctx context.Context, src string, mode Mode) (Sound, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("load %s: %w", src, ErrClosed)
	}

	data, err := d.fetch(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, src, err)
	}

	sound, err := d.prepare(src, data, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, src, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("load %s: %w", src, ErrClosed)
	}
	d.sounds[sound] = struct{}{}

	d.logger.Debug("sound loaded", "src", src, "mode", mode, "streamed", sound.encoded != nil, "duration", sound.duration)
	return sound, nil
}

func (d *OtoDevice) fetch(ctx context.Context, src string) ([]byte, error) {
	rc, err := d.config.Opener.Open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return data, ctx.Err()
}

// prepare decodes data into device PCM, or keeps it encoded when it can stream at device rate
func (d *OtoDevice) prepare(src string, data []byte, mode Mode) (*otoSound, error) {
	sound := &otoSound{
		device:     d,
		src:        src,
		frameBytes: d.encoder.FrameBytes(d.config.Channels),
		voices:     make(map[*otoVoice]struct{}),
	}

	if mode == ModeStream && decode.Codec(src) == "mp3" && d.config.Channels == 2 {
		stream, err := decode.NewMP3Stream(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		if stream.SampleRate() == d.config.SampleRate {
			sound.encoded = data
			sound.duration = audio.FramesToDuration(int(stream.Length())/sound.frameBytes, d.config.SampleRate)
			return sound, nil
		}
	}

	clip, err := decode.Decode(src, data)
	if err != nil {
		return nil, err
	}
	clip = resample.Convert(clip, d.config.SampleRate, d.config.Channels)

	pcm, err := d.encoder.Encode(clip.Samples)
	if err != nil {
		return nil, err
	}
	sound.pcm = pcm
	sound.duration = clip.Duration()
	return sound, nil
}

func (d *OtoDevice) forget(s *otoSound) {
	d.mu.Lock()
	delete(d.sounds, s)
	d.mu.Unlock()
}

// Close closes every loaded sound. The oto context itself lives for the process.
func (d *OtoDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	sounds := make([]*otoSound, 0, len(d.sounds))
	for s := range d.sounds {
		sounds = append(sounds, s)
	}
	d.sounds = make(map[*otoSound]struct{})
	d.mu.Unlock()

	for _, s := range sounds {
		s.Close()
	}
	return nil
}

type otoSound struct {
	device     *OtoDevice
	src        string
	pcm        []byte
	encoded    []byte
	frameBytes int
	duration   time.Duration

	mu     sync.Mutex
	voices map[*otoVoice]struct{}
	closed bool
}

func (s *otoSound) NewVoice() (Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("voice for %s: %w", s.src, ErrClosed)
	}

	var source io.ReadSeeker
	if s.encoded != nil {
		stream, err := decode.NewMP3Stream(bytes.NewReader(s.encoded))
		if err != nil {
			return nil, err
		}
		source = stream
	} else {
		source = bytes.NewReader(s.pcm)
	}

	reader := newLoopReader(source)
	v := &otoVoice{
		sound:      s,
		reader:     reader,
		player:     s.device.ctx.NewPlayer(reader),
		frameBytes: s.frameBytes,
		rate:       s.device.config.SampleRate,
		done:       make(chan struct{}),
	}
	s.voices[v] = struct{}{}

	go v.monitor(s.device.config.PollInterval)

	return v, nil
}

func (s *otoSound) Duration() time.Duration {
	return s.duration
}

func (s *otoSound) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	voices := make([]*otoVoice, 0, len(s.voices))
	for v := range s.voices {
		voices = append(voices, v)
	}
	s.voices = nil
	s.mu.Unlock()

	for _, v := range voices {
		v.shutdown()
	}
	s.device.forget(s)
	return nil
}

func (s *otoSound) forget(v *otoVoice) {
	s.mu.Lock()
	if s.voices != nil {
		delete(s.voices, v)
	}
	s.mu.Unlock()
}

type otoVoice struct {
	sound      *otoSound
	reader     *loopReader
	player     *oto.Player
	frameBytes int
	rate       int

	mu      sync.Mutex
	playing bool
	onEnd   func()
	closed  bool

	done chan struct{}
}

func (v *otoVoice) Play() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.playing = true
	v.player.Play()
}

func (v *otoVoice) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.playing = false
	v.player.Pause()
}

func (v *otoVoice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.playing = false
	v.player.Pause()
	if _, err := v.player.Seek(0, io.SeekStart); err != nil {
		v.sound.device.logger.Warn("rewind failed", "src", v.sound.src, "error", err)
	}
}

func (v *otoVoice) Seek(pos time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	offset := int64(audio.DurationToFrames(pos, v.rate) * v.frameBytes)
	if _, err := v.player.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", v.sound.src, err)
	}
	return nil
}

func (v *otoVoice) SetVolume(vol float64) {
	if vol < 0 {
		vol = 0
	} else if vol > 1 {
		vol = 1
	}
	v.player.SetVolume(vol)
}

func (v *otoVoice) Volume() float64 {
	return v.player.Volume()
}

func (v *otoVoice) SetLoop(loop bool) {
	v.reader.SetLoop(loop)
}

func (v *otoVoice) Loop() bool {
	return v.reader.Loop()
}

func (v *otoVoice) IsPlaying() bool {
	return v.player.IsPlaying()
}

func (v *otoVoice) Position() time.Duration {
	played := v.reader.Offset() - int64(v.player.BufferedSize())
	if played < 0 {
		played = 0
	}
	return audio.FramesToDuration(int(played)/v.frameBytes, v.rate)
}

func (v *otoVoice) OnEnd(fn func()) {
	v.mu.Lock()
	v.onEnd = fn
	v.mu.Unlock()
}

func (v *otoVoice) Close() error {
	v.shutdown()
	v.sound.forget(v)
	return nil
}

func (v *otoVoice) shutdown() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.playing = false
	v.player.Pause()
	close(v.done)
	v.mu.Unlock()
}

// monitor detects the natural end of a non-looping play.
// It may run the end callback, which is allowed to close the voice.
func (v *otoVoice) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-v.done:
			return
		case <-ticker.C:
		}

		v.mu.Lock()
		var fn func()
		if v.playing && !v.player.IsPlaying() {
			v.playing = false
			fn = v.onEnd
			if err := v.player.Err(); err != nil {
				v.sound.device.logger.Warn("player error", "src", v.sound.src, "error", err)
			}
		}
		v.mu.Unlock()

		if fn != nil {
			fn()
		}
	}
}
