// ABOUTME: Option records for play requests
// ABOUTME: Pointer fields distinguish "not given" from zero values
package stage

import "time"

// BgmPlayOptions configures Bgm.Play.
// An empty Src, or the source already playing, adjusts the current track in place.
type BgmPlayOptions struct {
	Src    string
	Loop   *bool    // default true for a new track, unchanged in place
	Volume *float64 // default: the last requested music volume (initially 1)
	Fade   time.Duration
}

// SfxPlayOptions configures Sfx.Play
type SfxPlayOptions struct {
	Src       string
	Volume    *float64 // default 1
	LoopCount int      // plays in total; 0 means 1, negative loops until stopped
	Delay     time.Duration
	DelayFunc func() time.Duration // when set, evaluated at Play time instead of Delay
}

// Interrupt decides which voices a new line silences
type Interrupt string

const (
	InterruptAll  Interrupt = "all"
	InterruptSelf Interrupt = "self"
	InterruptNone Interrupt = "none"
)

// Progress reports the playback position of a voice line
type Progress struct {
	InstanceID string
	SpeakerID  string
	Src        string
	Position   time.Duration
	Duration   time.Duration
}

// VoicePlayOptions configures Voice.Play
type VoicePlayOptions struct {
	Src        string
	SpeakerID  string    // default "default"
	Volume     *float64  // default 1
	Interrupt  Interrupt // default InterruptAll
	OnComplete func()    // natural end or load failure
	OnUpdate   func(Progress)
}

// Bool returns a pointer to b
func Bool(b bool) *bool { return &b }

// Float returns a pointer to f
func Float(f float64) *float64 { return &f }

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
