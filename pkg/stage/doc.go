// ABOUTME: Playback layers for visual novel scenes
// ABOUTME: Music, sound effects and character voices sharing one pool and fade scheduler
// Package stage plays scene audio on three independent layers.
//
//   - Bgm: one logical music track, crossfaded through two alternating slots
//   - Sfx: overlapping one-shot effects with a concurrency cap and delayed triggers
//   - Voice: dialogue lines tagged by speaker with interrupt policies
//
// Every play request returns a future that resolves with the instance id.
// Sounds that fail to load are logged and reported as load_failed events; they
// never disturb what is already playing.
//
// Example:
//
//	engine, err := stage.New(device, stage.EngineConfig{})
//	if err != nil {
//	    return err
//	}
//	defer engine.Destroy()
//
//	engine.Bgm().Play(stage.BgmPlayOptions{Src: "music/theme.ogg", Fade: time.Second})
//	engine.Voice().Play(stage.VoicePlayOptions{Src: "voice/a001.ogg", SpeakerID: "alice"})
package stage
