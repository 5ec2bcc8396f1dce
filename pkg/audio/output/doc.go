// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides Device, Sound and Voice interfaces and an oto implementation
// Package output provides the playback device used by the engine.
//
// A Device loads a source into a Sound; each Sound hands out Voices that
// play, pause, seek, loop and change volume independently. OtoDevice
// implements this on top of a single process-wide oto context.
//
// Example:
//
//	dev, err := output.NewOto(output.Config{Opener: output.DirOpener{Root: "assets"}})
//	sound, err := dev.Load(ctx, "se/click.wav", output.ModeBuffered)
//	voice, err := sound.NewVoice()
//	voice.Play()
package output
