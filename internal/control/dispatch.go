// ABOUTME: Maps protocol commands onto engine layer operations
// ABOUTME: Waits for the operation's future and turns it into a result
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/harperreed/stagesound/pkg/audio/future"
	"github.com/harperreed/stagesound/pkg/protocol"
	"github.com/harperreed/stagesound/pkg/stage"
)

// Dispatcher executes commands against an engine
type Dispatcher struct {
	engine *stage.Engine
}

// NewDispatcher creates a dispatcher for engine
func NewDispatcher(engine *stage.Engine) *Dispatcher {
	return &Dispatcher{engine: engine}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Execute runs cmd and waits for it to finish or ctx to end.
// Play results carry the instance id.
func (d *Dispatcher) Execute(ctx context.Context, cmd protocol.Command) (string, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}

	switch cmd.Layer {
	case protocol.LayerBgm:
		return d.bgm(ctx, cmd)
	case protocol.LayerSfx:
		return d.sfx(ctx, cmd)
	case protocol.LayerVoice:
		return d.voice(ctx, cmd)
	default:
		return d.engineOp(ctx, cmd)
	}
}

func (d *Dispatcher) bgm(ctx context.Context, cmd protocol.Command) (string, error) {
	bgm := d.engine.Bgm()
	fade := ms(cmd.FadeMs)

	switch cmd.Op {
	case protocol.OpPlay:
		return wait(ctx, bgm.Play(stage.BgmPlayOptions{Src: cmd.Src, Loop: cmd.Loop, Volume: cmd.Volume, Fade: fade}))
	case protocol.OpResume:
		return wait(ctx, bgm.Resume(fade))
	case protocol.OpStop:
		return "", waitDone(ctx, bgm.Stop(fade))
	case protocol.OpPause:
		return "", waitDone(ctx, bgm.Pause(fade))
	case protocol.OpFade:
		return "", waitDone(ctx, bgm.Fade(*cmd.Volume, fade))
	case protocol.OpPreload:
		return "", waitDone(ctx, bgm.Preload(cmd.Src))
	case protocol.OpSeek:
		return "", bgm.Seek(ms(cmd.SeekMs))
	}
	return "", fmt.Errorf("%w: bgm %s", protocol.ErrInvalidCommand, cmd.Op)
}

func (d *Dispatcher) sfx(ctx context.Context, cmd protocol.Command) (string, error) {
	sfx := d.engine.Sfx()

	switch cmd.Op {
	case protocol.OpPlay:
		return wait(ctx, sfx.Play(stage.SfxPlayOptions{
			Src:       cmd.Src,
			Volume:    cmd.Volume,
			LoopCount: cmd.LoopCount,
			Delay:     ms(cmd.DelayMs),
		}))
	case protocol.OpStop:
		return "", waitDone(ctx, sfx.Stop(cmd.Target, ms(cmd.FadeMs)))
	case protocol.OpStopAll:
		return "", waitDone(ctx, sfx.StopAll(ms(cmd.FadeMs)))
	}
	return "", fmt.Errorf("%w: sfx %s", protocol.ErrInvalidCommand, cmd.Op)
}

func (d *Dispatcher) voice(ctx context.Context, cmd protocol.Command) (string, error) {
	voice := d.engine.Voice()

	switch cmd.Op {
	case protocol.OpPlay:
		// Completion reaches remote callers as an ended event
		return wait(ctx, voice.Play(stage.VoicePlayOptions{
			Src:       cmd.Src,
			SpeakerID: cmd.SpeakerID,
			Volume:    cmd.Volume,
			Interrupt: stage.Interrupt(cmd.Interrupt),
		}))
	case protocol.OpStop:
		return "", waitDone(ctx, voice.Stop(cmd.SpeakerID, ms(cmd.FadeMs)))
	case protocol.OpStopAll:
		return "", waitDone(ctx, voice.StopAll(ms(cmd.FadeMs)))
	}
	return "", fmt.Errorf("%w: voice %s", protocol.ErrInvalidCommand, cmd.Op)
}

func (d *Dispatcher) engineOp(ctx context.Context, cmd protocol.Command) (string, error) {
	switch cmd.Op {
	case protocol.OpStopAll:
		fade := ms(cmd.FadeMs)
		done := []*future.Future[struct{}]{
			d.engine.Bgm().Stop(fade),
			d.engine.Sfx().StopAll(fade),
			d.engine.Voice().StopAll(fade),
		}
		for _, f := range done {
			if err := waitDone(ctx, f); err != nil {
				return "", err
			}
		}
		return "", nil
	case protocol.OpDestroy:
		d.engine.Destroy()
		return "", nil
	}
	return "", fmt.Errorf("%w: engine %s", protocol.ErrInvalidCommand, cmd.Op)
}

func wait(ctx context.Context, f *future.Future[string]) (string, error) {
	return f.Wait(ctx)
}

func waitDone(ctx context.Context, f *future.Future[struct{}]) error {
	_, err := f.Wait(ctx)
	return err
}
