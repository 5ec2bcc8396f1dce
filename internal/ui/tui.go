// ABOUTME: TUI program lifecycle for the daemon
// ABOUTME: Feeds status snapshots and engine events into the bubbletea program
package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/harperreed/stagesound/pkg/stage"
)

// StatusFunc returns the current daemon snapshot
type StatusFunc func() StatusMsg

// TUI runs the status view
type TUI struct {
	program  *tea.Program
	quitChan chan struct{}
}

// New creates the view; opts are passed to bubbletea
func New(controls Controls, opts ...tea.ProgramOption) *TUI {
	quit := make(chan struct{}, 1)
	return &TUI{
		program:  tea.NewProgram(NewModel(controls, quit), opts...),
		quitChan: quit,
	}
}

// Run shows the view until the user quits or ctx is done.
// Status is polled every interval and events are forwarded as they arrive.
func (t *TUI) Run(ctx context.Context, status StatusFunc, interval time.Duration, events <-chan stage.Event) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		t.program.Send(status())
		for {
			select {
			case <-ctx.Done():
				t.program.Quit()
				return
			case <-ticker.C:
				t.program.Send(status())
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				t.program.Send(EventMsg(ev))
			}
		}
	}()

	_, err := t.program.Run()
	cancel()
	<-done
	return err
}

// QuitChan signals when the user asked to quit
func (t *TUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
