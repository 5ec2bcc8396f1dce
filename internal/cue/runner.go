// ABOUTME: Executes cue scripts against a local engine or a remote daemon
// ABOUTME: Honours step offsets, waits and awaited results
package cue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harperreed/stagesound/pkg/protocol"
)

// Executor runs one command and returns the instance id it produced.
// control.Dispatcher and Remote both satisfy it.
type Executor interface {
	Execute(ctx context.Context, cmd protocol.Command) (string, error)
}

// Remote executes commands through a connected protocol client
type Remote struct {
	Client *protocol.Client
}

// Execute implements Executor
func (r Remote) Execute(ctx context.Context, cmd protocol.Command) (string, error) {
	res, err := r.Client.Send(ctx, cmd)
	if err != nil {
		return "", err
	}
	return res.InstanceID, nil
}

// Runner plays scripts
type Runner struct {
	exec   Executor
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	ids map[string]string
}

// NewRunner creates a runner sending commands to exec
func NewRunner(exec Executor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		exec:   exec,
		logger: logger.With("module", "cue"),
		now:    time.Now,
	}
}

// Run executes script and returns once every command has answered.
// Commands that are not awaited run concurrently; the first failure is returned.
func (r *Runner) Run(ctx context.Context, script *Script) error {
	r.mu.Lock()
	r.ids = make(map[string]string)
	r.mu.Unlock()

	r.logger.Info("cue started", "script", script.Name, "steps", len(script.Steps))
	start := r.now()
	var g errgroup.Group

	for i, step := range script.Steps {
		if err := sleepUntil(ctx, start.Add(step.At), r.now); err != nil {
			g.Wait()
			return err
		}
		if step.IsWait() {
			if err := sleep(ctx, step.Wait); err != nil {
				g.Wait()
				return err
			}
			continue
		}

		n := i + 1
		if step.Await {
			if err := r.execute(ctx, n, step); err != nil {
				g.Wait()
				return err
			}
			continue
		}
		g.Go(func() error { return r.execute(ctx, n, step) })
	}

	err := g.Wait()
	r.logger.Info("cue finished", "script", script.Name, "elapsed", r.now().Sub(start), "error", err)
	return err
}

func (r *Runner) execute(ctx context.Context, n int, step Step) error {
	cmd := step.Command()
	if ref, ok := strings.CutPrefix(cmd.Target, "@"); ok {
		r.mu.Lock()
		id, known := r.ids[ref]
		r.mu.Unlock()
		if !known {
			return fmt.Errorf("step %d: step %q has not produced an instance yet", n, ref)
		}
		cmd.Target = id
	}

	r.logger.Debug("cue step", "step", n, "layer", cmd.Layer, "op", cmd.Op, "src", cmd.Src)
	id, err := r.exec.Execute(ctx, cmd)
	if err != nil {
		return fmt.Errorf("step %d (%s %s %s): %w", n, cmd.Layer, cmd.Op, cmd.Src, err)
	}
	if step.Name != "" {
		r.mu.Lock()
		r.ids[step.Name] = id
		r.mu.Unlock()
	}
	return nil
}

func sleepUntil(ctx context.Context, at time.Time, now func() time.Time) error {
	return sleep(ctx, at.Sub(now()))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
