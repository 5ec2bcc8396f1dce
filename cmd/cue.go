// ABOUTME: `stagesound cue` plays a YAML cue script
// ABOUTME: Runs in-process on the local device or against a remote daemon
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harperreed/stagesound/internal/app"
	"github.com/harperreed/stagesound/internal/control"
	"github.com/harperreed/stagesound/internal/cue"
	"github.com/harperreed/stagesound/internal/discovery"
	"github.com/harperreed/stagesound/internal/version"
	"github.com/harperreed/stagesound/pkg/protocol"
)

type cueFlags struct {
	server   string
	discover bool
	hold     time.Duration
}

func cueCommand(rt *cli) *cobra.Command {
	var f cueFlags

	cmd := &cobra.Command{
		Use:   "cue <script.yaml>",
		Short: "Play a cue script",
		Long: "Play a cue script in-process, or send it to a running daemon with --server or --discover.\n" +
			"In-process playback keeps the audio device open for --hold after the last step.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.setup(os.Stderr); err != nil {
				return err
			}
			script, err := cue.Load(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if f.server == "" && !f.discover {
				return runLocal(ctx, rt, script, f.hold)
			}
			return runRemote(ctx, rt, script, f)
		},
	}

	cmd.Flags().StringVarP(&f.server, "server", "s", "", "Daemon address (host:port)")
	cmd.Flags().BoolVar(&f.discover, "discover", false, "Find a daemon via mDNS")
	cmd.Flags().DurationVar(&f.hold, "hold", 0, "Keep playing locally for this long after the script ends")
	return cmd
}

func runLocal(ctx context.Context, rt *cli, script *cue.Script, hold time.Duration) error {
	d, err := app.New(rt.cfg, app.Options{Logger: rt.logger})
	if err != nil {
		return err
	}
	defer d.Close()

	if err := cue.NewRunner(control.NewDispatcher(d.Engine()), rt.logger).Run(ctx, script); err != nil {
		return err
	}
	if hold <= 0 {
		return nil
	}

	timer := time.NewTimer(hold)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return nil
}

func runRemote(ctx context.Context, rt *cli, script *cue.Script, f cueFlags) error {
	addr, path := f.server, rt.cfg.Server.Path
	if f.discover {
		found, err := discovery.NewManager(discovery.Config{Logger: rt.logger}).Browse(ctx, 3*time.Second)
		if err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
		if len(found) == 0 {
			return errors.New("no stagesound daemon found")
		}
		addr, path = found[0].Addr(), found[0].Path
		rt.logger.Info("discovered daemon", "name", found[0].Name, "addr", addr)
	}

	client := protocol.NewClient(protocol.Config{
		ServerAddr: addr,
		Path:       path,
		Name:       "stagesound-cue",
		DeviceInfo: protocol.DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
		Logger: rt.logger,
	})
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	go func() {
		for ev := range client.Events {
			rt.logger.Debug("event", "kind", ev.Kind, "layer", ev.Layer, "src", ev.Src)
		}
	}()

	return cue.NewRunner(cue.Remote{Client: client}, rt.logger).Run(ctx, script)
}
