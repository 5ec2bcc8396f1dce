// ABOUTME: `stagesound serve` runs the audio daemon
// ABOUTME: Stops gracefully on SIGINT/SIGTERM or when the status view quits
package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harperreed/stagesound/internal/app"
	"github.com/harperreed/stagesound/internal/version"
)

func serveCommand(rt *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the audio daemon",
		Long:  "Host an audio engine on the local output device and accept commands over WebSocket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// the status view owns the terminal, so logs default elsewhere
			var defaultLog io.Writer = os.Stderr
			if rt.v.GetBool("ui.enabled") {
				defaultLog = io.Discard
			}
			if err := rt.setup(defaultLog); err != nil {
				return err
			}
			rt.logger.Info("starting", "version", version.String())

			d, err := app.New(rt.cfg, app.Options{Logger: rt.logger})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return d.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":8928", "Listen address")
	flags.String("name", "", "Advertised name (default: <hostname>-stagesound)")
	flags.Int("pool-size", 10, "Maximum loaded audio resources")
	flags.Int("max-sfx", 20, "Maximum concurrent sound effects")
	flags.Bool("mdns", true, "Advertise via mDNS")
	flags.Bool("watch", true, "Reload changed asset files")
	flags.Bool("metrics", true, "Serve Prometheus metrics on /metrics")
	flags.Bool("tui", false, "Show the terminal status view")
	mustBind(rt.v, "server.addr", flags.Lookup("addr"))
	mustBind(rt.v, "server.name", flags.Lookup("name"))
	mustBind(rt.v, "engine.pool_size", flags.Lookup("pool-size"))
	mustBind(rt.v, "engine.max_concurrent_sfx", flags.Lookup("max-sfx"))
	mustBind(rt.v, "server.discovery", flags.Lookup("mdns"))
	mustBind(rt.v, "assets.watch", flags.Lookup("watch"))
	mustBind(rt.v, "metrics.enabled", flags.Lookup("metrics"))
	mustBind(rt.v, "ui.enabled", flags.Lookup("tui"))
	return cmd
}
