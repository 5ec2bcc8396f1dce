// ABOUTME: Root cobra command and shared config/logging setup
// ABOUTME: Persistent flags are bound onto the viper configuration keys
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/harperreed/stagesound/internal/config"
	"github.com/harperreed/stagesound/internal/logging"
)

// cli carries what every subcommand needs after flag parsing
type cli struct {
	v          *viper.Viper
	configPath string
	logFile    string

	cfg     *config.Config
	logger  *slog.Logger
	closeFn func()
}

// RootCommand creates the stagesound CLI
func RootCommand() *cobra.Command {
	rt := &cli{v: config.New()}

	root := &cobra.Command{
		Use:           "stagesound",
		Short:         "Layered audio engine for visual novel runtimes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&rt.configPath, "config", "c", "", "Config file (default: ./stagesound.yaml, ~/.config/stagesound, /etc/stagesound)")
	flags.StringVar(&rt.logFile, "log-file", "", "Append logs to this file instead of stderr")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("assets", ".", "Asset root directory")
	mustBind(rt.v, "log.level", flags.Lookup("log-level"))
	mustBind(rt.v, "log.format", flags.Lookup("log-format"))
	mustBind(rt.v, "assets.root", flags.Lookup("assets"))

	root.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if rt.closeFn != nil {
			rt.closeFn()
		}
	}

	root.AddCommand(
		serveCommand(rt),
		cueCommand(rt),
		versionCommand(),
	)
	return root
}

// setup loads the configuration and installs the logger.
// defaultLog is used when no --log-file is given.
func (rt *cli) setup(defaultLog io.Writer) error {
	cfg, err := config.Load(rt.v, rt.configPath)
	if err != nil {
		return err
	}
	rt.cfg = cfg

	w := defaultLog
	if rt.logFile != "" {
		f, err := os.OpenFile(rt.logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		rt.closeFn = func() { f.Close() }
		w = f
	}

	logger, _, err := logging.New(w, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	rt.logger = logger
	slog.SetDefault(logger)
	return nil
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind %s: %v", key, err))
	}
}
