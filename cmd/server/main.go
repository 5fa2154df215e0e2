package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lagz0ne/claude-web/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// options holds the command line flags. Zero values defer to config.json.
type options struct {
	port        int
	host        string
	configPath  string
	dataDir     string
	staticDir   string
	logLevel    string
	agentBinary string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:     "claude-web",
		Short:   "Web front-end for agent sessions",
		Long:    "claude-web serves a browser UI that runs, streams and persists agent sessions.",
		Version: version,
		Args:    cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(opts.logLevel, term.IsTerminal(int(os.Stderr.Fd())))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.port, "port", "p", 0, "HTTP port (default from config, 3111)")
	flags.StringVarP(&opts.host, "host", "H", "", "listen address (default from config, 127.0.0.1)")
	flags.StringVarP(&opts.configPath, "config", "c", config.ConfigPath(), "config file path")
	flags.StringVar(&opts.dataDir, "data-dir", config.DataDir(), "directory for the session index and transcripts")
	flags.StringVar(&opts.staticDir, "static", "", "directory of the built frontend to serve")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.agentBinary, "agent-binary", "", "agent CLI to launch (default from config, claude)")

	return cmd
}
