package cli

import (
	"log/slog"
	"os"

	"github.com/me/godnc/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking GODNC_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("GODNC_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the godnc CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "godnc",
		Short: "godnc — production task dispatcher for CNC machine tools",
		Long:  "godnc submits, monitors, and manages production tasks across a shop floor of CNC machines.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "godnc server URL (or GODNC_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newSubmitCmd(),
		newStatusCmd(),
		newListCmd(),
		newPauseCmd(),
		newResumeCmd(),
		newCancelCmd(),
		newMachinesCmd(),
		newStrategyCmd(),
		newHistoryCmd(),
	)

	return root
}
