package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/genq/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking GENQ_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("GENQ_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the genq CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "genq",
		Short: "genq — sequential generation scheduler",
		Long:  "genq queues generation requests and executes them one at a time against a budget-limited model backend.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.New(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "genq server URL (or GENQ_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newServeCmd(),
		newGenerateCmd(),
		newStatusCmd(),
		newHistoryCmd(),
		newCancelCmd(),
		newInteractCmd(),
	)

	return root
}
