package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/codedrop/internal/logging"
	"github.com/BioHazard786/codedrop/internal/ui"
	"github.com/BioHazard786/codedrop/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagVerbose bool
	flagConfig  string

	logger = slog.Default()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "codedrop",
	Short: "Send files peer to peer with a four digit room code",
	Long: `codedrop moves files directly between two machines over a WebRTC data
channel. The sender gets a four digit room code, the receiver types it in, and
a small relay is only used to exchange connection details.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logging.Init(flagVerbose)
	},
}

// Execute runs the CLI. Ctrl-C cancels the command context, which tears
// down any session in progress.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintErrorf("Error: %v", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ~/.config/codedrop/config.toml)")
}
