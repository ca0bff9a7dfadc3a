// Akka-discover finds an Akka server on the local network.
//
// It broadcasts a UDP probe on port 37020 and waits for a server to answer
// with its address. The result is stored in the user settings file so that
// clients can reach the server API without manual configuration. The same
// binary can answer probes itself, which is useful for testing a network.
//
// Usage:
//
//	akka-discover [command] [flags]
//
// Running without arguments launches the interactive discovery screen when
// stdout is a terminal and plain discovery otherwise.
// See 'akka-discover --help' for available commands.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/projectakka/akka-discovery/internal/logging"
	"github.com/projectakka/akka-discovery/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	logLevel string
	udpPort  int
	noSave   bool
)

var rootCmd = &cobra.Command{
	Use:   "akka-discover",
	Short: "Akka Server Discovery",
	Long: `Find an Akka server on the local network without any configuration.

akka-discover broadcasts "DISCOVER_AKKA_SERVER" over UDP and waits for the
server to answer with its address. Each cycle sends up to 6 probes spaced
2-5 seconds apart, followed by a 30 second pause; discovery gives up after
10 cycles.

If no command is specified, the interactive discovery screen launches when
running in a terminal. With auto_discover turned off in the settings file and
a server already configured, the configured server is printed instead.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel != "" {
			return logging.Initialize(logLevel)
		}
		return logging.InitializeFromEnv()
	},
	RunE: runRoot,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); default from $"+logging.LogLevelEnvVar+", silent if unset")
	rootCmd.PersistentFlags().IntVar(&udpPort, "port", 0, "UDP discovery port (default from settings, 37020)")
	rootCmd.PersistentFlags().BoolVar(&noSave, "no-save", false, "Do not store the discovered server in the settings file")

	rootCmd.AddCommand(versionCmd)
}

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			data, err := json.MarshalIndent(version.Get(), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		info := version.Get()
		fmt.Fprintf(cmd.OutOrStdout(), "akka-discover %s (commit: %s, %s, %s)\n",
			info.Version, info.Commit, info.GoVersion, info.Platform)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print version information as JSON")
}
