// Command chronocore is a thin administrative CLI over the engine's
// in-process packages: it has no server to dial (this engine ships no
// front-end, see DESIGN.md's "Deleted teacher code" entry), so its
// subcommands are self-contained demonstrations and smoke tests run
// directly against internal/memstore, internal/downsample, and
// internal/planner.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"chronocore/internal/logging"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "chronocore",
		Short: "Time-series metrics engine administrative CLI",
	}
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table or json")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = os.Stdout.WriteString(version + "\n")
		},
	}

	rootCmd.AddCommand(versionCmd, newDemoCmd(logger))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// outputFormat returns "json" or "table" from the --output flag.
func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}
