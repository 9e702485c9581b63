package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/lumenstream/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		errors.Print(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lumen",
		Short: "Stream pixel matrices to display clients over UDP",
		Long: `Lumen streams a pixel matrix and spectrum data to display clients
over UDP with differential updates, fragmentation and compression.

  • serve    run the streaming server with the built-in test pattern
  • probe    connect as a client and report what arrives
  • inspect  decode stream traffic from a pcap capture
  • config   write or check a configuration file`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		serveCmd(),
		probeCmd(),
		inspectCmd(),
		configCmd(),
		versionCmd(),
	)
	return cmd
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
