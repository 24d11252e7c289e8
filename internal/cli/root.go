// Package cli wires the host daemon's cobra commands.
package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jrhost",
	Short: "JunctionRelay collector plugin host",
	Long: `jrhost discovers collector plugins on disk, runs each as a supervised
child process speaking line-framed JSON-RPC over stdio, and forwards the
aggregated sensor readings to downstream sinks.`,
	Version: version,
}

// Execute runs the root command. Child commands and flags are registered in
// the package init functions.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}
