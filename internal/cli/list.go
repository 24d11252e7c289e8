package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/catapultcase/JunctionRelay-Collectors/internal/config"
	"github.com/catapultcase/JunctionRelay-Collectors/pkg/discovery"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List collector plugins discovered under the plugin root",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewLoader(cfgFile).Load()
		if err != nil {
			return err
		}

		scanner := discovery.NewScanner(zerolog.New(os.Stderr).Level(zerolog.WarnLevel))
		plugins := scanner.Scan(cfg.PluginRoot)
		if len(plugins) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no plugins found under %s\n", cfg.PluginRoot)
			return nil
		}

		for _, p := range plugins {
			fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-10s %s\n", p.Name, p.Version, p.Entry)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
