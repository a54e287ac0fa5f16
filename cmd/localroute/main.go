package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	jsonOutput bool
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "localroute",
		Short: "Route coding work between local and hosted models",
		Long: `localroute decides whether a task should run on a local model, a free
	hosted model or a paid hosted model, and can break larger coding tasks into
	subtasks, assign each one a model and execute the plan.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ~/.localroute/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(preemptCmd())
	rootCmd.AddCommand(costCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(profilesCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
