// Command wfeval runs packet-loss web-flow evaluation experiments.
//
// The run subcommand measures page loads under a packet-loss injector
// while capturing their traffic; the analyze subcommand derives flow
// metrics from the captures of a run.
package main

import (
	"os"

	"github.com/apex/log"
	"github.com/spf13/cobra"
)

// version is the version of wfeval.
const version = "0.3.0"

// globalOptions contains the options shared by all subcommands.
type globalOptions struct {
	ConfigFile string
	Verbose    bool
}

func main() {
	var opts globalOptions
	rootCmd := &cobra.Command{
		Use:           "wfeval",
		Short:         "wfeval evaluates web flows under controlled packet loss",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(opts.Verbose)
		},
	}
	rootCmd.SetVersionTemplate("{{ .Version }}\n")
	flags := rootCmd.PersistentFlags()

	flags.StringVarP(
		&opts.ConfigFile,
		"config",
		"c",
		"",
		"read the experiment configuration from the given JSON-with-comments file",
	)

	flags.BoolVarP(
		&opts.Verbose,
		"verbose",
		"v",
		false,
		"enable debug logging",
	)

	rootCmd.AddCommand(newRunCommand(&opts))
	rootCmd.AddCommand(newAnalyzeCommand(&opts))
	rootCmd.AddCommand(newPreflightCommand(&opts))

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("wfeval failed")
		os.Exit(1)
	}
}
