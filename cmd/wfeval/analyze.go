package main

//
// The analyze subcommand
//

import (
	"path/filepath"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/wfeval/wfeval/internal/analyzer"
	"github.com/wfeval/wfeval/internal/ledger"
	"github.com/wfeval/wfeval/internal/resultsdb"
)

// analyzeOptions contains the options of the analyze subcommand.
type analyzeOptions struct {
	DBPath     string
	LedgerPath string
	OutDir     string
	Port       uint16
	RunID      string
}

func newAnalyzeCommand(global *globalOptions) *cobra.Command {
	var opts analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Derive flow metrics from the captures of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyzeMain(&opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.LedgerPath, "ledger", filepath.Join("results", "ledger.csv"), "ledger of the run")
	flags.StringVarP(&opts.OutDir, "out", "o", filepath.Join("results", "analysis"), "directory for the reports")
	flags.StringVar(&opts.DBPath, "db", "", "OPTIONAL SQLite database where to also save the results")
	flags.StringVar(&opts.RunID, "run-id", "", "run ID to use in the database (default: random)")
	flags.Uint16Var(&opts.Port, "port", analyzer.DefaultPort, "server UDP port")
	return cmd
}

func analyzeMain(opts *analyzeOptions) error {
	trials, err := ledger.ReadAll(opts.LedgerPath)
	if err != nil {
		return err
	}
	log.Infof("analyzing %d trials from %s", len(trials), opts.LedgerPath)
	metrics := analyzer.New(&analyzer.Config{Logger: log.Log, Port: opts.Port}).AnalyzeAll(trials)
	if err := analyzer.WriteReport(opts.OutDir, metrics); err != nil {
		return err
	}
	log.Infof("reports written into %s", opts.OutDir)
	if opts.DBPath == "" {
		return nil
	}
	db, err := resultsdb.Open(log.Log, opts.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	runID := opts.RunID
	if runID == "" {
		runID = uuid.Must(uuid.NewRandom()).String()
	}
	_, err = db.SaveAll(runID, opts.LedgerPath, metrics)
	return err
}
