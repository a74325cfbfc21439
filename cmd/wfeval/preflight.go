package main

//
// The preflight subcommand
//

import (
	"fmt"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/wfeval/wfeval/internal/browser"
)

func newPreflightCommand(global *globalOptions) *cobra.Command {
	var (
		diag      bool
		namespace string
	)
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check the namespace, the browser and the network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ns") {
				cfg.Namespace = namespace
			}
			ns, err := newNamespace(log.Log, cfg)
			if err != nil {
				return err
			}
			iface := cfg.Interface
			if iface == "" {
				iface = ns.DetectInterface()
			}
			probe := browser.New(&browser.Config{
				ChromePath:       cfg.Browser.Chrome,
				ChromedriverPath: cfg.Browser.Chromedriver,
				Logger:           log.Log,
				PageLoadTimeout:  time.Duration(cfg.Browser.PageLoadTimeoutS) * time.Second,
				Prefix:           ns.Prefix(),
			})
			versions, err := probe.Preflight(cmd.Context())
			if err != nil {
				return err
			}
			log.Infof("preflight: ns=%s if=%s chrome=%s major=%d", cfg.Namespace, iface, versions.Chrome, versions.ChromeMajor)
			log.Infof("preflight: chromedriver=%s major=%d", versions.Chromedriver, versions.DriverMajor)
			log.Infof("preflight: ping 1.1.1.1 -> %s", okOrFail(ns.Ping("1.1.1.1")))
			if diag {
				fmt.Fprint(os.Stdout, ns.Diagnose())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "ns", "wfns", "network namespace where the experiment runs")
	cmd.Flags().BoolVar(&diag, "diag", false, "print the namespace interfaces, routes and firewall rules")
	return cmd
}
