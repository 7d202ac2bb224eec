package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stefanos11892/GVD-Engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "gvd",
	Short: "Financial report verification and recovery engine",
	Long:  "Extracts key metrics from financial PDFs, verifies each one against the printed page and an adversarial auditor, and recovers or escalates the ones that fail.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
