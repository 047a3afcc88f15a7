// Command pygeons estimates transient displacement and strain from station
// time series: REML hyperparameter fitting, outlier cleaning, and posterior
// strain evaluation over a Gaussian-process model of the network.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type app struct {
	logger *zap.Logger

	inputDir   string
	format     string
	configPath string
	outputDir  string
	debug      bool
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "pygeons",
		Short:         "Bayesian estimation of transient geodetic displacement and strain",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if a.debug {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := config.Build()
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&a.inputDir, "input", "i", ".", "directory of station files")
	root.PersistentFlags().StringVarP(&a.format, "format", "f", "csv", "station file format (csv, pbocsv, tdecsv, pbopos)")
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "model.yaml", "model configuration file")

	root.AddCommand(a.remlCmd(), a.autocleanCmd(), a.strainCmd())
	if err := root.Execute(); err != nil {
		if a.logger != nil {
			a.logger.Error("command failed", zap.Error(err))
		} else {
			os.Stderr.WriteString(err.Error() + "\n")
		}
		os.Exit(1)
	}
}
