// Package timeseries implements the timeseries subcommand: per-burst stack
// assembly.
package timeseries

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mhelin/burstline/internal/conf"
	"github.com/mhelin/burstline/internal/engine"
	"github.com/mhelin/burstline/internal/store"
	"github.com/mhelin/burstline/internal/workflow"
)

// Command creates the timeseries subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeseries",
		Short: "Assemble per-burst time-series stacks",
		Long: "Collect the completed products of every burst into chronologically " +
			"ordered stacks with one exported raster per date and a virtual mosaic " +
			"on top.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(settings.Directories.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			runner := engine.NewGPTRunner(
				settings.ARD.GPTPath,
				settings.ARD.GraphDir,
				settings.ARD.EngineThreads)
			result, err := workflow.Assemble(cmd.Context(), settings, st, runner)
			if err != nil {
				return err
			}

			fmt.Printf("%d bursts, %d stacks assembled\n", result.Bursts, result.Stacks)
			return nil
		},
	}

	setupFlags(cmd, settings)
	return cmd
}

// setupFlags configures flags specific to the timeseries command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().BoolVar(&settings.ARD.MTFilter, "mtfilter", viper.GetBool("ard.mtfilter"), "Apply multi-temporal speckle filtering to backscatter stacks")
	cmd.Flags().BoolVar(&settings.ARD.ToDB, "db", viper.GetBool("ard.todb"), "Export backscatter in dB")

	cobra.CheckErr(viper.BindPFlags(cmd.Flags()))
}
