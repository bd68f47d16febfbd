// Package process implements the process subcommand: plan construction and
// batch pipeline execution.
package process

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mhelin/burstline/internal/conf"
	"github.com/mhelin/burstline/internal/engine"
	"github.com/mhelin/burstline/internal/store"
	"github.com/mhelin/burstline/internal/workflow"
)

// Command creates the process subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run the burst processing pipelines",
		Long: "Build the processing plan from the persisted burst inventory and " +
			"run the per-burst pipelines in parallel. Completed work items are " +
			"skipped, so an interrupted batch resumes where it stopped.",
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
			summary, err := workflow.Process(cmd.Context(), settings, st, runner, dryRun)
			if err != nil {
				return err
			}
			if dryRun {
				return nil
			}

			fmt.Printf("run %s: %d completed, %d failed\n",
				summary.RunID, summary.Completed, summary.Failed)
			if summary.Failed > 0 {
				return fmt.Errorf("%d work items failed", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without executing it")
	setupFlags(cmd, settings)
	return cmd
}

// setupFlags configures flags specific to the process command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().IntVar(&settings.ARD.Concurrency, "concurrency", viper.GetInt("ard.concurrency"), "Bursts processed in parallel")
	cmd.Flags().BoolVar(&settings.ARD.RTC, "rtc", viper.GetBool("ard.rtc"), "Apply radiometric terrain flattening")
	cmd.Flags().BoolVar(&settings.ARD.KeepTemporary, "keep-temp", viper.GetBool("ard.keeptemporary"), "Keep per-item temporary artifacts")
	cmd.Flags().StringVar(&settings.ARD.GPTPath, "gpt", viper.GetString("ard.gptpath"), "Path to the graph processing tool executable")

	cobra.CheckErr(viper.BindPFlags(cmd.Flags()))
}
