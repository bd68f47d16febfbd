// Package inventory implements the inventory subcommand: burst inventory
// build and refinement.
package inventory

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mhelin/burstline/internal/conf"
	"github.com/mhelin/burstline/internal/store"
	"github.com/mhelin/burstline/internal/workflow"
)

// Command creates the inventory subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Build the refined burst inventory from downloaded scenes",
		Long: "Read burst annotations from every downloaded scene, normalize the " +
			"timing values, intersect against the area of interest and persist the " +
			"refined burst inventory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(settings.Directories.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := workflow.BuildInventory(settings, st)
			if err != nil {
				return err
			}

			fmt.Printf("%d scenes, %d burst observations, %d distinct bursts\n",
				result.Scenes, result.Rows, result.Bursts)
			return nil
		},
	}

	setupFlags(cmd, settings)
	return cmd
}

// setupFlags configures flags specific to the inventory command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().Float64Var(&settings.AOI.Buffer, "buffer", viper.GetFloat64("aoi.buffer"), "Outward AOI buffer in degrees")
	cmd.Flags().IntVar(&settings.ARD.MinCoverage, "min-coverage", viper.GetInt("ard.mincoverage"), "Drop bursts with fewer observations, 0 disables")

	cobra.CheckErr(viper.BindPFlags(cmd.Flags()))
}
