package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mhelin/burstline/cmd/fetch"
	"github.com/mhelin/burstline/cmd/inventory"
	"github.com/mhelin/burstline/cmd/process"
	"github.com/mhelin/burstline/cmd/timeseries"
	"github.com/mhelin/burstline/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "burstline",
		Short: "Burst-level Sentinel-1 batch processing",
		Long: "Burstline searches, downloads and processes Sentinel-1 SLC scenes " +
			"into per-burst analysis-ready time series.",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(
		fetch.Command(settings),
		inventory.Command(settings),
		process.Command(settings),
		timeseries.Command(settings),
	)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Directories.DatabasePath, "database", viper.GetString("directories.databasepath"), "Path to the inventory database")
	rootCmd.PersistentFlags().StringVar(&settings.AOI.WKT, "aoi", viper.GetString("aoi.wkt"), "Area of interest as a WKT polygon")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}
	return nil
}
