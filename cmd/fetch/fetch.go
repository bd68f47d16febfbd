// Package fetch implements the fetch subcommand: archive search plus
// resumable scene download.
package fetch

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mhelin/burstline/internal/conf"
	"github.com/mhelin/burstline/internal/fetch"
	"github.com/mhelin/burstline/internal/store"
	"github.com/mhelin/burstline/internal/workflow"
)

// Command creates the fetch subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Search the archive and download scenes",
		Long: "Query the granule search API for scenes over the configured area " +
			"and period, then download and verify every scene not yet present locally.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(settings.Directories.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := workflow.Fetch(cmd.Context(), settings, st,
				fetch.NewSearchClient(settings.Search),
				fetch.NewDownloader(settings.Download))
			if err != nil {
				return err
			}

			fmt.Printf("found %d scenes, downloaded %d, failed %d\n",
				result.Found, result.Downloaded, result.Failed)
			if result.Failed > 0 {
				return fmt.Errorf("%d scenes failed to download", result.Failed)
			}
			return nil
		},
	}

	setupFlags(cmd, settings)
	return cmd
}

// setupFlags configures flags specific to the fetch command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().StringVar(&settings.Search.Start, "start", viper.GetString("search.start"), "Search period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&settings.Search.End, "end", viper.GetString("search.end"), "Search period end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&settings.Search.OrbitDirection, "direction", viper.GetString("search.orbitdirection"), "Orbit direction: ASCENDING, DESCENDING or empty for both")
	cmd.Flags().IntVar(&settings.Search.RelativeOrbit, "track", viper.GetInt("search.relativeorbit"), "Restrict the search to one relative orbit")
	cmd.Flags().IntVar(&settings.Download.Concurrency, "concurrency", viper.GetInt("download.concurrency"), "Parallel downloads")

	cobra.CheckErr(viper.BindPFlags(cmd.Flags()))
}
