package conf

import "github.com/spf13/viper"

// setDefaults registers the default configuration values with viper.
func setDefaults() {
	viper.SetDefault("debug", false)

	// Main
	viper.SetDefault("main.name", "burstline")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/burstline.log")
	viper.SetDefault("main.log.maxsizemb", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxagedays", 28)

	// AOI
	viper.SetDefault("aoi.wkt", "")
	viper.SetDefault("aoi.buffer", 0.02)

	// Search
	viper.SetDefault("search.apiurl", "https://api.daac.asf.alaska.edu/services/search/param")
	viper.SetDefault("search.platform", "Sentinel-1")
	viper.SetDefault("search.product", "SLC")
	viper.SetDefault("search.beammode", "IW")
	viper.SetDefault("search.orbitdirection", "")
	viper.SetDefault("search.relativeorbit", 0)

	// Download
	viper.SetDefault("download.directory", "download")
	viper.SetDefault("download.localmount", "")
	viper.SetDefault("download.maxretries", 3)
	viper.SetDefault("download.timeoutsec", 300)
	viper.SetDefault("download.concurrency", 2)

	// ARD generation
	viper.SetDefault("ard.resolution", 20.0)
	viper.SetDefault("ard.polarisations", []string{"VV", "VH"})
	viper.SetDefault("ard.rtc", false)
	viper.SetDefault("ard.polarimetry", true)
	viper.SetDefault("ard.lsmask", true)
	viper.SetDefault("ard.coherence", true)
	viper.SetDefault("ard.mtfilter", false)
	viper.SetDefault("ard.todb", false)
	viper.SetDefault("ard.demname", "SRTM 1Sec HGT")
	viper.SetDefault("ard.nodata", 0.0)
	viper.SetDefault("ard.mincoverage", 0)
	viper.SetDefault("ard.keeptemporary", false)
	viper.SetDefault("ard.gptpath", "gpt")
	viper.SetDefault("ard.graphdir", "graphs")
	viper.SetDefault("ard.enginethreads", 0)
	viper.SetDefault("ard.concurrency", 1)
	viper.SetDefault("ard.minfreespacegb", 20)

	// Directories
	viper.SetDefault("directories.processingroot", "processing")
	viper.SetDefault("directories.outputroot", "products")
	viper.SetDefault("directories.databasepath", "burstline.db")
}
