// exacqman retrieves surveillance footage from an ExacqVision server and
// post-processes it into timelapse clips with burned-in timestamps.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fpang/exacqman/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "exacqman",
	Short: "ExacqVision footage export and timelapse toolkit",
	Long: `Exacqman exports recorded footage from an ExacqVision VMS server and turns
it into shareable clips: timelapse decimation, cropping, per-frame timestamp
burn-in, and size-targeted compression.

Examples:
  exacqman extract backyard 3/11 "6 pm" "9 pm" site.config
  exacqman extract gate 2025-01-28 08:00 17:30 site.config --multiplier 20 --quality high
  exacqman timelapse walk.mp4 --multiplier 10
  exacqman compress big.mp4 --quality low
  exacqman cameras site.config`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
