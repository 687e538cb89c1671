package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fpang/exacqman/internal/config"
	"github.com/fpang/exacqman/internal/pipeline"
)

var (
	timelapseMultiplierFlag int
	timelapseOutputFlag     string
	timelapseCropFlag       string
)

var timelapseCmd = &cobra.Command{
	Use:   "timelapse <file>",
	Short: "Turn an existing video file into a timelapse",
	Args:  cobra.ExactArgs(1),
	RunE:  runTimelapse,
}

func init() {
	timelapseCmd.Flags().IntVarP(&timelapseMultiplierFlag, "multiplier", "x", config.DefaultMultiplier, "Timelapse speed-up factor")
	timelapseCmd.Flags().StringVarP(&timelapseOutputFlag, "output", "o", "", "Output filename (default <input>_<N>x.mp4)")
	timelapseCmd.Flags().StringVar(&timelapseCropFlag, "crop", "", "Crop rectangle as x,y,width,height")
	rootCmd.AddCommand(timelapseCmd)
}

func runTimelapse(cmd *cobra.Command, args []string) error {
	input := args[0]

	output := timelapseOutputFlag
	if output == "" {
		output = derivedName(input, fmt.Sprintf("_%dx", timelapseMultiplierFlag))
	}

	var crop pipeline.CropProvider
	if timelapseCropFlag != "" {
		rect, err := config.ParseCrop(timelapseCropFlag)
		if err != nil {
			return err
		}
		crop = pipeline.FixedCrop(rect)
	}

	if err := pipeline.TimelapseFile(cmd.Context(), input, output, timelapseMultiplierFlag, crop); err != nil {
		return err
	}
	fmt.Printf("\n  Saved %s\n\n", output)
	return nil
}

// derivedName inserts a suffix before the extension, forcing .mp4.
func derivedName(input, suffix string) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + suffix + ".mp4"
}
