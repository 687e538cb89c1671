package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/exacqman/internal/config"
	"github.com/fpang/exacqman/internal/pipeline"
)

var (
	extractMultiplierFlag int
	extractQualityFlag    string
	extractOutputFlag     string
	extractServerFlag     string
	extractCropFlag       bool
	extractNoBurninFlag   bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <camera_alias> <date> <start_time> <end_time> <config>",
	Short: "Export footage from the VMS and process it into a timelapse clip",
	Long: `Extract searches the VMS for recorded footage on the named camera, exports
the time range as MP4, and runs the processing pipeline: crop, timelapse
decimation, timestamp burn-in, and compression.

Dates and times accept human shapes resolved in the configured timezone:
  exacqman extract backyard 3/11 "6 pm" "9 pm" site.config
  exacqman extract gate 2025-01-28 08:00 17:30 site.config`,
	Args: cobra.ExactArgs(5),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().IntVarP(&extractMultiplierFlag, "multiplier", "x", 0, "Timelapse speed-up factor (default from config)")
	extractCmd.Flags().StringVarP(&extractQualityFlag, "quality", "q", "", "Output quality tier: low, medium, high (default from config)")
	extractCmd.Flags().StringVarP(&extractOutputFlag, "output", "o", "", "Output filename (default derived from date, camera, multiplier)")
	extractCmd.Flags().StringVarP(&extractServerFlag, "server", "s", "", "Server initials from [Network] (default first configured)")
	extractCmd.Flags().BoolVar(&extractCropFlag, "crop", false, "Prompt for a crop rectangle before processing")
	extractCmd.Flags().BoolVar(&extractNoBurninFlag, "no-burnin", false, "Skip timestamp burn-in")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	alias, dateStr, startStr, endStr, configPath := args[0], args[1], args[2], args[3], args[4]

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	loc := cfg.Settings.Location

	start, err := config.ParseDateTime(dateStr, startStr, time.Now(), loc)
	if err != nil {
		return fmt.Errorf("start time: %w", err)
	}
	end, err := config.ParseDateTime(dateStr, endStr, time.Now(), loc)
	if err != nil {
		return fmt.Errorf("end time: %w", err)
	}

	cameraID, err := cfg.CameraID(alias)
	if err != nil {
		return err
	}
	serverURL, err := cfg.ServerURL(extractServerFlag)
	if err != nil {
		return err
	}

	multiplier := extractMultiplierFlag
	if multiplier == 0 {
		multiplier = cfg.Settings.Multiplier
	}
	qualityStr := extractQualityFlag
	if qualityStr == "" {
		qualityStr = cfg.Settings.Quality
	}
	quality, err := pipeline.ParseQuality(qualityStr)
	if err != nil {
		return err
	}

	crop, err := resolveCrop(cfg)
	if err != nil {
		return err
	}

	req := pipeline.RunRequest{
		CameraAlias: alias,
		CameraID:    cameraID,
		Start:       start,
		End:         end,
		Multiplier:  multiplier,
		Quality:     quality,
		Crop:        crop,
		Burnin:      !extractNoBurninFlag,
		OutputName:  extractOutputFlag,
		ServerURL:   serverURL,
	}
	if err := req.Validate(cfg.Settings.MaxExportDuration); err != nil {
		return err
	}

	result, err := pipeline.Run(cmd.Context(), cfg, req, func(percent int, message string) {
		log.Info().Int("percent", percent).Msg(message)
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n  Saved %s (%.1f MB)\n\n", result.OutputPath, float64(result.FileSize)/(1024*1024))
	return nil
}

// resolveCrop picks the crop source: interactive prompt with --crop,
// otherwise the configured [Settings] crop, otherwise none.
func resolveCrop(cfg *config.Config) (pipeline.CropProvider, error) {
	if extractCropFlag {
		return promptCrop, nil
	}
	if cfg.Settings.Crop != "" {
		rect, err := config.ParseCrop(cfg.Settings.Crop)
		if err != nil {
			return nil, err
		}
		return pipeline.FixedCrop(rect), nil
	}
	return nil, nil
}

// promptCrop asks for a crop rectangle via a zenity entry dialog. Cancel
// means no crop rather than an error.
func promptCrop() (config.Rect, bool, error) {
	entry, err := zenity.Entry(
		"Crop rectangle as x,y,width,height (e.g. 0,80,1280,640):",
		zenity.Title("Crop region"),
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			log.Info().Msg("Crop prompt cancelled, processing full frame")
			return config.Rect{}, false, nil
		}
		return config.Rect{}, false, err
	}
	if entry == "" {
		return config.Rect{}, false, nil
	}

	rect, err := config.ParseCrop(entry)
	if err != nil {
		return config.Rect{}, false, err
	}
	return rect, true, nil
}
