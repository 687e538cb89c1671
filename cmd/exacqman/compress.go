package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpang/exacqman/internal/pipeline"
)

var (
	compressQualityFlag string
	compressOutputFlag  string
)

var compressCmd = &cobra.Command{
	Use:   "compress <file>",
	Short: "Re-encode an existing video at a quality tier",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompress,
}

func init() {
	compressCmd.Flags().StringVarP(&compressQualityFlag, "quality", "q", "", "Quality tier: low, medium, high (default medium)")
	compressCmd.Flags().StringVarP(&compressOutputFlag, "output", "o", "", "Output filename (default <input>_<quality>.mp4)")
	rootCmd.AddCommand(compressCmd)
}

func runCompress(cmd *cobra.Command, args []string) error {
	input := args[0]

	quality, err := pipeline.ParseQuality(compressQualityFlag)
	if err != nil {
		return err
	}

	output := compressOutputFlag
	if output == "" {
		output = derivedName(input, "_"+string(quality))
	}

	if err := pipeline.CompressFile(cmd.Context(), input, output, quality); err != nil {
		return err
	}
	fmt.Printf("\n  Saved %s\n\n", output)
	return nil
}
