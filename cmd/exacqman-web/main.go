// exacqman-web serves the extraction pipeline and the export library over
// HTTP for the local web frontend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/exacqman/internal/config"
	"github.com/fpang/exacqman/internal/jobs"
	"github.com/fpang/exacqman/internal/logging"
	"github.com/fpang/exacqman/internal/outputs"
	"github.com/fpang/exacqman/internal/pipeline"
	"github.com/fpang/exacqman/internal/server"
)

// CLI flags
var (
	portFlag      int
	configDirFlag string
	outputDirFlag string
)

var rootCmd = &cobra.Command{
	Use:   "exacqman-web",
	Short: "Web API for ExacqVision footage extraction",
	Long: `Exacqman Web starts a local server exposing the extraction pipeline over
HTTP: submit export jobs, follow their progress, and browse, download, or
archive the finished videos.

Examples:
  exacqman-web
  exacqman-web --port 9090 --config-dir ./configs --output-dir ./exports`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")
	rootCmd.Flags().StringVar(&configDirFlag, "config-dir", ".", "Directory containing *.config files")
	rootCmd.Flags().StringVar(&outputDirFlag, "output-dir", "exports", "Directory for finished videos")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()

	// ffmpeg is required for every job; fail fast rather than per request.
	if err := pipeline.CheckFFmpegAvailable(); err != nil {
		log.Fatal().Err(err).Msg("ffmpeg is required")
	}

	configs, err := config.ListConfigFiles(configDirFlag)
	if err != nil {
		log.Fatal().Err(err).Str("dir", configDirFlag).Msg("Failed to read config directory")
	}
	if len(configs) == 0 {
		log.Warn().Str("dir", configDirFlag).Msg("No *.config files found")
	}

	out, err := outputs.New(outputDirFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare output directory")
	}

	store := jobs.NewStore(jobs.DefaultHistoryLimit)
	srv := server.New(configDirFlag, out, store)

	addr := fmt.Sprintf(":%d", portFlag)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // archive downloads can be large
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(ctx)
	}()

	log.Info().
		Int("port", portFlag).
		Str("config_dir", configDirFlag).
		Str("output_dir", outputDirFlag).
		Msg("Starting web server")
	fmt.Printf("\n  Exacqman Web API: http://localhost:%d\n\n", portFlag)

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
