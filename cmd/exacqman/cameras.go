package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/exacqman/internal/config"
	"github.com/fpang/exacqman/internal/exacq"
)

var camerasServerFlag string

var camerasCmd = &cobra.Command{
	Use:   "cameras <config>",
	Short: "List the camera catalog from the live VMS server",
	Long: `Cameras logs into the VMS and prints every camera it reports, with its
numeric id. Useful for filling in the [Cameras] section of a config file.`,
	Args: cobra.ExactArgs(1),
	RunE: runCameras,
}

func init() {
	camerasCmd.Flags().StringVarP(&camerasServerFlag, "server", "s", "", "Server initials from [Network] (default first configured)")
	rootCmd.AddCommand(camerasCmd)
}

func runCameras(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	serverURL, err := cfg.ServerURL(camerasServerFlag)
	if err != nil {
		return err
	}

	client := exacq.NewClient(serverURL, cfg.User, cfg.Password)
	if err := client.Login(cmd.Context()); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client.Logout(ctx)
	}()

	cameras, err := client.ListCameras(cmd.Context())
	if err != nil {
		return err
	}

	ids := make([]int, 0, len(cameras))
	for id := range cameras {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fmt.Printf("\n  %d cameras on %s:\n\n", len(cameras), serverURL)
	for _, id := range ids {
		fmt.Printf("    %6d  %s\n", id, cameras[id].Name)
	}
	fmt.Println()
	return nil
}
