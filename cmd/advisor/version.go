package main

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/iyulab/incident-advisor/internal/updater"
)

func newVersionCmd() *cobra.Command {
	var (
		check  bool
		apiURL string
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "advisor %s\n  commit: %s\n  built:  %s\n  go:     %s %s/%s\n",
				version, commit, date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			if !check {
				return nil
			}

			client := &http.Client{Timeout: 15 * time.Second}
			info, err := updater.CheckLatest(cmd.Context(), client, version, apiURL)
			if err != nil {
				return fmt.Errorf("check for updates: %w", err)
			}
			if !info.HasUpdate {
				fmt.Fprintf(out, "\nUp to date (latest: %s)\n", info.LatestVersion)
				return nil
			}
			fmt.Fprintf(out, "\nUpdate available: %s -> %s\n", info.CurrentVersion, info.LatestVersion)
			if info.AssetURL != "" {
				fmt.Fprintf(out, "  download: %s\n", info.AssetURL)
			} else {
				fmt.Fprintf(out, "  no build published for %s\n", updater.AssetName(runtime.GOOS, runtime.GOARCH))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Check the release feed for a newer version")
	cmd.Flags().StringVar(&apiURL, "api-url", updater.DefaultAPIURL, "Release API endpoint")
	cmd.Flags().MarkHidden("api-url")
	return cmd
}
