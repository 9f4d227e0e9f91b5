package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chathook/chathook-cli/internal/iocontext"
	"github.com/chathook/chathook-cli/internal/update"
)

// version is set at build time via -ldflags "-X ...cmd.version=v1.2.3"
var version = "dev"

func newVersionCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			ioStreams := iocontext.GetIO(cmd.Context())

			if isJSON(cmd) {
				payload := map[string]any{"version": version}
				if check {
					if result := update.CheckForUpdate(cmdContext(cmd), version); result != nil {
						payload["latest_version"] = result.LatestVersion
						payload["update_available"] = result.UpdateAvailable
						payload["update_url"] = result.UpdateURL
					}
				}
				return printJSON(cmd, payload)
			}

			_, _ = fmt.Fprintf(ioStreams.Out, "chathook %s\n", version)
			if check {
				result := update.CheckForUpdate(cmdContext(cmd), version)
				switch {
				case result == nil:
					_, _ = fmt.Fprintln(ioStreams.ErrOut, "Update check skipped")
				case result.UpdateAvailable:
					_, _ = fmt.Fprintf(ioStreams.Out, "Update available: %s (%s)\n", result.LatestVersion, result.UpdateURL)
				default:
					_, _ = fmt.Fprintln(ioStreams.Out, "Up to date")
				}
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&check, "check", false, "Check for a newer release")

	return cmd
}
