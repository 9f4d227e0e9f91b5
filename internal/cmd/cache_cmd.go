package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chathook/chathook-cli/internal/cache"
	"github.com/chathook/chathook-cli/internal/iocontext"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the Redis lookup cache",
	}

	cmd.AddCommand(newCacheClearCmd())

	return cmd
}

func newCacheClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop all cached lookup data",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			cache.ClearAll(cache.Dial())
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintln(ioStreams.Out, "Cache cleared")
			return nil
		}),
	}

	return cmd
}
