package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chathook/chathook-cli/internal/normalize"
)

func newInboxesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "inboxes",
		Aliases: []string{"inbox"},
		Short:   "List channel inboxes",
	}

	cmd.AddCommand(newInboxesListCmd())

	return cmd
}

func newInboxesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all inboxes",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			raw, err := client.ListInboxes(cmdContext(cmd))
			if err != nil {
				return err
			}
			inboxes, _ := normalize.NormalizeInboxes(raw)

			f := newFormatter(cmd)
			if isJSON(cmd) {
				return f.Output(inboxes)
			}
			if len(inboxes) == 0 {
				f.Empty("No inboxes found")
				return nil
			}

			f.StartTable([]string{"ID", "NAME", "CHANNEL", "WEBSITE"})
			for _, inbox := range inboxes {
				website := inbox.WebsiteURL
				if website == "" {
					website = "-"
				}
				f.Row(fmt.Sprintf("%d", inbox.ID), inbox.Name, inbox.ChannelType, website)
			}
			return f.EndTable()
		}),
	}

	return cmd
}
