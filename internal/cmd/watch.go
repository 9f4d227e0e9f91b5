package cmd

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chathook/chathook-cli/internal/cache"
	"github.com/chathook/chathook-cli/internal/config"
	"github.com/chathook/chathook-cli/internal/iocontext"
	"github.com/chathook/chathook-cli/internal/outfmt"
	syncctl "github.com/chathook/chathook-cli/internal/sync"
)

func newConversationsWatchCmd() *cobra.Command {
	var (
		intervalSeconds int
		status          string
		assignee        int
		inbox           int
		selectID        int
		once            bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the inbox, refreshing on an interval",
		Long:  "Poll the proxy on a fixed interval and print the inbox view after each\nrefresh. In jsonl mode every refresh emits one JSON snapshot line.\nStops on Ctrl-C.",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			filters, err := conversationFiltersFromFlags(status, assignee, inbox)
			if err != nil {
				return err
			}

			client, account, err := getClientWithAccount()
			if err != nil {
				return err
			}

			refresh := account.RefreshOrDefault()
			seconds := refresh.IntervalSeconds
			if cmd.Flags().Changed("interval") {
				seconds = config.NormalizeRefreshSeconds(intervalSeconds)
				if seconds != intervalSeconds {
					printEmpty(cmd, fmt.Sprintf("Interval must be positive; using %ds", seconds))
				}
			}

			rdb := cache.Dial()
			caches := syncctl.Caches{
				Agents:        cache.NewStore(rdb, "agents", account.BaseURL, account.AccountID),
				Contacts:      cache.NewStore(rdb, "contacts", account.BaseURL, account.AccountID),
				Inboxes:       cache.NewStore(rdb, "inboxes", account.BaseURL, account.AccountID),
				Conversations: cache.NewStore(rdb, "conversations", account.BaseURL, account.AccountID),
			}

			events := make(chan syncctl.Event, 64)
			controller := syncctl.New(client, syncctl.Options{
				Filters:  filters,
				Interval: time.Duration(seconds) * time.Second,
				Caches:   caches,
				Sink:     func(ev syncctl.Event) { events <- ev },
				Logger:   slog.Default(),
			})
			defer controller.Close()

			ctx, stop := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := controller.Warmup(ctx); err != nil {
				printEmpty(cmd, fmt.Sprintf("Warmup skipped: %v", err))
			}
			if err := controller.Start(ctx); err != nil {
				return err
			}
			if selectID > 0 {
				controller.Select(selectID)
			}

			ioStreams := iocontext.GetIO(cmd.Context())
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-events:
					switch ev.Kind {
					case syncctl.EventRefreshed:
						snap := controller.Snapshot()
						if err := printWatchSnapshot(cmd, ioStreams, snap); err != nil {
							return err
						}
						if once {
							return nil
						}
					case syncctl.EventMutationFailed:
						_, _ = fmt.Fprintf(ioStreams.ErrOut, "Mutation %s on conversation %d failed: %v\n", ev.Op, ev.ConversationID, ev.Err)
					}
				}
			}
		}),
	}

	cmd.Flags().IntVar(&intervalSeconds, "interval", config.DefaultRefreshSeconds, "Refresh interval in seconds (presets: 10, 30, 60, 300)")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: open|resolved|pending|snoozed|all")
	cmd.Flags().IntVar(&assignee, "assignee", 0, "Filter by assignee agent id")
	cmd.Flags().IntVar(&inbox, "inbox", 0, "Filter by inbox id")
	cmd.Flags().IntVar(&selectID, "select", 0, "Keep one conversation selected and include its messages")
	cmd.Flags().BoolVar(&once, "once", false, "Exit after the first refresh")

	return cmd
}

func printWatchSnapshot(cmd *cobra.Command, ioStreams *iocontext.IO, snap syncctl.Snapshot) error {
	if snap.LastError != nil {
		_, _ = fmt.Fprintf(ioStreams.ErrOut, "Refresh failed: %v (showing last good view)\n", snap.LastError)
	}

	if isJSON(cmd) {
		payload := map[string]any{
			"refreshed_at":  snap.LastRefresh,
			"counts":        snap.Counts,
			"conversations": snap.Conversations,
		}
		if snap.SelectedID > 0 {
			payload["selected_id"] = snap.SelectedID
			payload["messages"] = snap.Messages
		}
		ctx := cmd.Context()
		return outfmt.WriteJSONMaybeCompact(ioStreams.Out, payload, outfmt.IsCompact(ctx) || outfmt.IsJSONL(ctx))
	}

	out := ioStreams.Out
	_, _ = fmt.Fprintf(out, "--- %s | open %d | pending %d | resolved %d ---\n",
		snap.LastRefresh.Local().Format("15:04:05"), snap.Counts.Open, snap.Counts.Pending, snap.Counts.Resolved)
	for _, conv := range snap.Conversations {
		marker := " "
		if conv.ID == snap.SelectedID {
			marker = ">"
		}
		unread := ""
		if conv.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", conv.UnreadCount)
		}
		_, _ = fmt.Fprintf(out, "%s #%d [%s] %s%s\n", marker, conv.ID, conv.Status, truncate(conv.Contact.Name, 40), unread)
	}
	if snap.SelectedID > 0 && len(snap.Messages) > 0 {
		_, _ = fmt.Fprintln(out)
		printMessageLog(out, snap.Messages)
	}
	return nil
}

func newConversationsRefreshCmd() *cobra.Command {
	var (
		intervalSeconds int
		enable          bool
		disable         bool
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Configure the polling interval for watch mode",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if enable && disable {
				return fmt.Errorf("--enable and --disable cannot be used together")
			}

			_, account, err := getClientWithAccount()
			if err != nil {
				return err
			}
			settings := account.RefreshOrDefault()

			if cmd.Flags().Changed("interval") {
				normalized := config.NormalizeRefreshSeconds(intervalSeconds)
				if normalized != intervalSeconds {
					printEmpty(cmd, fmt.Sprintf("Interval must be positive; using %ds", normalized))
				}
				settings.IntervalSeconds = normalized
			}
			if enable {
				settings.Enabled = true
			}
			if disable {
				settings.Enabled = false
			}

			if err := config.SetRefresh(settings); err != nil {
				return err
			}

			if isJSON(cmd) {
				return printJSON(cmd, settings)
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Refresh every %ds (enabled=%t)\n", settings.IntervalSeconds, settings.Enabled)
			return nil
		}),
	}

	cmd.Flags().IntVar(&intervalSeconds, "interval", config.DefaultRefreshSeconds, "Refresh interval in seconds (presets: 10, 30, 60, 300)")
	cmd.Flags().BoolVar(&enable, "enable", false, "Enable automatic refresh")
	cmd.Flags().BoolVar(&disable, "disable", false, "Disable automatic refresh")

	return cmd
}
