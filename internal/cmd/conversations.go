package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chathook/chathook-cli/internal/api"
	"github.com/chathook/chathook-cli/internal/iocontext"
	"github.com/chathook/chathook-cli/internal/model"
	"github.com/chathook/chathook-cli/internal/normalize"
	"github.com/chathook/chathook-cli/internal/resolve"
)

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conversation", "conv", "c"},
		Short:   "Manage conversations",
		Long:    "List, inspect, and mutate support conversations through the proxy",
	}

	cmd.AddCommand(newConversationsListCmd())
	cmd.AddCommand(newConversationsGetCmd())
	cmd.AddCommand(newConversationsCountsCmd())
	cmd.AddCommand(newConversationsMessagesCmd())
	cmd.AddCommand(newConversationsStatusCmd())
	cmd.AddCommand(newConversationsAssignCmd())
	cmd.AddCommand(newConversationsLabelCmd())
	cmd.AddCommand(newConversationsReadCmd())
	cmd.AddCommand(newConversationsReplyCmd())
	cmd.AddCommand(newConversationsWatchCmd())
	cmd.AddCommand(newConversationsRefreshCmd())

	return cmd
}

func conversationFiltersFromFlags(status string, assignee, inbox int) (api.ConversationFilters, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	// "snoozed" is a valid upstream filter even though snoozed conversations
	// normalize to "open" locally.
	if status != "" && status != "all" && status != "snoozed" && !model.KnownStatus(status) {
		return api.ConversationFilters{}, fmt.Errorf("invalid value for --status: %q (use open, resolved, pending, snoozed, or all)", status)
	}
	return api.ConversationFilters{Status: status, AssigneeID: assignee, InboxID: inbox}, nil
}

func newConversationsListCmd() *cobra.Command {
	var (
		status   string
		assignee int
		inbox    int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			filters, err := conversationFiltersFromFlags(status, assignee, inbox)
			if err != nil {
				return err
			}

			client, err := getClient()
			if err != nil {
				return err
			}

			raw, err := client.ListConversations(cmdContext(cmd), filters)
			if err != nil {
				return err
			}
			conversations, ok := normalize.NormalizeConversations(raw)
			if !ok {
				conversations = []model.Conversation{}
			}

			if isJSON(cmd) {
				return printJSON(cmd, conversations)
			}

			if len(conversations) == 0 {
				printEmpty(cmd, "No conversations found")
				return nil
			}

			w := newTabWriterFromCmd(cmd)
			defer func() { _ = w.Flush() }()
			_, _ = fmt.Fprintln(w, "ID\tSTATUS\tCONTACT\tINBOX\tASSIGNEE\tUNREAD\tAGE")
			for _, conv := range conversations {
				assigneeName := "-"
				if conv.Assignee != nil {
					assigneeName = conv.Assignee.Name
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
					conv.ID,
					conv.Status,
					truncate(conv.Contact.Name, 30),
					conv.Inbox.Name,
					assigneeName,
					conv.UnreadCount,
					formatAge(conv.LastActivityAt),
				)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status: open|resolved|pending|snoozed|all")
	cmd.Flags().IntVar(&assignee, "assignee", 0, "Filter by assignee agent id")
	cmd.Flags().IntVar(&inbox, "inbox", 0, "Filter by inbox id")

	return cmd
}

func newConversationsGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "get <id>",
		Aliases: []string{"g"},
		Short:   "Show one conversation with its messages",
		Args:    cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}

			client, err := getClient()
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)

			conv, err := findConversation(ctx, client, id)
			if err != nil {
				return err
			}

			messages, err := fetchNormalizedMessages(ctx, client, id)
			if err != nil {
				return err
			}
			conv.Messages = messages

			if isJSON(cmd) {
				return printJSON(cmd, conv)
			}

			ioStreams := iocontext.GetIO(cmd.Context())
			out := ioStreams.Out
			_, _ = fmt.Fprintf(out, "Conversation #%d [%s]\n", conv.ID, conv.Status)
			_, _ = fmt.Fprintf(out, "Contact:  %s\n", conv.Contact.Name)
			_, _ = fmt.Fprintf(out, "Inbox:    %s (%s)\n", conv.Inbox.Name, conv.Inbox.ChannelType)
			if conv.Assignee != nil {
				_, _ = fmt.Fprintf(out, "Assignee: %s\n", conv.Assignee.Name)
			}
			if len(conv.Labels) > 0 {
				_, _ = fmt.Fprintf(out, "Labels:   %s\n", strings.Join(conv.Labels, ", "))
			}
			_, _ = fmt.Fprintf(out, "Activity: %s\n\n", formatTime(conv.LastActivityAt))
			printMessageLog(out, conv.Messages)
			return nil
		}),
	}

	return cmd
}

func newConversationsCountsCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Show conversation counts per status",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			raw, err := client.ConversationCounts(cmdContext(cmd), status)
			if err != nil {
				return err
			}
			counts := normalize.NormalizeCounts(raw)

			if isJSON(cmd) {
				return printJSON(cmd, counts)
			}

			w := newTabWriterFromCmd(cmd)
			defer func() { _ = w.Flush() }()
			_, _ = fmt.Fprintln(w, "ALL\tOPEN\tPENDING\tRESOLVED\tSNOOZED")
			_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n",
				counts.All, counts.Open, counts.Pending, counts.Resolved, counts.Snoozed)
			return nil
		}),
	}

	cmd.Flags().StringVar(&status, "status", "", "Count within a single status")

	return cmd
}

func newConversationsMessagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "messages <id>",
		Aliases: []string{"msgs"},
		Short:   "List messages in a conversation",
		Args:    cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}

			client, err := getClient()
			if err != nil {
				return err
			}

			messages, err := fetchNormalizedMessages(cmdContext(cmd), client, id)
			if err != nil {
				return err
			}

			if isJSON(cmd) {
				return printJSON(cmd, messages)
			}

			if len(messages) == 0 {
				printEmpty(cmd, "No messages found")
				return nil
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			printMessageLog(ioStreams.Out, messages)
			return nil
		}),
	}

	return cmd
}

func newConversationsStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Change a conversation's status",
		Args:  cobra.ExactArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}
			status := strings.ToLower(strings.TrimSpace(args[1]))
			if !model.KnownStatus(status) {
				return fmt.Errorf("invalid status %q (use open, pending, or resolved)", status)
			}

			client, err := getClient()
			if err != nil {
				return err
			}
			if _, err := client.UpdateConversationStatus(cmdContext(cmd), id, status); err != nil {
				return err
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"id": id, "status": status})
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Conversation %d is now %s\n", id, status)
			return nil
		}),
	}

	return cmd
}

func newConversationsAssignCmd() *cobra.Command {
	var agentRef string
	var unassign bool

	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign or unassign a conversation",
		Long:  "Assign a conversation to an agent. --agent takes a numeric id or a\nname; names are fuzzy-matched against the agent roster.",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}
			if !unassign && strings.TrimSpace(agentRef) == "" {
				return fmt.Errorf("--agent is required (or use --unassign)")
			}

			client, err := getClient()
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)

			var agentID int
			if !unassign {
				agentID, err = resolveAgentRef(ctx, client, agentRef)
				if err != nil {
					return err
				}
			}
			if _, err := client.AssignConversation(ctx, id, agentID); err != nil {
				return err
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"id": id, "assignee_id": agentID})
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			if agentID == 0 {
				_, _ = fmt.Fprintf(ioStreams.Out, "Conversation %d unassigned\n", id)
			} else {
				_, _ = fmt.Fprintf(ioStreams.Out, "Conversation %d assigned to agent %d\n", id, agentID)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&agentRef, "agent", "", "Agent id or name to assign")
	cmd.Flags().BoolVar(&unassign, "unassign", false, "Clear the assignee")

	return cmd
}

func newConversationsLabelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "label <id> <label>...",
		Short: "Add labels to a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}
			labels := args[1:]

			client, err := getClient()
			if err != nil {
				return err
			}
			if _, err := client.AddLabels(cmdContext(cmd), id, labels); err != nil {
				return err
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"id": id, "labels": labels})
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Added %s to conversation %d\n", strings.Join(labels, ", "), id)
			return nil
		}),
	}

	return cmd
}

func newConversationsReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}

			client, err := getClient()
			if err != nil {
				return err
			}
			if err := client.MarkRead(cmdContext(cmd), id); err != nil {
				return err
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"id": id, "unread_count": 0})
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Conversation %d marked read\n", id)
			return nil
		}),
	}

	return cmd
}

func newConversationsReplyCmd() *cobra.Command {
	var (
		message string
		private bool
	)

	cmd := &cobra.Command{
		Use:     "reply <id>",
		Aliases: []string{"send"},
		Short:   "Send a message to a conversation",
		Args:    cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("--message is required")
			}

			client, err := getClient()
			if err != nil {
				return err
			}

			raw, err := client.SendMessage(cmdContext(cmd), id, api.SendMessageRequest{
				Content: message,
				Private: private,
			})
			if err != nil {
				return err
			}
			sent := normalize.NormalizeMessage(raw, id, nil)

			if isJSON(cmd) {
				return printJSON(cmd, sent)
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Sent message %d to conversation %d\n", sent.ID, id)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Message content")
	cmd.Flags().BoolVar(&private, "private", false, "Send as a private note")

	return cmd
}

// resolveAgentRef turns an agent reference into an id. Numeric references
// pass through; anything else is fuzzy-matched against the roster.
func resolveAgentRef(ctx context.Context, client *api.Client, ref string) (int, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.Atoi(ref); err == nil {
		if id <= 0 {
			return 0, fmt.Errorf("invalid agent id %q", ref)
		}
		return id, nil
	}

	raw, err := client.ListAgents(ctx)
	if err != nil {
		return 0, err
	}
	agents, ok := normalize.NormalizeAgents(raw)
	if !ok || len(agents) == 0 {
		return 0, fmt.Errorf("no agents available to match %q against", ref)
	}

	named := make([]resolve.Named, len(agents))
	for i, agent := range agents {
		named[i] = resolve.Named{ID: agent.ID, Name: agent.Name}
	}
	return resolve.FuzzyMatch(ref, named)
}

// findConversation lists conversations and picks one by id. The proxy has no
// single-conversation endpoint.
func findConversation(ctx context.Context, client *api.Client, id int) (model.Conversation, error) {
	raw, err := client.ListConversations(ctx, api.ConversationFilters{})
	if err != nil {
		return model.Conversation{}, err
	}
	conversations, _ := normalize.NormalizeConversations(raw)
	for _, conv := range conversations {
		if conv.ID == id {
			return conv, nil
		}
	}
	return model.Conversation{}, fmt.Errorf("conversation %d not found", id)
}

// fetchNormalizedMessages loads a conversation's messages with agent names
// resolved. The agent roster fetch is best-effort; on failure the messages
// fall back to embedded or placeholder sender names.
func fetchNormalizedMessages(ctx context.Context, client *api.Client, conversationID int) ([]model.Message, error) {
	var lookup normalize.AgentLookup
	if rawAgents, err := client.ListAgents(ctx); err == nil {
		if agents, ok := normalize.NormalizeAgents(rawAgents); ok {
			byID := make(map[int]model.Agent, len(agents))
			for _, agent := range agents {
				byID[agent.ID] = agent
			}
			lookup = func(id int) (model.Agent, bool) {
				agent, ok := byID[id]
				return agent, ok
			}
		}
	}

	raw, err := client.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	messages, ok := normalize.NormalizeMessages(raw, conversationID, lookup)
	if !ok {
		return []model.Message{}, nil
	}
	return messages, nil
}

func printMessageLog(out io.Writer, messages []model.Message) {
	for _, msg := range messages {
		sender := msg.SenderName
		if sender == "" {
			sender = msg.Sender.String()
		}
		marker := ""
		if msg.Pending {
			marker = " (sending...)"
		}
		_, _ = fmt.Fprintf(out, "[%s] %s%s\n", formatTime(msg.CreatedAt), sender, marker)
		_, _ = fmt.Fprintf(out, "  %s\n", strings.ReplaceAll(msg.Content, "\n", "\n  "))
		for _, att := range msg.Attachments {
			_, _ = fmt.Fprintf(out, "  [attachment: %s]\n", att.FileType)
		}
	}
}
