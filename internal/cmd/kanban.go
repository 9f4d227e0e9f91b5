package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chathook/chathook-cli/internal/cache"
	"github.com/chathook/chathook-cli/internal/config"
	"github.com/chathook/chathook-cli/internal/iocontext"
	"github.com/chathook/chathook-cli/internal/kanban"
)

func newKanbanCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:     "kanban",
		Aliases: []string{"board"},
		Short:   "Manage the kanban board view of conversations",
		Long:    "The board lives in Postgres, separate from the proxy. Configure the DSN\nwith --dsn, CHATHOOK_KANBAN_DSN, or 'chathook auth login --kanban-dsn'.",
	}

	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (overrides the stored profile)")

	cmd.AddCommand(newKanbanMigrateCmd(&dsn))
	cmd.AddCommand(newKanbanBoardsCmd(&dsn))
	cmd.AddCommand(newKanbanColumnsCmd(&dsn))
	cmd.AddCommand(newKanbanLabelsCmd(&dsn))
	cmd.AddCommand(newKanbanMoveCmd(&dsn))
	cmd.AddCommand(newKanbanCardCmd(&dsn))
	cmd.AddCommand(newKanbanLabelCmd(&dsn))
	cmd.AddCommand(newKanbanViewCmd(&dsn))
	cmd.AddCommand(newKanbanRenumberCmd(&dsn))

	return cmd
}

// openKanbanStore resolves the DSN and connects. The returned invalidate
// function clears the cached board snapshot; it is safe with no Redis around.
// Board reads are scoped to the returned account.
func openKanbanStore(cmd *cobra.Command, dsnOverride string) (*kanban.SQLStore, config.Account, func(), error) {
	dsn := dsnOverride
	var account config.Account
	if acct, err := config.LoadAccount(); err == nil {
		account = acct
		if dsn == "" {
			dsn = acct.KanbanDSN
		}
	}
	if dsn == "" {
		return nil, account, nil, fmt.Errorf("no kanban DSN configured (use --dsn or 'chathook auth login --kanban-dsn')")
	}

	store, err := kanban.Open(cmdContext(cmd), dsn)
	if err != nil {
		return nil, account, nil, fmt.Errorf("connect to kanban database: %w", err)
	}

	boardCache := cache.NewStore(cache.Dial(), "kanban", account.BaseURL, account.AccountID)
	return store, account, boardCache.Clear, nil
}

func newKanbanMigrateCmd(dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the board schema if missing",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			store, _, _, err := openKanbanStore(cmd, *dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Migrate(cmdContext(cmd)); err != nil {
				return err
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintln(ioStreams.Out, "Schema is up to date")
			return nil
		}),
	}

	return cmd
}

func newKanbanBoardsCmd(dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boards",
		Short: "Manage boards",
	}

	var (
		name       string
		isDefault  bool
		visibility string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a board",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			store, account, _, err := openKanbanStore(cmd, *dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			board, err := store.CreateBoard(cmdContext(cmd), kanban.Board{
				AccountID:  int64(account.AccountID),
				Name:       name,
				IsDefault:  isDefault,
				Visibility: visibility,
			})
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, board)
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Created board %d: %s\n", board.ID, board.Name)
			return nil
		}),
	}
	create.Flags().StringVar(&name, "name", "", "Board name")
	create.Flags().BoolVar(&isDefault, "default", false, "Mark as the account's default board")
	create.Flags().StringVar(&visibility, "visibility", kanban.DefaultVisibility, "Board visibility scope")

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the account's active boards",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			store, account, _, err := openKanbanStore(cmd, *dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			boards, err := store.ListBoards(cmdContext(cmd), int64(account.AccountID))
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, boards)
			}
			if len(boards) == 0 {
				printEmpty(cmd, "No boards found")
				return nil
			}
			w := newTabWriterFromCmd(cmd)
			defer func() { _ = w.Flush() }()
			_, _ = fmt.Fprintln(w, "ID\tNAME\tDEFAULT\tVISIBILITY\tCREATED")
			for _, board := range boards {
				def := ""
				if board.IsDefault {
					def = "*"
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					board.ID, board.Name, def, board.Visibility, board.CreatedAt.Local().Format("2006-01-02"))
			}
			return nil
		}),
	}

	archive := &cobra.Command{
		Use:   "archive <board-id>",
		Short: "Archive a board, hiding it from listings and views",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID(args[0], "board")
			if err != nil {
				return err
			}
			store, _, invalidate, err := openKanbanStore(cmd, *dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.ArchiveBoard(cmdContext(cmd), int64(boardID)); err != nil {
				return err
			}
			invalidate()
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Archived board %d\n", boardID)
			return nil
		}),
	}

	cmd.AddCommand(create)
	cmd.AddCommand(list)
	cmd.AddCommand(archive)
	return cmd
}

func newKanbanColumnsCmd(dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "columns",
		Short: "Manage board columns",
	}

	var (
		name       string
		color      string
		position   int
		wipLimit   int
		finalStage bool
	)
	create := &cobra.Command{
		Use:   "create <board-id>",
		Short: "Add a column to a board",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID(args[0], "board")
			if err != nil {
				return err
			}
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			store, _, _, err := openKanbanStore(cmd, *dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			column, err := store.CreateColumn(cmdContext(cmd), kanban.Column{
				BoardID:    int64(boardID),
				Name:       name,
				Color:      color,
				Position:   position,
				WIPLimit:   wipLimit,
				FinalStage: finalStage,
			})
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, column)
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Created column %d: %s\n", column.ID, column.Name)
			return nil
		}),
	}
	create.Flags().StringVar(&name, "name", "", "Column name")
	create.Flags().StringVar(&color, "color", "", "Display color (e.g. #1f93ff)")
	create.Flags().IntVar(&position, "position", 0, "Column position on the board")
	create.Flags().IntVar(&wipLimit, "wip-limit", 0, "Advisory WIP limit (0 = unlimited)")
	create.Flags().BoolVar(&finalStage, "final", false, "Mark as the final stage of the board")

	list := &cobra.Command{
		Use:     "list <board-id>",
		Aliases: []string{"ls"},
		Short:   "List a board's columns",
		Args:    cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID(args[0], "board")
			if err != nil {
				return err
			}
			store, _, _, err := openKanbanStore(cmd, *dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			columns, err := store.ListColumns(cmdContext(cmd), int64(boardID))
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, columns)
			}
			if len(columns) == 0 {
				printEmpty(cmd, "No columns found")
				return nil
			}
			w := newTabWriterFromCmd(cmd)
			defer func() { _ = w.Flush() }()
			_, _ = fmt.Fprintln(w, "ID\tNAME\tPOSITION\tWIP_LIMIT\tFINAL")
			for _, column := range columns {
				limit := "-"
				if column.WIPLimit > 0 {
					limit = fmt.Sprintf("%d", column.WIPLimit)
				}
				final := ""
				if column.FinalStage {
					final = "*"
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", column.ID, column.Name, column.Position, limit, final)
			}
			return nil
		}),
	}

	cmd.AddCommand(create)
	cmd.AddCommand(list)
	return cmd
}

func newKanbanLabelsCmd(dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labels",
		Short: "Manage the account's label catalog",
	}

	var (
		title string
		color string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Define a label (or recolor an existing one)",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title is required")
			}
			store, account, _, err := openKanbanStore(cmd, *dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			label, err := store.DefineLabel(cmdContext(cmd), kanban.Label{
				AccountID: int64(account.AccountID),
				Title:     title,
				Color:     color,
			})
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, label)
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Defined label %q\n", label.Title)
			return nil
		}),
	}
	create.Flags().StringVar(&title, "title", "", "Label title")
	create.Flags().StringVar(&color, "color", "", "Display color")

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the label catalog",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			store, account, _, err := openKanbanStore(cmd, *dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			labels, err := store.LabelCatalog(cmdContext(cmd), int64(account.AccountID))
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, labels)
			}
			if len(labels) == 0 {
				printEmpty(cmd, "No labels defined")
				return nil
			}
			w := newTabWriterFromCmd(cmd)
			defer func() { _ = w.Flush() }()
			_, _ = fmt.Fprintln(w, "ID\tTITLE\tCOLOR")
			for _, label := range labels {
				color := label.Color
				if color == "" {
					color = "-"
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", label.ID, label.Title, color)
			}
			return nil
		}),
	}

	cmd.AddCommand(create)
	cmd.AddCommand(list)
	return cmd
}

func newKanbanMoveCmd(dsn *string) *cobra.Command {
	var (
		columnID int
		movedBy  int
	)

	cmd := &cobra.Command{
		Use:   "move <conversation-id>",
		Short: "Move a conversation's card to a column",
		Long:  "The card lands at the end of the target column. A WIP limit on the\ncolumn never blocks the move; the column is only flagged as over limit.",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			conversationID, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}
			if columnID <= 0 {
				return fmt.Errorf("--column is required")
			}

			store, _, invalidate, err := openKanbanStore(cmd, *dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			reconciler := kanban.NewReconciler(store, invalidate)
			card, err := reconciler.MoveCard(cmdContext(cmd), int64(conversationID), int64(columnID), int64(movedBy))
			if err != nil {
				return err
			}

			over, overErr := reconciler.OverLimit(cmdContext(cmd), card.ColumnID)

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{
					"card":       card,
					"over_limit": over,
				})
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Moved conversation %d to column %d (position %d)\n",
				conversationID, columnID, card.Position)
			if overErr == nil && over {
				_, _ = fmt.Fprintln(ioStreams.ErrOut, "Warning: column is over its WIP limit")
			}
			return nil
		}),
	}

	cmd.Flags().IntVar(&columnID, "column", 0, "Target column id")
	cmd.Flags().IntVar(&movedBy, "by", 0, "Agent id performing the move")

	return cmd
}

func newKanbanCardCmd(dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card <conversation-id>",
		Short: "Show where a conversation sits on the board",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			conversationID, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}

			store, _, _, err := openKanbanStore(cmd, *dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			reconciler := kanban.NewReconciler(store, nil)
			card, column, err := reconciler.Locate(cmdContext(cmd), int64(conversationID))
			if err != nil {
				return err
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{
					"card":   card,
					"column": column,
				})
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			out := ioStreams.Out
			_, _ = fmt.Fprintf(out, "Conversation %d is in %q (column %d), position %d\n",
				conversationID, column.Name, column.ID, card.Position)
			if len(card.Labels) > 0 {
				_, _ = fmt.Fprintf(out, "Labels: %s\n", strings.Join(card.Labels, ", "))
			}
			if card.MovedBy != 0 {
				_, _ = fmt.Fprintf(out, "Moved by agent %d at %s\n", card.MovedBy, card.MovedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		}),
	}

	return cmd
}

func newKanbanLabelCmd(dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "label <conversation-id> <label>...",
		Short: "Tag a conversation's card",
		Args:  cobra.MinimumNArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			conversationID, err := parseID(args[0], "conversation")
			if err != nil {
				return err
			}

			store, _, invalidate, err := openKanbanStore(cmd, *dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			reconciler := kanban.NewReconciler(store, invalidate)
			for _, label := range args[1:] {
				if err := reconciler.Label(cmdContext(cmd), int64(conversationID), label); err != nil {
					return err
				}
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Labeled conversation %d\n", conversationID)
			return nil
		}),
	}

	return cmd
}

func newKanbanViewCmd(dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <board-id>",
		Short: "Show a board with its columns and cards",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID(args[0], "board")
			if err != nil {
				return err
			}

			store, _, _, err := openKanbanStore(cmd, *dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			reconciler := kanban.NewReconciler(store, nil)
			view, err := reconciler.View(cmdContext(cmd), int64(boardID))
			if err != nil {
				return err
			}

			if isJSON(cmd) {
				return printJSON(cmd, view)
			}

			ioStreams := iocontext.GetIO(cmd.Context())
			out := ioStreams.Out
			_, _ = fmt.Fprintf(out, "Board: %s\n", view.Board.Name)
			for _, column := range view.Columns {
				flag := ""
				if column.OverLimit {
					flag = " [over limit]"
				}
				if column.Column.FinalStage {
					flag += " [final]"
				}
				_, _ = fmt.Fprintf(out, "\n%s (%d)%s\n", column.Column.Name, len(column.Cards), flag)
				for _, card := range column.Cards {
					labels := ""
					if len(card.Labels) > 0 {
						labels = " [" + strings.Join(card.Labels, ", ") + "]"
					}
					_, _ = fmt.Fprintf(out, "  %d. conversation %d%s\n", card.Position, card.ConversationID, labels)
				}
			}
			return nil
		}),
	}

	return cmd
}

func newKanbanRenumberCmd(dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "renumber <column-id>",
		Short: "Close position gaps in a column",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			columnID, err := parseID(args[0], "column")
			if err != nil {
				return err
			}

			store, _, invalidate, err := openKanbanStore(cmd, *dsn)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			reconciler := kanban.NewReconciler(store, invalidate)
			if err := reconciler.Renumber(cmdContext(cmd), int64(columnID)); err != nil {
				return err
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Column %d renumbered\n", columnID)
			return nil
		}),
	}

	return cmd
}
