package kanban

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCardNotFound is returned when a conversation has no card on the board.
var ErrCardNotFound = errors.New("conversation is not on the board")

// Reconciler applies board moves and keeps derived state consistent. Moves
// follow the append rule: a card dropped on a column lands at position
// count+1, where count is the column's size before the move. Positions of
// other cards are never rewritten by a move; gaps left in the source column
// are tolerated and closed lazily by Renumber.
type Reconciler struct {
	store Store
	// invalidate is called after every successful write so cached board
	// snapshots are refetched. Optional.
	invalidate func()
	now        func() time.Time
}

// NewReconciler creates a Reconciler. invalidate may be nil.
func NewReconciler(store Store, invalidate func()) *Reconciler {
	return &Reconciler{
		store:      store,
		invalidate: invalidate,
		now:        time.Now,
	}
}

// MoveCard moves a conversation's card to the target column, appending it at
// the end. The target column must exist; the card need not — moving a
// conversation that was never on the board places it. Column/board scoping
// is not checked beyond column existence.
func (r *Reconciler) MoveCard(ctx context.Context, conversationID, columnID, movedBy int64) (Card, error) {
	if _, err := r.store.GetColumn(ctx, columnID); err != nil {
		return Card{}, err
	}

	count, err := r.store.CountCards(ctx, columnID)
	if err != nil {
		return Card{}, fmt.Errorf("count cards in column %d: %w", columnID, err)
	}

	// A card already in the target column keeps contributing to count, so a
	// same-column move sends it to the back. That matches the board UI.
	card := Card{
		ConversationID: conversationID,
		ColumnID:       columnID,
		Position:       count + 1,
		MovedAt:        r.now().UTC(),
		MovedBy:        movedBy,
	}
	if err := r.store.PlaceCard(ctx, card); err != nil {
		return Card{}, fmt.Errorf("place card: %w", err)
	}

	if r.invalidate != nil {
		r.invalidate()
	}
	return card, nil
}

// OverLimit reports whether a column currently exceeds its WIP limit. The
// limit is advisory: moves are never blocked, the board only flags the
// column.
func (r *Reconciler) OverLimit(ctx context.Context, columnID int64) (bool, error) {
	column, err := r.store.GetColumn(ctx, columnID)
	if err != nil {
		return false, err
	}
	if column.WIPLimit <= 0 {
		return false, nil
	}
	count, err := r.store.CountCards(ctx, columnID)
	if err != nil {
		return false, err
	}
	return count > column.WIPLimit, nil
}

// Renumber rewrites a column's positions to a dense 1..n sequence, keeping
// the current order. Useful after cards left gaps behind.
func (r *Reconciler) Renumber(ctx context.Context, columnID int64) error {
	cards, err := r.store.ListCards(ctx, columnID)
	if err != nil {
		return err
	}
	changed := false
	for i, card := range cards {
		want := i + 1
		if card.Position == want {
			continue
		}
		card.Position = want
		if err := r.store.PlaceCard(ctx, card); err != nil {
			return err
		}
		changed = true
	}
	if changed && r.invalidate != nil {
		r.invalidate()
	}
	return nil
}

// Label tags a conversation's card. Duplicate labels are the store's
// problem to ignore.
func (r *Reconciler) Label(ctx context.Context, conversationID int64, label string) error {
	if err := r.store.AddLabel(ctx, conversationID, label); err != nil {
		return fmt.Errorf("add label: %w", err)
	}
	if r.invalidate != nil {
		r.invalidate()
	}
	return nil
}

// BoardView is a column with its cards, ready for display.
type BoardView struct {
	Board   Board        `json:"board"`
	Columns []ColumnView `json:"columns"`
}

// ColumnView is one lane of a board view.
type ColumnView struct {
	Column    Column     `json:"column"`
	Cards     []CardView `json:"cards"`
	OverLimit bool       `json:"over_limit"`
}

// CardView is a card with its labels attached.
type CardView struct {
	Card
	Labels []string `json:"labels"`
}

// View assembles a full board snapshot. Archived boards are not viewable.
func (r *Reconciler) View(ctx context.Context, boardID int64) (BoardView, error) {
	board, err := r.store.GetBoard(ctx, boardID)
	if err != nil {
		return BoardView{}, err
	}

	columns, err := r.store.ListColumns(ctx, boardID)
	if err != nil {
		return BoardView{}, err
	}

	view := BoardView{Board: board, Columns: make([]ColumnView, 0, len(columns))}
	for _, column := range columns {
		cards, err := r.store.ListCards(ctx, column.ID)
		if err != nil {
			return BoardView{}, err
		}
		cardViews := make([]CardView, 0, len(cards))
		for _, card := range cards {
			labels, err := r.store.Labels(ctx, card.ConversationID)
			if err != nil {
				return BoardView{}, err
			}
			cardViews = append(cardViews, CardView{Card: card, Labels: labels})
		}
		over := column.WIPLimit > 0 && len(cards) > column.WIPLimit
		view.Columns = append(view.Columns, ColumnView{Column: column, Cards: cardViews, OverLimit: over})
	}
	return view, nil
}

// Locate finds a conversation's card and the column it sits in. Returns
// ErrCardNotFound for a conversation that was never placed on the board.
func (r *Reconciler) Locate(ctx context.Context, conversationID int64) (CardView, Column, error) {
	card, ok, err := r.store.GetCard(ctx, conversationID)
	if err != nil {
		return CardView{}, Column{}, fmt.Errorf("get card: %w", err)
	}
	if !ok {
		return CardView{}, Column{}, ErrCardNotFound
	}
	column, err := r.store.GetColumn(ctx, card.ColumnID)
	if err != nil {
		return CardView{}, Column{}, err
	}
	labels, err := r.store.Labels(ctx, conversationID)
	if err != nil {
		return CardView{}, Column{}, err
	}
	return CardView{Card: card, Labels: labels}, column, nil
}
