// Package kanban manages the board view of conversations over a relational
// backend. Cards live in columns; a card's position is its 1-based rank
// within the column. Column membership is deliberately not validated against
// a board: the same loose scoping the web board exposes, where a card can be
// dropped onto any known column id.
package kanban

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Board is a named kanban board scoped to an account. Reads only ever see
// active boards; archiving hides a board without destroying its columns.
type Board struct {
	ID         int64     `db:"id" json:"id"`
	AccountID  int64     `db:"account_id" json:"account_id"`
	Name       string    `db:"name" json:"name"`
	IsDefault  bool      `db:"is_default" json:"is_default"`
	Visibility string    `db:"visibility" json:"visibility"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// DefaultVisibility is applied when a board is created without one.
const DefaultVisibility = "account"

// Column is an ordered lane on a board. WIPLimit 0 means unlimited;
// FinalStage marks the lane whose cards count as done.
type Column struct {
	ID         int64  `db:"id" json:"id"`
	BoardID    int64  `db:"board_id" json:"board_id"`
	Name       string `db:"name" json:"name"`
	Color      string `db:"color" json:"color"`
	Position   int    `db:"position" json:"position"`
	WIPLimit   int    `db:"wip_limit" json:"wip_limit"`
	FinalStage bool   `db:"final_stage" json:"final_stage"`
}

// Card places a conversation on a board. MovedBy is the agent id of the
// last mover, 0 when unknown.
type Card struct {
	ConversationID int64     `db:"conversation_id" json:"conversation_id"`
	ColumnID       int64     `db:"column_id" json:"column_id"`
	Position       int       `db:"position" json:"position"`
	MovedAt        time.Time `db:"moved_at" json:"moved_at"`
	MovedBy        int64     `db:"moved_by" json:"moved_by"`
}

// Label is a catalog entry: a reusable tag with a display color, scoped to
// an account. Tagging a card references catalog titles by value.
type Label struct {
	ID        int64  `db:"id" json:"id"`
	AccountID int64  `db:"account_id" json:"account_id"`
	Title     string `db:"title" json:"title"`
	Color     string `db:"color" json:"color"`
}

// ErrColumnNotFound is returned when a move targets an unknown column.
var ErrColumnNotFound = errors.New("kanban column not found")

// ErrBoardNotFound is returned for an unknown or archived board.
var ErrBoardNotFound = errors.New("kanban board not found")

// Store is the persistence surface the reconciler needs.
type Store interface {
	ListBoards(ctx context.Context, accountID int64) ([]Board, error)
	GetBoard(ctx context.Context, boardID int64) (Board, error)
	CreateBoard(ctx context.Context, board Board) (Board, error)
	ArchiveBoard(ctx context.Context, boardID int64) error
	ListColumns(ctx context.Context, boardID int64) ([]Column, error)
	CreateColumn(ctx context.Context, column Column) (Column, error)
	GetColumn(ctx context.Context, columnID int64) (Column, error)
	ListCards(ctx context.Context, columnID int64) ([]Card, error)
	GetCard(ctx context.Context, conversationID int64) (Card, bool, error)
	CountCards(ctx context.Context, columnID int64) (int, error)
	PlaceCard(ctx context.Context, card Card) error
	LabelCatalog(ctx context.Context, accountID int64) ([]Label, error)
	DefineLabel(ctx context.Context, label Label) (Label, error)
	Labels(ctx context.Context, conversationID int64) ([]string, error)
	AddLabel(ctx context.Context, conversationID int64, label string) error
}

// SQLStore implements Store over Postgres.
type SQLStore struct {
	db *sqlx.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

// NewSQLStore wraps an existing connection, mainly for tests.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS kanban_boards (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL DEFAULT 0,
		name TEXT NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		visibility TEXT NOT NULL DEFAULT 'account',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_kanban_boards_account ON kanban_boards(account_id, is_active)`,
	`CREATE TABLE IF NOT EXISTS kanban_columns (
		id BIGSERIAL PRIMARY KEY,
		board_id BIGINT NOT NULL REFERENCES kanban_boards(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		position INT NOT NULL DEFAULT 0,
		wip_limit INT NOT NULL DEFAULT 0,
		final_stage BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_kanban (
		conversation_id BIGINT PRIMARY KEY,
		column_id BIGINT NOT NULL REFERENCES kanban_columns(id) ON DELETE CASCADE,
		position INT NOT NULL DEFAULT 0,
		moved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		moved_by BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_kanban_column ON conversation_kanban(column_id)`,
	`CREATE TABLE IF NOT EXISTS kanban_labels (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL DEFAULT 0,
		title TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		UNIQUE (account_id, title)
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_labels (
		conversation_id BIGINT NOT NULL,
		label TEXT NOT NULL,
		PRIMARY KEY (conversation_id, label)
	)`,
}

// Migrate creates the schema if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ListBoards returns the account's active boards, default board first.
func (s *SQLStore) ListBoards(ctx context.Context, accountID int64) ([]Board, error) {
	boards := []Board{}
	err := s.db.SelectContext(ctx, &boards,
		`SELECT id, account_id, name, is_default, visibility, is_active, created_at
		 FROM kanban_boards WHERE account_id = $1 AND is_active
		 ORDER BY is_default DESC, id`, accountID)
	return boards, err
}

// GetBoard returns one active board. Archived boards are not found.
func (s *SQLStore) GetBoard(ctx context.Context, boardID int64) (Board, error) {
	var board Board
	err := s.db.GetContext(ctx, &board,
		`SELECT id, account_id, name, is_default, visibility, is_active, created_at
		 FROM kanban_boards WHERE id = $1 AND is_active`, boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, ErrBoardNotFound
	}
	return board, err
}

func (s *SQLStore) CreateBoard(ctx context.Context, board Board) (Board, error) {
	if board.Visibility == "" {
		board.Visibility = DefaultVisibility
	}
	var out Board
	err := s.db.GetContext(ctx, &out,
		`INSERT INTO kanban_boards (account_id, name, is_default, visibility)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, account_id, name, is_default, visibility, is_active, created_at`,
		board.AccountID, board.Name, board.IsDefault, board.Visibility)
	return out, err
}

// ArchiveBoard hides a board from reads without deleting its data.
func (s *SQLStore) ArchiveBoard(ctx context.Context, boardID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE kanban_boards SET is_active = FALSE WHERE id = $1 AND is_active`, boardID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrBoardNotFound
	}
	return nil
}

func (s *SQLStore) ListColumns(ctx context.Context, boardID int64) ([]Column, error) {
	columns := []Column{}
	err := s.db.SelectContext(ctx, &columns,
		`SELECT id, board_id, name, color, position, wip_limit, final_stage
		 FROM kanban_columns WHERE board_id = $1 ORDER BY position, id`, boardID)
	return columns, err
}

func (s *SQLStore) CreateColumn(ctx context.Context, column Column) (Column, error) {
	var out Column
	err := s.db.GetContext(ctx, &out,
		`INSERT INTO kanban_columns (board_id, name, color, position, wip_limit, final_stage)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, board_id, name, color, position, wip_limit, final_stage`,
		column.BoardID, column.Name, column.Color, column.Position, column.WIPLimit, column.FinalStage)
	return out, err
}

func (s *SQLStore) GetColumn(ctx context.Context, columnID int64) (Column, error) {
	var column Column
	err := s.db.GetContext(ctx, &column,
		`SELECT id, board_id, name, color, position, wip_limit, final_stage
		 FROM kanban_columns WHERE id = $1`, columnID)
	if errors.Is(err, sql.ErrNoRows) {
		return Column{}, ErrColumnNotFound
	}
	return column, err
}

func (s *SQLStore) ListCards(ctx context.Context, columnID int64) ([]Card, error) {
	cards := []Card{}
	err := s.db.SelectContext(ctx, &cards,
		`SELECT conversation_id, column_id, position, moved_at, moved_by
		 FROM conversation_kanban WHERE column_id = $1 ORDER BY position, conversation_id`, columnID)
	return cards, err
}

func (s *SQLStore) GetCard(ctx context.Context, conversationID int64) (Card, bool, error) {
	var card Card
	err := s.db.GetContext(ctx, &card,
		`SELECT conversation_id, column_id, position, moved_at, moved_by
		 FROM conversation_kanban WHERE conversation_id = $1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return Card{}, false, nil
	}
	if err != nil {
		return Card{}, false, err
	}
	return card, true, nil
}

func (s *SQLStore) CountCards(ctx context.Context, columnID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM conversation_kanban WHERE column_id = $1`, columnID)
	return n, err
}

func (s *SQLStore) PlaceCard(ctx context.Context, card Card) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO conversation_kanban (conversation_id, column_id, position, moved_at, moved_by)
		 VALUES (:conversation_id, :column_id, :position, :moved_at, :moved_by)
		 ON CONFLICT (conversation_id)
		 DO UPDATE SET column_id = :column_id, position = :position,
		               moved_at = :moved_at, moved_by = :moved_by`, card)
	return err
}

// LabelCatalog returns the account's defined labels ordered by title.
func (s *SQLStore) LabelCatalog(ctx context.Context, accountID int64) ([]Label, error) {
	labels := []Label{}
	err := s.db.SelectContext(ctx, &labels,
		`SELECT id, account_id, title, color FROM kanban_labels
		 WHERE account_id = $1 ORDER BY title`, accountID)
	return labels, err
}

// DefineLabel adds a label to the catalog. Redefining an existing title
// updates its color.
func (s *SQLStore) DefineLabel(ctx context.Context, label Label) (Label, error) {
	var out Label
	err := s.db.GetContext(ctx, &out,
		`INSERT INTO kanban_labels (account_id, title, color) VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, title) DO UPDATE SET color = EXCLUDED.color
		 RETURNING id, account_id, title, color`,
		label.AccountID, label.Title, label.Color)
	return out, err
}

func (s *SQLStore) Labels(ctx context.Context, conversationID int64) ([]string, error) {
	labels := []string{}
	err := s.db.SelectContext(ctx, &labels,
		`SELECT label FROM conversation_labels WHERE conversation_id = $1 ORDER BY label`, conversationID)
	return labels, err
}

func (s *SQLStore) AddLabel(ctx context.Context, conversationID int64, label string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_labels (conversation_id, label) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, conversationID, label)
	return err
}
