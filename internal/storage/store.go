package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agenthands/council/internal/council"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Message is one turn of a conversation: either a user question or an
// assistant turn carrying all three deliberation stages.
type Message struct {
	Role     string             `json:"role"`
	Content  string             `json:"content,omitempty"`
	Stage1   []council.Response `json:"stage1,omitempty"`
	Stage2   []council.Ranking  `json:"stage2,omitempty"`
	Stage3   *council.Synthesis `json:"stage3,omitempty"`
	Metadata *Metadata          `json:"metadata,omitempty"`
}

// Metadata is the non-prompt outcome of a deliberation, kept with the
// assistant turn for display and audit.
type Metadata struct {
	LabelToModel      council.LabelMap         `json:"label_to_model"`
	AggregateRankings []council.AggregateEntry `json:"aggregate_rankings"`
}

type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
}

type ConversationMetadata struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
}

const defaultTitle = "New Conversation"

// Store persists conversations, session drafts, and leaderboard scores in a
// single sqlite database.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    title TEXT NOT NULL,
    messages TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS session_drafts (
    conversation_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS model_scores (
    model TEXT PRIMARY KEY,
    points INTEGER NOT NULL DEFAULT 0
);
`

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Store) CreateConversation(id string) (*Conversation, error) {
	conv := &Conversation{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Title:     defaultTitle,
		Messages:  []Message{},
	}

	_, err := s.db.Exec(
		`INSERT INTO conversations (id, created_at, title, messages) VALUES (?, ?, ?, '[]')`,
		conv.ID, conv.CreatedAt, conv.Title,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) GetConversation(id string) (*Conversation, error) {
	var conv Conversation
	var messages string

	row := s.db.QueryRow(`SELECT id, created_at, title, messages FROM conversations WHERE id = ?`, id)
	if err := row.Scan(&conv.ID, &conv.CreatedAt, &conv.Title, &messages); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(messages), &conv.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return &conv, nil
}

// ListConversations returns metadata only. The message count is computed in
// the query so the full message blobs never leave the database; a corrupt
// blob counts as zero rather than failing the listing.
func (s *Store) ListConversations() ([]ConversationMetadata, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, title,
		        CASE WHEN json_valid(messages) THEN json_array_length(messages) ELSE 0 END
		 FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var list []ConversationMetadata
	for rows.Next() {
		var meta ConversationMetadata
		if err := rows.Scan(&meta.ID, &meta.CreatedAt, &meta.Title, &meta.MessageCount); err != nil {
			return nil, err
		}
		list = append(list, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (s *Store) UpdateTitle(id, title string) error {
	res, err := s.db.Exec(`UPDATE conversations SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteConversation(id string) error {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	_, _ = s.db.Exec(`DELETE FROM session_drafts WHERE conversation_id = ?`, id)
	return nil
}

func (s *Store) appendMessage(id string, msg Message) error {
	conv, err := s.GetConversation(id)
	if err != nil {
		return err
	}
	conv.Messages = append(conv.Messages, msg)

	data, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	_, err = s.db.Exec(`UPDATE conversations SET messages = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *Store) AddUserMessage(id, content string) error {
	return s.appendMessage(id, Message{Role: "user", Content: content})
}

// SaveRecord is the final record sink: it appends the completed deliberation
// as an assistant turn. Invoked exactly once per deliberation, on completion.
func (s *Store) SaveRecord(id string, record *council.FinalRecord) error {
	return s.appendMessage(id, Message{
		Role:   "assistant",
		Stage1: record.Responses,
		Stage2: record.Rankings,
		Stage3: &record.Synthesis,
		Metadata: &Metadata{
			LabelToModel:      record.LabelMap,
			AggregateRankings: record.Aggregate,
		},
	})
}

// History converts a conversation to the prompt builder's history shape: the
// user question and the final synthesized answer of each turn.
func History(conv *Conversation) []council.HistoryTurn {
	var turns []council.HistoryTurn
	for _, m := range conv.Messages {
		switch m.Role {
		case "user":
			turns = append(turns, council.HistoryTurn{Role: "user", Content: m.Content})
		case "assistant":
			content := ""
			if m.Stage3 != nil {
				content = m.Stage3.Text
			}
			turns = append(turns, council.HistoryTurn{Role: "assistant", Content: content})
		}
	}
	return turns
}

// SaveDraft writes the session snapshot for a conversation, replacing any
// previous draft. Called after every session mutation.
func (s *Store) SaveDraft(conversationID string, snap council.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode draft: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO session_drafts (conversation_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		conversationID, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

// LoadDraft returns the stored snapshot, or (nil, nil) when no draft exists.
func (s *Store) LoadDraft(conversationID string) (*council.Snapshot, error) {
	var state string
	row := s.db.QueryRow(`SELECT state FROM session_drafts WHERE conversation_id = ?`, conversationID)
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}

	var snap council.Snapshot
	if err := json.Unmarshal([]byte(state), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode draft: %w", err)
	}
	return &snap, nil
}

func (s *Store) DeleteDraft(conversationID string) error {
	_, err := s.db.Exec(`DELETE FROM session_drafts WHERE conversation_id = ?`, conversationID)
	return err
}

// Scores returns the full leaderboard as model -> total points.
func (s *Store) Scores() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT model, points FROM model_scores`)
	if err != nil {
		return nil, fmt.Errorf("failed to load scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]int)
	for rows.Next() {
		var model string
		var points int
		if err := rows.Scan(&model, &points); err != nil {
			return nil, err
		}
		scores[model] = points
	}
	return scores, rows.Err()
}

// AddPoints upserts a model's score. Zero points still creates the row, so
// every participant appears on the leaderboard.
func (s *Store) AddPoints(model string, points int) error {
	_, err := s.db.Exec(
		`INSERT INTO model_scores (model, points) VALUES (?, ?)
		 ON CONFLICT(model) DO UPDATE SET points = points + excluded.points`,
		model, points,
	)
	if err != nil {
		return fmt.Errorf("failed to update score for %s: %w", model, err)
	}
	return nil
}
