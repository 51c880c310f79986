package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"resumebot/internal/domain"

	_ "modernc.org/sqlite"
)

const defaultMessageLimit = 50

// SQLiteStore implements domain.Store using SQLite. Messages and
// resumes are independent collections; every operation is a single
// statement, so the engine's write serialization is all the locking
// needed.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

// unavailable wraps a storage error so callers can match it with
// errors.Is(err, domain.ErrStoreUnavailable).
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}

func (s *SQLiteStore) UpsertMessage(ctx context.Context, msg domain.Message) error {
	if msg.Status == "" {
		msg.Status = domain.StatusConfirmed
	}
	if msg.Kind == "" {
		msg.Kind = "text"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, sender, text, kind, payload, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id, message_id) DO UPDATE SET
		   sender     = excluded.sender,
		   text       = excluded.text,
		   kind       = excluded.kind,
		   payload    = excluded.payload,
		   status     = excluded.status,
		   created_at = excluded.created_at`,
		msg.ID, msg.ConversationID, string(msg.Sender), msg.Text, msg.Kind,
		rawToString(msg.Payload), string(msg.Status), msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return unavailable("upsert message", err)
	}
	return nil
}

func (s *SQLiteStore) Messages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	// Page newest-first so a small limit returns the most recent
	// messages, then reverse to chronological order. seq breaks
	// created_at ties in insertion order.
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, conversation_id, sender, text, kind, payload, status, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC, seq DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, unavailable("query messages", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var (
			m       domain.Message
			sender  string
			status  string
			payload sql.NullString
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &sender, &m.Text,
			&m.Kind, &payload, &status, &created); err != nil {
			return nil, unavailable("scan message", err)
		}
		m.Sender = domain.Sender(sender)
		m.Status = domain.DeliveryStatus(status)
		m.Payload = stringToRaw(payload.String)
		m.CreatedAt = time.UnixMilli(created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate messages", err)
	}

	// Reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) SetMessageStatus(ctx context.Context, conversationID, id string, status domain.DeliveryStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE conversation_id = ? AND message_id = ?`,
		string(status), conversationID, id,
	)
	if err != nil {
		return unavailable("set message status", err)
	}
	return nil
}

func (s *SQLiteStore) ClearMessages(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, conversationID,
	)
	if err != nil {
		return unavailable("clear messages", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertResume(ctx context.Context, resume domain.Resume) error {
	now := time.Now()
	createdAt := resume.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	// updated_at is always the write time, regardless of what the
	// caller supplied; created_at survives replacement.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resumes (resume_id, title, document, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(resume_id) DO UPDATE SET
		   title      = excluded.title,
		   document   = excluded.document,
		   updated_at = excluded.updated_at`,
		resume.ID, resume.Title, rawToString(resume.Document),
		createdAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return unavailable("upsert resume", err)
	}
	return nil
}

func (s *SQLiteStore) Resumes(ctx context.Context) ([]domain.Resume, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT resume_id, title, document, created_at, updated_at
		 FROM resumes ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, unavailable("query resumes", err)
	}
	defer rows.Close()

	var resumes []domain.Resume
	for rows.Next() {
		var (
			r        domain.Resume
			document sql.NullString
			created  int64
			updated  int64
		)
		if err := rows.Scan(&r.ID, &r.Title, &document, &created, &updated); err != nil {
			return nil, unavailable("scan resume", err)
		}
		r.Document = stringToRaw(document.String)
		r.CreatedAt = time.UnixMilli(created)
		r.UpdatedAt = time.UnixMilli(updated)
		resumes = append(resumes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate resumes", err)
	}
	return resumes, nil
}

func (s *SQLiteStore) ResumeIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT resume_id FROM resumes`)
	if err != nil {
		return nil, unavailable("query resume ids", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan resume id", err)
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate resume ids", err)
	}
	return ids, nil
}

func (s *SQLiteStore) DeleteResume(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM resumes WHERE resume_id = ?`, id)
	if err != nil {
		return unavailable("delete resume", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteResumesExcept(ctx context.Context, keep map[string]bool) ([]string, error) {
	local, err := s.ResumeIDs(ctx)
	if err != nil {
		return nil, err
	}

	var evict []string
	for id := range local {
		if !keep[id] {
			evict = append(evict, id)
		}
	}
	if len(evict) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(evict)-1) + "?"
	args := make([]any, len(evict))
	for i, id := range evict {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM resumes WHERE resume_id IN (`+placeholders+`)`, args...,
	); err != nil {
		return nil, unavailable("evict resumes", err)
	}

	s.logger.Info("evicted resumes no longer listed remotely", "count", len(evict))
	return evict, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}

func stringToRaw(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
