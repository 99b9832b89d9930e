package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mail-triage/internal/keyed"
	"github.com/nhle/mail-triage/internal/model"
)

var emailColumns = []string{
	"id", "sender", "subject", "body", "received_at",
	"category", "action_items", "draft", "not_draftable",
	"status", "failed_stage", "last_error", "updated_at",
}

var turnColumns = []string{"id", "email_id", "seq", "role", "text", "created_at"}

// emailRow is the flat database representation of model.Email.
type emailRow struct {
	ID           string `db:"id"`
	Sender       string `db:"sender"`
	Subject      string `db:"subject"`
	Body         string `db:"body"`
	ReceivedAt   string `db:"received_at"`
	Category     string `db:"category"`
	ActionItems  string `db:"action_items"`
	Draft        string `db:"draft"`
	NotDraftable int    `db:"not_draftable"`
	Status       string `db:"status"`
	FailedStage  string `db:"failed_stage"`
	LastError    string `db:"last_error"`
	UpdatedAt    string `db:"updated_at"`
}

type turnRow struct {
	ID        string `db:"id"`
	EmailID   string `db:"email_id"`
	Seq       int    `db:"seq"`
	Role      string `db:"role"`
	Text      string `db:"text"`
	CreatedAt string `db:"created_at"`
}

// SQLiteStore implements Store and TemplateStore using a local SQLite
// database.
type SQLiteStore struct {
	db    *sqlx.DB
	path  string
	now   func() time.Time
	locks keyed.Mutex
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: dbPath, Err: err}
	}

	// A single connection keeps :memory: databases coherent and avoids
	// SQLITE_BUSY between our own writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, &StorageError{Op: "enable WAL", Path: dbPath, Err: err}
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, &StorageError{Op: "enable foreign keys", Path: dbPath, Err: err}
	}

	s := &SQLiteStore{db: db, path: dbPath, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, &StorageError{Op: "migrate", Path: dbPath, Err: err}
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

func (s *SQLiteStore) fail(op string, err error) error {
	return &StorageError{Op: op, Path: s.path, Err: err}
}

// Load reads every email and its conversation.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]model.Email, error) {
	emails, err := s.selectAll(ctx, s.db)
	if err != nil {
		return nil, s.fail("load", err)
	}

	out := make(map[string]model.Email, len(emails))
	for _, e := range emails {
		out[e.ID] = e
	}
	return out, nil
}

// Save replaces the collection inside one transaction. The pool holds a
// single connection, so per-id updates queue behind it. Tombstones are kept.
func (s *SQLiteStore) Save(ctx context.Context, emails map[string]model.Email) error {
	for id, e := range emails {
		if err := validateEmail(id, e); err != nil {
			return s.fail("save", err)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.fail("save", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_turns"); err != nil {
		return s.fail("save", fmt.Errorf("clearing chat turns: %w", err))
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM emails"); err != nil {
		return s.fail("save", fmt.Errorf("clearing emails: %w", err))
	}

	for id, e := range emails {
		if err := writeEmail(ctx, tx, nil, e); err != nil {
			return s.fail("save", err)
		}
		if err := clearTombstone(ctx, tx, id); err != nil {
			return s.fail("save", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.fail("save", fmt.Errorf("committing: %w", err))
	}
	return nil
}

// Get returns one email with its conversation.
func (s *SQLiteStore) Get(ctx context.Context, id string) (model.Email, error) {
	e, err := getEmail(ctx, s.db, id)
	if errors.Is(err, ErrNotFound) {
		return model.Email{}, fmt.Errorf("getting email %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Email{}, s.fail("get", err)
	}
	return e, nil
}

// Update runs fn in a transaction while holding the per-id lock.
func (s *SQLiteStore) Update(ctx context.Context, id string, fn Mutator) (model.Email, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Email{}, s.fail("update", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	before, err := getEmail(ctx, tx, id)
	if errors.Is(err, ErrNotFound) {
		return model.Email{}, fmt.Errorf("updating email %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Email{}, s.fail("update", err)
	}

	after := before.Clone()
	if err := fn(&after); err != nil {
		return model.Email{}, err
	}
	after.ID = id
	after.UpdatedAt = s.now().UTC()
	after = normalize(after)

	if err := writeEmail(ctx, tx, before.Conversation, after); err != nil {
		return model.Email{}, s.fail("update", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Email{}, s.fail("update", fmt.Errorf("committing: %w", err))
	}
	return after, nil
}

// Add inserts e unless the id already exists.
func (s *SQLiteStore) Add(ctx context.Context, e model.Email) (bool, error) {
	if err := validateEmail("", e); err != nil {
		return false, s.fail("add", err)
	}

	unlock := s.locks.Lock(e.ID)
	defer unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, s.fail("add", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	for _, table := range []string{"emails", "deleted_emails"} {
		query, args, err := sq.Select("COUNT(*)").From(table).Where(sq.Eq{"id": e.ID}).ToSql()
		if err != nil {
			return false, s.fail("add", err)
		}
		var count int
		if err := tx.GetContext(ctx, &count, query, args...); err != nil {
			return false, s.fail("add", fmt.Errorf("checking %s for %s: %w", table, e.ID, err))
		}
		if count > 0 {
			return false, nil
		}
	}

	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.now().UTC()
	}
	if err := writeEmail(ctx, tx, nil, e); err != nil {
		return false, s.fail("add", err)
	}
	if err := tx.Commit(); err != nil {
		return false, s.fail("add", fmt.Errorf("committing: %w", err))
	}
	return true, nil
}

// Delete removes the email and its chat turns and records a tombstone.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.fail("delete", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	query, args, err := sq.Delete("chat_turns").Where(sq.Eq{"email_id": id}).ToSql()
	if err != nil {
		return s.fail("delete", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return s.fail("delete", fmt.Errorf("deleting chat turns for %s: %w", id, err))
	}

	query, args, err = sq.Delete("emails").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return s.fail("delete", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return s.fail("delete", fmt.Errorf("deleting email %s: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail("delete", err)
	}
	if n == 0 {
		return fmt.Errorf("deleting email %s: %w", id, ErrNotFound)
	}

	query, args, err = sq.Insert("deleted_emails").
		Columns("id", "deleted_at").
		Values(id, formatTime(s.now())).
		Suffix("ON CONFLICT(id) DO UPDATE SET deleted_at = excluded.deleted_at").
		ToSql()
	if err != nil {
		return s.fail("delete", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return s.fail("delete", fmt.Errorf("recording tombstone for %s: %w", id, err))
	}

	if err := tx.Commit(); err != nil {
		return s.fail("delete", fmt.Errorf("committing: %w", err))
	}
	return nil
}

func clearTombstone(ctx context.Context, x sqlx.ExecerContext, id string) error {
	query, args, err := sq.Delete("deleted_emails").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	if _, err := x.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clearing tombstone for %s: %w", id, err)
	}
	return nil
}

// List returns all emails, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]model.Email, error) {
	emails, err := s.selectAll(ctx, s.db)
	if err != nil {
		return nil, s.fail("list", err)
	}
	sortEmails(emails)
	return emails, nil
}

// LoadTemplates returns all stored prompt template bodies.
func (s *SQLiteStore) LoadTemplates(ctx context.Context) (map[model.Stage]string, error) {
	query, args, err := sq.Select("name", "body").From("prompt_templates").ToSql()
	if err != nil {
		return nil, s.fail("load templates", err)
	}

	var rows []struct {
		Name string `db:"name"`
		Body string `db:"body"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, s.fail("load templates", fmt.Errorf("querying templates: %w", err))
	}

	out := make(map[model.Stage]string, len(rows))
	for _, r := range rows {
		out[model.Stage(r.Name)] = r.Body
	}
	return out, nil
}

// SaveTemplate upserts one template body.
func (s *SQLiteStore) SaveTemplate(ctx context.Context, name model.Stage, body string) error {
	query, args, err := sq.Insert("prompt_templates").
		Columns("name", "body", "updated_at").
		Values(string(name), body, formatTime(s.now())).
		Suffix("ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return s.fail("save template", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return s.fail("save template", fmt.Errorf("upserting template %s: %w", name, err))
	}
	return nil
}

func (s *SQLiteStore) selectAll(ctx context.Context, q sqlx.QueryerContext) ([]model.Email, error) {
	query, args, err := sq.Select(emailColumns...).From("emails").ToSql()
	if err != nil {
		return nil, err
	}
	var rows []emailRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying emails: %w", err)
	}

	query, args, err = sq.Select(turnColumns...).From("chat_turns").OrderBy("email_id", "seq").ToSql()
	if err != nil {
		return nil, err
	}
	var turns []turnRow
	if err := sqlx.SelectContext(ctx, q, &turns, query, args...); err != nil {
		return nil, fmt.Errorf("querying chat turns: %w", err)
	}

	byEmail := make(map[string][]model.ChatTurn)
	for _, tr := range turns {
		turn, err := tr.toModel()
		if err != nil {
			return nil, err
		}
		byEmail[tr.EmailID] = append(byEmail[tr.EmailID], turn)
	}

	emails := make([]model.Email, 0, len(rows))
	for _, r := range rows {
		e, err := r.toModel()
		if err != nil {
			return nil, err
		}
		e.Conversation = byEmail[e.ID]
		emails = append(emails, normalize(e))
	}
	return emails, nil
}

func getEmail(ctx context.Context, q sqlx.QueryerContext, id string) (model.Email, error) {
	query, args, err := sq.Select(emailColumns...).From("emails").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return model.Email{}, err
	}

	var row emailRow
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Email{}, ErrNotFound
		}
		return model.Email{}, fmt.Errorf("querying email %s: %w", id, err)
	}

	e, err := row.toModel()
	if err != nil {
		return model.Email{}, err
	}

	query, args, err = sq.Select(turnColumns...).From("chat_turns").
		Where(sq.Eq{"email_id": id}).OrderBy("seq").ToSql()
	if err != nil {
		return model.Email{}, err
	}
	var turns []turnRow
	if err := sqlx.SelectContext(ctx, q, &turns, query, args...); err != nil {
		return model.Email{}, fmt.Errorf("querying chat turns for %s: %w", id, err)
	}
	for _, tr := range turns {
		turn, err := tr.toModel()
		if err != nil {
			return model.Email{}, err
		}
		e.Conversation = append(e.Conversation, turn)
	}
	return normalize(e), nil
}

// writeEmail upserts the email row and brings its stored turns in line with
// e.Conversation. prev is the conversation currently stored; only turns
// after the common prefix are rewritten.
func writeEmail(ctx context.Context, x sqlx.ExecerContext, prev []model.ChatTurn, e model.Email) error {
	row, err := emailToRow(e)
	if err != nil {
		return err
	}

	var updates []string
	for _, c := range emailColumns[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	query, args, err := sq.Insert("emails").
		Columns(emailColumns...).
		Values(
			row.ID, row.Sender, row.Subject, row.Body, row.ReceivedAt,
			row.Category, row.ActionItems, row.Draft, row.NotDraftable,
			row.Status, row.FailedStage, row.LastError, row.UpdatedAt,
		).
		Suffix("ON CONFLICT(id) DO UPDATE SET " + strings.Join(updates, ", ")).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := x.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting email %s: %w", e.ID, err)
	}

	keep := 0
	for keep < len(prev) && keep < len(e.Conversation) && prev[keep].ID == e.Conversation[keep].ID {
		keep++
	}

	if keep < len(prev) {
		query, args, err := sq.Delete("chat_turns").
			Where(sq.Eq{"email_id": e.ID}).
			Where(sq.GtOrEq{"seq": keep}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := x.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("trimming chat turns for %s: %w", e.ID, err)
		}
	}

	if keep == len(e.Conversation) {
		return nil
	}

	ins := sq.Insert("chat_turns").Columns(turnColumns...)
	for i := keep; i < len(e.Conversation); i++ {
		t := e.Conversation[i]
		ins = ins.Values(t.ID, e.ID, i, string(t.Role), t.Text, formatTime(t.Timestamp))
	}
	query, args, err = ins.ToSql()
	if err != nil {
		return err
	}
	if _, err := x.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting chat turns for %s: %w", e.ID, err)
	}
	return nil
}

func emailToRow(e model.Email) (emailRow, error) {
	items, err := json.Marshal(e.ActionItems)
	if err != nil {
		return emailRow{}, fmt.Errorf("marshaling action_items for email %s: %w", e.ID, err)
	}
	return emailRow{
		ID:           e.ID,
		Sender:       e.Sender,
		Subject:      e.Subject,
		Body:         e.Body,
		ReceivedAt:   formatTime(e.ReceivedAt),
		Category:     e.Category,
		ActionItems:  string(items),
		Draft:        e.Draft,
		NotDraftable: boolToInt(e.NotDraftable),
		Status:       string(e.Status),
		FailedStage:  string(e.FailedStage),
		LastError:    e.LastError,
		UpdatedAt:    formatTime(e.UpdatedAt),
	}, nil
}

func (r emailRow) toModel() (model.Email, error) {
	e := model.Email{
		ID:           r.ID,
		Sender:       r.Sender,
		Subject:      r.Subject,
		Body:         r.Body,
		Category:     r.Category,
		Draft:        r.Draft,
		NotDraftable: r.NotDraftable != 0,
		Status:       model.Status(r.Status),
		FailedStage:  model.Stage(r.FailedStage),
		LastError:    r.LastError,
	}

	var err error
	if e.ReceivedAt, err = parseTime(r.ReceivedAt); err != nil {
		return model.Email{}, fmt.Errorf("parsing received_at of email %s: %w", r.ID, err)
	}
	if e.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return model.Email{}, fmt.Errorf("parsing updated_at of email %s: %w", r.ID, err)
	}
	if r.ActionItems != "" {
		if err := json.Unmarshal([]byte(r.ActionItems), &e.ActionItems); err != nil {
			return model.Email{}, fmt.Errorf("unmarshaling action_items of email %s: %w", r.ID, err)
		}
	}
	if err := validateEmail(r.ID, e); err != nil {
		return model.Email{}, err
	}
	return e, nil
}

func (r turnRow) toModel() (model.ChatTurn, error) {
	ts, err := parseTime(r.CreatedAt)
	if err != nil {
		return model.ChatTurn{}, fmt.Errorf("parsing created_at of turn %s: %w", r.ID, err)
	}
	return model.ChatTurn{
		ID:        r.ID,
		Role:      model.Role(r.Role),
		Text:      r.Text,
		Timestamp: ts,
	}, nil
}

// formatTime renders t in UTC; the zero time is stored as an empty string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
