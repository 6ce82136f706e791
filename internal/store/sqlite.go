package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS leads (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id           TEXT UNIQUE NOT NULL,
		name                 TEXT,
		phone                TEXT,
		email                TEXT,
		target_course        TEXT,
		target_country       TEXT,
		target_intake        TEXT,
		budget_inr           INTEGER,
		ielts_score          TEXT,
		percentage           TEXT,
		lead_score           INTEGER DEFAULT 0,
		intent_level         TEXT,
		conversation_summary TEXT,
		recommended_action   TEXT,
		notified_at          INTEGER,
		created_at           INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(lead_score DESC);

	CREATE TABLE IF NOT EXISTS unanswered_queries (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		query_text       TEXT NOT NULL,
		similarity_score REAL,
		fallback_type    TEXT,
		session_id       TEXT,
		status           TEXT DEFAULT 'PENDING',
		created_at       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_unans_time ON unanswered_queries(created_at);

	CREATE TABLE IF NOT EXISTS conversations (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id    TEXT NOT NULL,
		user_message  TEXT NOT NULL,
		ai_response   TEXT NOT NULL,
		intent_level  TEXT,
		lead_score    INTEGER DEFAULT 0,
		rag_score     REAL,
		fallback_type TEXT,
		platform      TEXT DEFAULT 'web',
		created_at    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conv_session ON conversations(session_id);

	CREATE TABLE IF NOT EXISTS pdf_library (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT UNIQUE NOT NULL,
		topic    TEXT,
		chunks   INTEGER DEFAULT 0,
		added_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertLead inserts or updates the profile for a session. notified_at is
// COALESCEd so an extraction upsert can never clear a previous dispatch
// timestamp; it only moves through SetLeadNotified.
func (s *SQLiteStore) UpsertLead(ctx context.Context, lead *Lead) error {
	query := `
	INSERT INTO leads (
		session_id, name, phone, email, target_course, target_country,
		target_intake, budget_inr, ielts_score, percentage, lead_score,
		intent_level, conversation_summary, recommended_action, notified_at, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		name = excluded.name,
		phone = excluded.phone,
		email = excluded.email,
		target_course = excluded.target_course,
		target_country = excluded.target_country,
		target_intake = excluded.target_intake,
		budget_inr = excluded.budget_inr,
		ielts_score = excluded.ielts_score,
		percentage = excluded.percentage,
		lead_score = excluded.lead_score,
		intent_level = excluded.intent_level,
		conversation_summary = excluded.conversation_summary,
		recommended_action = excluded.recommended_action,
		notified_at = COALESCE(excluded.notified_at, leads.notified_at)`

	var notifiedAt interface{}
	if lead.NotifiedAt != nil {
		notifiedAt = lead.NotifiedAt.Unix()
	}
	createdAt := lead.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		lead.SessionID, nullable(lead.Name), nullable(lead.Phone), nullable(lead.Email),
		nullable(lead.TargetCourse), nullable(lead.TargetCountry), nullable(lead.TargetIntake),
		nullableInt(lead.BudgetINR), nullable(lead.IELTSScore), nullable(lead.Percentage),
		lead.LeadScore, lead.IntentLevel, lead.ConversationSummary,
		lead.RecommendedAction, notifiedAt, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	return nil
}

// GetLead retrieves the profile for a session, or nil when none exists.
func (s *SQLiteStore) GetLead(ctx context.Context, sessionID string) (*Lead, error) {
	row := s.db.QueryRowContext(ctx, leadColumns+` WHERE session_id = ?`, sessionID)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan lead row: %w", err)
	}
	return lead, nil
}

// SetLeadNotified stamps the dispatch time for a session's lead.
func (s *SQLiteStore) SetLeadNotified(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET notified_at = ? WHERE session_id = ?`, at.Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("set lead notified: %w", err)
	}
	return nil
}

// ListLeads returns leads at or above the given score for the admin view,
// best first.
func (s *SQLiteStore) ListLeads(ctx context.Context, minScore int) ([]*Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		leadColumns+` WHERE lead_score >= ? ORDER BY lead_score DESC, created_at DESC`, minScore)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	var leads []*Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead row: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return leads, nil
}

const leadColumns = `
	SELECT session_id, name, phone, email, target_course, target_country,
	       target_intake, budget_inr, ielts_score, percentage, lead_score,
	       intent_level, conversation_summary, recommended_action,
	       notified_at, created_at
	FROM leads`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(row scanner) (*Lead, error) {
	var lead Lead
	var name, phone, email, course, country, intake, ielts, pct, level, summary, action sql.NullString
	var budget, notifiedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&lead.SessionID, &name, &phone, &email, &course, &country,
		&intake, &budget, &ielts, &pct, &lead.LeadScore,
		&level, &summary, &action, &notifiedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	lead.Name = name.String
	lead.Phone = phone.String
	lead.Email = email.String
	lead.TargetCourse = course.String
	lead.TargetCountry = country.String
	lead.TargetIntake = intake.String
	lead.BudgetINR = budget.Int64
	lead.IELTSScore = ielts.String
	lead.Percentage = pct.String
	lead.IntentLevel = level.String
	lead.ConversationSummary = summary.String
	lead.RecommendedAction = action.String
	if notifiedAt.Valid {
		ts := time.Unix(notifiedAt.Int64, 0)
		lead.NotifiedAt = &ts
	}
	lead.CreatedAt = time.Unix(createdAt, 0)
	return &lead, nil
}

// LogUnanswered appends a retrieval-miss record.
func (s *SQLiteStore) LogUnanswered(ctx context.Context, q *UnansweredQuery) error {
	createdAt := q.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unanswered_queries (query_text, similarity_score, fallback_type, session_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		q.QueryText, q.SimilarityScore, q.FallbackType, nullable(q.SessionID),
		UnansweredPending, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("log unanswered query: %w", err)
	}
	return nil
}

// ListPendingUnanswered returns PENDING miss records created since the
// given time, newest first.
func (s *SQLiteStore) ListPendingUnanswered(ctx context.Context, since time.Time) ([]*UnansweredQuery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query_text, similarity_score, fallback_type, session_id, status, created_at
		 FROM unanswered_queries
		 WHERE created_at >= ? AND status = ?
		 ORDER BY created_at DESC`,
		since.Unix(), UnansweredPending,
	)
	if err != nil {
		return nil, fmt.Errorf("query unanswered: %w", err)
	}
	defer rows.Close()

	var out []*UnansweredQuery
	for rows.Next() {
		var q UnansweredQuery
		var score sql.NullFloat64
		var fbType, sessionID sql.NullString
		var createdAt int64
		if err := rows.Scan(&q.ID, &q.QueryText, &score, &fbType, &sessionID, &q.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan unanswered row: %w", err)
		}
		q.SimilarityScore = score.Float64
		q.FallbackType = fbType.String
		q.SessionID = sessionID.String
		q.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unanswered: %w", err)
	}
	return out, nil
}

// MarkUnansweredNotified flips the given records out of the PENDING state
// so the next gap report skips them.
func (s *SQLiteStore) MarkUnansweredNotified(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, UnansweredNotified)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE unanswered_queries SET status = ? WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark unanswered notified: %w", err)
	}
	return nil
}

// SaveConversation appends one exchange to the audit log.
func (s *SQLiteStore) SaveConversation(ctx context.Context, c *Conversation) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	platform := c.Platform
	if platform == "" {
		platform = "web"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (session_id, user_message, ai_response, intent_level, lead_score, rag_score, fallback_type, platform, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.UserMessage, c.AIResponse, nullable(c.IntentLevel),
		c.LeadScore, c.RAGScore, nullable(c.FallbackType), platform, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// AddDocument registers a knowledge-base PDF. Re-registering a filename
// updates its topic and chunk count.
func (s *SQLiteStore) AddDocument(ctx context.Context, d *Document) error {
	addedAt := d.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pdf_library (filename, topic, chunks, added_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(filename) DO UPDATE SET topic = excluded.topic, chunks = excluded.chunks`,
		d.Filename, nullable(d.Topic), d.Chunks, addedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// ListDocuments returns the registered knowledge-base PDFs, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, topic, chunks, added_at FROM pdf_library ORDER BY added_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var d Document
		var topic sql.NullString
		var addedAt int64
		if err := rows.Scan(&d.ID, &d.Filename, &topic, &d.Chunks, &addedAt); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		d.Topic = topic.String
		d.AddedAt = time.Unix(addedAt, 0)
		docs = append(docs, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
