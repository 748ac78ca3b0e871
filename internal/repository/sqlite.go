package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/secpilot/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			metadata TEXT,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS tool_runs (
			tool_run_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			message_id TEXT,
			user_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			arguments TEXT NOT NULL,
			status TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			risk_reason TEXT,
			approval_required INTEGER NOT NULL DEFAULT 0,
			approved_by TEXT,
			approved_at DATETIME,
			executed_at DATETIME,
			completed_at DATETIME,
			result TEXT,
			error_message TEXT,
			audit_log TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_runs_session ON tool_runs(session_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_runs_user_status ON tool_runs(user_id, status, created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	var metadata sql.NullString
	if session.Metadata != nil {
		metadata = sql.NullString{String: string(session.Metadata), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, created_at, metadata) VALUES (?, ?, ?, ?)`,
		session.SessionID, session.UserID, session.CreatedAt, metadata)
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	var metadata sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, created_at, metadata FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.SessionID, &session.UserID, &session.CreatedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if metadata.Valid {
		session.Metadata = json.RawMessage(metadata.String)
	}
	return &session, nil
}

// CreateMessage creates a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	var metadata sql.NullString
	if msg.Metadata != nil {
		metadata = sql.NullString{String: string(msg.Metadata), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, role, content, created_at, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt, metadata)
	return err
}

// GetMessages retrieves messages for a session in chronological order. A
// positive limit keeps the most recent messages, so the window advances with
// the conversation instead of pinning to its opening turns.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	query := `SELECT message_id, session_id, role, content, created_at, metadata FROM messages WHERE session_id = ? ORDER BY created_at ASC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query = `SELECT message_id, session_id, role, content, created_at, metadata FROM (
			SELECT message_id, session_id, role, content, created_at, metadata FROM messages
			WHERE session_id = ? ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var metadata sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &msg.Role, &msg.Content, &msg.CreatedAt, &metadata); err != nil {
			return nil, err
		}
		if metadata.Valid {
			msg.Metadata = json.RawMessage(metadata.String)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CreateToolRun creates a new tool run record.
func (s *SQLiteStore) CreateToolRun(ctx context.Context, run *domain.ToolRun) error {
	auditLog, err := json.Marshal(run.AuditLog)
	if err != nil {
		return fmt.Errorf("failed to marshal audit log: %w", err)
	}
	if run.AuditLog == nil {
		auditLog = []byte("[]")
	}

	var messageID, riskReason sql.NullString
	if run.MessageID != "" {
		messageID = sql.NullString{String: run.MessageID, Valid: true}
	}
	if run.RiskReason != "" {
		riskReason = sql.NullString{String: run.RiskReason, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tool_runs (tool_run_id, session_id, message_id, user_id, tool_name, arguments, status, risk_level, risk_reason, approval_required, audit_log, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ToolRunID, run.SessionID, messageID, run.UserID, run.ToolName, string(run.Arguments),
		run.Status, run.RiskLevel, riskReason, boolToInt(run.ApprovalRequired), string(auditLog), run.CreatedAt)
	return err
}

// GetToolRun retrieves a tool run by ID.
func (s *SQLiteStore) GetToolRun(ctx context.Context, toolRunID string) (*domain.ToolRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tool_run_id, session_id, message_id, user_id, tool_name, arguments, status, risk_level, risk_reason,
		        approval_required, approved_by, approved_at, executed_at, completed_at, result, error_message, audit_log, created_at
		 FROM tool_runs WHERE tool_run_id = ?`, toolRunID)
	run, err := scanToolRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// MarkApproved transitions pending → approved, recording the approver.
func (s *SQLiteStore) MarkApproved(ctx context.Context, toolRunID, approver string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_runs SET status = ?, approved_by = ?, approved_at = ? WHERE tool_run_id = ? AND status = ?`,
		domain.ToolRunStatusApproved, approver, time.Now(), toolRunID, domain.ToolRunStatusPending)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// MarkRunning transitions the run into running from the expected pre-state,
// setting the execution start timestamp.
func (s *SQLiteStore) MarkRunning(ctx context.Context, toolRunID string, from domain.ToolRunStatus) (bool, error) {
	if !domain.CanTransition(from, domain.ToolRunStatusRunning) {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_runs SET status = ?, executed_at = ? WHERE tool_run_id = ? AND status = ?`,
		domain.ToolRunStatusRunning, time.Now(), toolRunID, from)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// MarkCompleted transitions running → completed and stores the result.
func (s *SQLiteStore) MarkCompleted(ctx context.Context, toolRunID string, result json.RawMessage) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_runs SET status = ?, result = ?, completed_at = ? WHERE tool_run_id = ? AND status = ?`,
		domain.ToolRunStatusCompleted, string(result), time.Now(), toolRunID, domain.ToolRunStatusRunning)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// MarkFailed transitions the run into failed from the expected pre-state and
// stores the error message.
func (s *SQLiteStore) MarkFailed(ctx context.Context, toolRunID string, from domain.ToolRunStatus, errorMessage string) (bool, error) {
	if !domain.CanTransition(from, domain.ToolRunStatusFailed) {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_runs SET status = ?, error_message = ?, completed_at = ? WHERE tool_run_id = ? AND status = ?`,
		domain.ToolRunStatusFailed, errorMessage, time.Now(), toolRunID, from)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// AppendAudit appends one entry to the run's audit log. Existing entries are
// never rewritten; the column only ever grows.
func (s *SQLiteStore) AppendAudit(ctx context.Context, toolRunID string, entry domain.AuditEntry) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_runs SET audit_log = json_insert(audit_log, '$[#]', json(?)) WHERE tool_run_id = ?`,
		string(entryJSON), toolRunID)
	if err != nil {
		return err
	}
	updated, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if !updated {
		return fmt.Errorf("tool run %s not found", toolRunID)
	}
	return nil
}

// ListPendingToolRuns lists a user's tool runs awaiting approval, oldest first.
func (s *SQLiteStore) ListPendingToolRuns(ctx context.Context, userID string, limit int) ([]domain.ToolRun, error) {
	query := `SELECT tool_run_id, session_id, message_id, user_id, tool_name, arguments, status, risk_level, risk_reason,
	                 approval_required, approved_by, approved_at, executed_at, completed_at, result, error_message, audit_log, created_at
	          FROM tool_runs WHERE user_id = ? AND status = ? AND approval_required = 1 ORDER BY created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryToolRuns(ctx, query, userID, domain.ToolRunStatusPending)
}

// ListExpiredPending lists approval-gated runs that have been pending since
// before the cutoff.
func (s *SQLiteStore) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]domain.ToolRun, error) {
	query := `SELECT tool_run_id, session_id, message_id, user_id, tool_name, arguments, status, risk_level, risk_reason,
	                 approval_required, approved_by, approved_at, executed_at, completed_at, result, error_message, audit_log, created_at
	          FROM tool_runs WHERE status = ? AND approval_required = 1 AND created_at < ? ORDER BY created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryToolRuns(ctx, query, domain.ToolRunStatusPending, cutoff)
}

func (s *SQLiteStore) queryToolRuns(ctx context.Context, query string, args ...interface{}) ([]domain.ToolRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.ToolRun
	for rows.Next() {
		run, err := scanToolRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToolRun(row rowScanner) (*domain.ToolRun, error) {
	var run domain.ToolRun
	var messageID, riskReason, approvedBy, result, errorMessage sql.NullString
	var approvedAt, executedAt, completedAt sql.NullTime
	var approvalRequired int
	var auditLog string

	err := row.Scan(&run.ToolRunID, &run.SessionID, &messageID, &run.UserID, &run.ToolName,
		(*argString)(&run.Arguments), &run.Status, &run.RiskLevel, &riskReason,
		&approvalRequired, &approvedBy, &approvedAt, &executedAt, &completedAt,
		&result, &errorMessage, &auditLog, &run.CreatedAt)
	if err != nil {
		return nil, err
	}

	run.ApprovalRequired = approvalRequired != 0
	if messageID.Valid {
		run.MessageID = messageID.String
	}
	if riskReason.Valid {
		run.RiskReason = riskReason.String
	}
	if approvedBy.Valid {
		run.ApprovedBy = approvedBy.String
	}
	if approvedAt.Valid {
		run.ApprovedAt = &approvedAt.Time
	}
	if executedAt.Valid {
		run.ExecutedAt = &executedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if result.Valid {
		run.Result = json.RawMessage(result.String)
	}
	if errorMessage.Valid {
		run.ErrorMessage = errorMessage.String
	}
	if err := json.Unmarshal([]byte(auditLog), &run.AuditLog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit log: %w", err)
	}
	return &run, nil
}

// argString scans a TEXT column into json.RawMessage.
type argString json.RawMessage

func (a *argString) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*a = argString(v)
	case []byte:
		*a = argString(append([]byte(nil), v...))
	case nil:
		*a = nil
	default:
		return fmt.Errorf("unsupported arguments column type %T", src)
	}
	return nil
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
