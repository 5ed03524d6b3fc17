package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store manages session persistence with a PostgreSQL backend.
// It is safe for concurrent use by multiple goroutines.
//
// Consumers should depend on their own narrow interfaces rather than on
// Store directly; Store satisfies them.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new Store instance. A nil logger falls back to
// slog.Default().
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

const sessionColumns = `id, session_id, user_id, status, start_time, end_time,
	summary, topics, sentiment, metrics, key_outcomes, user_rating, rated_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.RowID, &s.SessionID, &s.UserID, &s.Status, &s.StartTime,
		&s.EndTime, &s.Summary, &s.Topics, &s.Sentiment, &s.Metrics,
		&s.KeyOutcomes, &s.UserRating, &s.RatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetBySessionID retrieves a session by its client-supplied identifier.
// When duplicate rows exist for an identifier, the oldest row wins.
// Returns ErrSessionNotFound if no row matches.
func (s *Store) GetBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1 ORDER BY id LIMIT 1`,
		sessionID)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return sess, nil
}

// Create inserts a new active session starting now.
func (s *Store) Create(ctx context.Context, sessionID, userID string) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (session_id, user_id, status, start_time)
		 VALUES ($1, $2, $3, now())
		 RETURNING `+sessionColumns,
		sessionID, userID, StatusActive)

	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create session %s: %w", sessionID, err)
	}

	s.logger.Debug("created session", "session_id", sessionID, "user_id", userID)
	return sess, nil
}

// SetStatus updates the status of every row matching the identifier.
// Last writer wins for racing reconnects.
func (s *Store) SetStatus(ctx context.Context, sessionID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $2 WHERE session_id = $1`,
		sessionID, status)
	if err != nil {
		return fmt.Errorf("failed to set status for session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// AppendLog appends one immutable entry to a session's message log.
// metadata may be nil; entries are never updated after insertion.
func (s *Store) AppendLog(ctx context.Context, sessionID, eventType, message string, metadata *LogMetadata) error {
	var metadataJSON []byte
	if metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal log metadata: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_logs (session_id, event_type, message, metadata)
		 VALUES ($1, $2, $3, $4)`,
		sessionID, eventType, message, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to append %s log for session %s: %w", eventType, sessionID, err)
	}

	s.logger.Debug("appended log entry", "session_id", sessionID, "event_type", eventType)
	return nil
}

// ListLogs returns all log entries for a session ordered by insertion.
func (s *Store) ListLogs(ctx context.Context, sessionID string) ([]LogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, event_type, message, metadata, created_at
		 FROM session_logs WHERE session_id = $1 ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	return collectLogs(rows)
}

// RecentLogs returns at most the newest limit entries for a session,
// in insertion order (oldest of the kept window first).
func (s *Store) RecentLogs(ctx context.Context, sessionID string, limit int) ([]LogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, event_type, message, metadata, created_at FROM (
		    SELECT id, session_id, event_type, message, metadata, created_at
		    FROM session_logs WHERE session_id = $1 ORDER BY id DESC LIMIT $2
		 ) tail ORDER BY id`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent logs for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	return collectLogs(rows)
}

func collectLogs(rows pgx.Rows) ([]LogEntry, error) {
	var entries []LogEntry
	for rows.Next() {
		var (
			entry        LogEntry
			metadataJSON []byte
		)
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.EventType,
			&entry.Message, &metadataJSON, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		if len(metadataJSON) > 0 {
			var md LogMetadata
			if err := json.Unmarshal(metadataJSON, &md); err == nil {
				entry.Metadata = &md
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log entries: %w", err)
	}
	return entries, nil
}

// RecentSessions returns up to limit sessions ordered by start time
// descending.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]*Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY start_time DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	s.logger.Debug("listed sessions", "count", len(sessions), "limit", limit)
	return sessions, nil
}

// CommitSummary writes the finalization result: summary fields, metrics,
// end time and terminal status completed. A re-finalization overwrites
// the previous values.
func (s *Store) CommitSummary(ctx context.Context, sessionID string, sum Summary, endTime time.Time) error {
	topicsJSON, metricsJSON, err := marshalSummaryFields(sum)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions
		 SET summary = $2, topics = $3, sentiment = $4, metrics = $5,
		     key_outcomes = $6, end_time = $7, status = $8
		 WHERE session_id = $1`,
		sessionID, sum.Summary, topicsJSON, sum.Sentiment, metricsJSON,
		sum.KeyOutcomes, endTime, StatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to commit summary for session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	s.logger.Debug("committed summary", "session_id", sessionID)
	return nil
}

// UpdateSummaryFields overwrites only the summary-derived fields,
// leaving status and end time untouched. Used by summary regeneration.
func (s *Store) UpdateSummaryFields(ctx context.Context, sessionID string, sum Summary) error {
	topicsJSON, metricsJSON, err := marshalSummaryFields(sum)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions
		 SET summary = $2, topics = $3, sentiment = $4, metrics = $5, key_outcomes = $6
		 WHERE session_id = $1`,
		sessionID, sum.Summary, topicsJSON, sum.Sentiment, metricsJSON, sum.KeyOutcomes)
	if err != nil {
		return fmt.Errorf("failed to update summary for session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// FinalizeWithErrors is the minimal fallback commit: end time plus the
// completed_with_errors status, summary fields untouched.
func (s *Store) FinalizeWithErrors(ctx context.Context, sessionID string, endTime time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET end_time = $2, status = $3 WHERE session_id = $1`,
		sessionID, endTime, StatusCompletedWithErrors)
	if err != nil {
		return fmt.Errorf("failed to finalize session %s with errors: %w", sessionID, err)
	}
	return nil
}

// SetRating stores a user rating in [1,5]. Out-of-range values are
// rejected with ErrInvalidRating and do not mutate state.
func (s *Store) SetRating(ctx context.Context, sessionID string, rating int, ratedAt time.Time) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: got %d", ErrInvalidRating, rating)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET user_rating = $2, rated_at = $3 WHERE session_id = $1`,
		sessionID, rating, ratedAt)
	if err != nil {
		return fmt.Errorf("failed to rate session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	s.logger.Debug("rated session", "session_id", sessionID, "rating", rating)
	return nil
}

// Ping verifies database connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func marshalSummaryFields(sum Summary) (topicsJSON, metricsJSON string, err error) {
	topics := sum.Topics
	if topics == nil {
		topics = []string{}
	}
	tb, err := json.Marshal(topics)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal topics: %w", err)
	}
	mb, err := json.Marshal(sum.Metrics)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal metrics: %w", err)
	}
	return string(tb), string(mb), nil
}
