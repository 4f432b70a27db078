package store

import (
	"context"
	"database/sql"

	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// MaxListLimit caps list queries.
const MaxListLimit = 1000

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// CacheEvent stores an inbound event. Re-delivery of the same event id is ignored.
func (s *SQLiteStore) CacheEvent(ctx context.Context, event *storepkg.CachedEvent) error {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = s.now().UTC()
	}
	payload := event.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO cached_events (event_id, name, source_identity, payload, received_at)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT(event_id) DO NOTHING`,
		event.EventID, event.Name, event.SourceIdentity, payload, formatTime(event.ReceivedAt))
	if err != nil {
		return &storepkg.StorageError{Op: "cache event", Err: err}
	}
	return nil
}

// CacheMessage stores an inbound message. Re-delivery is ignored.
func (s *SQLiteStore) CacheMessage(ctx context.Context, message *storepkg.CachedMessage) error {
	if message.ReceivedAt.IsZero() {
		message.ReceivedAt = s.now().UTC()
	}
	payload := message.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO cached_messages (message_id, kind, operation, source_identity, correlation_id, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(message_id) DO NOTHING`,
		message.MessageID, message.Kind, message.Operation, message.SourceIdentity,
		nullString(message.CorrelationID), payload, formatTime(message.ReceivedAt))
	if err != nil {
		return &storepkg.StorageError{Op: "cache message", Err: err}
	}
	return nil
}

// ListCachedEvents returns the newest events first (default limit 100).
func (s *SQLiteStore) ListCachedEvents(ctx context.Context, limit int) ([]storepkg.CachedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, name, source_identity, payload, received_at
		FROM cached_events ORDER BY received_at DESC LIMIT ?`, clampLimit(limit, 100))
	if err != nil {
		return nil, &storepkg.StorageError{Op: "list cached events", Err: err}
	}
	defer func() { _ = rows.Close() }()

	events := []storepkg.CachedEvent{}
	for rows.Next() {
		var (
			event      storepkg.CachedEvent
			receivedAt string
		)
		if err := rows.Scan(&event.EventID, &event.Name, &event.SourceIdentity, &event.Payload, &receivedAt); err != nil {
			return nil, &storepkg.StorageError{Op: "list cached events", Err: err}
		}
		if event.ReceivedAt, err = parseTime(receivedAt); err != nil {
			return nil, &storepkg.StorageError{Op: "list cached events", Err: err}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, &storepkg.StorageError{Op: "list cached events", Err: err}
	}
	return events, nil
}

// ListCachedMessages returns the newest messages first (default limit 100).
func (s *SQLiteStore) ListCachedMessages(ctx context.Context, limit int) ([]storepkg.CachedMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT message_id, kind, operation, source_identity, correlation_id, payload, received_at
		FROM cached_messages ORDER BY received_at DESC LIMIT ?`, clampLimit(limit, 100))
	if err != nil {
		return nil, &storepkg.StorageError{Op: "list cached messages", Err: err}
	}
	defer func() { _ = rows.Close() }()

	messages := []storepkg.CachedMessage{}
	for rows.Next() {
		var (
			message     storepkg.CachedMessage
			correlation sql.NullString
			receivedAt  string
		)
		if err := rows.Scan(&message.MessageID, &message.Kind, &message.Operation, &message.SourceIdentity,
			&correlation, &message.Payload, &receivedAt); err != nil {
			return nil, &storepkg.StorageError{Op: "list cached messages", Err: err}
		}
		message.CorrelationID = correlation.String
		if message.ReceivedAt, err = parseTime(receivedAt); err != nil {
			return nil, &storepkg.StorageError{Op: "list cached messages", Err: err}
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, &storepkg.StorageError{Op: "list cached messages", Err: err}
	}
	return messages, nil
}
