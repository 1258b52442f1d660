// ABOUTME: Envelope event log for audit of traffic through the multiplexer
// ABOUTME: Provides SaveEnvelopeEvent and filtered retrieval ordered by timestamp

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SaveEnvelopeEvent persists an envelope event. A missing ID or timestamp is filled in.
func (s *SQLiteStore) SaveEnvelopeEvent(ctx context.Context, event *EnvelopeEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO envelope_events (
			event_id, direction, connection_id, sender, recipient, protocol_id, size, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Direction),
		event.ConnectionID,
		event.Sender,
		event.To,
		event.ProtocolID,
		event.Size,
		event.Timestamp.UTC().Format(timestampFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting envelope event: %w", err)
	}

	s.logger.Debug("saved envelope event",
		"event_id", event.ID,
		"direction", event.Direction,
		"protocol_id", event.ProtocolID,
	)
	return nil
}

// GetEnvelopeEvents returns events in chronological order.
func (s *SQLiteStore) GetEnvelopeEvents(ctx context.Context, params GetEnvelopeEventsParams) ([]*EnvelopeEvent, error) {
	var conditions []string
	var args []any

	if params.Address != "" {
		conditions = append(conditions, "(sender = ? OR recipient = ?)")
		args = append(args, params.Address, params.Address)
	}
	if params.Since != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, params.Since.UTC().Format(timestampFormat))
	}

	query := `
		SELECT event_id, direction, connection_id, sender, recipient, protocol_id, size, timestamp
		FROM envelope_events
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp ASC, event_id ASC LIMIT ?"
	args = append(args, clampLimit(params.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying envelope events: %w", err)
	}
	defer rows.Close()

	var events []*EnvelopeEvent
	for rows.Next() {
		event := &EnvelopeEvent{}
		var direction, timestampStr string
		if err := rows.Scan(
			&event.ID,
			&direction,
			&event.ConnectionID,
			&event.Sender,
			&event.To,
			&event.ProtocolID,
			&event.Size,
			&timestampStr,
		); err != nil {
			return nil, fmt.Errorf("scanning envelope event: %w", err)
		}
		event.Direction = EventDirection(direction)
		event.Timestamp, err = time.Parse(timestampFormat, timestampStr)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating envelope events: %w", err)
	}
	return events, nil
}
