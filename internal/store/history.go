package store

import (
	"context"
	"fmt"
	"time"
)

const timeFormat = "2006-01-02 15:04:05"

// DeliveryRecord is a row from announcement_history.
type DeliveryRecord struct {
	ID             int64     `json:"id"`
	GuildID        string    `json:"guild_id"`
	AnnouncementID string    `json:"announcement_id"`
	EventID        string    `json:"event_id"`
	Message        string    `json:"message"`
	Status         string    `json:"status"` // sent | failed
	ErrorMessage   string    `json:"error_message,omitempty"`
	SentAt         time.Time `json:"sent_at,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordDelivery inserts a history row for an attempted delivery.
func (s *Store) RecordDelivery(ctx context.Context, rec *DeliveryRecord) (int64, error) {
	var sentAt any
	if !rec.SentAt.IsZero() {
		sentAt = rec.SentAt.UTC().Format(timeFormat)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO announcement_history
			(guild_id, announcement_id, event_id, message, status, error_message, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.GuildID, rec.AnnouncementID, rec.EventID, rec.Message,
		rec.Status, rec.ErrorMessage, sentAt)
	if err != nil {
		return 0, fmt.Errorf("record delivery: %w", err)
	}
	return res.LastInsertId()
}

// RecentDeliveries returns the guild's newest history rows, most recent
// first.
func (s *Store) RecentDeliveries(ctx context.Context, guild string, limit int) ([]DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, announcement_id, event_id, message, status,
		       COALESCE(error_message, ''), COALESCE(sent_at, ''), created_at
		FROM announcement_history
		WHERE guild_id = ?
		ORDER BY id DESC LIMIT ?`, guild, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		var sentAt, createdAt string
		if err := rows.Scan(&rec.ID, &rec.GuildID, &rec.AnnouncementID, &rec.EventID,
			&rec.Message, &rec.Status, &rec.ErrorMessage, &sentAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		if sentAt != "" {
			rec.SentAt, _ = time.Parse(timeFormat, sentAt)
		}
		if createdAt != "" {
			rec.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
