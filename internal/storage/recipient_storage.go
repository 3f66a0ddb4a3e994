package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/samims/keepsake/internal/model"
)

type recipientStorage struct {
	db DB
}

// NewRecipientStorage returns a RecipientStorage backed by Postgres.
func NewRecipientStorage(db DB) RecipientStorage {
	return &recipientStorage{db: db}
}

func (s *recipientStorage) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *recipientStorage) Recipients(ctx context.Context, keepsakeID uuid.UUID) ([]model.Recipient, error) {
	const query = `
		SELECT id, keepsake_id, display_name, contact_address
		FROM keepsake_recipients
		WHERE keepsake_id = $1
		ORDER BY id
	`

	rows, err := s.db.Query(ctx, query, keepsakeID)
	if err != nil {
		return nil, fmt.Errorf("query recipients of %s failed: %w", keepsakeID, err)
	}
	defer rows.Close()

	var recipients []model.Recipient
	for rows.Next() {
		var r model.Recipient
		if err := rows.Scan(&r.ID, &r.KeepsakeID, &r.DisplayName, &r.ContactAddress); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return recipients, nil
}
