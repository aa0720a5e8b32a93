// Package persistence implements calendar account health tracking.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/diaguru/diaguru/internal/shared/infrastructure/database"
)

// AccountStore records provider account state per user. The scheduler flips
// needs_reconnect when the provider rejects our credentials so the UI can
// prompt the user to re-authorize.
type AccountStore struct {
	conn database.Connection
}

// NewAccountStore creates an account store.
func NewAccountStore(conn database.Connection) *AccountStore {
	return &AccountStore{conn: conn}
}

// MarkNeedsReconnect flags the user's calendar account as dead.
func (s *AccountStore) MarkNeedsReconnect(ctx context.Context, userID uuid.UUID) error {
	query := s.conn.Driver().Rebind(`INSERT INTO calendar_accounts (user_id, needs_reconnect, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			needs_reconnect = excluded.needs_reconnect,
			updated_at = excluded.updated_at`)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.conn.Exec(ctx, query, userID.String(), true, now); err != nil {
		return fmt.Errorf("mark account reconnect: %w", err)
	}
	return nil
}

// NeedsReconnect reports whether the user's account was flagged. Missing
// rows mean healthy.
func (s *AccountStore) NeedsReconnect(ctx context.Context, userID uuid.UUID) (bool, error) {
	query := s.conn.Driver().Rebind(`SELECT needs_reconnect FROM calendar_accounts WHERE user_id = ?`)
	var flagged bool
	if err := s.conn.QueryRow(ctx, query, userID.String()).Scan(&flagged); err != nil {
		if database.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("read account state: %w", err)
	}
	return flagged, nil
}
