package ownership

import (
	"context"
	"database/sql"
	"fmt"
)

type sqliteStore struct {
	db *sql.DB
}

// NewSQLite stores ownership in the user_cards table created by the db migrations.
func NewSQLite(db *sql.DB) Store {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) LoadOwned(ctx context.Context, userID int64) ([]int, error) {
	if userID == 0 {
		return nil, ErrNoIdentity
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT pokemon_id FROM user_cards WHERE user_id = ? ORDER BY pokemon_id",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying owned cards: %w", err)
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning owned card: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating owned cards: %w", err)
	}
	return ids, nil
}

func (s *sqliteStore) AddOwned(ctx context.Context, userID int64, itemID int) error {
	if userID == 0 {
		return ErrNoIdentity
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO user_cards (user_id, pokemon_id) VALUES (?, ?)",
		userID, itemID,
	); err != nil {
		return fmt.Errorf("inserting owned card: %w", err)
	}
	return nil
}

func (s *sqliteStore) RemoveOwned(ctx context.Context, userID int64, itemID int) error {
	if userID == 0 {
		return ErrNoIdentity
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM user_cards WHERE user_id = ? AND pokemon_id = ?",
		userID, itemID,
	); err != nil {
		return fmt.Errorf("deleting owned card: %w", err)
	}
	return nil
}
