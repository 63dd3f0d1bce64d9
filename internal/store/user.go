package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateUser inserts a new user. Assigns an ID when none is set.
func (db *DB) CreateUser(u *User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := db.Exec(`
		INSERT INTO users (id, name, phone, online, last_seen)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Phone, u.Online, u.LastSeen)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID, or ErrNotFound.
func (db *DB) GetUser(id string) (*User, error) {
	var u User
	err := db.QueryRow(`
		SELECT id, name, phone, online, last_seen
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Phone, &u.Online, &u.LastSeen)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetPresence persists the advisory online flag and last-seen timestamp.
// Unknown users are ignored: presence may arrive for IDs never provisioned.
func (db *DB) SetPresence(id string, online bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE users SET online = ?, last_seen = ? WHERE id = ?`, online, now, id)
	return err
}

// AddConnection records the mutual connection between two users.
// Idempotent: re-adding an existing pair creates no duplicates.
func (db *DB) AddConnection(a, b string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO connections (user_id, peer_id, created_at)
			VALUES (?, ?, ?)`, pair[0], pair[1], now); err != nil {
			return fmt.Errorf("insert connection: %w", err)
		}
	}
	return tx.Commit()
}

// ListConnections returns the peer IDs a user has been matched with.
func (db *DB) ListConnections(id string) ([]string, error) {
	rows, err := db.Query(`
		SELECT peer_id FROM connections
		WHERE user_id = ? ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var peers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}
