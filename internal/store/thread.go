package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CanonicalPair sorts two user IDs into the fixed order used to address a
// thread, so the pair (A, B) and (B, A) resolve identically.
func CanonicalPair(a, b string) (lo, hi string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// threadID returns the thread ID for the unordered user pair, creating the
// thread when absent. INSERT OR IGNORE against the unique pair index makes
// lazy creation safe under concurrent first messages: at most one thread row
// ever exists per pair.
func threadID(tx *sql.Tx, a, b string, now int64) (int64, error) {
	lo, hi := CanonicalPair(a, b)
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO threads (participant_lo, participant_hi, last_updated)
		VALUES (?, ?, ?)`, lo, hi, now); err != nil {
		return 0, fmt.Errorf("create thread: %w", err)
	}
	var id int64
	err := tx.QueryRow(`
		SELECT id FROM threads
		WHERE participant_lo = ? AND participant_hi = ?`, lo, hi).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("lookup thread: %w", err)
	}
	return id, nil
}

// AppendMessage persists a message from sender to recipient with status
// 'sent', creating the pair's thread when this is their first message.
func (db *DB) AppendMessage(senderID, recipientID, body string) (*Message, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	tid, err := threadID(tx, senderID, recipientID, now)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:        uuid.New().String(),
		ThreadID:  tid,
		SenderID:  senderID,
		Body:      body,
		Status:    MessageSent,
		Timestamp: now,
	}
	if _, err := tx.Exec(`
		INSERT INTO messages (id, thread_id, sender_id, body, status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.SenderID, msg.Body, msg.Status, msg.Timestamp); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.Exec(`UPDATE threads SET last_updated = ? WHERE id = ?`, now, tid); err != nil {
		return nil, fmt.Errorf("touch thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

// UpdateMessageStatus sets the delivery status of a single message.
func (db *DB) UpdateMessageStatus(id, status string) error {
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkThreadRead flips every message authored by authorID in the
// reader/author thread to 'read', leaving the reader's own messages
// untouched. Returns the number of messages flipped; zero (without error)
// when no thread exists yet.
func (db *DB) MarkThreadRead(readerID, authorID string) (int64, error) {
	lo, hi := CanonicalPair(readerID, authorID)
	var tid int64
	err := db.QueryRow(`
		SELECT id FROM threads
		WHERE participant_lo = ? AND participant_hi = ?`, lo, hi).Scan(&tid)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	res, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE thread_id = ? AND sender_id = ? AND status != ?`,
		MessageRead, tid, authorID, MessageRead)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

// ThreadHistory returns all messages between two users in append order.
// A pair with no thread yet yields an empty slice, not an error.
func (db *DB) ThreadHistory(a, b string) ([]Message, error) {
	lo, hi := CanonicalPair(a, b)
	rows, err := db.Query(`
		SELECT m.id, m.thread_id, m.sender_id, m.body, m.status, m.timestamp
		FROM messages m
		JOIN threads t ON m.thread_id = t.id
		WHERE t.participant_lo = ? AND t.participant_hi = ?
		ORDER BY m.rowid ASC`, lo, hi)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Body, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
