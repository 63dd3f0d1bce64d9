package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateRequest inserts a new pending cash request. Assigns ID and creation
// timestamp when unset.
func (db *DB) CreateRequest(r *CashRequest) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = RequestPending
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO cash_requests (id, requester_id, amount, reason, status, connected_to, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?)`,
		r.ID, r.RequesterID, r.Amount, r.Reason, r.Status, r.ConnectedTo, r.Deleted, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert cash request: %w", err)
	}
	return nil
}

// GetRequest returns a cash request by ID, or ErrNotFound.
func (db *DB) GetRequest(id string) (*CashRequest, error) {
	var r CashRequest
	var connectedTo sql.NullString
	err := db.QueryRow(`
		SELECT id, requester_id, amount, reason, status, connected_to, deleted, created_at
		FROM cash_requests WHERE id = ?`, id).
		Scan(&r.ID, &r.RequesterID, &r.Amount, &r.Reason, &r.Status, &connectedTo, &r.Deleted, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cash request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	r.ConnectedTo = connectedTo.String
	return &r, nil
}

// ListRequests returns cash requests newest first. Soft-deleted requests are
// excluded unless includeDeleted is set.
func (db *DB) ListRequests(includeDeleted bool) ([]CashRequest, error) {
	query := `
		SELECT id, requester_id, amount, reason, status, connected_to, deleted, created_at
		FROM cash_requests`
	if !includeDeleted {
		query += ` WHERE deleted = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var reqs []CashRequest
	for rows.Next() {
		var r CashRequest
		var connectedTo sql.NullString
		if err := rows.Scan(&r.ID, &r.RequesterID, &r.Amount, &r.Reason, &r.Status, &connectedTo, &r.Deleted, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ConnectedTo = connectedTo.String
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// SoftDeleteRequest flags a request deleted. The row is retained for history.
func (db *DB) SoftDeleteRequest(id string) error {
	res, err := db.Exec(`UPDATE cash_requests SET deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("soft delete request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("cash request %s: %w", id, ErrNotFound)
	}
	return nil
}

// ConnectRequest transitions a request from pending to connected and binds it
// to the initiator. The transition is a single conditional update: under
// concurrent connect attempts exactly one caller wins; every other caller
// gets ErrAlreadyConnected (or ErrNotFound when the ID is unknown).
func (db *DB) ConnectRequest(id, initiatorID string) (*CashRequest, error) {
	res, err := db.Exec(`
		UPDATE cash_requests SET status = ?, connected_to = ?
		WHERE id = ? AND status = ?`,
		RequestConnected, initiatorID, id, RequestPending)
	if err != nil {
		return nil, fmt.Errorf("connect request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Re-read to distinguish a missing request from a lost race.
		if _, err := db.GetRequest(id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("cash request %s: %w", id, ErrAlreadyConnected)
	}
	return db.GetRequest(id)
}
