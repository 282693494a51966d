package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"hookahplus/internal/domain"
)

// HashStaffKey returns a stable SHA-256 hex digest for the provided key.
func HashStaffKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func validateStaffKey(key domain.StaffKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.StaffID == "" {
		return errors.New("staff_id required")
	}
	if !key.Role.Valid() {
		return errors.New("invalid staff role")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	return nil
}

// InsertStaffKey stores a hashed device key. KeyHash must already contain the hashed value.
func (r Repo) InsertStaffKey(ctx context.Context, key domain.StaffKey) error {
	if err := validateStaffKey(key); err != nil {
		return err
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO staff_keys(id, staff_id, role, name, key_hash, created_at) VALUES (?,?,?,?,?,?)`,
		key.ID, key.StaffID, string(key.Role), nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// GetStaffKeyByHash returns a device key by its hashed value.
func (r Repo) GetStaffKeyByHash(ctx context.Context, hash string) (domain.StaffKey, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, staff_id, role, COALESCE(name,''), key_hash, created_at FROM staff_keys WHERE key_hash=? LIMIT 1`, hash)
	var key domain.StaffKey
	var role string
	err := row.Scan(&key.ID, &key.StaffID, &role, &key.Name, &key.KeyHash, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.StaffKey{}, ErrNotFound
	}
	if err != nil {
		return domain.StaffKey{}, err
	}
	key.Role = domain.Role(role)
	return key, nil
}

// ListStaffKeys returns device keys, optionally filtered by staff ID.
func (r Repo) ListStaffKeys(ctx context.Context, staffID string) ([]domain.StaffKey, error) {
	query := `SELECT id, staff_id, role, COALESCE(name,''), key_hash, created_at FROM staff_keys`
	var args []any
	if staffID != "" {
		query += ` WHERE staff_id=?`
		args = append(args, staffID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.StaffKey
	for rows.Next() {
		var key domain.StaffKey
		var role string
		if err := rows.Scan(&key.ID, &key.StaffID, &role, &key.Name, &key.KeyHash, &key.CreatedAt); err != nil {
			return nil, err
		}
		key.Role = domain.Role(role)
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteStaffKey deletes a device key by ID.
func (r Repo) DeleteStaffKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM staff_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
