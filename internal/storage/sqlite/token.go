package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/storage"
)

func (db *DB) InsertToken(ctx context.Context, t *models.Token) error {
	namespacesJSON, err := json.Marshal(t.Namespaces)
	if err != nil {
		return fmt.Errorf("%w: marshaling namespaces: %v", storage.ErrInternal, err)
	}
	metadataJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshaling metadata: %v", storage.ErrInternal, err)
	}

	_, err = db.q.ExecContext(ctx,
		`INSERT INTO tokens (hash, kind, namespaces, metadata, created, expires) VALUES (?, ?, ?, ?, ?, ?)`,
		t.Hash, string(t.Kind), string(namespacesJSON), string(metadataJSON), timeString(t.Created), nullableTimeString(t.Expires))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrExists
		}
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return nil
}

func (db *DB) GetToken(ctx context.Context, hash string) (*models.Token, error) {
	var row struct {
		Hash       string  `db:"hash"`
		Kind       string  `db:"kind"`
		Namespaces string  `db:"namespaces"`
		Metadata   string  `db:"metadata"`
		Created    string  `db:"created"`
		Expires    *string `db:"expires"`
	}
	err := db.q.GetContext(ctx, &row, `SELECT hash, kind, namespaces, metadata, created, expires FROM tokens WHERE hash=?`, hash)
	if err != nil {
		return nil, classify(err)
	}

	created, err := parseTime(row.Created)
	if err != nil {
		return nil, fmt.Errorf("%w: token.created: %v", storage.ErrParse, err)
	}
	expires, err := fromNullableTime(nullString(row.Expires))
	if err != nil {
		return nil, err
	}

	var namespaces []string
	if err := json.Unmarshal([]byte(row.Namespaces), &namespaces); err != nil {
		return nil, fmt.Errorf("%w: token.namespaces: %v", storage.ErrParse, err)
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(row.Metadata), &metadata); err != nil {
		return nil, fmt.Errorf("%w: token.metadata: %v", storage.ErrParse, err)
	}

	return &models.Token{
		Hash:       row.Hash,
		Kind:       models.TokenKind(row.Kind),
		Namespaces: namespaces,
		Metadata:   metadata,
		Created:    created,
		Expires:    expires,
	}, nil
}

func (db *DB) DeleteToken(ctx context.Context, hash string) error {
	res, err := db.q.ExecContext(ctx, `DELETE FROM tokens WHERE hash=?`, hash)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}
