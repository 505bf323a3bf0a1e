package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/storage"
)

type extensionRow struct {
	ExtensionID  string  `db:"extension_id"`
	Image        string  `db:"image"`
	RegistryAuth *string `db:"registry_auth"`
	Settings     string  `db:"settings"`
	Status       string  `db:"status"`
	KeyID        string  `db:"key_id"`
	Created      string  `db:"created"`
}

func (r extensionRow) toModel() (*models.ExtensionRegistration, error) {
	created, err := parseTime(r.Created)
	if err != nil {
		return nil, fmt.Errorf("%w: extension.created: %v", storage.ErrParse, err)
	}

	var auth *models.RegistryAuth
	if r.RegistryAuth != nil {
		auth = &models.RegistryAuth{}
		if err := json.Unmarshal([]byte(*r.RegistryAuth), auth); err != nil {
			return nil, fmt.Errorf("%w: extension.registry_auth: %v", storage.ErrParse, err)
		}
	}

	var settings map[string]string
	if err := json.Unmarshal([]byte(r.Settings), &settings); err != nil {
		return nil, fmt.Errorf("%w: extension.settings: %v", storage.ErrParse, err)
	}

	return &models.ExtensionRegistration{
		ExtensionID:  r.ExtensionID,
		Image:        r.Image,
		RegistryAuth: auth,
		Settings:     settings,
		Status:       models.ExtensionStatus(r.Status),
		KeyID:        r.KeyID,
		Created:      created,
	}, nil
}

func marshalRegistryAuth(a *models.RegistryAuth) (*string, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func (db *DB) InsertExtensionRegistration(ctx context.Context, e *models.ExtensionRegistration) error {
	settingsJSON, err := json.Marshal(e.Settings)
	if err != nil {
		return fmt.Errorf("%w: marshaling settings: %v", storage.ErrInternal, err)
	}
	auth, err := marshalRegistryAuth(e.RegistryAuth)
	if err != nil {
		return fmt.Errorf("%w: marshaling registry auth: %v", storage.ErrInternal, err)
	}

	_, err = db.q.ExecContext(ctx,
		`INSERT INTO extension_registrations (extension_id, image, registry_auth, settings, status, key_id, created) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ExtensionID, e.Image, auth, string(settingsJSON), string(e.Status), e.KeyID, timeString(e.Created))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrExists
		}
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return nil
}

const extensionColumns = `extension_id, image, registry_auth, settings, status, key_id, created`

func (db *DB) GetExtensionRegistration(ctx context.Context, extensionID string) (*models.ExtensionRegistration, error) {
	var row extensionRow
	err := db.q.GetContext(ctx, &row, `SELECT `+extensionColumns+` FROM extension_registrations WHERE extension_id=?`, extensionID)
	if err != nil {
		return nil, classify(err)
	}
	return row.toModel()
}

func (db *DB) ListExtensionRegistrations(ctx context.Context, opts storage.ListOptions) ([]models.ExtensionRegistration, error) {
	var rows []extensionRow
	err := db.q.SelectContext(ctx, &rows,
		`SELECT `+extensionColumns+` FROM extension_registrations ORDER BY extension_id LIMIT ? OFFSET ?`,
		storage.ClampLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}

	out := make([]models.ExtensionRegistration, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (db *DB) UpdateExtensionRegistration(ctx context.Context, e *models.ExtensionRegistration) error {
	settingsJSON, err := json.Marshal(e.Settings)
	if err != nil {
		return fmt.Errorf("%w: marshaling settings: %v", storage.ErrInternal, err)
	}
	auth, err := marshalRegistryAuth(e.RegistryAuth)
	if err != nil {
		return fmt.Errorf("%w: marshaling registry auth: %v", storage.ErrInternal, err)
	}

	res, err := db.q.ExecContext(ctx,
		`UPDATE extension_registrations SET image=?, registry_auth=?, settings=?, status=?, key_id=? WHERE extension_id=?`,
		e.Image, auth, string(settingsJSON), string(e.Status), e.KeyID, e.ExtensionID)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}

func (db *DB) DeleteExtensionRegistration(ctx context.Context, extensionID string) error {
	res, err := db.q.ExecContext(ctx, `DELETE FROM extension_registrations WHERE extension_id=?`, extensionID)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}

type subscriptionRow struct {
	NamespaceID    string `db:"namespace_id"`
	PipelineID     string `db:"pipeline_id"`
	ExtensionID    string `db:"extension_id"`
	SubscriptionID string `db:"subscription_id"`
	Settings       string `db:"settings"`
	Status         string `db:"status"`
	StatusReason   string `db:"status_reason"`
}

func (r subscriptionRow) toModel() (*models.ExtensionSubscription, error) {
	var settings map[string]string
	if err := json.Unmarshal([]byte(r.Settings), &settings); err != nil {
		return nil, fmt.Errorf("%w: subscription.settings: %v", storage.ErrParse, err)
	}
	return &models.ExtensionSubscription{
		NamespaceID:    r.NamespaceID,
		PipelineID:     r.PipelineID,
		ExtensionID:    r.ExtensionID,
		SubscriptionID: r.SubscriptionID,
		Settings:       settings,
		Status:         models.SubscriptionStatus(r.Status),
		StatusReason:   r.StatusReason,
	}, nil
}

const subscriptionColumns = `namespace_id, pipeline_id, extension_id, subscription_id, settings, status, status_reason`

func (db *DB) InsertExtensionSubscription(ctx context.Context, s *models.ExtensionSubscription) error {
	settingsJSON, err := json.Marshal(s.Settings)
	if err != nil {
		return fmt.Errorf("%w: marshaling settings: %v", storage.ErrInternal, err)
	}

	_, err = db.q.ExecContext(ctx,
		`INSERT INTO extension_subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.NamespaceID, s.PipelineID, s.ExtensionID, s.SubscriptionID, string(settingsJSON), string(s.Status), s.StatusReason)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrExists
		}
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return nil
}

func (db *DB) GetExtensionSubscription(ctx context.Context, namespaceID, pipelineID, extensionID, subscriptionID string) (*models.ExtensionSubscription, error) {
	var row subscriptionRow
	err := db.q.GetContext(ctx, &row,
		`SELECT `+subscriptionColumns+` FROM extension_subscriptions WHERE namespace_id=? AND pipeline_id=? AND extension_id=? AND subscription_id=?`,
		namespaceID, pipelineID, extensionID, subscriptionID)
	if err != nil {
		return nil, classify(err)
	}
	return row.toModel()
}

func (db *DB) ListExtensionSubscriptions(ctx context.Context, extensionID string) ([]models.ExtensionSubscription, error) {
	var rows []subscriptionRow
	err := db.q.SelectContext(ctx, &rows,
		`SELECT `+subscriptionColumns+` FROM extension_subscriptions WHERE extension_id=? ORDER BY subscription_id`, extensionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}

	out := make([]models.ExtensionSubscription, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (db *DB) UpdateExtensionSubscription(ctx context.Context, s *models.ExtensionSubscription) error {
	settingsJSON, err := json.Marshal(s.Settings)
	if err != nil {
		return fmt.Errorf("%w: marshaling settings: %v", storage.ErrInternal, err)
	}

	res, err := db.q.ExecContext(ctx,
		`UPDATE extension_subscriptions SET settings=?, status=?, status_reason=?
		 WHERE namespace_id=? AND pipeline_id=? AND extension_id=? AND subscription_id=?`,
		string(settingsJSON), string(s.Status), s.StatusReason,
		s.NamespaceID, s.PipelineID, s.ExtensionID, s.SubscriptionID)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}

func (db *DB) DeleteExtensionSubscription(ctx context.Context, namespaceID, pipelineID, extensionID, subscriptionID string) error {
	res, err := db.q.ExecContext(ctx,
		`DELETE FROM extension_subscriptions WHERE namespace_id=? AND pipeline_id=? AND extension_id=? AND subscription_id=?`,
		namespaceID, pipelineID, extensionID, subscriptionID)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return requireRowsAffected(res)
}
