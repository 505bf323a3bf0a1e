package sqlite

import (
	"context"
	"fmt"

	"github.com/gofer-hq/gofer/internal/events"
	"github.com/gofer-hq/gofer/internal/storage"
)

func (db *DB) InsertEvent(ctx context.Context, e events.Event) (int64, error) {
	kind, payload, err := events.MarshalDetails(e)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}

	res, err := db.q.ExecContext(ctx,
		`INSERT INTO events (kind, details, emitted) VALUES (?, ?, ?)`,
		string(kind), string(payload), timeString(e.Emitted))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return id, nil
}

type eventRow struct {
	ID      int64  `db:"id"`
	Kind    string `db:"kind"`
	Details string `db:"details"`
	Emitted string `db:"emitted"`
}

func (r eventRow) toEvent() (events.Event, error) {
	emitted, err := parseTime(r.Emitted)
	if err != nil {
		return events.Event{}, fmt.Errorf("%w: event.emitted: %v", storage.ErrParse, err)
	}
	return events.UnmarshalEvent(r.ID, events.Kind(r.Kind), []byte(r.Details), emitted)
}

func (db *DB) GetEvent(ctx context.Context, id int64) (events.Event, error) {
	var row eventRow
	err := db.q.GetContext(ctx, &row, `SELECT id, kind, details, emitted FROM events WHERE id=?`, id)
	if err != nil {
		return events.Event{}, classify(err)
	}
	return row.toEvent()
}

func (db *DB) ListEvents(ctx context.Context, offset, limit int, reverse bool) ([]events.Event, error) {
	order := "ASC"
	if reverse {
		order = "DESC"
	}

	var rows []eventRow
	err := db.q.SelectContext(ctx, &rows,
		fmt.Sprintf(`SELECT id, kind, details, emitted FROM events ORDER BY id %s LIMIT ? OFFSET ?`, order),
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}

	out := make([]events.Event, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEvent()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (db *DB) PruneEvents(ctx context.Context, olderThanMillis int64) (int64, error) {
	res, err := db.q.ExecContext(ctx, `DELETE FROM events WHERE CAST(emitted AS INTEGER) < ?`, olderThanMillis)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrInternal, err)
	}
	return res.RowsAffected()
}
