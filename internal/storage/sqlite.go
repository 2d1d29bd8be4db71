package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"livenotify/internal/model"
	"livenotify/migrations"
)

const timeLayout = time.RFC3339Nano

const (
	defaultBusyRetries = 3
	defaultBusyBackoff = 50 * time.Millisecond
)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db          *sql.DB
	busyRetries int
	busyBackoff time.Duration
	now         func() time.Time
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dsn == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=2000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{
		db:          db,
		busyRetries: defaultBusyRetries,
		busyBackoff: defaultBusyBackoff,
		now:         time.Now,
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetVideo returns the record for videoID or ErrNotFound.
func (s *SQLite) GetVideo(ctx context.Context, videoID string) (*model.VideoRecord, error) {
	var rec *model.VideoRecord
	err := s.retry(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT video_id, channel_id, title, category, representative_time, is_premiere, notified, created_at, updated_at
			 FROM videos WHERE video_id = ?`, videoID,
		)
		var err error
		rec, err = scanVideo(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	return rec, nil
}

// InsertVideo creates a new record and populates CreatedAt and UpdatedAt.
func (s *SQLite) InsertVideo(ctx context.Context, rec *model.VideoRecord, dedup bool) error {
	now := s.now().UTC()
	err := s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if dedup {
			var count int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM videos WHERE channel_id = ? AND title = ? AND category = ?`,
				rec.ChannelID, rec.Title, string(rec.Category),
			).Scan(&count)
			if err != nil {
				return fmt.Errorf("check duplicate: %w", err)
			}
			if count > 0 {
				return ErrDuplicate
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO videos (video_id, channel_id, title, category, representative_time, is_premiere, notified, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.VideoID, rec.ChannelID, rec.Title, string(rec.Category), formatTime(rec.RepresentativeTime),
			boolToInt(rec.IsPremiere), boolToInt(rec.Notified), now.Format(timeLayout), now.Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert video: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

// UpsertVideo writes the lifecycle fields of rec, creating it if missing.
// created_at is preserved for existing rows.
func (s *SQLite) UpsertVideo(ctx context.Context, rec *model.VideoRecord) error {
	now := s.now().UTC()
	err := s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO videos (video_id, channel_id, title, category, representative_time, is_premiere, notified, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (video_id) DO UPDATE SET
			   channel_id = excluded.channel_id,
			   title = excluded.title,
			   category = excluded.category,
			   representative_time = excluded.representative_time,
			   is_premiere = excluded.is_premiere,
			   notified = excluded.notified,
			   updated_at = excluded.updated_at`,
			rec.VideoID, rec.ChannelID, rec.Title, string(rec.Category), formatTime(rec.RepresentativeTime),
			boolToInt(rec.IsPremiere), boolToInt(rec.Notified), now.Format(timeLayout), now.Format(timeLayout),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert video: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return nil
}

// ListVideosByCategory returns all records in cat ordered by representative time.
func (s *SQLite) ListVideosByCategory(ctx context.Context, cat model.Category) ([]model.VideoRecord, error) {
	var out []model.VideoRecord
	err := s.retry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT video_id, channel_id, title, category, representative_time, is_premiere, notified, created_at, updated_at
			 FROM videos WHERE category = ? ORDER BY representative_time, video_id`, string(cat),
		)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			rec, err := scanVideo(rows)
			if err != nil {
				return err
			}
			out = append(out, *rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return out, nil
}

// MarkNotified records that a notification was dispatched for the current category.
func (s *SQLite) MarkNotified(ctx context.Context, videoID string) error {
	var affected int64
	err := s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE videos SET notified = 1, updated_at = ? WHERE video_id = ?`,
			s.now().UTC().Format(timeLayout), videoID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadTracking returns the persisted tracking table.
func (s *SQLite) LoadTracking(ctx context.Context) ([]model.TrackingEntry, error) {
	var out []model.TrackingEntry
	err := s.retry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT video_id, status, last_poll_time, archive_check_count, ended_at FROM tracking ORDER BY video_id`,
		)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			var e model.TrackingEntry
			var status string
			var lastPoll, endedAt sql.NullString
			if err := rows.Scan(&e.VideoID, &status, &lastPoll, &e.ArchiveCheckCount, &endedAt); err != nil {
				return fmt.Errorf("scan tracking: %w", err)
			}
			e.Status = model.TrackingStatus(status)
			e.LastPollTime = parseNullTime(lastPoll)
			e.EndedAt = parseNullTime(endedAt)
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load tracking: %w", err)
	}
	return out, nil
}

// SaveTracking replaces the persisted tracking table with entries.
func (s *SQLite) SaveTracking(ctx context.Context, entries []model.TrackingEntry) error {
	err := s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM tracking`); err != nil {
			return fmt.Errorf("clear tracking: %w", err)
		}
		for _, e := range entries {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO tracking (video_id, status, last_poll_time, archive_check_count, ended_at) VALUES (?, ?, ?, ?, ?)`,
				e.VideoID, string(e.Status), formatNullTime(e.LastPollTime), e.ArchiveCheckCount, formatNullTime(e.EndedAt),
			)
			if err != nil {
				return fmt.Errorf("insert tracking %s: %w", e.VideoID, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("save tracking: %w", err)
	}
	return nil
}

// retry runs op again while SQLite reports the database as busy or locked.
func (s *SQLite) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt >= s.busyRetries {
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
		timer := time.NewTimer(s.busyBackoff * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// isBusy matches SQLite result codes; *sqlite.Error carries them via Code.
func isBusy(err error) bool {
	var se interface{ Code() int }
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	v := t.UTC().Format(timeLayout)
	return &v
}

func formatNullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

type scannable interface {
	Scan(dest ...any) error
}

func scanVideo(row scannable) (*model.VideoRecord, error) {
	var rec model.VideoRecord
	var category string
	var isPremiere, notified int
	var repTime sql.NullString
	var created, updated string
	err := row.Scan(&rec.VideoID, &rec.ChannelID, &rec.Title, &category, &repTime, &isPremiere, &notified, &created, &updated)
	if err != nil {
		return nil, err
	}
	cat, ok := model.ParseCategory(category)
	if !ok {
		return nil, fmt.Errorf("video %s: unknown category %q", rec.VideoID, category)
	}
	rec.Category = cat
	rec.IsPremiere = isPremiere == 1
	rec.Notified = notified == 1
	if t := parseNullTime(repTime); t != nil {
		rec.RepresentativeTime = *t
	}
	rec.CreatedAt, _ = time.Parse(timeLayout, created)
	rec.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &rec, nil
}
