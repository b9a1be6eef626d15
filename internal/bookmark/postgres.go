package bookmark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists reading positions in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bookmarks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			document TEXT NOT NULL,
			section_ref TEXT NOT NULL DEFAULT '',
			offset_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			voice TEXT NOT NULL DEFAULT '',
			speed DOUBLE PRECISION NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, document)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bookmarks_user_updated ON bookmarks (user_id, updated_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, b Bookmark) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO bookmarks (id, user_id, document, section_ref, offset_percent, voice, speed, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, document) DO UPDATE SET
			section_ref = EXCLUDED.section_ref,
			offset_percent = EXCLUDED.offset_percent,
			voice = EXCLUDED.voice,
			speed = EXCLUDED.speed,
			updated_at = EXCLUDED.updated_at`,
		b.ID,
		b.UserID,
		b.Document,
		b.SectionRef,
		b.OffsetPercent,
		b.Voice,
		b.Speed,
		b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save bookmark: %w", err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, userID, document string) (Bookmark, bool, error) {
	var b Bookmark
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, document, section_ref, offset_percent, voice, speed, updated_at
		 FROM bookmarks WHERE user_id=$1 AND document=$2`,
		userID,
		document,
	).Scan(&b.ID, &b.UserID, &b.Document, &b.SectionRef, &b.OffsetPercent, &b.Voice, &b.Speed, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bookmark{}, false, nil
	}
	if err != nil {
		return Bookmark{}, false, fmt.Errorf("query bookmark: %w", err)
	}
	return b, true, nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, limit int) ([]Bookmark, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, document, section_ref, offset_percent, voice, speed, updated_at
		 FROM bookmarks WHERE user_id=$1 ORDER BY updated_at DESC LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}
	defer rows.Close()

	items := make([]Bookmark, 0, limit)
	for rows.Next() {
		var b Bookmark
		if err := rows.Scan(&b.ID, &b.UserID, &b.Document, &b.SectionRef, &b.OffsetPercent, &b.Voice, &b.Speed, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bookmark row: %w", err)
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookmark rows: %w", err)
	}

	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
