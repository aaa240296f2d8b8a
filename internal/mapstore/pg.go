package mapstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"weathermapng/core-go/internal/db"
)

// PGStore implements Store on a pgx connection pool.
//
// Expected schema:
//
//	CREATE TABLE maps (
//	    id               BIGSERIAL PRIMARY KEY,
//	    name             TEXT NOT NULL UNIQUE,
//	    title            TEXT NOT NULL DEFAULT '',
//	    config_path      TEXT NOT NULL,
//	    width            INT NOT NULL DEFAULT 800,
//	    height           INT NOT NULL DEFAULT 600,
//	    last_rendered_at TIMESTAMPTZ,
//	    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE TABLE data_sources (
//	    id         BIGSERIAL PRIMARY KEY,
//	    name       TEXT NOT NULL,
//	    type       TEXT NOT NULL DEFAULT 'zabbix',
//	    url        TEXT NOT NULL DEFAULT '',
//	    username   TEXT NOT NULL DEFAULT '',
//	    password   TEXT NOT NULL DEFAULT '',
//	    api_token  TEXT NOT NULL DEFAULT '',
//	    settings   JSONB NOT NULL DEFAULT '{}',
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(p *db.Pool) *PGStore {
	return &PGStore{pool: p.Raw()}
}

const mapColumns = "id, name, title, config_path, width, height, last_rendered_at, created_at, updated_at"

func scanMap(row pgx.Row) (MapRecord, error) {
	var rec MapRecord
	err := row.Scan(&rec.ID, &rec.Name, &rec.Title, &rec.ConfigPath,
		&rec.Width, &rec.Height, &rec.LastRenderedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return MapRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *PGStore) ListMaps(ctx context.Context) ([]MapRecord, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+mapColumns+" FROM maps ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MapRecord
	for rows.Next() {
		rec, err := scanMap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) GetMap(ctx context.Context, id int64) (MapRecord, error) {
	return scanMap(s.pool.QueryRow(ctx, "SELECT "+mapColumns+" FROM maps WHERE id = $1", id))
}

func (s *PGStore) CreateMap(ctx context.Context, rec MapRecord) (MapRecord, error) {
	return scanMap(s.pool.QueryRow(ctx,
		`INSERT INTO maps (name, title, config_path, width, height)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+mapColumns,
		rec.Name, rec.Title, rec.ConfigPath, rec.Width, rec.Height))
}

func (s *PGStore) UpdateMap(ctx context.Context, rec MapRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE maps
		 SET name = $2, title = $3, config_path = $4, width = $5, height = $6, updated_at = now()
		 WHERE id = $1`,
		rec.ID, rec.Name, rec.Title, rec.ConfigPath, rec.Width, rec.Height)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeleteMap(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM maps WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) RecordLastRendered(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, "UPDATE maps SET last_rendered_at = $2 WHERE id = $1", id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const sourceColumns = "id, name, type, url, username, password, api_token, settings, created_at"

func scanSource(row pgx.Row) (SourceRecord, error) {
	var rec SourceRecord
	var settings []byte
	err := row.Scan(&rec.ID, &rec.Name, &rec.Type, &rec.URL,
		&rec.Username, &rec.Password, &rec.APIToken, &settings, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SourceRecord{}, ErrNotFound
	}
	if err != nil {
		return SourceRecord{}, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &rec.Settings); err != nil {
			return SourceRecord{}, fmt.Errorf("source %d settings: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func (s *PGStore) ListSources(ctx context.Context) ([]SourceRecord, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+sourceColumns+" FROM data_sources ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SourceRecord
	for rows.Next() {
		rec, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) GetSource(ctx context.Context, id int64) (SourceRecord, error) {
	return scanSource(s.pool.QueryRow(ctx, "SELECT "+sourceColumns+" FROM data_sources WHERE id = $1", id))
}

func (s *PGStore) CreateSource(ctx context.Context, rec SourceRecord) (SourceRecord, error) {
	settings := rec.Settings
	if settings == nil {
		settings = map[string]string{}
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return SourceRecord{}, err
	}
	return scanSource(s.pool.QueryRow(ctx,
		`INSERT INTO data_sources (name, type, url, username, password, api_token, settings)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+sourceColumns,
		rec.Name, rec.Type, rec.URL, rec.Username, rec.Password, rec.APIToken, raw))
}

func (s *PGStore) DeleteSource(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM data_sources WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
