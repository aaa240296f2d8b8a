// Package mapstore persists map and data-source records in Postgres. Config
// text itself lives on disk; the store tracks metadata and file locations.
package mapstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("mapstore: not found")

// MapRecord is one registered weathermap.
type MapRecord struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Title          string     `json:"title"`
	ConfigPath     string     `json:"configPath"`
	Width          int        `json:"width"`
	Height         int        `json:"height"`
	LastRenderedAt *time.Time `json:"lastRenderedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// SourceRecord is one configured monitoring data source.
type SourceRecord struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	URL       string            `json:"url"`
	Username  string            `json:"-"`
	Password  string            `json:"-"`
	APIToken  string            `json:"-"`
	Settings  map[string]string `json:"settings,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Store is the persistence contract the HTTP layer and the render cache
// depend on. The pgx implementation is the production one; tests use fakes.
type Store interface {
	ListMaps(ctx context.Context) ([]MapRecord, error)
	GetMap(ctx context.Context, id int64) (MapRecord, error)
	CreateMap(ctx context.Context, rec MapRecord) (MapRecord, error)
	UpdateMap(ctx context.Context, rec MapRecord) error
	DeleteMap(ctx context.Context, id int64) error
	RecordLastRendered(ctx context.Context, id int64, at time.Time) error

	ListSources(ctx context.Context) ([]SourceRecord, error)
	GetSource(ctx context.Context, id int64) (SourceRecord, error)
	CreateSource(ctx context.Context, rec SourceRecord) (SourceRecord, error)
	DeleteSource(ctx context.Context, id int64) error
}
