package mapstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemStoreMapLifecycle(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	rec, err := s.CreateMap(ctx, MapRecord{Name: "campus", Title: "Campus", ConfigPath: "/maps/campus.conf", Width: 800, Height: 600})
	if err != nil {
		t.Fatalf("CreateMap: %v", err)
	}
	if rec.ID == 0 || rec.CreatedAt.IsZero() {
		t.Fatalf("record = %+v", rec)
	}

	got, err := s.GetMap(ctx, rec.ID)
	if err != nil || got.Name != "campus" {
		t.Fatalf("GetMap = %+v, %v", got, err)
	}

	got.Title = "Campus Backbone"
	if err := s.UpdateMap(ctx, got); err != nil {
		t.Fatalf("UpdateMap: %v", err)
	}
	got, _ = s.GetMap(ctx, rec.ID)
	if got.Title != "Campus Backbone" {
		t.Fatalf("title = %q", got.Title)
	}

	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	if err := s.RecordLastRendered(ctx, rec.ID, at); err != nil {
		t.Fatalf("RecordLastRendered: %v", err)
	}
	got, _ = s.GetMap(ctx, rec.ID)
	if got.LastRenderedAt == nil || !got.LastRenderedAt.Equal(at) {
		t.Fatalf("lastRendered = %v", got.LastRenderedAt)
	}

	if err := s.DeleteMap(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteMap: %v", err)
	}
	if _, err := s.GetMap(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMap after delete: %v", err)
	}
	if err := s.DeleteMap(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestMemStoreListsSorted(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := s.CreateMap(ctx, MapRecord{Name: name}); err != nil {
			t.Fatalf("CreateMap: %v", err)
		}
	}
	maps, err := s.ListMaps(ctx)
	if err != nil {
		t.Fatalf("ListMaps: %v", err)
	}
	if len(maps) != 3 || maps[0].Name != "alpha" || maps[2].Name != "zeta" {
		t.Fatalf("maps = %+v", maps)
	}
}

func TestMemStoreSources(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	rec, err := s.CreateSource(ctx, SourceRecord{
		Name: "prod zabbix", Type: "zabbix", URL: "https://z.example",
		APIToken: "tok", Settings: map[string]string{"tls": "verify"},
	})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	got, err := s.GetSource(ctx, rec.ID)
	if err != nil || got.Settings["tls"] != "verify" {
		t.Fatalf("GetSource = %+v, %v", got, err)
	}
	if err := s.DeleteSource(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if _, err := s.GetSource(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSource after delete: %v", err)
	}
}
