package editor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"weathermapng/core-go/internal/mapstore"
	"weathermapng/core-go/internal/wmap"
)

// writeAtomic replaces path via a temp file and rename so readers never see a
// half-written config.
func writeAtomic(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// RawConfig returns the config text exactly as stored on disk.
func (e *Engine) RawConfig(ctx context.Context, mapID int64) (string, error) {
	rec, err := e.store.GetMap(ctx, mapID)
	if err != nil {
		return "", err
	}
	text, err := os.ReadFile(rec.ConfigPath)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", rec.ConfigPath, err)
	}
	return string(text), nil
}

// SaveRawConfig replaces the config text after a validating decode, keeping
// the previous version as a .bak next to the file.
func (e *Engine) SaveRawConfig(ctx context.Context, mapID int64, text string) error {
	rec, err := e.store.GetMap(ctx, mapID)
	if err != nil {
		return err
	}

	lock := e.lockFor(mapID)
	lock.Lock()
	defer lock.Unlock()

	d, err := wmap.Decode(text)
	if err != nil {
		return fmt.Errorf("config rejected: %w", err)
	}
	if err := d.CheckIntegrity(); err != nil {
		return fmt.Errorf("config rejected: %w", err)
	}

	if prev, err := os.ReadFile(rec.ConfigPath); err == nil {
		if err := os.WriteFile(rec.ConfigPath+".bak", prev, 0o644); err != nil {
			e.log.Warn().Err(err).Str("path", rec.ConfigPath).Msg("backup write failed")
		}
	}
	if err := writeAtomic(rec.ConfigPath, text); err != nil {
		return err
	}

	rec.Title = d.Title
	rec.Width = d.Width
	rec.Height = d.Height
	if err := e.store.UpdateMap(ctx, rec); err != nil {
		e.log.Warn().Err(err).Int64("map_id", mapID).Msg("metadata update failed")
	}
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// fileStem derives a filesystem-safe stem from a map name.
func fileStem(name string) string {
	stem := unsafeFileChars.ReplaceAllString(strings.TrimSpace(name), "_")
	stem = strings.Trim(stem, "_")
	if stem == "" {
		stem = "map"
	}
	return stem
}

// Service manages map lifecycle around the engine: creation, duplication,
// deletion with artifact cleanup.
type Service struct {
	engine    *Engine
	store     mapstore.Store
	configDir string
	outputDir string
}

func NewService(engine *Engine, store mapstore.Store, configDir, outputDir string) *Service {
	return &Service{engine: engine, store: store, configDir: configDir, outputDir: outputDir}
}

func (s *Service) Engine() *Engine { return s.engine }

// CreateMap registers a new map with a generated skeleton config.
func (s *Service) CreateMap(ctx context.Context, name, title string, width, height int) (mapstore.MapRecord, error) {
	if strings.TrimSpace(name) == "" {
		return mapstore.MapRecord{}, errors.New("map name required")
	}
	if title == "" {
		title = name
	}
	stem := fileStem(name)
	path := filepath.Join(s.configDir, stem+".conf")
	for i := 2; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		path = filepath.Join(s.configDir, fmt.Sprintf("%s_%d.conf", stem, i))
	}

	text := wmap.DefaultConfig(title, width, height, time.Now())
	d, err := wmap.Decode(text)
	if err != nil {
		return mapstore.MapRecord{}, err
	}
	if err := os.MkdirAll(s.configDir, 0o755); err != nil {
		return mapstore.MapRecord{}, err
	}
	if err := writeAtomic(path, text); err != nil {
		return mapstore.MapRecord{}, err
	}

	rec, err := s.store.CreateMap(ctx, mapstore.MapRecord{
		Name:       name,
		Title:      d.Title,
		ConfigPath: path,
		Width:      d.Width,
		Height:     d.Height,
	})
	if err != nil {
		os.Remove(path)
		return mapstore.MapRecord{}, err
	}
	return rec, nil
}

// DuplicateMap copies a map's config under a new name, rewriting only the
// title so hand-tuned directives carry over untouched.
func (s *Service) DuplicateMap(ctx context.Context, mapID int64, newName string) (mapstore.MapRecord, error) {
	src, err := s.store.GetMap(ctx, mapID)
	if err != nil {
		return mapstore.MapRecord{}, err
	}
	if strings.TrimSpace(newName) == "" {
		newName = src.Name + " copy"
	}
	text, err := os.ReadFile(src.ConfigPath)
	if err != nil {
		return mapstore.MapRecord{}, fmt.Errorf("reading %s: %w", src.ConfigPath, err)
	}

	stem := fileStem(newName)
	path := filepath.Join(s.configDir, stem+".conf")
	for i := 2; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		path = filepath.Join(s.configDir, fmt.Sprintf("%s_%d.conf", stem, i))
	}
	if err := writeAtomic(path, wmap.RewriteTitle(string(text), newName)); err != nil {
		return mapstore.MapRecord{}, err
	}

	rec, err := s.store.CreateMap(ctx, mapstore.MapRecord{
		Name:       newName,
		Title:      newName,
		ConfigPath: path,
		Width:      src.Width,
		Height:     src.Height,
	})
	if err != nil {
		os.Remove(path)
		return mapstore.MapRecord{}, err
	}
	return rec, nil
}

// DeleteMap removes the record, the config file with its backup, and every
// rendered artifact of the map.
func (s *Service) DeleteMap(ctx context.Context, mapID int64) error {
	rec, err := s.store.GetMap(ctx, mapID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMap(ctx, mapID); err != nil {
		return err
	}

	os.Remove(rec.ConfigPath)
	os.Remove(rec.ConfigPath + ".bak")
	matches, _ := filepath.Glob(filepath.Join(s.outputDir, fmt.Sprintf("map-%d*", mapID)))
	for _, m := range matches {
		os.Remove(m)
	}
	return nil
}
