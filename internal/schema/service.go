// Package schema renders compact, cached schema snapshots of registered databases for prompts.
package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/database"
)

const (
	// DefaultMaxChars caps the rendered schema length.
	DefaultMaxChars = 40000
	// TruncationMarker is appended when the schema exceeds the cap.
	TruncationMarker = "\n\n-- (schema truncated due to size limit)"
	// DefaultSampleRows is the sample size used when none is given.
	DefaultSampleRows = 3
)

type snapshot struct {
	tables []string
	full   string
	ready  bool
}

// Info summarizes a database for prompt building.
type Info struct {
	Key     string        `json:"key"`
	Name    string        `json:"name"`
	Type    database.Type `json:"type"`
	Version string        `json:"version,omitempty"`
}

// Service caches schema snapshots per database key.
type Service struct {
	registry *database.Registry
	maxChars int

	mu        sync.Mutex
	activeKey string
	cache     map[string]*snapshot
}

// NewService creates a snapshot service whose active key is defaultKey.
func NewService(registry *database.Registry, defaultKey string, maxChars int) *Service {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Service{
		registry:  registry,
		maxChars:  maxChars,
		activeKey: defaultKey,
		cache:     make(map[string]*snapshot),
	}
}

// SetDatabase switches the active key and drops its cached snapshot.
func (s *Service) SetDatabase(key string) error {
	if !s.registry.Has(key) {
		return fmt.Errorf("%w: %s", database.ErrUnknownDatabase, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeKey = key
	delete(s.cache, key)
	return nil
}

// ActiveKey returns the key used when callers pass an empty key.
func (s *Service) ActiveKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeKey
}

// Resolve maps an empty key to the active key.
func (s *Service) Resolve(key string) string {
	if key == "" {
		return s.ActiveKey()
	}
	return key
}

// ClearCache drops the snapshot for key, or every snapshot when key is empty.
func (s *Service) ClearCache(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		s.cache = make(map[string]*snapshot)
		return
	}
	delete(s.cache, key)
}

func (s *Service) adapter(ctx context.Context, key string) (database.Adapter, error) {
	a, err := s.registry.Adapter(key)
	if err != nil {
		return nil, err
	}
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) cached(key string) *snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.cache[key]
	if !ok {
		snap = &snapshot{}
		s.cache[key] = snap
	}
	return snap
}

// TableNames lists tables of key, caching the list.
func (s *Service) TableNames(ctx context.Context, key string) ([]string, error) {
	key = s.Resolve(key)
	snap := s.cached(key)

	s.mu.Lock()
	if snap.tables != nil {
		names := snap.tables
		s.mu.Unlock()
		return names, nil
	}
	s.mu.Unlock()

	a, err := s.adapter(ctx, key)
	if err != nil {
		return nil, err
	}
	tables, err := a.GetTables(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.Name)
	}

	s.mu.Lock()
	snap.tables = names
	s.mu.Unlock()
	return names, nil
}

// TableSchema renders one table as a CREATE TABLE statement.
func (s *Service) TableSchema(ctx context.Context, key, table string) (string, error) {
	a, err := s.adapter(ctx, s.Resolve(key))
	if err != nil {
		return "", err
	}
	cols, err := a.GetTableSchema(ctx, table)
	if err != nil {
		return "", err
	}
	return RenderTable(table, cols), nil
}

// RenderTable formats columns as a CREATE TABLE statement.
func RenderTable(table string, cols []database.ColumnInfo) string {
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		def := "  " + c.Name + " " + c.Type
		if !c.Nullable {
			def += " NOT NULL"
		}
		if c.PrimaryKey {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	return "CREATE TABLE " + table + " (\n" + strings.Join(defs, ",\n") + "\n);"
}

// FullSchema renders every table of key, capped at the configured size.
func (s *Service) FullSchema(ctx context.Context, key string) (string, error) {
	key = s.Resolve(key)
	snap := s.cached(key)

	s.mu.Lock()
	if snap.ready {
		full := snap.full
		s.mu.Unlock()
		return full, nil
	}
	s.mu.Unlock()

	tables, err := s.TableNames(ctx, key)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		ddl, err := s.TableSchema(ctx, key, t)
		if err != nil {
			return "", err
		}
		parts = append(parts, ddl)
	}
	full := Truncate(strings.Join(parts, "\n\n"), s.maxChars)

	s.mu.Lock()
	snap.full = full
	snap.ready = true
	s.mu.Unlock()
	return full, nil
}

// Truncate cuts text to maxChars characters and appends TruncationMarker when it was longer.
func Truncate(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + TruncationMarker
}

// SampleData renders up to limit rows of table as value tuples, one per line.
func (s *Service) SampleData(ctx context.Context, key, table string, limit int) (string, error) {
	if limit <= 0 {
		limit = DefaultSampleRows
	}
	a, err := s.adapter(ctx, s.Resolve(key))
	if err != nil {
		return "", err
	}
	rs, err := a.SampleRows(ctx, table, limit)
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		vals := make([]string, len(rs.Columns))
		for i, c := range rs.Columns {
			vals[i] = sqlLiteral(row[c])
		}
		lines = append(lines, "  ("+strings.Join(vals, ", ")+")")
	}
	return strings.Join(lines, "\n"), nil
}

func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + x + "'"
	}
	return fmt.Sprint(v)
}

// Describe reports the backend type and version of key.
func (s *Service) Describe(ctx context.Context, key string) (Info, error) {
	key = s.Resolve(key)
	a, err := s.adapter(ctx, key)
	if err != nil {
		return Info{Key: key}, err
	}
	info := Info{Key: key, Name: key, Type: a.Type()}
	if cfg, ok := s.registry.Config(key); ok && cfg.Name != "" {
		info.Name = cfg.Name
	}
	if v, err := a.DatabaseVersion(ctx); err == nil {
		info.Version = v
	}
	return info, nil
}
