package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/database"
	"github.com/xiaot623/gogo/sqlagent/internal/schema"
)

// DatabaseInfo describes a registered backend without secrets.
type DatabaseInfo struct {
	Key              string        `json:"key"`
	Name             string        `json:"name"`
	Type             database.Type `json:"type"`
	Active           bool          `json:"active"`
	Connected        bool          `json:"connected"`
	ConnectionString string        `json:"connection_string,omitempty"`
}

// ListDatabases lists registered backends. Connection strings are shown only for live adapters,
// with passwords masked.
func (s *Service) ListDatabases(ctx context.Context) []DatabaseInfo {
	active := s.schemas.ActiveKey()
	configs := s.registry.Configs()
	out := make([]DatabaseInfo, 0, len(configs))
	for _, nc := range configs {
		info := DatabaseInfo{
			Key:    nc.Key,
			Name:   nc.Config.Name,
			Type:   nc.Config.Type,
			Active: nc.Key == active,
		}
		if a, err := s.registry.Adapter(nc.Key); err == nil && a.IsConnected(ctx) {
			info.Connected = true
			info.ConnectionString = a.ConnectionString()
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) requireDatabase(key string) error {
	if !s.registry.Has(key) {
		return fmt.Errorf("%w: %w: %s", ErrInvalidInput, database.ErrUnknownDatabase, key)
	}
	return nil
}

// ConnectDatabase connects key and returns its description.
func (s *Service) ConnectDatabase(ctx context.Context, key string) (*schema.Info, error) {
	if err := s.requireDatabase(key); err != nil {
		return nil, err
	}
	if err := s.registry.Connect(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to connect %s: %w", key, err)
	}
	info, err := s.schemas.Describe(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", key, err)
	}
	return &info, nil
}

// DisconnectDatabase closes the adapter of key and drops its schema snapshot.
func (s *Service) DisconnectDatabase(ctx context.Context, key string) error {
	if err := s.requireDatabase(key); err != nil {
		return err
	}
	if err := s.registry.Disconnect(ctx, key); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", key, err)
	}
	s.schemas.ClearCache(key)
	return nil
}

// SchemaSnapshot is the schema text of a database with its table list.
type SchemaSnapshot struct {
	Database string   `json:"database"`
	Tables   []string `json:"tables"`
	Schema   string   `json:"schema"`
}

// GetSchema returns the cached schema snapshot of key, or of the active database.
func (s *Service) GetSchema(ctx context.Context, key string) (*SchemaSnapshot, error) {
	key = s.schemas.Resolve(key)
	if err := s.requireDatabase(key); err != nil {
		return nil, err
	}
	tables, err := s.schemas.TableNames(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	full, err := s.schemas.FullSchema(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to build schema: %w", err)
	}
	return &SchemaSnapshot{Database: key, Tables: tables, Schema: full}, nil
}

// SampleData renders up to limit rows of table.
func (s *Service) SampleData(ctx context.Context, key, table string, limit int) (string, error) {
	if err := s.requireDatabase(key); err != nil {
		return "", err
	}
	out, err := s.schemas.SampleData(ctx, key, table, limit)
	if err != nil {
		return "", fmt.Errorf("failed to sample %s: %w", table, err)
	}
	return out, nil
}
