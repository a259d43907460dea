// Package database provides uniform access to the business databases the agent queries.
//
// Each backend type (sqlite, mysql, postgresql, mongodb) has one Adapter implementation.
// A Registry maps database keys to configurations and lazily instantiates adapters.
package database

import (
	"context"
	"fmt"
)

// Type is the backend type tag.
type Type string

const (
	TypeSQLite     Type = "sqlite"
	TypeMySQL      Type = "mysql"
	TypePostgreSQL Type = "postgresql"
	TypeMongoDB    Type = "mongodb"
)

// Config describes how to reach one database.
type Config struct {
	Type     Type   `json:"type" yaml:"type" mapstructure:"type"`
	Name     string `json:"name,omitempty" yaml:"name" mapstructure:"name"`
	Host     string `json:"host,omitempty" yaml:"host" mapstructure:"host"`
	Port     int    `json:"port,omitempty" yaml:"port" mapstructure:"port"`
	Database string `json:"database,omitempty" yaml:"database" mapstructure:"database"`
	User     string `json:"user,omitempty" yaml:"user" mapstructure:"user"`
	Password string `json:"-" yaml:"password" mapstructure:"password"`
	Path     string `json:"path,omitempty" yaml:"path" mapstructure:"path"`
	URI      string `json:"-" yaml:"uri" mapstructure:"uri"`
}

// WithDefaults fills in the per-backend defaults.
func (c Config) WithDefaults() Config {
	switch c.Type {
	case TypeMySQL:
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 3306
		}
		if c.User == "" {
			c.User = "root"
		}
	case TypePostgreSQL:
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.Database == "" {
			c.Database = "postgres"
		}
		if c.User == "" {
			c.User = "postgres"
		}
	case TypeMongoDB:
		if c.URI == "" {
			c.URI = "mongodb://localhost:27017"
		}
	}
	return c
}

// TableInfo describes a table (or collection).
type TableInfo struct {
	Name    string `json:"name"`
	Comment string `json:"comment,omitempty"`
}

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
	Default    string `json:"default,omitempty"`
}

// Row is one result row keyed by column name.
type Row map[string]any

// ResultSet is a query result with its column order preserved.
type ResultSet struct {
	Columns []string
	Rows    []Row
}

// Adapter is the contract every backend implements. Implementations are safe for concurrent use.
type Adapter interface {
	Type() Type
	Connect(ctx context.Context) error
	IsConnected(ctx context.Context) bool
	Disconnect(ctx context.Context) error
	GetTables(ctx context.Context) ([]TableInfo, error)
	GetTableSchema(ctx context.Context, table string) ([]ColumnInfo, error)
	ExecuteQuery(ctx context.Context, query string, params ...any) (*ResultSet, error)
	SampleRows(ctx context.Context, table string, limit int) (*ResultSet, error)
	ConnectionString() string
	DatabaseVersion(ctx context.Context) (string, error)
}

// Factory builds an adapter for a config.
type Factory func(cfg Config) (Adapter, error)

var factories = map[Type]Factory{
	TypeSQLite:     newSQLAdapter,
	TypeMySQL:      newSQLAdapter,
	TypePostgreSQL: newSQLAdapter,
	TypeMongoDB:    newMongoAdapter,
}

// Supported reports whether t has an adapter implementation.
func Supported(t Type) bool {
	_, ok := factories[t]
	return ok
}

func newAdapter(cfg Config) (Adapter, error) {
	f, ok := factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %q", cfg.Type)
	}
	return f(cfg.WithDefaults())
}
