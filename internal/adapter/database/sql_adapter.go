package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"sync"

	"github.com/pkg/errors"
)

// sqlAdapter serves every database/sql backend through its dialect.
type sqlAdapter struct {
	cfg     Config
	dialect *dialect

	mu sync.Mutex
	db *sql.DB
}

func newSQLAdapter(cfg Config) (Adapter, error) {
	d, err := dialectFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	return &sqlAdapter{cfg: cfg, dialect: d}, nil
}

func (a *sqlAdapter) Type() Type { return a.cfg.Type }

// Connect opens the pool and pings it. Calling Connect on a live adapter is a no-op.
func (a *sqlAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return nil
	}

	db, err := sql.Open(a.dialect.driver, a.dialect.dsn(a.cfg))
	if err != nil {
		return errors.Wrapf(err, "open %s database", a.cfg.Type)
	}
	if a.cfg.Type == TypeSQLite {
		// sqlite serializes writers; one connection keeps :memory: databases coherent too.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.Wrapf(err, "ping %s database", a.cfg.Type)
	}
	a.db = db
	return nil
}

func (a *sqlAdapter) IsConnected(ctx context.Context) bool {
	a.mu.Lock()
	db := a.db
	a.mu.Unlock()
	return db != nil && db.PingContext(ctx) == nil
}

func (a *sqlAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return errors.Wrap(err, "close database")
}

func (a *sqlAdapter) conn(ctx context.Context) (*sql.DB, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil, errors.New("database disconnected")
	}
	return a.db, nil
}

func (a *sqlAdapter) GetTables(ctx context.Context) ([]TableInfo, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, a.dialect.listTables)
	if err != nil {
		return nil, errors.Wrap(err, "list tables")
	}
	defer rows.Close()

	var tables []TableInfo
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan table name")
		}
		tables = append(tables, TableInfo{Name: name})
	}
	return tables, rows.Err()
}

func (a *sqlAdapter) GetTableSchema(ctx context.Context, table string) ([]ColumnInfo, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}
	return a.dialect.describe(ctx, db, table)
}

func (a *sqlAdapter) ExecuteQuery(ctx context.Context, query string, params ...any) (*ResultSet, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (a *sqlAdapter) SampleRows(ctx context.Context, table string, limit int) (*ResultSet, error) {
	return a.ExecuteQuery(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", QuoteIdent(a.cfg.Type, table), limit))
}

var dsnPassword = regexp.MustCompile(`:[^:@/]*@`)

// ConnectionString returns the DSN with any password masked.
func (a *sqlAdapter) ConnectionString() string {
	dsn := a.dialect.dsn(a.cfg)
	if a.cfg.Password == "" {
		return dsn
	}
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		return u.Redacted()
	}
	return dsnPassword.ReplaceAllString(dsn, ":xxxxx@")
}

func (a *sqlAdapter) DatabaseVersion(ctx context.Context) (string, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return "", err
	}
	var v string
	if err := db.QueryRowContext(ctx, a.dialect.version).Scan(&v); err != nil {
		return "", errors.Wrap(err, "query version")
	}
	return v, nil
}

func scanRows(rows *sql.Rows) (*ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	rs := &ResultSet{Columns: cols, Rows: []Row{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(vals[i], types[i].DatabaseTypeName())
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, rows.Err()
}
