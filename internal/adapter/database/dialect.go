package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// dialect holds the engine-specific pieces of a database/sql backend.
type dialect struct {
	driver     string
	dsn        func(cfg Config) string
	listTables string
	describe   func(ctx context.Context, db *sql.DB, table string) ([]ColumnInfo, error)
	version    string
}

func dialectFor(t Type) (*dialect, error) {
	switch t {
	case TypeSQLite:
		return &dialect{
			driver:     "sqlite3",
			dsn:        sqliteDSN,
			listTables: "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name",
			describe:   describeSQLite,
			version:    "SELECT sqlite_version()",
		}, nil
	case TypeMySQL:
		return &dialect{
			driver:     "mysql",
			dsn:        mysqlDSN,
			listTables: "SHOW TABLES",
			describe:   describeMySQL,
			version:    "SELECT VERSION()",
		}, nil
	case TypePostgreSQL:
		return &dialect{
			driver:     "postgres",
			dsn:        postgresDSN,
			listTables: "SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename",
			describe:   describePostgres,
			version:    "SELECT version()",
		}, nil
	}
	return nil, fmt.Errorf("no SQL dialect for database type %q", t)
}

// QuoteIdent returns a quoted identifier for t. MySQL uses backticks, the rest double quotes.
// Internal quotes are escaped by doubling them.
func QuoteIdent(t Type, name string) string {
	if t == TypeMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqliteDSN(cfg Config) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return cfg.Database
}

func mysqlDSN(cfg Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

func postgresDSN(cfg Config) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func describeSQLite(ctx context.Context, db *sql.DB, table string) ([]ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", QuoteIdent(TypeSQLite, table)))
	if err != nil {
		return nil, errors.Wrapf(err, "describe table %s", table)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, errors.Wrap(err, "scan table_info")
		}
		cols = append(cols, ColumnInfo{
			Name:       name,
			Type:       ctype,
			Nullable:   notnull == 0,
			PrimaryKey: pk > 0,
			Default:    dflt.String,
		})
	}
	return cols, rows.Err()
}

func describeMySQL(ctx context.Context, db *sql.DB, table string) ([]ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, "DESCRIBE "+QuoteIdent(TypeMySQL, table))
	if err != nil {
		return nil, errors.Wrapf(err, "describe table %s", table)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			field, ctype, null, key string
			dflt, extra             sql.NullString
		)
		if err := rows.Scan(&field, &ctype, &null, &key, &dflt, &extra); err != nil {
			return nil, errors.Wrap(err, "scan describe")
		}
		cols = append(cols, ColumnInfo{
			Name:       field,
			Type:       ctype,
			Nullable:   null == "YES",
			PrimaryKey: key == "PRI",
			Default:    dflt.String,
		})
	}
	return cols, rows.Err()
}

const postgresColumnsQuery = `SELECT c.column_name, c.data_type, c.is_nullable = 'YES', COALESCE(c.column_default, ''),
	EXISTS (
		SELECT 1 FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage k
			ON tc.constraint_name = k.constraint_name AND tc.table_schema = k.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = c.table_schema
			AND tc.table_name = c.table_name
			AND k.column_name = c.column_name
	)
FROM information_schema.columns c
WHERE c.table_schema = 'public' AND c.table_name = $1
ORDER BY c.ordinal_position`

func describePostgres(ctx context.Context, db *sql.DB, table string) ([]ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, postgresColumnsQuery, table)
	if err != nil {
		return nil, errors.Wrapf(err, "describe table %s", table)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.Default, &c.PrimaryKey); err != nil {
			return nil, errors.Wrap(err, "scan columns")
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
