package schema

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/database"
)

type fakeAdapter struct {
	tables     map[string][]database.ColumnInfo
	order      []string
	tableCalls int
	sample     *database.ResultSet
}

func (f *fakeAdapter) Type() database.Type { return database.TypeSQLite }
func (f *fakeAdapter) Connect(ctx context.Context) error { return nil }
func (f *fakeAdapter) IsConnected(ctx context.Context) bool { return true }
func (f *fakeAdapter) Disconnect(ctx context.Context) error { return nil }
func (f *fakeAdapter) ConnectionString() string { return "fake" }
func (f *fakeAdapter) DatabaseVersion(ctx context.Context) (string, error) { return "3.45.0", nil }
func (f *fakeAdapter) ExecuteQuery(ctx context.Context, query string, params ...any) (*database.ResultSet, error) {
	return &database.ResultSet{}, nil
}
func (f *fakeAdapter) SampleRows(ctx context.Context, table string, limit int) (*database.ResultSet, error) {
	return f.sample, nil
}
func (f *fakeAdapter) GetTables(ctx context.Context) ([]database.TableInfo, error) {
	f.tableCalls++
	out := make([]database.TableInfo, 0, len(f.order))
	for _, n := range f.order {
		out = append(out, database.TableInfo{Name: n})
	}
	return out, nil
}
func (f *fakeAdapter) GetTableSchema(ctx context.Context, table string) ([]database.ColumnInfo, error) {
	return f.tables[table], nil
}

func newFake() *fakeAdapter {
	return &fakeAdapter{
		order: []string{"users", "orders"},
		tables: map[string][]database.ColumnInfo{
			"users": {
				{Name: "id", Type: "INTEGER", PrimaryKey: true, Nullable: false},
				{Name: "name", Type: "TEXT", Nullable: true},
			},
			"orders": {
				{Name: "id", Type: "INTEGER", PrimaryKey: true, Nullable: true},
				{Name: "amount", Type: "REAL", Nullable: false},
			},
		},
	}
}

func newService(t *testing.T, a database.Adapter, maxChars int) *Service {
	t.Helper()
	reg := database.NewRegistry()
	reg.RegisterAdapter("business", a)
	return NewService(reg, "business", maxChars)
}

func TestFullSchemaRendering(t *testing.T) {
	svc := newService(t, newFake(), 0)

	full, err := svc.FullSchema(context.Background(), "")
	require.NoError(t, err)

	want := "CREATE TABLE users (\n  id INTEGER NOT NULL PRIMARY KEY,\n  name TEXT\n);" +
		"\n\n" +
		"CREATE TABLE orders (\n  id INTEGER PRIMARY KEY,\n  amount REAL NOT NULL\n);"
	assert.Equal(t, want, full)
}

func TestFullSchemaIsCachedAndIdempotent(t *testing.T) {
	fa := newFake()
	svc := newService(t, fa, 0)
	ctx := context.Background()

	first, err := svc.FullSchema(ctx, "business")
	require.NoError(t, err)
	second, err := svc.FullSchema(ctx, "business")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = svc.TableNames(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, fa.tableCalls)

	svc.ClearCache("business")
	_, err = svc.TableNames(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, fa.tableCalls)
}

func TestFullSchemaTruncation(t *testing.T) {
	svc := newService(t, newFake(), 30)

	full, err := svc.FullSchema(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(full, TruncationMarker))
	assert.Equal(t, 30+len([]rune(TruncationMarker)), len([]rune(full)))
}

func TestTruncateKeepsMultibyteIntact(t *testing.T) {
	out := Truncate("订单表订单表", 3)
	assert.Equal(t, "订单表"+TruncationMarker, out)
	assert.Equal(t, "short", Truncate("short", 10))
}

func TestSetDatabase(t *testing.T) {
	fa := newFake()
	svc := newService(t, fa, 0)
	ctx := context.Background()

	_, err := svc.TableNames(ctx, "")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.SetDatabase("nope"), database.ErrUnknownDatabase)
	assert.Equal(t, "business", svc.ActiveKey())

	require.NoError(t, svc.SetDatabase("business"))
	_, err = svc.TableNames(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, fa.tableCalls, "switching keys must invalidate the cache")
}

func TestSampleData(t *testing.T) {
	fa := newFake()
	fa.sample = &database.ResultSet{
		Columns: []string{"id", "name", "email"},
		Rows: []database.Row{
			{"id": int64(1), "name": "alice", "email": nil},
			{"id": int64(2), "name": "bob", "email": "b@x.io"},
		},
	}
	svc := newService(t, fa, 0)

	out, err := svc.SampleData(context.Background(), "", "users", 0)
	require.NoError(t, err)
	assert.Equal(t, "  (1, 'alice', NULL)\n  (2, 'bob', 'b@x.io')", out)
}

func TestDescribe(t *testing.T) {
	svc := newService(t, newFake(), 0)
	info, err := svc.Describe(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "business", info.Key)
	assert.Equal(t, "business", info.Name)
	assert.Equal(t, database.TypeSQLite, info.Type)
	assert.Equal(t, "3.45.0", info.Version)
}
