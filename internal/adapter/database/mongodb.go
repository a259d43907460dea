package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// mongoAdapter runs JSON command documents such as {"find": "orders", "filter": {...}}.
type mongoAdapter struct {
	cfg Config

	mu     sync.Mutex
	client *mongo.Client
}

func newMongoAdapter(cfg Config) (Adapter, error) {
	if cfg.Database == "" {
		return nil, errors.New("mongodb config requires a database name")
	}
	return &mongoAdapter{cfg: cfg}, nil
}

func (a *mongoAdapter) Type() Type { return TypeMongoDB }

func (a *mongoAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(a.cfg.URI))
	if err != nil {
		return errors.Wrap(err, "connect mongodb")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return errors.Wrap(err, "ping mongodb")
	}
	a.client = client
	return nil
}

func (a *mongoAdapter) IsConnected(ctx context.Context) bool {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	return client != nil && client.Ping(ctx, readpref.Primary()) == nil
}

func (a *mongoAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	err := a.client.Disconnect(ctx)
	a.client = nil
	return errors.Wrap(err, "disconnect mongodb")
}

func (a *mongoAdapter) db(ctx context.Context) (*mongo.Database, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil, errors.New("mongodb disconnected")
	}
	return a.client.Database(a.cfg.Database), nil
}

func (a *mongoAdapter) GetTables(ctx context.Context) ([]TableInfo, error) {
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrap(err, "list collections")
	}
	sort.Strings(names)
	tables := make([]TableInfo, 0, len(names))
	for _, n := range names {
		tables = append(tables, TableInfo{Name: n})
	}
	return tables, nil
}

// GetTableSchema infers fields from one sample document.
func (a *mongoAdapter) GetTableSchema(ctx context.Context, table string) ([]ColumnInfo, error) {
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	err = db.Collection(table).FindOne(ctx, bson.D{}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []ColumnInfo{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "sample collection %s", table)
	}
	cols := make([]ColumnInfo, 0, len(doc))
	for _, e := range doc {
		cols = append(cols, ColumnInfo{
			Name:       e.Key,
			Type:       bsonTypeName(e.Value),
			Nullable:   e.Key != "_id",
			PrimaryKey: e.Key == "_id",
		})
	}
	return cols, nil
}

// ExecuteQuery runs a find, aggregate, count or distinct command given as extended JSON.
func (a *mongoAdapter) ExecuteQuery(ctx context.Context, query string, _ ...any) (*ResultSet, error) {
	var cmd bson.D
	if err := bson.UnmarshalExtJSON([]byte(query), false, &cmd); err != nil {
		return nil, errors.Wrap(err, "parse mongodb command")
	}
	if len(cmd) == 0 {
		return nil, errors.New("empty mongodb command")
	}
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}

	switch name := strings.ToLower(cmd[0].Key); name {
	case "find", "aggregate":
		if name == "aggregate" && !hasKey(cmd, "cursor") {
			cmd = append(cmd, bson.E{Key: "cursor", Value: bson.D{}})
		}
		cur, err := db.RunCommandCursor(ctx, cmd)
		if err != nil {
			return nil, err
		}
		var docs []bson.D
		if err := cur.All(ctx, &docs); err != nil {
			return nil, err
		}
		return documentsToResult(docs), nil
	case "count":
		var res bson.M
		if err := db.RunCommand(ctx, cmd).Decode(&res); err != nil {
			return nil, err
		}
		return &ResultSet{Columns: []string{"count"}, Rows: []Row{{"count": normalizeBSON(res["n"])}}}, nil
	case "distinct":
		var res bson.M
		if err := db.RunCommand(ctx, cmd).Decode(&res); err != nil {
			return nil, err
		}
		rs := &ResultSet{Columns: []string{"value"}, Rows: []Row{}}
		if values, ok := res["values"].(bson.A); ok {
			for _, v := range values {
				rs.Rows = append(rs.Rows, Row{"value": normalizeBSON(v)})
			}
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("unsupported mongodb command %q", cmd[0].Key)
	}
}

func (a *mongoAdapter) SampleRows(ctx context.Context, table string, limit int) (*ResultSet, error) {
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	cur, err := db.Collection(table).Find(ctx, bson.D{}, options.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, errors.Wrapf(err, "sample collection %s", table)
	}
	var docs []bson.D
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return documentsToResult(docs), nil
}

func (a *mongoAdapter) ConnectionString() string {
	return a.cfg.URI + "/" + a.cfg.Database
}

func (a *mongoAdapter) DatabaseVersion(ctx context.Context) (string, error) {
	if _, err := a.db(ctx); err != nil {
		return "", err
	}
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	var res bson.M
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&res); err != nil {
		return "", errors.Wrap(err, "query buildInfo")
	}
	return fmt.Sprint(res["version"]), nil
}

func hasKey(doc bson.D, key string) bool {
	for _, e := range doc {
		if e.Key == key {
			return true
		}
	}
	return false
}

// documentsToResult flattens documents into rows; columns follow first appearance.
func documentsToResult(docs []bson.D) *ResultSet {
	rs := &ResultSet{Rows: make([]Row, 0, len(docs))}
	seen := map[string]bool{}
	for _, doc := range docs {
		row := make(Row, len(doc))
		for _, e := range doc {
			if !seen[e.Key] {
				seen[e.Key] = true
				rs.Columns = append(rs.Columns, e.Key)
			}
			row[e.Key] = normalizeBSON(e.Value)
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs
}

func normalizeBSON(v any) any {
	switch x := v.(type) {
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC().Format(time.RFC3339)
	case primitive.Decimal128:
		return normalizeValue([]byte(x.String()), "DECIMAL")
	case bson.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = normalizeBSON(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = normalizeBSON(e)
		}
		return m
	case bson.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeBSON(e)
		}
		return out
	}
	return normalizeValue(v, "")
}

func bsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case int32, int64:
		return "int"
	case float64:
		return "double"
	case bool:
		return "bool"
	case primitive.ObjectID:
		return "objectId"
	case primitive.DateTime:
		return "date"
	case primitive.Decimal128:
		return "decimal"
	case bson.D, bson.M:
		return "object"
	case bson.A:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}
