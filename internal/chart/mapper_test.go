package chart

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/llm"
	"github.com/xiaot623/gogo/sqlagent/internal/executor"
)

type fakeCompleter struct {
	out   string
	err   error
	calls int
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []llm.Message, temperature float64) (string, error) {
	f.calls++
	return f.out, f.err
}

func salesResult() *executor.Result {
	return &executor.Result{
		Columns: []string{"region", "total"},
		Rows: []map[string]any{
			{"region": "north", "total": int64(120)},
			{"region": "south", "total": 80.5},
		},
		RowCount: 2,
	}
}

func TestCardForSingleValue(t *testing.T) {
	res := &executor.Result{Columns: []string{"COUNT(*)"}, Rows: []map[string]any{{"COUNT(*)": int64(8)}}, RowCount: 1}
	spec := NewMapper(nil).Map(context.Background(), res, "bar", VizConfig{})

	assert.Equal(t, TypeCard, spec.ChartType)
	assert.Equal(t, map[string]any{"chart_type": "card", "value": int64(8), "label": "COUNT(*)", "unit": ""}, spec.Option)
}

func TestCardHintUsesTitle(t *testing.T) {
	spec := NewMapper(nil).Map(context.Background(), salesResult(), "card", VizConfig{Title: "Top region"})
	assert.Equal(t, "Top region", spec.Option["label"])
	assert.Equal(t, "north", spec.Option["value"])
}

func TestTableHint(t *testing.T) {
	spec := NewMapper(nil).Map(context.Background(), salesResult(), "table", VizConfig{})
	assert.Equal(t, TypeTable, spec.ChartType)
	assert.Equal(t, map[string]any{"chart_type": "table"}, spec.Option)
}

func TestEmptyResultGetsDefault(t *testing.T) {
	res := &executor.Result{Columns: []string{"a", "b"}, Rows: []map[string]any{}}
	for _, hint := range []string{"bar", "card", "scatter", ""} {
		spec := NewMapper(nil).Map(context.Background(), res, hint, VizConfig{})
		assert.Equal(t, DefaultOption(), spec.Option, hint)
	}
	assert.Equal(t, DefaultOption(), NewMapper(nil).Map(context.Background(), nil, "bar", VizConfig{}).Option)
}

func TestBarHeuristicAxes(t *testing.T) {
	spec := NewMapper(nil).Map(context.Background(), salesResult(), "bar", VizConfig{})

	assert.Equal(t, "bar", spec.ChartType)
	xAxis := spec.Option["xAxis"].(map[string]any)
	assert.Equal(t, []any{"north", "south"}, xAxis["data"])
	series := spec.Option["series"].([]any)[0].(map[string]any)
	assert.Equal(t, "total", series["name"])
	assert.Equal(t, []any{int64(120), 80.5}, series["data"])
	assert.Equal(t, "Analysis Result", spec.Option["title"].(map[string]any)["text"])
}

func TestVizConfigAxesWinWhenValid(t *testing.T) {
	res := &executor.Result{
		Columns: []string{"month", "orders", "revenue"},
		Rows: []map[string]any{
			{"month": "2024-01", "orders": int64(3), "revenue": 99.5},
			{"month": "2024-02", "orders": int64(5), "revenue": 120.0},
		},
	}
	spec := NewMapper(nil).Map(context.Background(), res, "line", VizConfig{X: "month", Y: "revenue", Title: "Revenue"})
	series := spec.Option["series"].([]any)[0].(map[string]any)
	assert.Equal(t, "revenue", series["name"])
	assert.Equal(t, "Revenue", spec.Option["title"].(map[string]any)["text"])

	// Unknown columns fall back to the heuristic.
	spec = NewMapper(nil).Map(context.Background(), res, "line", VizConfig{X: "nope", Y: "missing"})
	series = spec.Option["series"].([]any)[0].(map[string]any)
	assert.Equal(t, "orders", series["name"])
	assert.Equal(t, []any{"2024-01", "2024-02"}, spec.Option["xAxis"].(map[string]any)["data"])
}

func TestPie(t *testing.T) {
	spec := NewMapper(nil).Map(context.Background(), salesResult(), "pie", VizConfig{})
	series := spec.Option["series"].([]any)[0].(map[string]any)
	data := series["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, map[string]any{"value": int64(120), "name": "north"}, data[0])
}

func TestComplexTypeUsesModel(t *testing.T) {
	fc := &fakeCompleter{out: "Here you go:\n```json\n{\"series\": [{\"type\": \"scatter\"}]}\n```"}
	spec := NewMapper(fc).Map(context.Background(), salesResult(), "scatter", VizConfig{})

	assert.Equal(t, 1, fc.calls)
	assert.Equal(t, "scatter", spec.ChartType)
	assert.Equal(t, []any{map[string]any{"type": "scatter"}}, spec.Option["series"])
}

func TestComplexTypeFallsBack(t *testing.T) {
	for _, fc := range []*fakeCompleter{
		{out: "no json here"},
		{out: "{broken"},
		{err: errors.New("upstream down")},
	} {
		spec := NewMapper(fc).Map(context.Background(), salesResult(), "radar", VizConfig{})
		assert.Equal(t, DefaultOption(), spec.Option)
	}

	// area degrades to the built-in line chart with an area fill.
	spec := NewMapper(&fakeCompleter{out: "nope"}).Map(context.Background(), salesResult(), "area", VizConfig{})
	series := spec.Option["series"].([]any)[0].(map[string]any)
	assert.Contains(t, series, "areaStyle")
}

func TestUnknownTypeGetsDefault(t *testing.T) {
	spec := NewMapper(nil).Map(context.Background(), salesResult(), "sparkline", VizConfig{})
	assert.Equal(t, DefaultOption(), spec.Option)
}

func TestJSONObjectPattern(t *testing.T) {
	assert.Equal(t, `{"a": {"b": 1}}`, jsonObject.FindString(`prefix {"a": {"b": 1}} suffix`))
	assert.Equal(t, "", jsonObject.FindString("nothing"))
}
