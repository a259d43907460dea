// Package chart turns query results and a chart hint into an ECharts-style spec.
package chart

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/llm"
	"github.com/xiaot623/gogo/sqlagent/internal/executor"
)

// Chart type hints.
const (
	TypeCard  = "card"
	TypeTable = "table"
	TypeBar   = "bar"
	TypeLine  = "line"
	TypeArea  = "area"
	TypePie   = "pie"
)

// complexTypes are rendered by the model instead of the built-in heuristics.
var complexTypes = map[string]bool{
	"area": true, "scatter": true, "radar": true, "funnel": true, "gauge": true, "heatmap": true,
	"treemap": true, "sankey": true, "boxplot": true, "waterfall": true, "candlestick": true,
}

const defaultTitle = "Analysis Result"

// VizConfig is the model's optional axis and title suggestion.
type VizConfig struct {
	X     string `json:"x,omitempty"`
	Y     string `json:"y,omitempty"`
	Title string `json:"title,omitempty"`
}

// Spec is a renderable chart description.
type Spec struct {
	ChartType string
	Option    map[string]any
}

// Completer is the subset of the LLM client the mapper needs.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, temperature float64) (string, error)
}

// Mapper builds chart specs. It never fails: anything unexpected yields DefaultOption.
type Mapper struct {
	llm Completer
}

// NewMapper creates a mapper. A nil completer disables model-rendered charts.
func NewMapper(c Completer) *Mapper {
	return &Mapper{llm: c}
}

// DefaultOption is the empty chart shown when nothing better can be built.
func DefaultOption() map[string]any {
	return map[string]any{
		"title":  map[string]any{"text": "No data available", "left": "center"},
		"series": []any{},
	}
}

// Map builds the spec for res given the hint chartType and viz.
func (m *Mapper) Map(ctx context.Context, res *executor.Result, chartType string, viz VizConfig) (spec Spec) {
	spec = Spec{ChartType: chartType}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("chart_type", chartType).Msg("chart mapping failed")
			spec = Spec{ChartType: chartType, Option: DefaultOption()}
		}
	}()

	spec.Option = m.option(ctx, res, chartType, viz)
	if t, ok := spec.Option["chart_type"].(string); ok && t != "" {
		spec.ChartType = t
	}
	return spec
}

func (m *Mapper) option(ctx context.Context, res *executor.Result, chartType string, viz VizConfig) map[string]any {
	if res == nil {
		return DefaultOption()
	}
	cols, rows := res.Columns, res.Rows

	if (chartType == TypeCard && len(rows) > 0 && len(cols) > 0) || (len(rows) == 1 && len(cols) == 1) {
		label := viz.Title
		if label == "" {
			label = cols[0]
		}
		return map[string]any{
			"chart_type": TypeCard,
			"value":      rows[0][cols[0]],
			"label":      label,
			"unit":       "",
		}
	}

	if chartType == TypeTable {
		return map[string]any{"chart_type": TypeTable}
	}

	if len(rows) == 0 || len(cols) == 0 {
		return DefaultOption()
	}

	if complexTypes[chartType] && m.llm != nil {
		if opt := m.complexOption(ctx, res, chartType); opt != nil {
			return opt
		}
	}

	x, y := pickAxes(cols, rows[0], viz)
	title := viz.Title
	if title == "" {
		title = defaultTitle
	}

	switch chartType {
	case TypeBar:
		rotate := 0
		if len(rows) > 5 {
			rotate = 30
		}
		return map[string]any{
			"title":   map[string]any{"text": title, "left": "center", "top": 10},
			"tooltip": map[string]any{"trigger": "axis"},
			"grid":    map[string]any{"top": 60, "bottom": 40, "left": 60, "right": 20},
			"xAxis":   map[string]any{"type": "category", "data": column(rows, x, true), "axisLabel": map[string]any{"rotate": rotate}},
			"yAxis":   map[string]any{"type": "value"},
			"series": []any{map[string]any{
				"name":      y,
				"type":      "bar",
				"data":      column(rows, y, false),
				"itemStyle": map[string]any{"borderRadius": []int{4, 4, 0, 0}},
			}},
		}
	case TypeLine, TypeArea:
		series := map[string]any{
			"name":       y,
			"type":       "line",
			"data":       column(rows, y, false),
			"smooth":     true,
			"symbol":     "circle",
			"symbolSize": 8,
		}
		if chartType == TypeArea {
			series["areaStyle"] = map[string]any{"opacity": 0.3}
		}
		return map[string]any{
			"title":   map[string]any{"text": title, "left": "center", "top": 10},
			"tooltip": map[string]any{"trigger": "axis"},
			"grid":    map[string]any{"top": 60, "bottom": 40, "left": 60, "right": 20},
			"xAxis":   map[string]any{"type": "category", "data": column(rows, x, true)},
			"yAxis":   map[string]any{"type": "value"},
			"series":  []any{series},
		}
	case TypePie:
		data := make([]any, 0, len(rows))
		for _, r := range rows {
			data = append(data, map[string]any{"value": r[y], "name": label(r[x])})
		}
		return map[string]any{
			"title":   map[string]any{"text": title, "left": "center", "top": 10},
			"tooltip": map[string]any{"trigger": "item"},
			"series": []any{map[string]any{
				"name":              y,
				"type":              "pie",
				"radius":            []string{"40%", "70%"},
				"avoidLabelOverlap": true,
				"itemStyle":         map[string]any{"borderRadius": 10, "borderColor": "#fff", "borderWidth": 2},
				"data":              data,
			}},
		}
	}
	return DefaultOption()
}

// pickAxes honors viz when it names real columns, otherwise picks the first category
// column for x and the first numeric column for y, judged on the first row.
func pickAxes(cols []string, first map[string]any, viz VizConfig) (x, y string) {
	if contains(cols, viz.X) {
		x = viz.X
	}
	if contains(cols, viz.Y) {
		y = viz.Y
	}
	if x != "" && y != "" {
		return x, y
	}

	var numeric, category []string
	for _, c := range cols {
		if isNumeric(first[c]) {
			numeric = append(numeric, c)
		} else {
			category = append(category, c)
		}
	}
	if x == "" {
		if len(category) > 0 {
			x = category[0]
		} else {
			x = cols[0]
		}
	}
	if y == "" {
		switch {
		case len(numeric) > 0:
			y = numeric[0]
		case len(cols) > 1:
			y = cols[1]
		default:
			y = cols[0]
		}
	}
	return x, y
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	}
	return false
}

func contains(cols []string, name string) bool {
	if name == "" {
		return false
	}
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}

func column(rows []map[string]any, col string, asLabel bool) []any {
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		if asLabel {
			out = append(out, label(r[col]))
		} else {
			out = append(out, r[col])
		}
	}
	return out
}

func label(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(v)
}

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

func (m *Mapper) complexOption(ctx context.Context, res *executor.Result, chartType string) map[string]any {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil
	}
	prompt := fmt.Sprintf(chartConfigPrompt, string(data), chartType)
	out, err := m.llm.Complete(ctx, []llm.Message{
		llm.System("You are a data visualization expert fluent in ECharts."),
		llm.User(prompt),
	}, 0.2)
	if err != nil {
		log.Warn().Err(err).Str("chart_type", chartType).Msg("model chart config failed")
		return nil
	}

	raw := jsonObject.FindString(out)
	if raw == "" {
		return nil
	}
	var opt map[string]any
	if err := json.Unmarshal([]byte(raw), &opt); err != nil {
		log.Warn().Err(err).Str("chart_type", chartType).Msg("model chart config is not valid JSON")
		return nil
	}
	return opt
}

const chartConfigPrompt = `Build an ECharts option for the query result below.

[Query result]
%s

[Chart type]
%s

[Output]
Return only a valid ECharts option JSON object, with no other text.
The option must render as-is in ECharts.`
