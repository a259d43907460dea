package domain

// Event is a typed notification emitted by the orchestrator during a turn.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// ContentEventData is the data for thinking, model_thinking, sql_executing and summary events.
type ContentEventData struct {
	Content string `json:"content"`
}

// SchemaLoadedEventData is the data for a schema_loaded event.
type SchemaLoadedEventData struct {
	Tables []string `json:"tables"`
}

// SQLGeneratedEventData is the data for a sql_generated event.
type SQLGeneratedEventData struct {
	SQL string `json:"sql"`
}

// SQLResultEventData is the data for a sql_result event.
type SQLResultEventData struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// ChartReadyEventData is the data for a chart_ready event.
type ChartReadyEventData struct {
	Option    map[string]any `json:"option"`
	ChartType string         `json:"chart_type"`
}

// DoneEventData is the data for the terminal done event.
type DoneEventData struct {
	Summary      string         `json:"summary"`
	SQL          string         `json:"sql,omitempty"`
	ChartConfig  map[string]any `json:"chart_config,omitempty"`
	Reasoning    string         `json:"reasoning,omitempty"`
	SessionTitle string         `json:"session_title,omitempty"`
	PlanToken    string         `json:"plan_token,omitempty"`
}

// ErrorEventData is the data for the terminal error event.
type ErrorEventData struct {
	Message string `json:"message"`
}

// Envelope is an event tagged with its session and turn, as published to watchers.
type Envelope struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Ts        int64     `json:"ts"`
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
}

// NewContentEvent builds an event whose data is a single content string.
func NewContentEvent(t EventType, content string) Event {
	return Event{Type: t, Data: ContentEventData{Content: content}}
}
