// Package domain defines the core domain models for the SQL agent.
package domain

// TurnStatus represents the status of a turn.
type TurnStatus string

const (
	TurnStatusRunning   TurnStatus = "RUNNING"
	TurnStatusDone      TurnStatus = "DONE"
	TurnStatusFailed    TurnStatus = "FAILED"
	TurnStatusCancelled TurnStatus = "CANCELLED"
)

// TurnState is the orchestrator state machine position.
type TurnState string

const (
	StateStart             TurnState = "start"
	StateIntentClassifying TurnState = "intent_classifying"
	StateChat              TurnState = "chat"
	StatePlan              TurnState = "plan"
	StateSQLGenerating     TurnState = "sql_generating"
	StateSQLValidating     TurnState = "sql_validating"
	StateSQLExecuting      TurnState = "sql_executing"
	StateChartMapping      TurnState = "chart_mapping"
	StateSummarizing       TurnState = "summarizing"
	StateDone              TurnState = "done"
	StateError             TurnState = "error"
)

// Intent is the classified purpose of a question.
type Intent string

const (
	IntentChat         Intent = "chat"
	IntentSQLQuery     Intent = "sql_query"
	IntentConfirmation Intent = "confirmation"
)

// ParseIntent maps a classifier label to an Intent, defaulting to chat.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentSQLQuery, IntentConfirmation, IntentChat:
		return Intent(s)
	}
	return IntentChat
}

// EventType represents the type of a turn event.
type EventType string

const (
	EventTypeThinking      EventType = "thinking"
	EventTypeSchemaLoaded  EventType = "schema_loaded"
	EventTypeModelThinking EventType = "model_thinking"
	EventTypeSQLGenerated  EventType = "sql_generated"
	EventTypeSQLExecuting  EventType = "sql_executing"
	EventTypeSQLResult     EventType = "sql_result"
	EventTypeChartReady    EventType = "chart_ready"
	EventTypeSummary       EventType = "summary"
	EventTypeDone          EventType = "done"
	EventTypeError         EventType = "error"
)

// IsTerminal reports whether the event ends a turn.
func (t EventType) IsTerminal() bool {
	return t == EventTypeDone || t == EventTypeError
}

// Role is a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultSessionTitle is the placeholder title for new sessions.
const DefaultSessionTitle = "New Session"
