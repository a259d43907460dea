package agent

import (
	"strings"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/database"
)

// Sampling temperatures per call site.
const (
	intentTemperature  = 0.0
	sqlTemperature     = 0.1
	chatTemperature    = 0.7
	planTemperature    = 0.3
	summaryTemperature = 0.3
)

const intentSystemPrompt = `You classify the user's message for a data analysis assistant.
Answer with a single JSON object and nothing else: {"intent": "<label>"}.

Labels:
- "sql_query": the user asks a question that needs data from the database (counts, lists, rankings, trends, comparisons).
- "confirmation": the user approves or asks to run a previously proposed analysis plan ("yes", "go ahead", "run it").
- "chat": greetings, questions about the assistant, or anything that needs no data.`

const chatSystemPrompt = `You are the conversational side of a data analysis assistant. Answer briefly and helpfully.`

const chatPrompt = `Connected database: {database_name} ({database_type})
Available tables: {tables}

Conversation so far:
{history}

User message:
{question}

Reply to the user. If they want data, tell them to ask a concrete question about the tables above.`

const planSystemPrompt = `You are a data analysis consultant. You propose how a question will be answered before any query runs.`

const planPrompt = `Database: {database_name} ({database_type})

Schema:
{schema}

Conversation so far:
{history}

Question:
{question}

Write a short analysis plan in plain language: which tables and columns you will use, how they are joined,
filtered and aggregated, and which chart fits the result. Do not write SQL. End by asking the user to confirm.`

const sqlSystemPrompt = `You are an expert SQL analyst. You translate questions into one read-only query.
Respond with a single JSON object and nothing else:
{"sql": "<query>", "chart_type": "<card|table|bar|line|pie|area|scatter|radar|funnel|gauge|heatmap|treemap|sankey|boxplot|waterfall|candlestick>", "viz_config": {"x": "<column>", "y": "<column>", "title": "<chart title>"}, "reasoning": "<one sentence>", "session_title": "<short title for this conversation>"}

Rules:
- Only SELECT statements (or the introspection statements of the backend). Never modify data.
- Use only tables and columns that exist in the schema.
- Alias aggregate columns with readable names.`

const sqlPrompt = `Database: {database_name}
Database type: {database_type}
Server version: {database_version}
To list tables use: {table_list_query}
Quote identifiers with: {quote_char}

Schema:
{schema}

Conversation so far:
{history}

Instruction:
{question}`

const mongoRules = `
This backend is MongoDB. Put a JSON command document in "sql" instead of SQL, one of
{"find": ...}, {"aggregate": ..., "pipeline": [...]}, {"count": ...} or {"distinct": ..., "key": ...}.
Never use $out or $merge.`

const summarySystemPrompt = `You are a professional data analyst.`

const summaryPrompt = `Query result:
{result}

The result is shown to the user as a {chart_type} chart.
Summarize what the data shows in a few sentences: key numbers, notable highs and lows, and trends if any.`

// confirmationInstruction is the SQL instruction used when the user approves a plan.
const confirmationInstruction = "Based on the analysis plan you just proposed, generate the final SELECT SQL and execute it now. " +
	"Never use DROP, CREATE or any other modifying statement. Planned question: {plan_question}. Current instruction: {question}"

// retryInstruction re-prompts after a failed attempt.
const retryInstruction = "Your last SQL failed with: {error}. Fix the SQL and regenerate it. " +
	"Only SELECT statements are allowed. Original instruction: {question}"

// Fixed texts of progress and fallback events.
const (
	msgClassifying    = "Identifying the intent of your question..."
	msgChatting       = "Composing a reply..."
	msgUnderstanding  = "Understanding your question..."
	msgPlanning       = "Drafting an analysis plan..."
	msgExecuting      = "Querying the database..."
	msgChart          = "Building the chart..."
	msgSummarizing    = "Writing the summary..."
	msgRetry          = "Fixing the SQL (retry %d)..."
	msgChatReasoning  = "Classified as conversation; no database query needed."
	msgSummaryEmpty   = "Analysis complete."
	msgSummaryFailed  = "Analysis complete, but the summary could not be generated."
	msgNoHistory      = "(none)"
	msgPlanMismatch   = "plan token does not match the pending plan for this session"
	msgAnalysisFailed = "analysis failed: "
)

// render substitutes {name} placeholders in tmpl.
func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// jsonObject returns the span from the first '{' to the last '}' of model output, or "" if none.
func jsonObject(out string) string {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end < start {
		return ""
	}
	return out[start : end+1]
}

// dialectHints returns the table-list statement and quote character to suggest for t.
func dialectHints(t database.Type) (tableListQuery, quoteChar string) {
	switch t {
	case database.TypeMySQL:
		return "SHOW TABLES", "`"
	case database.TypePostgreSQL:
		return "SELECT tablename FROM pg_tables WHERE schemaname = 'public'", `"`
	case database.TypeSQLite:
		return "SELECT name FROM sqlite_master WHERE type = 'table'", `"`
	case database.TypeMongoDB:
		return `{"listCollections": 1}`, `"`
	}
	return "the standard table listing query of the backend", `"`
}
