// Package agent runs one question/answer turn: intent classification, the chat, plan and SQL
// branches, chart mapping and summarization, reporting progress as typed events.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/database"
	"github.com/xiaot623/gogo/sqlagent/internal/adapter/llm"
	"github.com/xiaot623/gogo/sqlagent/internal/chart"
	"github.com/xiaot623/gogo/sqlagent/internal/domain"
	"github.com/xiaot623/gogo/sqlagent/internal/executor"
	"github.com/xiaot623/gogo/sqlagent/internal/memory"
	"github.com/xiaot623/gogo/sqlagent/internal/metrics"
	"github.com/xiaot623/gogo/sqlagent/internal/schema"
)

// Defaults applied to zero Options fields.
const (
	DefaultMaxRetries    = 2
	DefaultMaxResultRows = 50
)

// SchemaProvider is the part of the schema snapshot service a turn reads.
type SchemaProvider interface {
	Resolve(key string) string
	Describe(ctx context.Context, key string) (schema.Info, error)
	TableNames(ctx context.Context, key string) ([]string, error)
	FullSchema(ctx context.Context, key string) (string, error)
}

// QueryRunner validates and executes generated SQL.
type QueryRunner interface {
	Execute(ctx context.Context, dbKey, sql string, timeout time.Duration) (*executor.Result, error)
}

// Options tunes the SQL loop.
type Options struct {
	// MaxRetries is the number of regenerations after the first failed attempt.
	MaxRetries int
	// QueryTimeout bounds each query; zero uses the executor default.
	QueryTimeout time.Duration
	// MaxResultRows caps the rows rendered into the summary prompt.
	MaxResultRows int
	// DirectQuery skips the plan branch and runs sql_query questions immediately.
	DirectQuery bool
}

// TurnRequest is the input of one turn.
type TurnRequest struct {
	SessionID      string
	TurnID         string
	Question       string
	EnableThinking bool
	DatabaseKey    string
	PlanToken      string
}

// Emitter receives events in order. A non-nil error aborts the turn without a terminal event.
type Emitter func(domain.Event) error

// Result is the aggregate of a finished turn, for the caller to persist.
type Result struct {
	Intent       domain.Intent
	Status       domain.TurnStatus
	Summary      string
	SQL          string
	Chart        *chart.Spec
	Data         *executor.Result
	Reasoning    string
	SessionTitle string
	PlanToken    string
	Error        string
}

// Orchestrator composes the pipeline components. It holds no per-turn state and is safe for
// concurrent turns.
type Orchestrator struct {
	llm     llm.LLMClient
	schema  SchemaProvider
	queries QueryRunner
	charts  *chart.Mapper
	memory  *memory.Manager
	opts    Options
}

// New creates an orchestrator.
func New(client llm.LLMClient, schemas SchemaProvider, queries QueryRunner, mem *memory.Manager, opts Options) *Orchestrator {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxResultRows <= 0 {
		opts.MaxResultRows = DefaultMaxResultRows
	}
	return &Orchestrator{
		llm:     client,
		schema:  schemas,
		queries: queries,
		charts:  chart.NewMapper(client),
		memory:  mem,
		opts:    opts,
	}
}

// emitError marks a failure of the caller's Emitter.
type emitError struct {
	err error
}

func (e *emitError) Error() string { return "emit event: " + e.err.Error() }

func (e *emitError) Unwrap() error { return e.err }

// turn carries the mutable state of one Run.
type turn struct {
	req    TurnRequest
	emit   Emitter
	conv   *memory.Conversation
	log    zerolog.Logger
	result *Result
	state  domain.TurnState
}

func (t *turn) send(ev domain.Event) error {
	if err := t.emit(ev); err != nil {
		return &emitError{err: err}
	}
	return nil
}

func (t *turn) progress(content string) error {
	return t.send(domain.NewContentEvent(domain.EventTypeThinking, content))
}

func (t *turn) enter(s domain.TurnState) {
	t.state = s
	t.log.Debug().Str("state", string(s)).Msg("turn state")
}

// aborted reports whether err means the turn must stop silently: the request was cancelled or
// the event sink went away.
func aborted(ctx context.Context, err error) bool {
	var ee *emitError
	return ctx.Err() != nil || errors.As(err, &ee) || errors.Is(err, context.Canceled)
}

// Run executes one turn. It returns a Result with Status DONE or FAILED after emitting exactly
// one terminal event, or an error, without a terminal event, when ctx is cancelled or emit fails.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest, emit Emitter) (*Result, error) {
	t := &turn{
		req:    req,
		emit:   emit,
		conv:   o.memory.Get(ctx, req.SessionID),
		log:    log.With().Str("session_id", req.SessionID).Str("turn_id", req.TurnID).Logger(),
		result: &Result{Intent: domain.IntentChat},
	}

	err := o.run(ctx, t)
	if err != nil && aborted(ctx, err) {
		t.log.Info().Err(err).Str("state", string(t.state)).Msg("turn aborted")
		metrics.TurnsTotal.WithLabelValues(string(t.result.Intent), "cancelled").Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if err != nil {
		t.enter(domain.StateError)
		t.result.Status = domain.TurnStatusFailed
		t.result.Error = err.Error()
		t.log.Warn().Err(err).Msg("turn failed")
		metrics.TurnsTotal.WithLabelValues(string(t.result.Intent), "failed").Inc()
		if sendErr := t.send(domain.Event{Type: domain.EventTypeError, Data: domain.ErrorEventData{Message: t.result.Error}}); sendErr != nil {
			return nil, sendErr
		}
		return t.result, nil
	}

	t.enter(domain.StateDone)
	t.result.Status = domain.TurnStatusDone
	metrics.TurnsTotal.WithLabelValues(string(t.result.Intent), "done").Inc()
	return t.result, t.send(domain.Event{Type: domain.EventTypeDone, Data: o.doneData(t.result)})
}

func (o *Orchestrator) doneData(r *Result) domain.DoneEventData {
	data := domain.DoneEventData{
		Summary:      r.Summary,
		SQL:          r.SQL,
		Reasoning:    r.Reasoning,
		SessionTitle: r.SessionTitle,
		PlanToken:    r.PlanToken,
	}
	if r.Chart != nil {
		data.ChartConfig = r.Chart.Option
	}
	return data
}

func (o *Orchestrator) run(ctx context.Context, t *turn) error {
	t.enter(domain.StateStart)
	history := t.conv.HistoryText()
	if history == "" {
		history = msgNoHistory
	}

	t.enter(domain.StateIntentClassifying)
	if err := t.progress(msgClassifying); err != nil {
		return err
	}
	intent := o.classify(ctx, t)
	if err := ctx.Err(); err != nil {
		return err
	}

	plan, pending := t.conv.PendingPlan()
	if t.req.PlanToken != "" {
		if !pending || plan.Token != t.req.PlanToken {
			return errors.New(msgPlanMismatch)
		}
		intent = domain.IntentConfirmation
	}
	t.result.Intent = intent
	t.log.Info().Str("intent", string(intent)).Msg("intent classified")

	if intent == domain.IntentChat {
		return o.chat(ctx, t, history)
	}

	if err := t.progress(msgUnderstanding); err != nil {
		return err
	}
	db, err := o.loadDatabase(ctx, t)
	if err != nil {
		return err
	}
	if err := t.send(domain.Event{Type: domain.EventTypeSchemaLoaded, Data: domain.SchemaLoadedEventData{Tables: db.tables}}); err != nil {
		return err
	}

	if intent == domain.IntentSQLQuery && !o.opts.DirectQuery {
		return o.plan(ctx, t, db, history)
	}

	question := t.req.Question
	if intent == domain.IntentConfirmation {
		planned := question
		if pending {
			planned = plan.Question
		}
		question = render(confirmationInstruction, map[string]string{"plan_question": planned, "question": t.req.Question})
	}
	if err := o.sqlLoop(ctx, t, db, history, question); err != nil {
		return err
	}
	if intent == domain.IntentConfirmation {
		t.conv.ClearPendingPlan()
	}
	return nil
}

func (o *Orchestrator) classify(ctx context.Context, t *turn) domain.Intent {
	out, err := o.llm.Complete(ctx, []llm.Message{
		llm.System(intentSystemPrompt),
		llm.User(t.req.Question),
	}, intentTemperature)
	if err != nil {
		t.log.Warn().Err(err).Msg("intent classification failed, falling back to chat")
		return domain.IntentChat
	}

	var parsed struct {
		Intent string `json:"intent"`
	}
	raw := jsonObject(out)
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil {
		t.log.Warn().Str("output", out).Msg("unparseable intent, falling back to chat")
		return domain.IntentChat
	}
	return domain.ParseIntent(strings.TrimSpace(parsed.Intent))
}

// stream runs a streamed completion. Reasoning deltas are forwarded as model_thinking and,
// when forward is set, content deltas as summary.
func (o *Orchestrator) stream(ctx context.Context, t *turn, msgs []llm.Message, temperature float64, forward bool) (content, reasoning string, err error) {
	var answer, thinking strings.Builder
	_, err = o.llm.CompleteStream(ctx, msgs, temperature, t.req.EnableThinking, func(d llm.Delta) error {
		if d.Reasoning != "" {
			thinking.WriteString(d.Reasoning)
			if err := t.send(domain.NewContentEvent(domain.EventTypeModelThinking, d.Reasoning)); err != nil {
				return err
			}
		}
		if d.Content != "" {
			answer.WriteString(d.Content)
			if forward {
				return t.send(domain.NewContentEvent(domain.EventTypeSummary, d.Content))
			}
		}
		return nil
	})
	return answer.String(), thinking.String(), err
}

func (o *Orchestrator) chat(ctx context.Context, t *turn, history string) error {
	t.enter(domain.StateChat)
	if err := t.progress(msgChatting); err != nil {
		return err
	}

	dbName, dbType, tables := "unknown", "unknown", "(unknown)"
	key := o.schema.Resolve(t.req.DatabaseKey)
	if info, err := o.schema.Describe(ctx, key); err == nil {
		dbName, dbType = info.Name, string(info.Type)
		if names, err := o.schema.TableNames(ctx, key); err == nil && len(names) > 0 {
			tables = strings.Join(names, ", ")
		}
	} else if ctx.Err() != nil {
		return ctx.Err()
	}

	prompt := render(chatPrompt, map[string]string{
		"database_name": dbName,
		"database_type": dbType,
		"tables":        tables,
		"history":       history,
		"question":      t.req.Question,
	})
	content, reasoning, err := o.stream(ctx, t, []llm.Message{llm.System(chatSystemPrompt), llm.User(prompt)}, chatTemperature, true)
	if err != nil {
		if aborted(ctx, err) {
			return err
		}
		return fmt.Errorf("chat reply failed: %w", err)
	}

	t.result.Summary = content
	t.result.Reasoning = reasoning
	if reasoning == "" {
		t.result.Reasoning = msgChatReasoning
	}
	return nil
}

// dbContext is what the plan and SQL prompts know about the target database.
type dbContext struct {
	info   schema.Info
	tables []string
	schema string
}

func (o *Orchestrator) loadDatabase(ctx context.Context, t *turn) (*dbContext, error) {
	key := o.schema.Resolve(t.req.DatabaseKey)
	info, err := o.schema.Describe(ctx, key)
	if err != nil {
		return nil, asConnectionError(ctx, key, err)
	}
	tables, err := o.schema.TableNames(ctx, key)
	if err != nil {
		return nil, asConnectionError(ctx, key, err)
	}
	full, err := o.schema.FullSchema(ctx, key)
	if err != nil {
		return nil, asConnectionError(ctx, key, err)
	}
	t.log.Debug().Str("db_key", key).Int("tables", len(tables)).Int("schema_chars", len(full)).Msg("schema loaded")
	return &dbContext{info: info, tables: tables, schema: full}, nil
}

func asConnectionError(ctx context.Context, key string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ce *domain.ConnectionError
	if errors.As(err, &ce) {
		return err
	}
	return &domain.ConnectionError{Key: key, Err: err}
}

func (o *Orchestrator) plan(ctx context.Context, t *turn, db *dbContext, history string) error {
	t.enter(domain.StatePlan)
	if err := t.progress(msgPlanning); err != nil {
		return err
	}
	prompt := render(planPrompt, map[string]string{
		"database_name": db.info.Name,
		"database_type": string(db.info.Type),
		"schema":        db.schema,
		"history":       history,
		"question":      t.req.Question,
	})
	content, reasoning, err := o.stream(ctx, t, []llm.Message{llm.System(planSystemPrompt), llm.User(prompt)}, planTemperature, true)
	if err != nil {
		if aborted(ctx, err) {
			return err
		}
		return fmt.Errorf("plan generation failed: %w", err)
	}

	token := uuid.NewString()
	t.conv.SetPendingPlan(memory.PendingPlan{Token: token, Question: t.req.Question})
	t.result.Summary = content
	t.result.Reasoning = reasoning
	t.result.PlanToken = token
	return nil
}

// sqlResponse is the JSON object the model returns for SQL generation.
type sqlResponse struct {
	SQL          string          `json:"sql"`
	ChartType    string          `json:"chart_type"`
	VizConfig    chart.VizConfig `json:"viz_config"`
	Reasoning    string          `json:"reasoning"`
	SessionTitle string          `json:"session_title"`
}

// parseSQLResponse extracts the generation JSON from model output.
func parseSQLResponse(out string) (*sqlResponse, error) {
	raw := jsonObject(out)
	if raw == "" {
		return nil, &domain.GenerationError{Reason: "no JSON object in model output"}
	}
	var resp sqlResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, &domain.GenerationError{Reason: "model output is not valid JSON", Err: err}
	}
	resp.SQL = strings.TrimSpace(resp.SQL)
	if resp.SQL == "" {
		return nil, &domain.GenerationError{Reason: "model output contains no SQL"}
	}
	if resp.ChartType == "" {
		resp.ChartType = chart.TypeTable
	}
	return &resp, nil
}

func (o *Orchestrator) generateSQL(ctx context.Context, t *turn, db *dbContext, history, instruction string) (*sqlResponse, string, error) {
	t.enter(domain.StateSQLGenerating)
	tableListQuery, quoteChar := dialectHints(db.info.Type)
	prompt := render(sqlPrompt, map[string]string{
		"database_name":    db.info.Name,
		"database_type":    string(db.info.Type),
		"database_version": db.info.Version,
		"table_list_query": tableListQuery,
		"quote_char":       quoteChar,
		"schema":           db.schema,
		"history":          history,
		"question":         instruction,
	})
	system := sqlSystemPrompt
	if db.info.Type == database.TypeMongoDB {
		system += mongoRules
	}

	content, reasoning, err := o.stream(ctx, t, []llm.Message{llm.System(system), llm.User(prompt)}, sqlTemperature, false)
	if err != nil {
		if aborted(ctx, err) {
			return nil, "", err
		}
		return nil, reasoning, &domain.GenerationError{Reason: "model call failed", Err: err}
	}
	resp, err := parseSQLResponse(content)
	return resp, reasoning, err
}

func (o *Orchestrator) sqlLoop(ctx context.Context, t *turn, db *dbContext, history, instruction string) error {
	var (
		gen       *sqlResponse
		res       *executor.Result
		reasoning string
		lastErr   error
	)

	for attempt := 0; attempt <= o.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := t.progress(fmt.Sprintf(msgRetry, attempt)); err != nil {
				return err
			}
		}
		current := instruction
		if lastErr != nil {
			current = render(retryInstruction, map[string]string{"error": lastErr.Error(), "question": instruction})
		}

		var err error
		gen, reasoning, err = o.generateSQL(ctx, t, db, history, current)
		if err == nil {
			res, err = o.execute(ctx, t, db, gen.SQL)
		}
		if err == nil {
			metrics.SQLAttemptsTotal.WithLabelValues("ok").Inc()
			break
		}
		if aborted(ctx, err) {
			return err
		}

		metrics.SQLAttemptsTotal.WithLabelValues("error").Inc()
		lastErr = err
		res = nil
		t.log.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", o.opts.MaxRetries+1).Msg("SQL attempt failed")
		if !domain.IsRetryable(err) {
			break
		}
	}
	if res == nil {
		return fmt.Errorf("%s%w", msgAnalysisFailed, lastErr)
	}

	t.result.SQL = gen.SQL
	t.result.Data = res
	t.result.SessionTitle = gen.SessionTitle
	t.result.Reasoning = reasoning
	if reasoning == "" {
		t.result.Reasoning = gen.Reasoning
	}

	t.enter(domain.StateChartMapping)
	if err := t.progress(msgChart); err != nil {
		return err
	}
	spec := o.charts.Map(ctx, res, gen.ChartType, gen.VizConfig)
	t.result.Chart = &spec
	if err := t.send(domain.Event{Type: domain.EventTypeChartReady, Data: domain.ChartReadyEventData{Option: spec.Option, ChartType: spec.ChartType}}); err != nil {
		return err
	}

	return o.summarize(ctx, t, res, spec.ChartType)
}

func (o *Orchestrator) execute(ctx context.Context, t *turn, db *dbContext, sql string) (*executor.Result, error) {
	t.enter(domain.StateSQLValidating)
	if err := t.send(domain.Event{Type: domain.EventTypeSQLGenerated, Data: domain.SQLGeneratedEventData{SQL: sql}}); err != nil {
		return nil, err
	}
	t.enter(domain.StateSQLExecuting)
	if err := t.send(domain.NewContentEvent(domain.EventTypeSQLExecuting, msgExecuting)); err != nil {
		return nil, err
	}
	res, err := o.queries.Execute(ctx, db.info.Key, sql, o.opts.QueryTimeout)
	if err != nil {
		return nil, err
	}
	t.log.Info().Str("db_key", db.info.Key).Int("rows", res.RowCount).Msg("query executed")
	if err := t.send(domain.Event{Type: domain.EventTypeSQLResult, Data: domain.SQLResultEventData{
		Columns:  res.Columns,
		Rows:     res.Rows,
		RowCount: res.RowCount,
	}}); err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) summarize(ctx context.Context, t *turn, res *executor.Result, chartType string) error {
	t.enter(domain.StateSummarizing)
	if err := t.progress(msgSummarizing); err != nil {
		return err
	}
	prompt := render(summaryPrompt, map[string]string{
		"result":     executor.Format(res, o.opts.MaxResultRows),
		"chart_type": chartType,
	})
	summary, _, err := o.stream(ctx, t, []llm.Message{llm.System(summarySystemPrompt), llm.User(prompt)}, summaryTemperature, true)
	switch {
	case err != nil && aborted(ctx, err):
		return err
	case err != nil && summary != "":
		// Part of the summary already reached the client; keep what it saw.
		t.log.Warn().Err(err).Int("streamed_chars", len(summary)).Msg("summary stream broke off")
		t.result.Summary = summary
		return nil
	case err != nil:
		t.log.Warn().Err(err).Msg("summary generation failed, using fallback")
		summary = msgSummaryFailed
	case summary == "":
		summary = msgSummaryEmpty
	default:
		t.result.Summary = summary
		return nil
	}
	t.result.Summary = summary
	return t.send(domain.NewContentEvent(domain.EventTypeSummary, summary))
}
