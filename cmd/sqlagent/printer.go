package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/xiaot623/gogo/sqlagent/internal/domain"
)

// event is a server frame as received by the CLI.
type event struct {
	SessionID string           `json:"session_id"`
	TurnID    string           `json:"turn_id"`
	Type      domain.EventType `json:"type"`
	Data      json.RawMessage  `json:"data"`
}

type printer struct {
	w        io.Writer
	styled   bool
	dim      lipgloss.Style
	sql      lipgloss.Style
	errStyle lipgloss.Style
	label    lipgloss.Style
	// streaming is set while summary or reasoning chunks are being written inline.
	streaming domain.EventType
}

func newPrinter(w io.Writer, styled bool) *printer {
	return &printer{
		w:        w,
		styled:   styled,
		dim:      lipgloss.NewStyle().Faint(true),
		sql:      lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true),
		errStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		label:    lipgloss.NewStyle().Foreground(lipgloss.Color("63")),
	}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) endStream() {
	if p.streaming != "" {
		fmt.Fprintln(p.w)
		p.streaming = ""
	}
}

// print writes one event. It reports true once the turn is finished; the error is set when the
// turn failed.
func (p *printer) print(ev event) (bool, error) {
	switch ev.Type {
	case domain.EventTypeModelThinking, domain.EventTypeSummary:
		var d domain.ContentEventData
		json.Unmarshal(ev.Data, &d)
		if p.streaming != ev.Type {
			p.endStream()
			p.streaming = ev.Type
		}
		if ev.Type == domain.EventTypeModelThinking {
			fmt.Fprint(p.w, p.render(p.dim, d.Content))
		} else {
			fmt.Fprint(p.w, d.Content)
		}
		return false, nil
	}

	p.endStream()
	switch ev.Type {
	case domain.EventTypeThinking, domain.EventTypeSQLExecuting:
		var d domain.ContentEventData
		json.Unmarshal(ev.Data, &d)
		fmt.Fprintln(p.w, p.render(p.dim, "· "+d.Content))

	case domain.EventTypeSchemaLoaded:
		var d domain.SchemaLoadedEventData
		json.Unmarshal(ev.Data, &d)
		fmt.Fprintf(p.w, "%s %s\n", p.render(p.label, "tables:"), strings.Join(d.Tables, ", "))

	case domain.EventTypeSQLGenerated:
		var d domain.SQLGeneratedEventData
		json.Unmarshal(ev.Data, &d)
		fmt.Fprintln(p.w, p.render(p.sql, d.SQL))

	case domain.EventTypeSQLResult:
		var d domain.SQLResultEventData
		json.Unmarshal(ev.Data, &d)
		fmt.Fprintf(p.w, "%s %d rows (%s)\n", p.render(p.label, "result:"), d.RowCount, strings.Join(d.Columns, ", "))

	case domain.EventTypeChartReady:
		var d domain.ChartReadyEventData
		json.Unmarshal(ev.Data, &d)
		fmt.Fprintf(p.w, "%s %s\n", p.render(p.label, "chart:"), d.ChartType)

	case domain.EventTypeDone:
		var d domain.DoneEventData
		json.Unmarshal(ev.Data, &d)
		if d.PlanToken != "" {
			fmt.Fprintf(p.w, "%s run this plan with --session %s --plan-token %s\n",
				p.render(p.label, "plan:"), ev.SessionID, d.PlanToken)
		}
		return true, nil

	case domain.EventTypeError:
		var d domain.ErrorEventData
		json.Unmarshal(ev.Data, &d)
		fmt.Fprintln(p.w, p.render(p.errStyle, "error: "+d.Message))
		return true, errors.New(d.Message)
	}
	return false, nil
}
