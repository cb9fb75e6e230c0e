package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/harshakreox/ghostqa/internal/application/orchestrator"
	"github.com/harshakreox/ghostqa/internal/domain"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func renderStatus(w io.Writer, st *orchestrator.Status) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Field", "Value"})
	tw.AppendRow(table.Row{"State", st.State})
	if st.StartedAt != nil {
		tw.AppendRow(table.Row{"Started", st.StartedAt.Format(time.RFC3339)})
	}
	tw.AppendRow(table.Row{"Concurrency", fmt.Sprintf("%d running / %d allowed", st.RunningCount, st.ConcurrencyLimit)})
	tw.AppendRow(table.Row{"Queue", fmt.Sprintf("%d pending %s", st.QueueSize, formatDepth(st.QueueDepth))})
	tw.AppendRow(table.Row{"Retries waiting", len(st.PendingRetries)})
	if st.Workers != nil {
		tw.AppendRow(table.Row{"Workers", fmt.Sprintf("%d total, %d idle, %d busy", st.Workers.TotalWorkers, st.Workers.IdleWorkers, st.Workers.BusyWorkers)})
	}
	tw.AppendRow(table.Row{"Discovery", formatLoop(st.Discovery)})
	tw.AppendRow(table.Row{"Regression", formatLoop(st.Regression)})
	if st.Watermark != nil {
		tw.AppendRow(table.Row{"Discovery watermark", st.Watermark.Format(time.RFC3339)})
	}
	tw.AppendRow(table.Row{"Outcomes", formatOutcomes(st.Outcomes)})
	tw.Render()

	if len(st.Running) > 0 {
		rt := table.NewWriter()
		rt.SetOutputMirror(w)
		rt.AppendHeader(table.Row{"Running", "Kind", "Target", "Priority", "Attempt", "Since"})
		for _, r := range st.Running {
			rt.AppendRow(table.Row{r.Request.ID, r.Request.Kind, target(r.Request.ProjectID, r.Request.FeatureID), r.Request.Priority, r.Request.AttemptCount, r.StartedAt.Format(time.RFC3339)})
		}
		rt.Render()
	}
}

func renderQueue(w io.Writer, items []domain.ExecutionRequest) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"#", "ID", "Kind", "Target", "Priority", "Source", "Attempts", "Enqueued"})
	for i, r := range items {
		tw.AppendRow(table.Row{i + 1, r.ID, r.Kind, target(r.ProjectID, r.FeatureID), r.Priority, r.Source, r.AttemptCount, r.EnqueuedAt.Format(time.RFC3339)})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(items)})
	tw.Render()
}

func renderRecords(w io.Writer, recs []domain.ExecutionRecord) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Request", "Kind", "Target", "Status", "Attempts", "Duration", "Finished", "Summary"})
	for _, r := range recs {
		tw.AppendRow(table.Row{r.RequestID, r.Kind, target(r.ProjectID, r.FeatureID), r.Status, r.Attempts, r.Duration.String(), r.FinishedAt.Format(time.RFC3339), r.Summary})
	}
	tw.Render()
}

func formatEvent(ev domain.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-26s", ev.Timestamp.Format(time.RFC3339), ev.Type)
	if ev.RequestID != "" {
		fmt.Fprintf(&b, " %s", ev.RequestID)
	}
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, ev.Data[k])
	}
	return b.String()
}

func formatDepth(depth map[string]int) string {
	parts := make([]string, 0, len(depth))
	for _, p := range domain.PrioritiesDescending() {
		if n := depth[p.String()]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", p, n))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func formatLoop(l orchestrator.LoopStatus) string {
	if !l.Active {
		return "off"
	}
	s := fmt.Sprintf("every %s, %d ticks", l.Interval, l.Ticks)
	if l.LastError != "" {
		s += ", last error: " + l.LastError
	}
	return s
}

func formatOutcomes(outcomes map[domain.RecordStatus]int) string {
	order := []domain.RecordStatus{
		domain.RecordStatusSuccess,
		domain.RecordStatusFailure,
		domain.RecordStatusError,
		domain.RecordStatusCancelled,
	}
	parts := make([]string, 0, len(order))
	for _, s := range order {
		parts = append(parts, fmt.Sprintf("%s=%d", s, outcomes[s]))
	}
	return strings.Join(parts, " ")
}

func target(projectID, featureID string) string {
	if featureID == "" {
		return projectID
	}
	return projectID + "/" + featureID
}
