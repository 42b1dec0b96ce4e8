package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"durable-queue/internal/models"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func renderJobs(jobs []models.Job) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID,
			j.Type,
			j.Queue,
			string(j.Status),
			strconv.Itoa(j.Priority),
			fmt.Sprintf("%d/%d", j.Attempts, j.MaxRetries),
			relTime(&j.CreatedAt),
			truncate(deref(j.LastError), 48),
		})
	}
	return renderTable(
		[]string{"ID", "Type", "Queue", "Status", "Prio", "Attempts", "Created", "Last error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func renderJob(j models.Job) string {
	rows := [][]string{
		{"ID", j.ID},
		{"Type", j.Type},
		{"Queue", j.Queue},
		{"Status", string(j.Status)},
		{"Priority", strconv.Itoa(j.Priority)},
		{"Attempts", fmt.Sprintf("%d of %d retries", j.Attempts, j.MaxRetries)},
		{"Backoff", fmt.Sprintf("%s %dms (max %dms)", j.Backoff.Type, j.Backoff.DelayMS, j.Backoff.MaxDelayMS)},
		{"Timeout", (time.Duration(j.TimeoutMS) * time.Millisecond).String()},
		{"Unique key", deref(j.UniqueKey)},
		{"Run at", relTime(j.RunAt)},
		{"Started", relTime(j.StartedAt)},
		{"Finished", relTime(j.FinishedAt)},
		{"Created", relTime(&j.CreatedAt)},
		{"Last error", deref(j.LastError)},
		{"Payload", string(j.Payload)},
	}
	if len(j.Metadata) > 0 {
		rows = append(rows, []string{"Metadata", string(j.Metadata)})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func renderStats(stats []models.QueueStats) string {
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		oldest := "-"
		if s.OldestPendingAgeMS != nil {
			since := time.Now().Add(-time.Duration(*s.OldestPendingAgeMS) * time.Millisecond)
			oldest = relTime(&since)
		}
		rows = append(rows, []string{
			s.Queue,
			humanize.Comma(s.Pending),
			humanize.Comma(s.Active),
			humanize.Comma(s.Completed),
			humanize.Comma(s.Failed),
			humanize.Comma(s.Dead),
			oldest,
		})
	}
	return renderTable(
		[]string{"Queue", "Pending", "Active", "Completed", "Failed", "Dead", "Oldest pending"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	)
}

func relTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return humanize.Time(*t)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
