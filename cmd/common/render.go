package common

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

// RenderJobStatus writes a job summary followed by one row per source.
func RenderJobStatus(w io.Writer, view *domain.JobStatusView) {
	job := view.Job

	summary := newTable(w)
	summary.AppendRows([]table.Row{
		{"Job", job.ID},
		{"Status", strings.ToUpper(string(job.Status))},
		{"Trigger", job.TriggerOrigin},
		{"Priority", job.Priority},
		{"Started", formatTime(job.StartedAt)},
		{"Finished", formatTime(job.FinishedAt)},
		{"Pages", job.PagesFetched},
		{"Found", job.TotalFound},
		{"New", job.NewDocuments},
		{"Duplicates", job.Duplicates},
		{"Errors", job.Errors},
	})
	if job.ErrorSummary != nil {
		summary.AppendRow(table.Row{"Error", *job.ErrorSummary})
	}
	summary.Render()

	if len(view.Sources) == 0 {
		return
	}
	fmt.Fprintln(w)

	sources := newTable(w)
	sources.AppendHeader(table.Row{"Source", "Status", "Strategy", "Pages", "Found", "New", "Dupes", "Errors", "Message"})
	for _, r := range view.Sources {
		sources.AppendRow(table.Row{
			r.SourceID,
			r.Status,
			deref(r.Strategy),
			r.PagesFetched,
			r.TotalFound,
			r.NewDocuments,
			r.Duplicates,
			r.Errors,
			deref(r.ErrorMessage),
		})
	}
	sources.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
		{Number: 9, WidthMax: 60},
	})
	sources.Render()
}

// RenderJobs writes one row per job.
func RenderJobs(w io.Writer, jobs []*domain.Job) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Status", "Trigger", "Priority", "Sources", "New", "Errors", "Created"})
	for _, j := range jobs {
		t.AppendRow(table.Row{
			j.ID,
			j.Status,
			j.TriggerOrigin,
			j.Priority,
			len(j.SourceIDs),
			j.NewDocuments,
			j.Errors,
			j.CreatedAt.Local().Format(timeLayout),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(jobs)})
	t.Render()
}

// RenderSources writes one row per source.
func RenderSources(w io.Writer, sources []*domain.Source) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Name", "URL", "Enabled", "Documents", "Strategy", "Last Crawled", "Errors"})
	for _, s := range sources {
		strategy := ""
		if mem, ok := domain.ParsePaginationMemory(s.PaginationMemory); ok {
			strategy = mem.Strategy
		}
		t.AppendRow(table.Row{
			s.ID,
			s.Name,
			s.URL,
			s.Enabled,
			s.TotalDocuments,
			strategy,
			formatTime(s.LastCrawledAt),
			s.ConsecutiveErrors,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, WidthMax: 60}})
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(sources)})
	t.Render()
}

// RenderDocuments writes one row per document.
func RenderDocuments(w io.Writer, docs []*domain.Document) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "URL", "Found On"})
	for i, d := range docs {
		t.AppendRow(table.Row{i + 1, d.URL, d.FoundOn})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 80},
		{Number: 3, WidthMax: 60},
	})
	t.Render()
}

// RenderNextRuns writes each schedule's next firing time, soonest first.
func RenderNextRuns(w io.Writer, next map[string]time.Time) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Schedule", "Next Run", "In"})
	now := time.Now()
	for name, at := range next {
		t.AppendRow(table.Row{name, at.Format(timeLayout), at.Sub(now).Round(time.Second)})
	}
	t.SortBy([]table.SortBy{{Number: 2, Mode: table.Asc}})
	t.Render()
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
