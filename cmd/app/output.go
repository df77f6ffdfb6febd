package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"github.com/fatih/color"
)

var stdout io.Writer = os.Stdout

var (
	statusColors = map[domain.Status]*color.Color{
		domain.StatusOpen:       color.New(color.FgYellow),
		domain.StatusInProgress: color.New(color.FgCyan),
		domain.StatusResolved:   color.New(color.FgGreen),
		domain.StatusClosed:     color.New(color.Faint),
	}
	severityColors = map[domain.Severity]*color.Color{
		domain.SeverityCritical: color.New(color.FgRed, color.Bold),
		domain.SeverityHigh:     color.New(color.FgRed),
		domain.SeverityMedium:   color.New(color.FgYellow),
	}
)

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(b))
	return err
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(stdout, "no results")
		return
	}
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatOptional(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

func statusBadge(s domain.Status) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(string(s))
	}
	return string(s)
}

func severityBadge(s domain.Severity) string {
	if c, ok := severityColors[s]; ok {
		return c.Sprint(string(s))
	}
	return string(s)
}

func printReports(page domain.ReportPage) {
	rows := make([][]string, 0, len(page.Items))
	for _, item := range page.Items {
		rows = append(rows, []string{
			item.ID,
			string(item.Type),
			severityBadge(item.Severity),
			statusBadge(item.Status),
			item.Title,
			item.ReporterName,
			formatOptional(item.AssigneeName),
			formatTime(item.CreatedAt),
		})
	}
	printTable([]string{"ID", "TYPE", "SEVERITY", "STATUS", "TITLE", "REPORTER", "ASSIGNEE", "CREATED_AT"}, rows)
	if page.Total > 0 {
		_, _ = fmt.Fprintf(stdout, "page %d, %d of %d reports\n", page.Page, len(page.Items), page.Total)
	}
}

func printReport(item domain.ErrorReport) {
	printKV([][2]string{
		{"id", item.ID},
		{"title", item.Title},
		{"type", string(item.Type)},
		{"severity", severityBadge(item.Severity)},
		{"status", statusBadge(item.Status)},
		{"reporter", item.ReporterName},
		{"assignee", formatOptional(item.AssigneeName)},
		{"created_at", formatTime(item.CreatedAt)},
		{"updated_at", formatTime(item.UpdatedAt)},
		{"attachments", strconv.Itoa(len(item.Attachments))},
	})
	for _, path := range item.Attachments {
		_, _ = fmt.Fprintf(stdout, "  %s\n", path)
	}
	_, _ = fmt.Fprintf(stdout, "\n%s\n", item.Description)
}

func printHistory(items []domain.HistoryEntry) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			formatTime(item.CreatedAt),
			string(item.Action),
			item.Username,
			item.Details,
		})
	}
	printTable([]string{"AT", "ACTION", "USER", "DETAILS"}, rows)
}

func printKeyCounts(title string, items []domain.KeyCount) {
	_, _ = fmt.Fprintf(stdout, "\n%s\n", title)
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{item.Key, strconv.FormatInt(item.Count, 10)})
	}
	printTable([]string{"KEY", "COUNT"}, rows)
}

func printStats(stats domain.StatSnapshot) {
	printKV([][2]string{
		{"total", strconv.FormatInt(stats.TotalReports, 10)},
		{"open", strconv.FormatInt(stats.OpenReports, 10)},
		{"resolved_today", strconv.FormatInt(stats.ResolvedToday, 10)},
	})
	printKeyCounts("by type", stats.ByType)
	printKeyCounts("by severity", stats.BySeverity)
	printKeyCounts("by status", stats.ByStatus)

	_, _ = fmt.Fprintln(stdout, "\nrecent")
	printReports(domain.ReportPage{Items: stats.RecentReports})
}

func printUsers(items []domain.User) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			item.Username,
			string(item.Role),
			item.Department,
			formatTime(item.CreatedAt),
		})
	}
	printTable([]string{"ID", "USERNAME", "ROLE", "DEPARTMENT", "CREATED_AT"}, rows)
}

func printAuditRecords(items []domain.AuditRecord) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		target := "-"
		if item.TargetID != nil {
			target = *item.TargetID
		}
		rows = append(rows, []string{
			formatTime(item.CreatedAt),
			item.Action,
			item.TargetType,
			target,
			formatOptional(item.ActorUsername),
		})
	}
	printTable([]string{"AT", "ACTION", "TARGET_TYPE", "TARGET_ID", "ACTOR"}, rows)
}
