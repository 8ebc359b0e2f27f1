package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sermonpipe/internal/api"
	"sermonpipe/internal/queue"
)

var (
	taskColumns = []column{
		{header: "ID", align: alignRight},
		{header: "Job"},
		{header: "Status"},
		{header: "Source"},
		{header: "Attempts", align: alignRight},
		{header: "Updated"},
		{header: "Error"},
	}
	sermonColumns = []column{
		{header: "ID"},
		{header: "Title"},
		{header: "Audio"},
		{header: "Message"},
		{header: "Duration", align: alignRight},
		{header: "Updated"},
	}
	statsColumns = []column{
		{header: "Status"},
		{header: "Count", align: alignRight},
	}
	labelCaser = cases.Title(language.English)
)

// statusOrder lists queue states in lifecycle order for display.
var statusOrder = []queue.Status{
	queue.StatusPending,
	queue.StatusRunning,
	queue.StatusCompleted,
	queue.StatusFailed,
	queue.StatusCancelled,
}

func buildStatsRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(stats))
	seen := make(map[string]bool, len(statusOrder))
	for _, status := range statusOrder {
		key := string(status)
		seen[key] = true
		if count, ok := stats[key]; ok {
			rows = append(rows, []string{formatStatusLabel(key), strconv.Itoa(count)})
		}
	}
	var extra []string
	for key := range stats {
		if !seen[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		rows = append(rows, []string{formatStatusLabel(key), strconv.Itoa(stats[key])})
	}
	return rows
}

func totalCount(stats map[string]int) int {
	total := 0
	for _, count := range stats {
		total += count
	}
	return total
}

func buildTaskRows(tasks []api.Task, now time.Time) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, []string{
			strconv.FormatInt(task.ID, 10),
			task.JobID,
			formatStatusLabel(task.Status),
			formatStatusLabel(task.Source),
			fmt.Sprintf("%d/%d", task.Attempts, task.MaxAttempts),
			formatRelativeTime(task.UpdatedAt, now),
			truncate(task.ErrorMessage, 40),
		})
	}
	return rows
}

func buildSermonRows(sermons []api.Sermon, now time.Time) [][]string {
	rows := make([][]string, 0, len(sermons))
	for _, s := range sermons {
		rows = append(rows, []string{
			s.ID,
			truncate(s.Title, 40),
			formatStatusLabel(s.AudioStatus),
			s.Message,
			formatDuration(s.DurationSeconds),
			formatRelativeTime(s.UpdatedAt, now),
		})
	}
	return rows
}

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return "-"
	}
	return labelCaser.String(strings.ReplaceAll(strings.ToLower(status), "_", " "))
}

func formatRelativeTime(value string, now time.Time) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return value
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func formatDuration(seconds *float64) string {
	if seconds == nil {
		return "-"
	}
	return (time.Duration(*seconds) * time.Second).Round(time.Second).String()
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

func parseStatuses(values []string) ([]queue.Status, error) {
	var out []queue.Status
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := queue.ParseStatus(part)
			if !ok {
				return nil, fmt.Errorf("unknown task status %q", part)
			}
			out = append(out, status)
		}
	}
	return out, nil
}

func parsePositiveIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid task id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
