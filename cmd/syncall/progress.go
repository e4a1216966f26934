package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"listings_sync/models"
	"listings_sync/syncer"
)

const (
	barWidth       = 30
	renderInterval = 100 * time.Millisecond
)

// progressBar redraws a single status line on w.
type progressBar struct {
	mu       sync.Mutex
	w        io.Writer
	last     time.Time
	lastType models.SyncType
	drawn    bool
}

func newProgressBar(w io.Writer) *progressBar {
	return &progressBar{w: w}
}

func (b *progressBar) Update(p syncer.Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if p.SyncType == b.lastType && now.Sub(b.last) < renderInterval && p.Processed < p.Total {
		return
	}
	if b.drawn && p.SyncType != b.lastType {
		fmt.Fprintln(b.w)
	}
	b.last = now
	b.lastType = p.SyncType
	b.drawn = true
	fmt.Fprint(b.w, "\r\033[K"+renderProgress(p))
}

// Done ends the status line so later output starts on a fresh line.
func (b *progressBar) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drawn {
		fmt.Fprintln(b.w)
		b.drawn = false
	}
}

func renderProgress(p syncer.Progress) string {
	filled := 0
	if p.Total > 0 {
		filled = int(p.Percent() / 100 * barWidth)
	}
	bar := barFilled.Render(strings.Repeat("█", filled)) +
		barEmpty.Render(strings.Repeat("░", barWidth-filled))

	line := fmt.Sprintf("%s %s %5.1f%% %d/%d",
		labelStyle.Render(strings.ToUpper(string(p.SyncType))), bar, p.Percent(), p.Processed, p.Total)

	stats := fmt.Sprintf(" %.1f/s elapsed %s", p.Rate, formatDuration(p.Elapsed))
	if p.ETA > 0 {
		stats += " eta " + formatDuration(p.ETA)
	}
	return line + mutedStyle.Render(stats)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func renderSummary(results []*syncer.Result, runErr error) string {
	var sb strings.Builder
	sb.WriteString(labelStyle.Render("Sync summary"))
	sb.WriteString("\n")

	if len(results) == 0 {
		sb.WriteString(mutedStyle.Render("no feeds ran"))
		sb.WriteString("\n")
	}
	failed := 0
	for _, res := range results {
		status := successStyle.Render("complete")
		switch {
		case res.Failed():
			status = errorStyle.Render("failed")
			failed++
		case res.Stopped:
			status = warningStyle.Render("stopped")
		case res.LimitReached:
			status = warningStyle.Render("limit reached")
		}
		fmt.Fprintf(&sb, "%-4s %s  %d records in %s\n",
			strings.ToUpper(string(res.SyncType)), status, res.Processed, formatDuration(res.Elapsed))
		if res.Failed() {
			sb.WriteString("     " + errorStyle.Render("error: "+res.Err.Error()) + "\n")
		}
		if res.Cursor.Timestamp != "" {
			fmt.Fprintf(&sb, "     cursor %s / %s\n", res.Cursor.Timestamp, res.Cursor.Key)
		}
		for _, entity := range models.ChildEntities {
			ec := res.Coverage.Entities[entity]
			if ec == nil {
				continue
			}
			line := fmt.Sprintf("     %-10s %5.1f%% of properties, %d records", entity,
				res.Coverage.Ratio(entity)*100, ec.Records)
			if ec.Failures > 0 {
				line += warningStyle.Render(fmt.Sprintf(", %d failures", ec.Failures))
			}
			sb.WriteString(line + "\n")
		}
	}
	switch {
	case failed > 0:
		sb.WriteString(errorStyle.Render(fmt.Sprintf("%d of %d feeds failed", failed, len(results))))
		sb.WriteString("\n")
	case runErr != nil:
		sb.WriteString(errorStyle.Render("error: " + runErr.Error()))
		sb.WriteString("\n")
	}
	return summaryBox.Render(strings.TrimRight(sb.String(), "\n"))
}
