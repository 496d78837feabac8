package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"siteplan/domain"
	"siteplan/timeline"
	"siteplan/view"
)

const (
	minBarColumns = 20
	labelColumns  = 14
)

func renderTabs(active view.Screen) string {
	tabs := make([]string, 0, len(view.Screens()))
	for i, s := range view.Screens() {
		label := fmt.Sprintf("%d %s", i+1, s.TabLabel())
		if s == active {
			tabs = append(tabs, activeTabStyle.Render(label))
		} else {
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func renderStats(stats domain.ProjectStats) string {
	card := func(label string, value string) string {
		return cardStyle.Render(mutedStyle.Render(label) + "\n" + titleStyle.Render(value))
	}
	cards := lipgloss.JoinHorizontal(lipgloss.Top,
		card("總項目", fmt.Sprint(stats.Total)),
		card("已完成", fmt.Sprint(stats.Completed)),
		card("進行中", fmt.Sprint(stats.InProgress)),
		card("延誤風險", fmt.Sprint(stats.Delayed)),
	)
	return cards + "\n\n" + "整體進度 " + progressBar(stats.OverallProgress, 30) + fmt.Sprintf(" %d%%", stats.OverallProgress)
}

func progressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	return doneStyle.Render(strings.Repeat("█", filled)) + mutedStyle.Render(strings.Repeat("░", width-filled))
}

func statusLabel(t domain.Task) string {
	switch {
	case t.Completed():
		return doneStyle.Render("已完成")
	case t.Progress > 0:
		return warnStyle.Render("進行中")
	default:
		return mutedStyle.Render("未開始")
	}
}

func renderList(tasks []domain.Task, cursor int) string {
	if len(tasks) == 0 {
		return mutedStyle.Render("尚無施工項目，按 a 新增。")
	}
	var b strings.Builder
	for i, t := range tasks {
		prefix := "  "
		name := t.Name
		if i == cursor {
			prefix = cursorStyle.Render("› ")
			name = cursorStyle.Render(name)
		}
		fmt.Fprintf(&b, "%s%s  %s  %s  %s  %s\n",
			prefix, name, mutedStyle.Render(t.Category), t.Manager,
			progressBar(t.Progress, 10), statusLabel(t))
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderTimeline draws one proportional bar per task. Connectors are listed
// below the chart as from → to pairs.
func renderTimeline(layout timeline.Layout, tasks []domain.Task, width int) string {
	if len(layout.Bars) == 0 {
		return mutedStyle.Render("尚無施工項目。")
	}
	columns := width - labelColumns - 4
	if columns < minBarColumns {
		columns = minBarColumns
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s  →  %s (%d 天)\n",
		strings.Repeat(" ", labelColumns+1), layout.MinDate, layout.MaxDate, layout.TotalDays)
	for _, bar := range layout.Bars {
		t := tasks[bar.Row]
		left := int(math.Round(bar.Left * float64(columns)))
		span := int(math.Round(bar.Width * float64(columns)))
		if span < 1 {
			span = 1
		}
		if left+span > columns {
			left = max(0, columns-span)
		}
		done := span * min(max(t.Progress, 0), 100) / 100
		cells := doneStyle.Render(strings.Repeat("█", done)) + warnStyle.Render(strings.Repeat("▒", span-done))
		fmt.Fprintf(&b, "%s %s%s\n", fitLabel(t.Name, labelColumns), strings.Repeat(" ", left), cells)
	}
	if len(layout.Connectors) > 0 {
		b.WriteString("\n")
		for _, c := range layout.Connectors {
			fmt.Fprintf(&b, "%s %s ─▶ %s\n", mutedStyle.Render("↳"), tasks[c.FromRow].Name, tasks[c.ToRow].Name)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// fitLabel pads or truncates s to width terminal cells.
func fitLabel(s string, width int) string {
	if lipgloss.Width(s) > width {
		s = truncate.StringWithTail(s, uint(width), "…")
	}
	return s + strings.Repeat(" ", max(0, width-lipgloss.Width(s)))
}

func renderAdvice(state domain.AdviceState, notice string, width int) string {
	var b strings.Builder
	switch {
	case state.InFlight:
		b.WriteString(warnStyle.Render("AI 分析中…"))
	case state.Advice == nil:
		b.WriteString(mutedStyle.Render("按 r 取得 AI 排程建議。"))
	case !state.Advice.OK:
		b.WriteString(errorStyle.Render(state.Advice.Text))
	default:
		b.WriteString(RenderAdvice(state.Advice.Text, width-4))
		if !state.Advice.GeneratedAt.IsZero() {
			b.WriteString("\n\n" + mutedStyle.Render("產生於 "+state.Advice.GeneratedAt.Local().Format("2006-01-02 15:04")))
		}
	}
	if notice != "" {
		b.WriteString("\n\n" + warnStyle.Render(notice))
	}
	return b.String()
}

func renderTaskDetail(t domain.Task, tasks []domain.Task) string {
	idx := domain.IndexByID(tasks)
	deps := make([]string, 0, len(t.Dependencies))
	for _, id := range t.Dependencies {
		if i, ok := idx[id]; ok {
			deps = append(deps, tasks[i].Name)
		} else {
			deps = append(deps, id)
		}
	}
	depText := "無"
	if len(deps) > 0 {
		depText = strings.Join(deps, "、")
	}
	rows := []string{
		titleStyle.Render(t.Name),
		"",
		"類別      " + t.Category,
		"負責人    " + t.Manager,
		"開始日期  " + t.StartDate.String(),
		"完工日期  " + t.EndDate().String(),
		fmt.Sprintf("工期      %d 天", t.Duration),
		fmt.Sprintf("進度      %s %d%%", progressBar(t.Progress, 20), t.Progress),
		"前置任務  " + depText,
		"",
		helpStyle.Render("esc 關閉"),
	}
	return panelStyle.Render(strings.Join(rows, "\n"))
}

// RenderTimeline draws the chart of tasks as of today, width cells wide.
func RenderTimeline(tasks []domain.Task, today domain.Date, width int) string {
	return renderTimeline(timeline.Compute(tasks, today), tasks, width)
}
