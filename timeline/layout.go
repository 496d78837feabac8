// Package timeline places tasks on a shared date window for Gantt rendering.
// Positions are fractions of the window; row heights and pixels are left to
// the renderer.
package timeline

import (
	"siteplan/domain"
)

const (
	// PaddingDays extends the window past the latest task end.
	PaddingDays = 10
	// EmptyWindowDays is the window length used when there are no tasks.
	EmptyWindowDays = 30
	// TickCount is the number of axis labels.
	TickCount = 6
)

// Bar is the horizontal extent of one task row.
type Bar struct {
	TaskID     string  `json:"taskId"`
	Row        int     `json:"row"`
	OffsetDays int     `json:"offsetDays"`
	Left       float64 `json:"leftFraction"`
	Width      float64 `json:"widthFraction"`
}

// End is the fraction at which the bar finishes.
func (b Bar) End() float64 { return b.Left + b.Width }

// Connector links the end of a predecessor bar to the start of its successor.
type Connector struct {
	FromID  string  `json:"fromId"`
	ToID    string  `json:"toId"`
	FromRow int     `json:"fromRow"`
	ToRow   int     `json:"toRow"`
	FromX   float64 `json:"fromXFraction"`
	ToX     float64 `json:"toXFraction"`
}

// Layout is the full placement of a task sequence.
type Layout struct {
	MinDate    domain.Date   `json:"minDate"`
	MaxDate    domain.Date   `json:"maxDate"`
	TotalDays  int           `json:"totalDays"`
	Bars       []Bar         `json:"bars"`
	Connectors []Connector   `json:"connectors"`
	Ticks      []domain.Date `json:"ticks"`
}

// Window returns the shared date range for tasks. An empty set yields a
// window of EmptyWindowDays starting at today.
func Window(tasks []domain.Task, today domain.Date) (minDate, maxDate domain.Date, totalDays int) {
	if len(tasks) == 0 {
		return today, today.AddDays(EmptyWindowDays), EmptyWindowDays
	}
	minDate, maxDate = tasks[0].StartDate, tasks[0].StartDate
	for _, t := range tasks {
		for _, d := range [2]domain.Date{t.StartDate, t.EndDate()} {
			if d.Before(minDate) {
				minDate = d
			}
			if d.After(maxDate) {
				maxDate = d
			}
		}
	}
	maxDate = maxDate.AddDays(PaddingDays)
	totalDays = maxDate.DaysSince(minDate)
	if totalDays < 1 {
		totalDays = 1
	}
	return minDate, maxDate, totalDays
}

// Compute lays out tasks in their given order. Row i belongs to tasks[i].
// Dependencies that name no task in the sequence produce no connector.
func Compute(tasks []domain.Task, today domain.Date) Layout {
	minDate, maxDate, totalDays := Window(tasks, today)
	l := Layout{
		MinDate:    minDate,
		MaxDate:    maxDate,
		TotalDays:  totalDays,
		Bars:       make([]Bar, len(tasks)),
		Connectors: []Connector{},
		Ticks:      ticks(minDate, totalDays),
	}
	span := float64(totalDays)
	for i, t := range tasks {
		offset := t.StartDate.DaysSince(minDate)
		l.Bars[i] = Bar{
			TaskID:     t.ID,
			Row:        i,
			OffsetDays: offset,
			Left:       float64(offset) / span,
			Width:      float64(t.Duration) / span,
		}
	}

	rows := domain.IndexByID(tasks)
	for i, t := range tasks {
		for _, depID := range t.Dependencies {
			from, ok := rows[depID]
			if !ok {
				continue
			}
			l.Connectors = append(l.Connectors, Connector{
				FromID:  depID,
				ToID:    t.ID,
				FromRow: from,
				ToRow:   i,
				FromX:   l.Bars[from].End(),
				ToX:     l.Bars[i].Left,
			})
		}
	}
	return l
}

func ticks(minDate domain.Date, totalDays int) []domain.Date {
	step := totalDays / (TickCount - 1)
	out := make([]domain.Date, TickCount)
	for i := range out {
		out[i] = minDate.AddDays(i * step)
	}
	return out
}
