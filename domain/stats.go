package domain

import "math"

// DelayedThreshold is the progress below which a started task counts as
// delayed. Tasks that have not started are never delayed, and no date is
// compared against today.
const DelayedThreshold = 40

// ProjectStats summarises a task set. It is derived on every read.
type ProjectStats struct {
	Total           int `json:"total"`
	Completed       int `json:"completed"`
	InProgress      int `json:"inProgress"`
	Delayed         int `json:"delayed"`
	OverallProgress int `json:"overallProgress"`
}

// ComputeStats derives the summary counts for tasks.
func ComputeStats(tasks []Task) ProjectStats {
	var s ProjectStats
	sum := 0
	for _, t := range tasks {
		sum += t.Progress
		switch {
		case t.Progress == 100:
			s.Completed++
		case t.Progress > 0 && t.Progress < 100:
			s.InProgress++
		}
		if t.Progress > 0 && t.Progress < DelayedThreshold {
			s.Delayed++
		}
	}
	s.Total = len(tasks)
	if s.Total == 0 {
		return s
	}
	// Halves round up, also for negative means.
	s.OverallProgress = int(math.Floor(float64(sum)/float64(s.Total) + 0.5))
	return s
}
