package domain

// Task is a unit of construction work with a schedule and a set of
// predecessor ids.
//
// Dependencies are weak references: they are never checked for existence or
// cycles, and readers must tolerate ids that resolve to nothing.
type Task struct {
	ID           string   `json:"id" yaml:"id" toml:"id"`
	Name         string   `json:"name" yaml:"name" toml:"name"`
	StartDate    Date     `json:"startDate" yaml:"startDate" toml:"startDate"`
	Duration     int      `json:"duration" yaml:"duration" toml:"duration"`
	Progress     int      `json:"progress" yaml:"progress" toml:"progress"`
	Category     string   `json:"category" yaml:"category" toml:"category"`
	Manager      string   `json:"manager" yaml:"manager" toml:"manager"`
	Dependencies []string `json:"dependencies" yaml:"dependencies,omitempty" toml:"dependencies"`
}

// EndDate is the planned finish, StartDate plus Duration days.
func (t Task) EndDate() Date { return t.StartDate.AddDays(t.Duration) }

// Completed reports whether the task is at 100%.
func (t Task) Completed() bool { return t.Progress == 100 }

// Clone returns a copy that shares no slices with t.
func (t Task) Clone() Task {
	c := t
	c.Dependencies = append([]string{}, t.Dependencies...)
	return c
}

// CloneTasks deep-copies a task sequence.
func CloneTasks(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i := range tasks {
		out[i] = tasks[i].Clone()
	}
	return out
}

// IndexByID maps each id to the position of its first occurrence.
func IndexByID(tasks []Task) map[string]int {
	idx := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if _, seen := idx[t.ID]; !seen {
			idx[t.ID] = i
		}
	}
	return idx
}
