package domain

// EventTaskAppended is published after a task passes intake.
const EventTaskAppended = "task-appended"

// TaskEvent is the envelope published to the event queue.
type TaskEvent struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Actor     string `json:"actor,omitempty"`
	Type      string `json:"type"`
	Task      Task   `json:"task"`
	Timestamp int64  `json:"timestamp"`
}
