package api

import "siteplan/domain"

const (
	postTaskMaxSize = 64 * 1024 // 64 KiB

	headerIdempotencyKey = "Idempotency-Key"
	anonymousActor       = "anonymous"
)

// GET /api/tasks response body
type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

// error body; Fields is set for rejected intakes
type errorResponse struct {
	Error  string              `json:"error"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}
