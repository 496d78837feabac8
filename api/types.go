package api

import (
	"context"

	"siteplan/domain"
)

// Board is the task board the handlers read and append to.
type Board interface {
	ID() string
	AddTask(in domain.TaskInput) (domain.Task, error)
	Tasks() []domain.Task
}

// Advisor runs schedule analyses in the background.
type Advisor interface {
	Start(ctx context.Context, tasks []domain.Task) error
	State(ctx context.Context) domain.AdviceState
	Clear(ctx context.Context) error
}

// Authenticator is implemented by types able to extract the acting user from
// an Authorization header.
type Authenticator interface {
	ActorFromAuthHeader(string) (string, error)
}

// Persister stores the full task sequence after every append.
type Persister interface {
	SaveAll(ctx context.Context, tasks []domain.Task) error
}

// EventPublisher announces appended tasks.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.TaskEvent) error
}

// Deduper prevents a retried intake from appending twice.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, actor, key string) (bool, error)
	// Remove deletes a previously added key, used when the intake is rejected.
	Remove(ctx context.Context, actor, key string) error
}
