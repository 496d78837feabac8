package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"siteplan/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestEventQueuePublish(t *testing.T) {
	fq := &fakeQueue{}
	q := &EventQueue{queue: fq}
	ev := domain.TaskEvent{
		ID:        "ev-1",
		ProjectID: "site-a1",
		Actor:     "auth0|1",
		Type:      domain.EventTaskAppended,
		Task:      domain.Task{ID: "t1", Name: "Slab", StartDate: domain.MustParseDate("2024-02-01"), Dependencies: []string{}},
		Timestamp: 42,
	}
	if err := q.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fq.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(fq.messages))
	}
	var decoded domain.TaskEvent
	if err := sonic.UnmarshalString(fq.messages[0], &decoded); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if decoded.Task.StartDate.String() != "2024-02-01" || decoded.Type != domain.EventTaskAppended || decoded.Actor != "auth0|1" {
		t.Fatalf("unexpected envelope: %+v", decoded)
	}
}

func TestEventQueuePublishWrapsError(t *testing.T) {
	boom := errors.New("queue down")
	q := &EventQueue{queue: &fakeQueue{err: boom}}
	if err := q.Publish(context.Background(), domain.TaskEvent{ID: "x", Type: domain.EventTaskAppended}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
