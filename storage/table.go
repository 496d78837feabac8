package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"siteplan/domain"
)

// Persister saves and restores a project's whole task sequence.
type Persister interface {
	SaveAll(ctx context.Context, tasks []domain.Task) error
	LoadAll(ctx context.Context) ([]domain.Task, error)
}

type tableClient interface {
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

// TableStore persists tasks in Azure Table Storage, one partition per project.
type TableStore struct {
	table     tableClient
	projectID string
}

// NewTableStore connects to tableName using the storage connection string.
func NewTableStore(connStr, tableName, projectID string) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return newTableStore(svc.NewClient(tableName), projectID), nil
}

func newTableStore(client tableClient, projectID string) *TableStore {
	return &TableStore{table: client, projectID: projectID}
}

const edmInt64 = "Edm.Int64"

type taskEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Name         string `json:"Name"`
	StartDate    string `json:"StartDate"`
	Duration     int    `json:"Duration"`
	Progress     int    `json:"Progress"`
	Category     string `json:"Category"`
	Manager      string `json:"Manager"`
	// Tables have no array type; the ids are kept as a JSON array string.
	Dependencies string `json:"Dependencies"`
	Seq          int64  `json:"Seq,string"`
	SeqType      string `json:"Seq@odata.type"`
}

func encodeTaskEntity(projectID string, seq int64, t domain.Task) ([]byte, error) {
	deps := t.Dependencies
	if deps == nil {
		deps = []string{}
	}
	depsJSON, err := sonic.MarshalString(deps)
	if err != nil {
		return nil, err
	}
	return sonic.ConfigStd.Marshal(taskEntity{
		PartitionKey: projectID,
		RowKey:       t.ID,
		Name:         t.Name,
		StartDate:    t.StartDate.String(),
		Duration:     t.Duration,
		Progress:     t.Progress,
		Category:     t.Category,
		Manager:      t.Manager,
		Dependencies: depsJSON,
		Seq:          seq,
		SeqType:      edmInt64,
	})
}

func decodeTaskEntity(data []byte) (taskEntity, domain.Task, error) {
	var ent taskEntity
	if err := sonic.ConfigStd.Unmarshal(data, &ent); err != nil {
		return taskEntity{}, domain.Task{}, err
	}
	var start domain.Date
	if err := start.UnmarshalText([]byte(ent.StartDate)); err != nil {
		return taskEntity{}, domain.Task{}, fmt.Errorf("task %s: %w", ent.RowKey, err)
	}
	deps := []string{}
	if ent.Dependencies != "" {
		if err := sonic.UnmarshalString(ent.Dependencies, &deps); err != nil {
			return taskEntity{}, domain.Task{}, fmt.Errorf("task %s dependencies: %w", ent.RowKey, err)
		}
	}
	return ent, domain.Task{
		ID:           ent.RowKey,
		Name:         ent.Name,
		StartDate:    start,
		Duration:     ent.Duration,
		Progress:     ent.Progress,
		Category:     ent.Category,
		Manager:      ent.Manager,
		Dependencies: deps,
	}, nil
}

// LoadAll reads the project's tasks back in their saved order.
func (s *TableStore) LoadAll(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	tasks := make([]domain.Task, len(rows))
	for i, r := range rows {
		tasks[i] = r.task
	}
	return tasks, nil
}

// SaveAll replaces the stored sequence with tasks: every task is upserted in
// order and rows that are no longer present are removed.
func (s *TableStore) SaveAll(ctx context.Context, tasks []domain.Task) error {
	existing, err := s.list(ctx)
	if err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(tasks))
	upsert := &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}
	for i, t := range tasks {
		payload, err := encodeTaskEntity(s.projectID, int64(i), t)
		if err != nil {
			return err
		}
		if _, err := s.table.UpsertEntity(ctx, payload, upsert); err != nil {
			return fmt.Errorf("upsert task %s: %w", t.ID, err)
		}
		keep[t.ID] = struct{}{}
	}
	for _, r := range existing {
		if _, ok := keep[r.task.ID]; ok {
			continue
		}
		if _, err := s.table.DeleteEntity(ctx, s.projectID, r.task.ID, nil); err != nil {
			var respErr *azcore.ResponseError
			if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
				continue
			}
			return fmt.Errorf("delete task %s: %w", r.task.ID, err)
		}
	}
	return nil
}

type storedTask struct {
	seq  int64
	task domain.Task
}

func (s *TableStore) list(ctx context.Context) ([]storedTask, error) {
	filter := "PartitionKey eq '" + strings.ReplaceAll(s.projectID, "'", "''") + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var rows []storedTask
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			ent, task, err := decodeTaskEntity(raw)
			if err != nil {
				return nil, err
			}
			rows = append(rows, storedTask{seq: ent.Seq, task: task})
		}
	}
	return rows, nil
}
