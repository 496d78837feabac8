package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"siteplan/domain"
)

const createTasksSQL = `
CREATE TABLE IF NOT EXISTS tasks (
	project_id TEXT NOT NULL,
	id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	name TEXT NOT NULL,
	start_date TEXT NOT NULL,
	duration INTEGER NOT NULL,
	progress INTEGER NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	manager TEXT NOT NULL DEFAULT '',
	dependencies TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (project_id, id)
);
CREATE INDEX IF NOT EXISTS idx_tasks_project_seq ON tasks(project_id, seq);
`

// SQLiteStore persists tasks in a local SQLite file, one row per task.
type SQLiteStore struct {
	db        *sql.DB
	projectID string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path, projectID string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(createTasksSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db, projectID: projectID}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// LoadAll returns the project's tasks in insertion order.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, start_date, duration, progress, category, manager, dependencies
		FROM tasks WHERE project_id = ? ORDER BY seq`, s.projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		var (
			t         domain.Task
			startDate string
			deps      string
		)
		if err := rows.Scan(&t.ID, &t.Name, &startDate, &t.Duration, &t.Progress, &t.Category, &t.Manager, &deps); err != nil {
			return nil, err
		}
		if t.StartDate, err = domain.ParseDate(startDate); err != nil {
			return nil, fmt.Errorf("task %s: %w", t.ID, err)
		}
		if err := sonic.UnmarshalString(deps, &t.Dependencies); err != nil {
			return nil, fmt.Errorf("task %s dependencies: %w", t.ID, err)
		}
		if t.Dependencies == nil {
			t.Dependencies = []string{}
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SaveAll replaces the project's rows with tasks in one transaction.
func (s *SQLiteStore) SaveAll(ctx context.Context, tasks []domain.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE project_id = ?`, s.projectID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tasks
		(project_id, id, seq, name, start_date, duration, progress, category, manager, dependencies)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, t := range tasks {
		deps := t.Dependencies
		if deps == nil {
			deps = []string{}
		}
		raw, err := sonic.MarshalString(deps)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, s.projectID, t.ID, i, t.Name, t.StartDate.String(),
			t.Duration, t.Progress, t.Category, t.Manager, raw); err != nil {
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}
