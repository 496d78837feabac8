package domain

// TaskStore holds a project's ordered task sequence. List must return a copy.
type TaskStore interface {
	Append(task Task)
	List() []Task
}

// Project is the intake and read side of one task board.
type Project struct {
	id    string
	store TaskStore
	newID func() string
}

// NewProject binds a project id to its store.
func NewProject(id string, store TaskStore) *Project {
	if store == nil {
		panic("domain.NewProject: store is nil")
	}
	return &Project{id: id, store: store, newID: NewTaskID}
}

func (p *Project) ID() string { return p.id }

// AddTask validates in and appends the resulting task. A rejected input
// leaves the store untouched.
func (p *Project) AddTask(in TaskInput) (Task, error) {
	task, err := NewTask(p.newID(), in)
	if err != nil {
		return Task{}, err
	}
	p.store.Append(task)
	return task.Clone(), nil
}

// Tasks returns the tasks in insertion order.
func (p *Project) Tasks() []Task { return p.store.List() }

// Stats recomputes the summary from the current tasks.
func (p *Project) Stats() ProjectStats { return ComputeStats(p.store.List()) }
