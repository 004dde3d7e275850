package tools

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	domainerrors "github.com/modelguard/mcp-guard/pkg/domain/errors"
)

const errorDomain = "tools"

// TaskStore is an in-memory task tracker partitioned by owner. Owners
// only ever see their own tasks.
type TaskStore struct {
	mu      sync.Mutex
	byOwner map[string][]*Task
	byID    map[string]*Task
	now     func() time.Time
}

// NewTaskStore creates an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		byOwner: make(map[string][]*Task),
		byID:    make(map[string]*Task),
		now:     time.Now,
	}
}

// Create adds a task for the owner and returns a copy of it.
func (s *TaskStore) Create(owner, title string) (*Task, error) {
	if owner == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidParameter, errorDomain, "task owner must not be empty", nil)
	}
	if title == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidParameter, errorDomain, "task title must not be empty", nil)
	}

	task := &Task{
		ID:        uuid.NewString(),
		Owner:     owner,
		Title:     title,
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.byOwner[owner] = append(s.byOwner[owner], task)
	s.byID[task.ID] = task
	s.mu.Unlock()

	copied := *task
	return &copied, nil
}

// List returns the owner's tasks in creation order.
func (s *TaskStore) List(owner string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.byOwner[owner]))
	for _, task := range s.byOwner[owner] {
		out = append(out, *task)
	}
	return out
}

// Complete marks a task done. Completing a task twice is a no-op that
// keeps the first completion time. Tasks of other owners are reported
// as unknown.
func (s *TaskStore) Complete(owner, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.byID[id]
	if !ok || task.Owner != owner {
		return nil, domainerrors.New(domainerrors.CodeNotFound, errorDomain, fmt.Sprintf("task %s not found", id), nil)
	}

	if !task.Done {
		task.Done = true
		at := s.now().UTC()
		task.CompletedAt = &at
	}

	copied := *task
	return &copied, nil
}

// Count returns how many tasks the owner has.
func (s *TaskStore) Count(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byOwner[owner])
}
