package services

import (
	"context"
	"time"

	"github.com/weavehq/go-store-kit/logging"
	"github.com/weavehq/go-store-kit/storekit"
)

// TaskService manages the tasks collection.
type TaskService struct {
	*Service[*Task]
}

func NewTaskService(manager *storekit.Manager, dispatcher *Dispatcher, logger *logging.Logger) *TaskService {
	return &TaskService{
		Service: NewService[*Task](KeyTasks, manager, dispatcher, logger),
	}
}

// GetByProject returns every task attached to a project.
func (s *TaskService) GetByProject(ctx context.Context, projectID string) ([]*Task, error) {
	return s.Find(ctx, func(t *Task) bool { return t.ProjectID == projectID })
}

// Complete marks a task completed and stamps CompletedAt. Returns nil when
// the task does not exist.
func (s *TaskService) Complete(ctx context.Context, id string) (*Task, error) {
	return s.Update(ctx, id, func(t *Task) {
		t.Status = TaskCompleted
		t.CompletedAt = s.now().UTC().Format(time.RFC3339)
	})
}

// GetOverdue returns tasks whose due date has passed and which are neither
// completed nor cancelled.
func (s *TaskService) GetOverdue(ctx context.Context, now time.Time) ([]*Task, error) {
	return s.Find(ctx, func(t *Task) bool {
		if t.DueDate == "" || t.Status == TaskCompleted || t.Status == TaskCancelled {
			return false
		}
		due, err := time.Parse(time.RFC3339, t.DueDate)
		if err != nil {
			return false
		}
		return due.Before(now)
	})
}
