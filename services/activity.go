package services

import (
	"context"
	"sort"

	"github.com/weavehq/go-store-kit/logging"
	"github.com/weavehq/go-store-kit/storekit"
)

// ActivityLogService manages the activity_logs collection and implements
// ActivityRecorder. It takes no dispatcher: recording an activity is not
// itself an activity.
type ActivityLogService struct {
	*Service[*ActivityLog]
}

var _ ActivityRecorder = (*ActivityLogService)(nil)

func NewActivityLogService(manager *storekit.Manager, logger *logging.Logger) *ActivityLogService {
	return &ActivityLogService{
		Service: NewService[*ActivityLog](KeyActivityLogs, manager, nil, logger),
	}
}

// Record persists one activity event. Called from the dispatcher's drain
// goroutine, hence the background context.
func (s *ActivityLogService) Record(event ActivityEvent) error {
	_, err := s.Create(context.Background(), &ActivityLog{
		EntityType: event.Entity,
		EntityID:   event.EntityID,
		Action:     string(event.Action),
	})
	return err
}

// GetByEntity returns the activity trail for one record.
func (s *ActivityLogService) GetByEntity(ctx context.Context, entityType, entityID string) ([]*ActivityLog, error) {
	return s.Find(ctx, func(a *ActivityLog) bool {
		return a.EntityType == entityType && a.EntityID == entityID
	})
}

// GetRecent returns up to limit entries, newest first.
func (s *ActivityLogService) GetRecent(ctx context.Context, limit int) ([]*ActivityLog, error) {
	items, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt > items[j].CreatedAt
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
