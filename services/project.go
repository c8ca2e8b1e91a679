package services

import (
	"context"
	"fmt"

	storeErrors "github.com/weavehq/go-store-kit/errors"
	"github.com/weavehq/go-store-kit/logging"
	"github.com/weavehq/go-store-kit/storekit"
)

// ProjectService manages the projects collection.
type ProjectService struct {
	*Service[*Project]
}

func NewProjectService(manager *storekit.Manager, dispatcher *Dispatcher, logger *logging.Logger) *ProjectService {
	return &ProjectService{
		Service: NewService[*Project](KeyProjects, manager, dispatcher, logger),
	}
}

// UpdateStatus moves the project through its lifecycle, rejecting illegal
// transitions. Returns nil when the project does not exist.
func (s *ProjectService) UpdateStatus(ctx context.Context, id, status string) (*Project, error) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}
	if !current.CanTransition(status) {
		return nil, storeErrors.NewValidationError(storeErrors.OpSet, KeyProjects,
			fmt.Errorf("cannot move project from %q to %q", current.Status, status))
	}

	return s.Update(ctx, id, func(p *Project) {
		p.Status = status
		if status == ProjectCompleted {
			p.Progress = 100
		}
	})
}

// AddTag appends a tag if not already present.
func (s *ProjectService) AddTag(ctx context.Context, id, tag string) (*Project, error) {
	if tag == "" {
		return nil, storeErrors.NewValidationError(storeErrors.OpSet, KeyProjects,
			fmt.Errorf("tag must not be empty"))
	}
	return s.Update(ctx, id, func(p *Project) {
		for _, t := range p.Tags {
			if t == tag {
				return
			}
		}
		p.Tags = append(p.Tags, tag)
	})
}

// RemoveTag drops a tag; removing an absent tag is a no-op.
func (s *ProjectService) RemoveTag(ctx context.Context, id, tag string) (*Project, error) {
	return s.Update(ctx, id, func(p *Project) {
		kept := p.Tags[:0]
		for _, t := range p.Tags {
			if t != tag {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			p.Tags = nil
			return
		}
		p.Tags = kept
	})
}

// GetByClient returns every project belonging to a client.
func (s *ProjectService) GetByClient(ctx context.Context, clientID string) ([]*Project, error) {
	return s.Find(ctx, func(p *Project) bool { return p.ClientID == clientID })
}

// GetByStatus returns every project in the given status.
func (s *ProjectService) GetByStatus(ctx context.Context, status string) ([]*Project, error) {
	return s.Find(ctx, func(p *Project) bool { return p.Status == status })
}
