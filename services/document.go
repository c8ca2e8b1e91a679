package services

import (
	"context"
	"fmt"

	storeErrors "github.com/weavehq/go-store-kit/errors"
	"github.com/weavehq/go-store-kit/logging"
	"github.com/weavehq/go-store-kit/storekit"
)

// DocumentService manages the documents collection.
type DocumentService struct {
	*Service[*Document]
}

func NewDocumentService(manager *storekit.Manager, dispatcher *Dispatcher, logger *logging.Logger) *DocumentService {
	return &DocumentService{
		Service: NewService[*Document](KeyDocuments, manager, dispatcher, logger),
	}
}

// GetByProject returns every document attached to a project.
func (s *DocumentService) GetByProject(ctx context.Context, projectID string) ([]*Document, error) {
	return s.Find(ctx, func(d *Document) bool { return d.ProjectID == projectID })
}

// UpdateStatus sets the document status. Returns nil when the document does
// not exist.
func (s *DocumentService) UpdateStatus(ctx context.Context, id, status string) (*Document, error) {
	if err := requireOneOf("status", status, documentStatuses); err != nil {
		return nil, storeErrors.NewValidationError(storeErrors.OpSet, KeyDocuments, err)
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}
	if current.Status == DocArchived {
		return nil, storeErrors.NewValidationError(storeErrors.OpSet, KeyDocuments,
			fmt.Errorf("archived document %q cannot change status", id))
	}

	return s.Update(ctx, id, func(d *Document) {
		d.Status = status
	})
}
