package services

import (
	"context"
	"strings"

	"github.com/weavehq/go-store-kit/logging"
	"github.com/weavehq/go-store-kit/storekit"
)

// ClientService manages the clients collection.
type ClientService struct {
	*Service[*Client]
}

func NewClientService(manager *storekit.Manager, dispatcher *Dispatcher, logger *logging.Logger) *ClientService {
	return &ClientService{
		Service: NewService[*Client](KeyClients, manager, dispatcher, logger),
	}
}

// GetByEmail returns the client with the given email, case-insensitive, or
// nil when absent.
func (s *ClientService) GetByEmail(ctx context.Context, email string) (*Client, error) {
	return s.FindOne(ctx, func(c *Client) bool {
		return strings.EqualFold(c.Email, email)
	})
}

// Search matches the query against name and company, case-insensitive.
func (s *ClientService) Search(ctx context.Context, query string) ([]*Client, error) {
	q := strings.ToLower(query)
	return s.Find(ctx, func(c *Client) bool {
		return strings.Contains(strings.ToLower(c.Name), q) ||
			strings.Contains(strings.ToLower(c.Company), q)
	})
}
