package services

import (
	"fmt"
	"strings"
)

// Collection keys.
const (
	KeyProjects     = "projects"
	KeyClients      = "clients"
	KeyDocuments    = "documents"
	KeyTasks        = "tasks"
	KeyActivityLogs = "activity_logs"
)

// Project statuses.
const (
	ProjectPlanning   = "planning"
	ProjectInProgress = "in_progress"
	ProjectReview     = "review"
	ProjectCompleted  = "completed"
	ProjectOnHold     = "on_hold"
	ProjectCancelled  = "cancelled"
)

var projectStatuses = []string{
	ProjectPlanning, ProjectInProgress, ProjectReview,
	ProjectCompleted, ProjectOnHold, ProjectCancelled,
}

// projectTransitions defines the legal status moves. Completed and cancelled
// are terminal.
var projectTransitions = map[string][]string{
	ProjectPlanning:   {ProjectInProgress, ProjectOnHold, ProjectCancelled},
	ProjectInProgress: {ProjectReview, ProjectOnHold, ProjectCancelled},
	ProjectReview:     {ProjectCompleted, ProjectInProgress, ProjectOnHold, ProjectCancelled},
	ProjectOnHold:     {ProjectPlanning, ProjectInProgress, ProjectCancelled},
}

// Project is a client engagement with budget and progress tracking.
type Project struct {
	Meta

	ClientID    string `json:"clientId,omitempty"`
	No          string `json:"no,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Status   string `json:"status"`
	Progress int    `json:"progress"`

	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`

	TotalAmount float64 `json:"totalAmount,omitempty"`
	Currency    string  `json:"currency,omitempty"`

	Tags []string `json:"tags,omitempty"`
}

func (p *Project) EntityMeta() *Meta { return &p.Meta }

func (p *Project) Validate() error {
	if err := requireNonEmpty("name", p.Name); err != nil {
		return err
	}
	if err := requireOneOf("status", p.Status, projectStatuses); err != nil {
		return err
	}
	if p.Progress < 0 || p.Progress > 100 {
		return fmt.Errorf("progress must be within 0-100, got %d", p.Progress)
	}
	if p.TotalAmount < 0 {
		return fmt.Errorf("totalAmount must not be negative")
	}
	return nil
}

// CanTransition reports whether the project may move to the given status.
func (p *Project) CanTransition(status string) bool {
	for _, next := range projectTransitions[p.Status] {
		if next == status {
			return true
		}
	}
	return false
}

// Client is a customer record.
type Client struct {
	Meta

	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`

	Industry string   `json:"industry,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Notes    string   `json:"notes,omitempty"`

	// Rating is 1-5, 0 when unrated.
	Rating int `json:"rating,omitempty"`
}

func (c *Client) EntityMeta() *Meta { return &c.Meta }

func (c *Client) Validate() error {
	if err := requireNonEmpty("name", c.Name); err != nil {
		return err
	}
	if c.Email != "" && !strings.Contains(c.Email, "@") {
		return fmt.Errorf("email %q is not an address", c.Email)
	}
	if c.Rating < 0 || c.Rating > 5 {
		return fmt.Errorf("rating must be within 1-5, got %d", c.Rating)
	}
	return nil
}

// Document types and statuses.
const (
	DocContract = "contract"
	DocInvoice  = "invoice"
	DocEstimate = "estimate"
	DocReport   = "report"
	DocEtc      = "etc"

	DocDraft    = "draft"
	DocSent     = "sent"
	DocApproved = "approved"
	DocDone     = "completed"
	DocArchived = "archived"
)

var documentTypes = []string{DocContract, DocInvoice, DocEstimate, DocReport, DocEtc}
var documentStatuses = []string{DocDraft, DocSent, DocApproved, DocDone, DocArchived}

// Document is a generated or uploaded project document.
type Document struct {
	Meta

	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Content   string `json:"content,omitempty"`
}

func (d *Document) EntityMeta() *Meta { return &d.Meta }

func (d *Document) Validate() error {
	if err := requireNonEmpty("projectId", d.ProjectID); err != nil {
		return err
	}
	if err := requireNonEmpty("name", d.Name); err != nil {
		return err
	}
	if err := requireOneOf("type", d.Type, documentTypes); err != nil {
		return err
	}
	return requireOneOf("status", d.Status, documentStatuses)
}

// Task statuses and priorities.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskCancelled  = "cancelled"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

var taskStatuses = []string{TaskPending, TaskInProgress, TaskCompleted, TaskCancelled}
var taskPriorities = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// Task is a unit of project work.
type Task struct {
	Meta

	ProjectID   string `json:"projectId,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	Status   string `json:"status"`
	Priority string `json:"priority"`

	DueDate     string `json:"dueDate,omitempty"`
	CompletedAt string `json:"completedAt,omitempty"`
}

func (t *Task) EntityMeta() *Meta { return &t.Meta }

func (t *Task) Validate() error {
	if err := requireNonEmpty("title", t.Title); err != nil {
		return err
	}
	if err := requireOneOf("status", t.Status, taskStatuses); err != nil {
		return err
	}
	return requireOneOf("priority", t.Priority, taskPriorities)
}

// ActivityLog records one mutation against another entity.
type ActivityLog struct {
	Meta

	EntityType  string         `json:"entityType"`
	EntityID    string         `json:"entityId"`
	Action      string         `json:"action"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (a *ActivityLog) EntityMeta() *Meta { return &a.Meta }

func (a *ActivityLog) Validate() error {
	if err := requireNonEmpty("entityType", a.EntityType); err != nil {
		return err
	}
	if err := requireNonEmpty("entityId", a.EntityID); err != nil {
		return err
	}
	return requireNonEmpty("action", a.Action)
}
