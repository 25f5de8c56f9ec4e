package task

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/studysync/backend/core"
	"github.com/studysync/backend/storage/store"
)

// Priorities
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

var (
	Priorities = []string{PriorityLow, PriorityMedium, PriorityHigh}
	Statuses   = []string{StatusPending, StatusCompleted}

	// priorityOrder sorts high before medium before low.
	priorityOrder = map[string]int{
		PriorityHigh:   0,
		PriorityMedium: 1,
		PriorityLow:    2,
	}
)

type Task struct {
	ID          string     `json:"id"`
	CourseID    string     `json:"courseId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Priority    string     `json:"priority"`
	AssignedTo  string     `json:"assignedTo,omitempty"` // free-text name, not a user reference
	Status      string     `json:"status"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"` // UTC
	UpdatedAt   time.Time  `json:"updatedAt"` // UTC
}

// Fields returns the document stored in the "tasks" collection. Unset optional
// attributes are omitted entirely; the store rejects null-valued fields.
func (t Task) Fields() store.Fields {
	f := store.Fields{
		"courseId":  t.CourseID,
		"title":     t.Title,
		"priority":  t.Priority,
		"status":    t.Status,
		"createdBy": t.CreatedBy,
		"createdAt": t.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt": t.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if t.Description != "" {
		f["description"] = t.Description
	}
	if t.DueDate != nil {
		f["dueDate"] = t.DueDate.UTC().Format(time.RFC3339)
	}
	if t.AssignedTo != "" {
		f["assignedTo"] = t.AssignedTo
	}
	return f
}

func FromDoc(doc store.Document) Task {
	t := Task{ID: doc.ID}
	t.CourseID, _ = doc.Data["courseId"].(string)
	t.Title, _ = doc.Data["title"].(string)
	t.Description, _ = doc.Data["description"].(string)
	t.Priority, _ = doc.Data["priority"].(string)
	t.AssignedTo, _ = doc.Data["assignedTo"].(string)
	t.Status, _ = doc.Data["status"].(string)
	t.CreatedBy, _ = doc.Data["createdBy"].(string)
	if ts, ok := doc.Data["dueDate"].(string); ok {
		if due, err := time.Parse(time.RFC3339, ts); err == nil {
			t.DueDate = &due
		}
	}
	if ts, ok := doc.Data["createdAt"].(string); ok {
		t.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	if ts, ok := doc.Data["updatedAt"].(string); ok {
		t.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return t
}

// NewTask contains information needed to create or replace a Task.
type NewTask struct {
	CourseID    string     `json:"courseId" validate:"required"`
	Title       string     `json:"title" validate:"required"`
	Description string     `json:"description" validate:"omitempty,max=1000"`
	DueDate     *time.Time `json:"dueDate" validate:"omitempty"`
	Priority    string     `json:"priority" validate:"required,oneof=low medium high"`
	AssignedTo  string     `json:"assignedTo" validate:"omitempty"`
	Status      string     `json:"status" validate:"omitempty,oneof=pending completed"`
}

func (nt *NewTask) Validate(validate *validator.Validate) error {
	nt.Title = core.CleanString(nt.Title)
	nt.Description = core.CleanString(nt.Description)
	nt.AssignedTo = core.CleanString(nt.AssignedTo)
	if nt.Status == "" {
		nt.Status = StatusPending
	}
	return validate.Struct(nt)
}
