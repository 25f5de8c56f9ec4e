package task

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/studysync/backend/core"
	"github.com/studysync/backend/core/user"
	"github.com/studysync/backend/storage/store"
)

// Permission messages surfaced to the user.
var (
	errNoCreatePerm = "you don't have permission to add tasks to this course"
	errNoEditPerm   = "you don't have permission to edit tasks in this course"
	errNoModifyPerm = "you don't have permission to modify this task"
	errNoDeletePerm = "you don't have permission to delete this task"
)

// MembershipChecker reports whether a user belongs to a course. Satisfied by
// course.Service.
type MembershipChecker interface {
	IsMember(ctx context.Context, courseID, userID string) (bool, error)
}

// Service owns the "tasks" collection. Every mutation is gated on the caller's
// membership in the task's course.
type Service struct {
	db      store.Store
	members MembershipChecker
	logger  core.Logger
}

func NewService(db store.Store, members MembershipChecker, logger core.Logger) *Service {
	return &Service{db: db, members: members, logger: logger}
}

// Create validates, checks membership on the target course and writes the task
// with createdAt/updatedAt stamped to the current instant.
func (svc *Service) Create(ctx context.Context, sess user.Session, nt NewTask) (Task, error) {
	if err := svc.requireMembership(ctx, sess, nt.CourseID, errNoCreatePerm); err != nil {
		return Task{}, err
	}

	now := time.Now().UTC()
	t := Task{
		CourseID:    nt.CourseID,
		Title:       nt.Title,
		Description: nt.Description,
		DueDate:     nt.DueDate,
		Priority:    nt.Priority,
		AssignedTo:  nt.AssignedTo,
		Status:      nt.Status,
		CreatedBy:   sess.UID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	id, err := svc.db.Add(ctx, store.Tasks, t.Fields())
	if err != nil {
		return Task{}, core.NewStoreError("creating task", err)
	}
	t.ID = id
	return t, nil
}

// Update replaces the mutable attributes of an existing task and stamps
// updatedAt. The caller must be a member of the (possibly re-targeted) course.
func (svc *Service) Update(ctx context.Context, sess user.Session, id string, nt NewTask) (Task, error) {
	if err := svc.requireMembership(ctx, sess, nt.CourseID, errNoEditPerm); err != nil {
		return Task{}, err
	}

	t, err := svc.GetByID(ctx, id)
	if err != nil {
		return Task{}, err
	}

	t.CourseID = nt.CourseID
	t.Title = nt.Title
	t.Description = nt.Description
	t.DueDate = nt.DueDate
	t.Priority = nt.Priority
	t.AssignedTo = nt.AssignedTo
	t.Status = nt.Status
	t.UpdatedAt = time.Now().UTC()

	// full Set rather than a partial update: cleared optional fields must be
	// removed from the document, not merged over
	if err = svc.db.Set(ctx, store.Tasks, t.ID, t.Fields()); err != nil {
		return Task{}, core.NewStoreError("updating task", err)
	}
	return t, nil
}

// Toggle flips a task between pending and completed; no other status value is
// ever produced.
func (svc *Service) Toggle(ctx context.Context, sess user.Session, id string) (Task, error) {
	t, err := svc.GetByID(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if err = svc.requireMembership(ctx, sess, t.CourseID, errNoModifyPerm); err != nil {
		return Task{}, err
	}

	if t.Status == StatusCompleted {
		t.Status = StatusPending
	} else {
		t.Status = StatusCompleted
	}
	t.UpdatedAt = time.Now().UTC()

	err = svc.db.Update(ctx, store.Tasks, t.ID, store.Fields{
		"status":    t.Status,
		"updatedAt": t.UpdatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return Task{}, core.NewStoreError("toggling task", err)
	}
	return t, nil
}

func (svc *Service) Delete(ctx context.Context, sess user.Session, id string) error {
	t, err := svc.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.requireMembership(ctx, sess, t.CourseID, errNoDeletePerm); err != nil {
		return err
	}

	if err = svc.db.Delete(ctx, store.Tasks, t.ID); err != nil {
		return core.NewStoreError("deleting task", err)
	}
	return nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Task, error) {
	doc, err := svc.db.Get(ctx, store.Tasks, id)
	if err != nil {
		if errors.Cause(err) == store.ErrNotFound {
			return Task{}, core.NewNotFoundError("task")
		}
		return Task{}, core.NewStoreError("getting task", err)
	}
	return FromDoc(doc), nil
}

// QueryByCourses returns all tasks of the given courses. An empty course set
// yields an empty result without touching the store.
func (svc *Service) QueryByCourses(ctx context.Context, courseIDs []string) ([]Task, error) {
	if len(courseIDs) == 0 {
		return []Task{}, nil
	}
	docs, err := svc.db.GetAll(ctx, store.NewQuery(store.Tasks).WhereIn("courseId", courseIDs))
	if err != nil {
		return nil, core.NewStoreError("querying tasks", err)
	}
	tasks := make([]Task, 0, len(docs))
	for _, doc := range docs {
		tasks = append(tasks, FromDoc(doc))
	}
	return tasks, nil
}

func (svc *Service) requireMembership(ctx context.Context, sess user.Session, courseID, denyMsg string) error {
	ok, err := svc.members.IsMember(ctx, courseID, sess.UID)
	if err != nil {
		return err
	}
	if !ok {
		return core.NewPermissionError(denyMsg)
	}
	return nil
}
