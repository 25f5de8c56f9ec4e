package task

import (
	"context"
	"testing"
	"time"

	"github.com/studysync/backend/core"
	"github.com/studysync/backend/core/course"
	"github.com/studysync/backend/core/user"
	"github.com/studysync/backend/storage/store"
	inmemdb "github.com/studysync/backend/storage/store/inmem"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

var (
	alice = user.Session{UID: "alice", DisplayName: "Alice", EmailVerified: true}
	bob   = user.Session{UID: "bob", DisplayName: "Bob", EmailVerified: true}
)

func setup(t *testing.T) (*Service, *course.Service, store.Store) {
	t.Helper()
	db := inmemdb.NewDB()
	t.Cleanup(func() { _ = db.Close() })
	courseSvc := course.NewService(db, nopLogger{})
	return NewService(db, courseSvc, nopLogger{}), courseSvc, db
}

func Test_Service_Create(t *testing.T) {
	svc, courseSvc, _ := setup(t)
	ctx := context.Background()

	crs, err := courseSvc.Create(ctx, alice, course.NewCourse{Name: "CS101"})
	if err != nil {
		t.Fatalf("course Create() failed: %v", err)
	}

	t.Run("non-member is denied", func(t *testing.T) {
		_, err := svc.Create(ctx, bob, NewTask{CourseID: crs.ID, Title: "HW1", Priority: PriorityHigh, Status: StatusPending})
		if !core.IsPermission(err) {
			t.Fatalf("Create() error = %v; want PermissionError", err)
		}
	})

	t.Run("member creates", func(t *testing.T) {
		if _, err := courseSvc.Join(ctx, bob, crs.ID); err != nil {
			t.Fatalf("Join() failed: %v", err)
		}
		tsk, err := svc.Create(ctx, bob, NewTask{CourseID: crs.ID, Title: "HW1", Priority: PriorityHigh, Status: StatusPending})
		if err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
		if tsk.ID == "" {
			t.Error("Create() did not assign an id")
		}
		if tsk.CreatedBy != bob.UID {
			t.Errorf("Create() createdBy = %s; want bob", tsk.CreatedBy)
		}
		if tsk.CreatedAt.IsZero() || !tsk.UpdatedAt.Equal(tsk.CreatedAt) {
			t.Error("Create() must stamp createdAt and updatedAt to the same instant")
		}
		if tsk.DueDate != nil {
			t.Error("Create() without due date must keep it unset")
		}
	})
}

func Test_Service_Update(t *testing.T) {
	svc, courseSvc, db := setup(t)
	ctx := context.Background()

	crs, _ := courseSvc.Create(ctx, alice, course.NewCourse{Name: "CS101"})
	due := time.Now().Add(48 * time.Hour).UTC()
	tsk, err := svc.Create(ctx, alice, NewTask{
		CourseID: crs.ID, Title: "HW1", Description: "read ch. 3",
		DueDate: &due, Priority: PriorityLow, Status: StatusPending,
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	t.Run("non-member is denied", func(t *testing.T) {
		_, err := svc.Update(ctx, bob, tsk.ID, NewTask{CourseID: crs.ID, Title: "HW1", Priority: PriorityLow, Status: StatusPending})
		if !core.IsPermission(err) {
			t.Fatalf("Update() error = %v; want PermissionError", err)
		}
	})

	t.Run("clearing optionals removes the fields", func(t *testing.T) {
		updated, err := svc.Update(ctx, alice, tsk.ID, NewTask{
			CourseID: crs.ID, Title: "HW1 revised", Priority: PriorityHigh, Status: StatusPending,
		})
		if err != nil {
			t.Fatalf("Update() failed: %v", err)
		}
		if updated.DueDate != nil || updated.Description != "" {
			t.Error("Update() kept cleared optional attributes")
		}

		doc, err := db.Get(ctx, store.Tasks, tsk.ID)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if _, ok := doc.Data["dueDate"]; ok {
			t.Error("cleared dueDate still present in the stored document")
		}
		if _, ok := doc.Data["description"]; ok {
			t.Error("cleared description still present in the stored document")
		}
	})
}

func Test_Service_Toggle(t *testing.T) {
	svc, courseSvc, _ := setup(t)
	ctx := context.Background()

	crs, _ := courseSvc.Create(ctx, alice, course.NewCourse{Name: "CS101"})
	tsk, err := svc.Create(ctx, alice, NewTask{CourseID: crs.ID, Title: "HW1", Priority: PriorityMedium, Status: StatusPending})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	t.Run("flips pending to completed and back", func(t *testing.T) {
		toggled, err := svc.Toggle(ctx, alice, tsk.ID)
		if err != nil {
			t.Fatalf("Toggle() failed: %v", err)
		}
		if toggled.Status != StatusCompleted {
			t.Errorf("Toggle() status = %s; want %s", toggled.Status, StatusCompleted)
		}

		toggled, err = svc.Toggle(ctx, alice, tsk.ID)
		if err != nil {
			t.Fatalf("second Toggle() failed: %v", err)
		}
		if toggled.Status != StatusPending {
			t.Errorf("second Toggle() status = %s; want %s", toggled.Status, StatusPending)
		}
	})

	t.Run("former member is denied", func(t *testing.T) {
		if _, err := courseSvc.Join(ctx, bob, crs.ID); err != nil {
			t.Fatalf("Join() failed: %v", err)
		}
		if _, err := svc.Toggle(ctx, bob, tsk.ID); err != nil {
			t.Fatalf("member Toggle() failed: %v", err)
		}

		if err := courseSvc.Leave(ctx, bob, crs.ID); err != nil {
			t.Fatalf("Leave() failed: %v", err)
		}
		if _, err := svc.Toggle(ctx, bob, tsk.ID); !core.IsPermission(err) {
			t.Fatalf("Toggle() after Leave() error = %v; want PermissionError", err)
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		if _, err := svc.Toggle(ctx, alice, "nope"); !core.IsNotFound(err) {
			t.Errorf("Toggle() error = %v; want NotFoundError", err)
		}
	})
}

func Test_Service_Delete(t *testing.T) {
	svc, courseSvc, _ := setup(t)
	ctx := context.Background()

	crs, _ := courseSvc.Create(ctx, alice, course.NewCourse{Name: "CS101"})
	tsk, _ := svc.Create(ctx, alice, NewTask{CourseID: crs.ID, Title: "HW1", Priority: PriorityLow, Status: StatusPending})

	if err := svc.Delete(ctx, bob, tsk.ID); !core.IsPermission(err) {
		t.Fatalf("Delete() error = %v; want PermissionError", err)
	}
	if err := svc.Delete(ctx, alice, tsk.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := svc.GetByID(ctx, tsk.ID); !core.IsNotFound(err) {
		t.Errorf("GetByID() after Delete() error = %v; want NotFoundError", err)
	}
}

func Test_Service_QueryByCourses(t *testing.T) {
	svc, courseSvc, _ := setup(t)
	ctx := context.Background()

	crs1, _ := courseSvc.Create(ctx, alice, course.NewCourse{Name: "CS101"})
	crs2, _ := courseSvc.Create(ctx, alice, course.NewCourse{Name: "CS102"})
	_, _ = svc.Create(ctx, alice, NewTask{CourseID: crs1.ID, Title: "a", Priority: PriorityLow, Status: StatusPending})
	_, _ = svc.Create(ctx, alice, NewTask{CourseID: crs2.ID, Title: "b", Priority: PriorityLow, Status: StatusPending})

	t.Run("empty course set skips the store", func(t *testing.T) {
		tasks, err := svc.QueryByCourses(ctx, nil)
		if err != nil {
			t.Fatalf("QueryByCourses() failed: %v", err)
		}
		if len(tasks) != 0 {
			t.Errorf("QueryByCourses(nil) returned %d tasks; want 0", len(tasks))
		}
	})

	t.Run("scoped to the given courses", func(t *testing.T) {
		tasks, err := svc.QueryByCourses(ctx, []string{crs1.ID})
		if err != nil {
			t.Fatalf("QueryByCourses() failed: %v", err)
		}
		if len(tasks) != 1 || tasks[0].Title != "a" {
			t.Errorf("QueryByCourses() = %v; want single task titled a", tasks)
		}
	})
}
