package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/studysync/backend/core/course"
	"github.com/studysync/backend/core/task"
	"github.com/studysync/backend/core/user"
	"github.com/studysync/backend/storage/store"
)

// ResetDB wipes all app collections so tests start from a clean store.
func ResetDB(t *testing.T, db store.Store) {
	t.Helper()

	ctx := context.Background()
	for _, collection := range []string{store.Users, store.Courses, store.CourseMembers, store.Tasks, store.PendingOps} {
		docs, err := db.GetAll(ctx, store.NewQuery(collection))
		if err != nil {
			t.Fatalf("ResetDB() failed: %v", err)
		}
		for _, doc := range docs {
			if err = db.Delete(ctx, collection, doc.ID); err != nil {
				t.Fatalf("ResetDB() failed: %v", err)
			}
		}
	}
}

func CreateUser(
	t *testing.T,
	db store.Store,
	name, email, pwd string,
	verified bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Email:         email,
		DisplayName:   name,
		EmailVerified: verified,
		CreatedAt:     tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	id, err := db.Add(context.Background(), store.Users, usr.Fields())
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	usr.ID = id
	return usr
}

// CreateCourse writes a course document plus its owner membership row,
// mirroring what course creation produces.
func CreateCourse(t *testing.T, db store.Store, name string, owner user.User) course.Course {
	t.Helper()

	ctx := context.Background()
	crs := course.Course{
		ID:          uuid.NewString(),
		Name:        name,
		CreatedBy:   owner.ID,
		CreatorName: owner.DisplayName,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.Set(ctx, store.Courses, crs.ID, crs.Fields()); err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}

	member := course.CourseMember{
		ID:       course.MemberID(crs.ID, owner.ID),
		CourseID: crs.ID,
		UserID:   owner.ID,
		Role:     course.RoleOwner,
		JoinedAt: crs.CreatedAt,
	}
	if err := db.Set(ctx, store.CourseMembers, member.ID, member.Fields()); err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	return crs
}

// JoinCourse writes a plain membership row for an existing course.
func JoinCourse(t *testing.T, db store.Store, crs course.Course, usr user.User) course.CourseMember {
	t.Helper()

	member := course.CourseMember{
		ID:       course.MemberID(crs.ID, usr.ID),
		CourseID: crs.ID,
		UserID:   usr.ID,
		Role:     course.RoleMember,
		JoinedAt: time.Now().UTC(),
	}
	if err := db.Set(context.Background(), store.CourseMembers, member.ID, member.Fields()); err != nil {
		t.Fatalf("JoinCourse() failed: %v", err)
	}
	return member
}

func CreateTask(
	t *testing.T,
	db store.Store,
	courseID, title, priority, status string,
	dueDate *time.Time,
	createdBy string,
) task.Task {
	t.Helper()

	tstamp := time.Now().UTC()
	tsk := task.Task{
		CourseID:  courseID,
		Title:     title,
		DueDate:   dueDate,
		Priority:  priority,
		Status:    status,
		CreatedBy: createdBy,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	id, err := db.Add(context.Background(), store.Tasks, tsk.Fields())
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	tsk.ID = id
	return tsk
}
