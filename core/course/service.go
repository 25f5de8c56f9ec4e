package course

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/studysync/backend/core"
	"github.com/studysync/backend/core/user"
	"github.com/studysync/backend/storage/store"
)

// Permission messages surfaced to the user.
var (
	errNotAMember    = "you are not a member of this course"
	errOwnerLeave    = "course owners cannot leave their courses, delete the course instead"
	errCreatorDelete = "only the course creator can delete the course"
)

// Service owns the "courses" and "courseMembers" collections. Membership and
// ownership are checked against the store before every write; the deterministic
// member id makes each check a single document read.
type Service struct {
	db     store.Store
	logger core.Logger
}

func NewService(db store.Store, logger core.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Create writes the Course and its creator's owner membership. The two writes
// are not atomic; a pending marker brackets them so Reconcile can repair a
// crash between the two.
func (svc *Service) Create(ctx context.Context, sess user.Session, nc NewCourse) (Course, error) {
	now := time.Now().UTC()
	crs := Course{
		ID:          uuid.New().String(),
		Name:        nc.Name,
		Description: nc.Description,
		AccentColor: nc.AccentColor,
		CreatedBy:   sess.UID,
		CreatorName: sess.DisplayName,
		CreatedAt:   now,
	}

	marker := pendingOp{Op: opCreateCourse, CourseID: crs.ID, UserID: sess.UID, CreatedAt: now}
	markerID, err := svc.db.Add(ctx, store.PendingOps, marker.fields())
	if err != nil {
		return Course{}, core.NewStoreError("writing pending marker", err)
	}

	if err = svc.db.Set(ctx, store.Courses, crs.ID, crs.Fields()); err != nil {
		return Course{}, core.NewStoreError("creating course", err)
	}

	owner := CourseMember{
		ID:       MemberID(crs.ID, sess.UID),
		CourseID: crs.ID,
		UserID:   sess.UID,
		Role:     RoleOwner,
		JoinedAt: now,
	}
	if err = svc.db.Set(ctx, store.CourseMembers, owner.ID, owner.Fields()); err != nil {
		return Course{}, core.NewStoreError("creating owner membership", err)
	}

	if err = svc.db.Delete(ctx, store.PendingOps, markerID); err != nil {
		// the sequence completed; a dangling marker is repaired by Reconcile
		svc.logger.Warn(fmt.Sprintf("clearing pending marker: %v", err), err)
	}
	return crs, nil
}

// Join adds a member row with the deterministic id; repeating the call
// overwrites the same row, so joining twice never duplicates. An existing
// owner row is left untouched.
func (svc *Service) Join(ctx context.Context, sess user.Session, courseID string) (CourseMember, error) {
	if _, err := svc.GetByID(ctx, courseID); err != nil {
		return CourseMember{}, err
	}

	if existing, err := svc.Membership(ctx, courseID, sess.UID); err == nil && existing.Role == RoleOwner {
		return existing, nil
	} else if err != nil && !core.IsNotFound(err) {
		return CourseMember{}, err
	}

	m := CourseMember{
		ID:       MemberID(courseID, sess.UID),
		CourseID: courseID,
		UserID:   sess.UID,
		Role:     RoleMember,
		JoinedAt: time.Now().UTC(),
	}
	if err := svc.db.Set(ctx, store.CourseMembers, m.ID, m.Fields()); err != nil {
		return CourseMember{}, core.NewStoreError("joining course", err)
	}
	return m, nil
}

// Leave removes the caller's membership. Owners cannot leave.
func (svc *Service) Leave(ctx context.Context, sess user.Session, courseID string) error {
	m, err := svc.Membership(ctx, courseID, sess.UID)
	if err != nil {
		if core.IsNotFound(err) {
			return core.NewPermissionError(errNotAMember)
		}
		return err
	}
	if m.Role == RoleOwner {
		return core.NewPermissionError(errOwnerLeave)
	}

	if err = svc.db.Delete(ctx, store.CourseMembers, m.ID); err != nil {
		return core.NewStoreError("leaving course", err)
	}
	return nil
}

// Delete removes a course and cascades its tasks and memberships first,
// as a sequence of individual deletes bracketed by a pending marker.
// Only the course creator may delete.
func (svc *Service) Delete(ctx context.Context, sess user.Session, courseID string) error {
	crs, err := svc.GetByID(ctx, courseID)
	if err != nil {
		return err
	}
	if crs.CreatedBy != sess.UID {
		return core.NewPermissionError(errCreatorDelete)
	}

	marker := pendingOp{Op: opDeleteCourse, CourseID: courseID, UserID: sess.UID, CreatedAt: time.Now().UTC()}
	markerID, err := svc.db.Add(ctx, store.PendingOps, marker.fields())
	if err != nil {
		return core.NewStoreError("writing pending marker", err)
	}

	if err = svc.cascadeDelete(ctx, courseID); err != nil {
		return err
	}

	if err = svc.db.Delete(ctx, store.PendingOps, markerID); err != nil {
		svc.logger.Warn(fmt.Sprintf("clearing pending marker: %v", err), err)
	}
	return nil
}

func (svc *Service) cascadeDelete(ctx context.Context, courseID string) error {
	taskDocs, err := svc.db.GetAll(ctx, store.NewQuery(store.Tasks).Where("courseId", courseID))
	if err != nil {
		return core.NewStoreError("querying course tasks", err)
	}
	for _, doc := range taskDocs {
		if err = svc.db.Delete(ctx, store.Tasks, doc.ID); err != nil {
			return core.NewStoreError("deleting task", err)
		}
	}

	memberDocs, err := svc.db.GetAll(ctx, store.NewQuery(store.CourseMembers).Where("courseId", courseID))
	if err != nil {
		return core.NewStoreError("querying course members", err)
	}
	for _, doc := range memberDocs {
		if err = svc.db.Delete(ctx, store.CourseMembers, doc.ID); err != nil {
			return core.NewStoreError("deleting membership", err)
		}
	}

	if err = svc.db.Delete(ctx, store.Courses, courseID); err != nil {
		return core.NewStoreError("deleting course", err)
	}
	return nil
}

// Reconcile repairs half-completed create/delete sequences left behind by a
// crash: a created course missing its owner membership gets one, a partially
// deleted course has its cascade resumed. Returns the number of repaired
// sequences.
func (svc *Service) Reconcile(ctx context.Context) (int, error) {
	docs, err := svc.db.GetAll(ctx, store.NewQuery(store.PendingOps))
	if err != nil {
		return 0, core.NewStoreError("querying pending markers", err)
	}

	var repaired int
	for _, doc := range docs {
		op := pendingOpFromDoc(doc)
		switch op.Op {
		case opCreateCourse:
			if err = svc.reconcileCreate(ctx, op); err != nil {
				return repaired, err
			}
		case opDeleteCourse:
			if err = svc.cascadeDelete(ctx, op.CourseID); err != nil {
				return repaired, err
			}
		default:
			svc.logger.Warn(fmt.Sprintf("unknown pending op %q, dropping marker", op.Op))
		}
		if err = svc.db.Delete(ctx, store.PendingOps, op.ID); err != nil {
			return repaired, core.NewStoreError("clearing pending marker", err)
		}
		repaired++
	}
	return repaired, nil
}

func (svc *Service) reconcileCreate(ctx context.Context, op pendingOp) error {
	crs, err := svc.GetByID(ctx, op.CourseID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil // crashed before the course write, nothing to repair
		}
		return err
	}

	if _, err = svc.Membership(ctx, op.CourseID, op.UserID); err == nil {
		return nil // sequence completed, only the marker was left
	} else if !core.IsNotFound(err) {
		return err
	}

	owner := CourseMember{
		ID:       MemberID(crs.ID, op.UserID),
		CourseID: crs.ID,
		UserID:   op.UserID,
		Role:     RoleOwner,
		JoinedAt: op.CreatedAt,
	}
	if err = svc.db.Set(ctx, store.CourseMembers, owner.ID, owner.Fields()); err != nil {
		return core.NewStoreError("repairing owner membership", err)
	}
	return nil
}

func (svc *Service) GetByID(ctx context.Context, courseID string) (Course, error) {
	doc, err := svc.db.Get(ctx, store.Courses, courseID)
	if err != nil {
		if errors.Cause(err) == store.ErrNotFound {
			return Course{}, core.NewNotFoundError("course")
		}
		return Course{}, core.NewStoreError("getting course", err)
	}
	return FromDoc(doc), nil
}

func (svc *Service) QueryAll(ctx context.Context) ([]Course, error) {
	docs, err := svc.db.GetAll(ctx, store.NewQuery(store.Courses))
	if err != nil {
		return nil, core.NewStoreError("querying courses", err)
	}
	courses := make([]Course, 0, len(docs))
	for _, doc := range docs {
		courses = append(courses, FromDoc(doc))
	}
	return courses, nil
}

// Membership returns the (course, user) member row, if any.
func (svc *Service) Membership(ctx context.Context, courseID, userID string) (CourseMember, error) {
	doc, err := svc.db.Get(ctx, store.CourseMembers, MemberID(courseID, userID))
	if err != nil {
		if errors.Cause(err) == store.ErrNotFound {
			return CourseMember{}, core.NewNotFoundError("membership")
		}
		return CourseMember{}, core.NewStoreError("getting membership", err)
	}
	return MemberFromDoc(doc), nil
}

// IsMember reports whether the user holds any membership in the course.
func (svc *Service) IsMember(ctx context.Context, courseID, userID string) (bool, error) {
	if _, err := svc.Membership(ctx, courseID, userID); err != nil {
		if core.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MembershipsByUser returns all member rows of one user.
func (svc *Service) MembershipsByUser(ctx context.Context, userID string) ([]CourseMember, error) {
	docs, err := svc.db.GetAll(ctx, store.NewQuery(store.CourseMembers).Where("userId", userID))
	if err != nil {
		return nil, core.NewStoreError("querying memberships", err)
	}
	members := make([]CourseMember, 0, len(docs))
	for _, doc := range docs {
		members = append(members, MemberFromDoc(doc))
	}
	return members, nil
}
