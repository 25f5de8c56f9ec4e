package course

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/studysync/backend/core"
	"github.com/studysync/backend/storage/store"
)

// Membership roles
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

type Course struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatorName string    `json:"creatorName,omitempty"`
	AccentColor string    `json:"accentColor,omitempty"`
	CreatedAt   time.Time `json:"createdAt"` // UTC
}

// Fields returns the document stored in the "courses" collection.
// Unset optional attributes are omitted, never written as zero values.
func (c Course) Fields() store.Fields {
	f := store.Fields{
		"name":      c.Name,
		"createdBy": c.CreatedBy,
		"createdAt": c.CreatedAt.UTC().Format(time.RFC3339),
	}
	if c.Description != "" {
		f["description"] = c.Description
	}
	if c.CreatorName != "" {
		f["creatorName"] = c.CreatorName
	}
	if c.AccentColor != "" {
		f["accentColor"] = c.AccentColor
	}
	return f
}

func FromDoc(doc store.Document) Course {
	c := Course{ID: doc.ID}
	c.Name, _ = doc.Data["name"].(string)
	c.Description, _ = doc.Data["description"].(string)
	c.CreatedBy, _ = doc.Data["createdBy"].(string)
	c.CreatorName, _ = doc.Data["creatorName"].(string)
	c.AccentColor, _ = doc.Data["accentColor"].(string)
	if ts, ok := doc.Data["createdAt"].(string); ok {
		c.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return c
}

// CourseMember is the join record granting a user permission to view and
// mutate a course's tasks.
type CourseMember struct {
	ID       string    `json:"id"`
	CourseID string    `json:"courseId"`
	UserID   string    `json:"userId"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"` // UTC
}

// MemberID derives the deterministic membership document id. It is the sole
// duplicate-join guard: at most one row can exist per (course, user) pair.
func MemberID(courseID, userID string) string {
	return courseID + "_" + userID
}

func (m CourseMember) Fields() store.Fields {
	return store.Fields{
		"id":       m.ID,
		"courseId": m.CourseID,
		"userId":   m.UserID,
		"role":     m.Role,
		"joinedAt": m.JoinedAt.UTC().Format(time.RFC3339),
	}
}

func MemberFromDoc(doc store.Document) CourseMember {
	m := CourseMember{ID: doc.ID}
	m.CourseID, _ = doc.Data["courseId"].(string)
	m.UserID, _ = doc.Data["userId"].(string)
	m.Role, _ = doc.Data["role"].(string)
	if ts, ok := doc.Data["joinedAt"].(string); ok {
		m.JoinedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return m
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description" validate:"omitempty,max=500"`
	AccentColor string `json:"accentColor" validate:"omitempty,accentcolor"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Description = core.CleanString(nc.Description)
	nc.AccentColor = core.CleanString(nc.AccentColor, true /* lower */)
	return validate.Struct(nc)
}

// Multi-step write markers. Course creation and deletion are sequences of
// single-document writes with no store-side transaction; a marker brackets
// each sequence so Reconcile can detect and repair a half-completed one.
const (
	opCreateCourse = "createCourse"
	opDeleteCourse = "deleteCourse"
)

type pendingOp struct {
	ID        string
	Op        string
	CourseID  string
	UserID    string
	CreatedAt time.Time
}

func (p pendingOp) fields() store.Fields {
	return store.Fields{
		"op":        p.Op,
		"courseId":  p.CourseID,
		"userId":    p.UserID,
		"createdAt": p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func pendingOpFromDoc(doc store.Document) pendingOp {
	p := pendingOp{ID: doc.ID}
	p.Op, _ = doc.Data["op"].(string)
	p.CourseID, _ = doc.Data["courseId"].(string)
	p.UserID, _ = doc.Data["userId"].(string)
	if ts, ok := doc.Data["createdAt"].(string); ok {
		p.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return p
}
