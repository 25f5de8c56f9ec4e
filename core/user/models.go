package user

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/studysync/backend/core"
	"github.com/studysync/backend/storage/store"
)

type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	EmailVerified bool      `json:"emailVerified"`
	PasswordHash  []byte    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

// Fields returns the document representation stored in the "users" collection.
func (u User) Fields() store.Fields {
	return store.Fields{
		"email":         u.Email,
		"displayName":   u.DisplayName,
		"emailVerified": u.EmailVerified,
		"passwordHash":  string(u.PasswordHash),
		"createdAt":     u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func FromDoc(doc store.Document) User {
	usr := User{ID: doc.ID}
	usr.Email, _ = doc.Data["email"].(string)
	usr.DisplayName, _ = doc.Data["displayName"].(string)
	usr.EmailVerified, _ = doc.Data["emailVerified"].(bool)
	if hash, ok := doc.Data["passwordHash"].(string); ok {
		usr.PasswordHash = []byte(hash)
	}
	if ts, ok := doc.Data["createdAt"].(string); ok {
		usr.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return usr
}

// Session identifies the authenticated caller. It is built once from verified
// claims, passed explicitly into every handler and query constructor, and never
// resurrected after logout.
type Session struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	EmailVerified bool   `json:"emailVerified"`
}

func NewSession(usr User) Session {
	return Session{
		UID:           usr.ID,
		Email:         usr.Email,
		DisplayName:   usr.DisplayName,
		EmailVerified: usr.EmailVerified,
	}
}

// NewUser contains information needed to register a new User.
type NewUser struct {
	Email           string `json:"email" validate:"required,email"`
	DisplayName     string `json:"displayName" validate:"required"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.DisplayName = core.CleanString(nu.DisplayName)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckEmailUniqueness(ctx, nu.Email)
}

// VerifyUserEmail carries an email verification token back from the frontend.
type VerifyUserEmail struct {
	UID   string `json:"uid" validate:"required"`
	Token string `json:"token" validate:"required"`
}

func (ve VerifyUserEmail) Validate(validate *validator.Validate) error {
	return validate.Struct(ve)
}

type ResetUserPassword struct {
	UID             string `json:"uid" validate:"required"`
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error {
	return validate.Struct(rp)
}
