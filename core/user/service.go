package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/studysync/backend/core"
	"github.com/studysync/backend/storage/store"
)

var (
	// errors
	ErrNotFound        = errors.New("user not found")
	ErrEmailExists     = errors.New("a user with this email already exists")
	ErrAlreadyVerified = errors.New("email already verified")
)

// Service owns the "users" collection and the verification/reset mail flows.
type Service struct {
	db      store.Store
	mailSvc core.EmailService
	logger  core.Logger
}

func NewService(db store.Store, mailSvc core.EmailService, conf *core.Config, logger core.Logger) *Service {
	secretKey = conf.SecretKey
	emailVerificationTimeoutDelta = conf.EmailVerificationTimeoutDelta
	passwordResetTimeoutDelta = conf.PasswordResetTimeoutDelta
	return &Service{db: db, mailSvc: mailSvc, logger: logger}
}

func (svc *Service) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...User) error {
	docs, err := svc.db.GetAll(ctx, store.NewQuery(store.Users).Where("email", email))
	if err != nil {
		return core.NewStoreError("querying users by email", err)
	}
	for _, doc := range docs {
		var excluded bool
		for _, exclUsr := range excludedUsers {
			if doc.ID == exclUsr.ID {
				excluded = true
				break
			}
		}
		if !excluded {
			return core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
		}
	}
	return nil
}

// Register creates an unverified User and sends the verification email.
func (svc *Service) Register(ctx context.Context, nu NewUser) (User, error) {
	usr := User{
		Email:       nu.Email,
		DisplayName: nu.DisplayName,
		CreatedAt:   time.Now().UTC(),
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}

	id, err := svc.db.Add(ctx, store.Users, usr.Fields())
	if err != nil {
		return User{}, core.NewStoreError("creating user", err)
	}
	usr.ID = id

	svc.SendVerificationEmail(usr)
	return usr, nil
}

// Authenticate checks the credentials and returns the matching User.
// The email-verified gate is the caller's concern.
func (svc *Service) Authenticate(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrNotFound
	}
	return usr, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	doc, err := svc.db.Get(ctx, store.Users, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, core.NewStoreError("getting user", err)
	}
	return FromDoc(doc), nil
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	docs, err := svc.db.GetAll(ctx, store.NewQuery(store.Users).Where("email", core.CleanString(email, true /* lower */)))
	if err != nil {
		return User{}, core.NewStoreError("querying users by email", err)
	}
	if len(docs) == 0 {
		return User{}, ErrNotFound
	}
	return FromDoc(docs[0]), nil
}

func (svc *Service) QueryAll(ctx context.Context) ([]User, error) {
	docs, err := svc.db.GetAll(ctx, store.NewQuery(store.Users))
	if err != nil {
		return nil, core.NewStoreError("querying users", err)
	}
	users := make([]User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, FromDoc(doc))
	}
	return users, nil
}

// SendVerificationEmail mails an email-verification link to an unverified user.
func (svc *Service) SendVerificationEmail(usr User) {
	token, err := makeToken(usr, purposeEmailVerification)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("generating verification token: %v", err), err)
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.DisplayName, Address: usr.Email}},
		Subject:      "Verify your email address",
		TemplateName: "email_verification",
		TemplateData: struct {
			DisplayName string
			Path        string
		}{usr.DisplayName, fmt.Sprintf("/verify-email?uid=%s&token=%s", EncodeUID(usr), token)},
	})
}

// ResendVerification re-sends the verification email for an unverified account.
func (svc *Service) ResendVerification(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if usr.EmailVerified {
		return ErrAlreadyVerified
	}
	svc.SendVerificationEmail(usr)
	return nil
}

// VerifyEmail consumes a verification token and flips the emailVerified flag.
func (svc *Service) VerifyEmail(ctx context.Context, ve VerifyUserEmail) (User, error) {
	id, err := DecodeUID(ve.UID)
	if err != nil {
		return User{}, core.NewValidationError(errInvalidToken)
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if usr.EmailVerified {
		return usr, nil // idempotent
	}
	if err = verifyToken(usr, ve.Token, purposeEmailVerification); err != nil {
		return User{}, core.NewValidationError(err)
	}

	if err = svc.db.Update(ctx, store.Users, usr.ID, store.Fields{"emailVerified": true}); err != nil {
		return User{}, core.NewStoreError("updating user", err)
	}
	usr.EmailVerified = true
	return usr, nil
}

// RequestPasswordReset mails a reset link; an unknown email is not an error
// (no account enumeration).
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}

	token, err := makeToken(usr, purposePasswordReset)
	if err != nil {
		return err
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.DisplayName, Address: usr.Email}},
		Subject:      "Password reset",
		TemplateName: "password_reset",
		TemplateData: struct {
			DisplayName string
			Path        string
		}{usr.DisplayName, fmt.Sprintf("/password-reset?uid=%s&token=%s", EncodeUID(usr), token)},
	})
	return nil
}

// ConfirmPasswordReset consumes a reset token and sets the new password.
func (svc *Service) ConfirmPasswordReset(ctx context.Context, rp ResetUserPassword) (User, error) {
	id, err := DecodeUID(rp.UID)
	if err != nil {
		return User{}, core.NewValidationError(errInvalidToken)
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err = verifyToken(usr, rp.Token, purposePasswordReset); err != nil {
		return User{}, core.NewValidationError(err)
	}

	if err = usr.SetPassword(rp.Password); err != nil {
		return User{}, err
	}
	if err = svc.db.Update(ctx, store.Users, usr.ID, store.Fields{"passwordHash": string(usr.PasswordHash)}); err != nil {
		return User{}, core.NewStoreError("updating user", err)
	}
	return usr, nil
}
