package tests

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/studysync/backend/apps/api/echo"
	"github.com/studysync/backend/core/user"
	emailsvc "github.com/studysync/backend/services/email"
	testutil "github.com/studysync/backend/tests"
)

// tokenLinkRegex extracts the uid and token from a verification/reset link.
var tokenLinkRegex = regexp.MustCompile(`\?uid=([^&\s]+)&token=([^&"<\s]+)`)

func extractUIDAndToken(t *testing.T, content string) (string, string) {
	t.Helper()

	match := tokenLinkRegex.FindStringSubmatch(content)
	if match == nil {
		t.Fatalf("no uid/token link found in email content:\n%s", content)
	}
	return match[1], match[2]
}

func Test_userApi_register(t *testing.T) {
	testutil.ResetDB(t, db)

	testutil.CreateUser(t, db, "Hero", "taken@test.cd", "", true)

	reqMsg := "this field is required"
	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": reqMsg, "displayName": reqMsg, "password": reqMsg, "passwordConfirm": reqMsg}),
		},
		{
			name: "invalid email", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Email: "lol", DisplayName: "Lol", Password: "LolC@t123", PasswordConfirm: "LolC@t123"}),
			wantData: marchallObj(t, map[string]string{"email": "email must be a valid email address"}),
		},
		{
			name: "password too short", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Email: "lol@test.cd", DisplayName: "Lol", Password: "lol", PasswordConfirm: "lol"}),
			wantData: marchallObj(t, map[string]string{"password": "password must be at least 8 characters in length"}),
		},
		{
			name: "password with whitespace", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Email: "lol@test.cd", DisplayName: "Lol", Password: "LolC@t 123", PasswordConfirm: "LolC@t 123"}),
			wantData: marchallObj(t, map[string]string{"password": "password must not contain whitespace"}),
		},
		{
			name: "password all numeric", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Email: "lol@test.cd", DisplayName: "Lol", Password: "19731984", PasswordConfirm: "19731984"}),
			wantData: marchallObj(t, map[string]string{"password": "password cannot be entirely numeric"}),
		},
		{
			name: "password complexity", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Email: "lol@test.cd", DisplayName: "Lol", Password: "lolcat123", PasswordConfirm: "lolcat123"}),
			wantData: marchallObj(t, map[string]string{"password": "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"}),
		},
		{
			name: "password similar to email", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Email: "lol@test.cd", DisplayName: "Lol", Password: "Lol@test.cd1", PasswordConfirm: "Lol@test.cd1"}),
			wantData: marchallObj(t, map[string]string{"password": "password cannot be similar to user attributes"}),
		},
		{
			name: "password too common", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Email: "lol@test.cd", DisplayName: "Lol", Password: "P@ssw0rd", PasswordConfirm: "P@ssw0rd"}),
			wantData: marchallObj(t, map[string]string{"password": "password is too common"}),
		},
		{
			name: "passwords must match", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Email: "lol@test.cd", DisplayName: "Lol", Password: "LolC@t123", PasswordConfirm: "lol"}),
			wantData: marchallObj(t, map[string]string{"passwordConfirm": "passwordConfirm must be equal to Password"}),
		},
		{
			name: "email already taken", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Email: "Taken@test.cd", DisplayName: "Copy Cat", Password: "LolC@t123", PasswordConfirm: "LolC@t123"}),
			wantData: marchallObj(t, map[string]string{"email": "a user with this email already exists"}),
		},
		{
			name: "registered", wantCode: http.StatusCreated,
			body: marchallObj(t, user.NewUser{Email: "new@test.cd", DisplayName: "New Kid", Password: "LolC@t123", PasswordConfirm: "LolC@t123"}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/register"

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.SentMessages = nil // reset

			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var respData echoapi.LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Fatalf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				if respData.User == nil || respData.User.Email != "new@test.cd" {
					t.Errorf("failed! user = %+v", respData.User)
				}
				if respData.User.EmailVerified {
					t.Error("failed! new account must start unverified")
				}
				if len(emailsvc.SentMessages) != 1 {
					t.Fatalf("failed! len(SentMessages) = %d; want 1", len(emailsvc.SentMessages))
				}
				if subj := emailsvc.SentMessages[0].Subject; subj != "Verify your email address" {
					t.Errorf("failed! subject = %q", subj)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_login(t *testing.T) {
	testutil.ResetDB(t, db)

	hero := testutil.CreateUser(t, db, "Hero", "hero@test.cd", "LolC@t123", true)

	invalidCreds := marchallObj(t, httpErr{Error: "invalid credentials"})
	reqMsg := "this field is required"
	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": reqMsg, "password": reqMsg}),
		},
		{
			name: "unknown email", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.LoginRequest{Email: "ghost@test.cd", Password: "LolC@t123"}),
			wantData: invalidCreds,
		},
		{
			name: "wrong password", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.LoginRequest{Email: hero.Email, Password: "LolC@t124"}),
			wantData: invalidCreds,
		},
		{
			name: "logged in", wantCode: http.StatusOK,
			body: marchallObj(t, echoapi.LoginRequest{Email: "  Hero@test.cd ", Password: "LolC@t123"}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/login"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var respData echoapi.LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Fatalf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				if respData.User == nil || respData.User.ID != hero.ID {
					t.Errorf("failed! user = %+v", respData.User)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_verifyEmail(t *testing.T) {
	testutil.ResetDB(t, db)
	emailsvc.SentMessages = nil // reset

	// register via the API so a real verification email is captured
	body := marchallObj(t, user.NewUser{Email: "new@test.cd", DisplayName: "New Kid", Password: "LolC@t123", PasswordConfirm: "LolC@t123"})
	req, rec := newRequest(http.MethodPost, "/v1/users/register", body)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register failed! code = %v; body %s", rec.Code, rec.Body.String())
	}
	if len(emailsvc.SentMessages) != 1 {
		t.Fatalf("failed! len(SentMessages) = %d; want 1", len(emailsvc.SentMessages))
	}
	uid, token := extractUIDAndToken(t, emailsvc.SentMessages[0].TextContent)

	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"uid": "this field is required", "token": "this field is required"}),
		},
		{
			name: "unknown uid", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.VerifyUserEmail{UID: "bG9s", Token: token}),
			wantData: marchallObj(t, map[string]string{"uid": "invalid value"}),
		},
		{
			name: "tampered token", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.VerifyUserEmail{UID: uid, Token: "HE4TS-sigsig-sig"}),
			wantData: marchallObj(t, httpErr{Error: "invalid token"}),
		},
		{name: "verified", wantCode: http.StatusOK, body: marchallObj(t, user.VerifyUserEmail{UID: uid, Token: token})},
		{name: "verify is idempotent", wantCode: http.StatusOK, body: marchallObj(t, user.VerifyUserEmail{UID: uid, Token: token})},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/verify-email"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				// a fresh token is issued carrying the verified claim
				var respData echoapi.LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Fatalf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				if respData.User == nil || !respData.User.EmailVerified {
					t.Errorf("failed! user = %+v", respData.User)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_resendVerification(t *testing.T) {
	testutil.ResetDB(t, db)

	pending := testutil.CreateUser(t, db, "Pending", "pending@test.cd", "", false)
	verified := testutil.CreateUser(t, db, "Done", "done@test.cd", "", true)

	successData := marchallObj(t, echoapi.SuccessResponse{Success: "If the email address supplied is associated with an unverified account on this system, " +
		"a new verification email will arrive in your inbox shortly."})

	type extraTest struct{ emailSent bool }
	tests := []httpTest{
		{
			name: "unknown email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.EmailRequest{Email: "ghost@test.cd"}),
			wantData: successData, extra: extraTest{emailSent: false},
		},
		{
			name: "already verified", wantCode: http.StatusOK, body: marchallObj(t, echoapi.EmailRequest{Email: verified.Email}),
			wantData: successData, extra: extraTest{emailSent: false},
		},
		{
			name: "unverified account", wantCode: http.StatusOK, body: marchallObj(t, echoapi.EmailRequest{Email: pending.Email}),
			wantData: successData, extra: extraTest{emailSent: true},
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/resend-verification"

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.SentMessages = nil // reset

			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if extra, ok := tt.extra.(extraTest); ok {
				if got := len(emailsvc.SentMessages) > 0; got != extra.emailSent {
					t.Errorf("failed! emailSent = %v; want %v", got, extra.emailSent)
				}
			}
		})
	}
}

func Test_userApi_userRefreshToken(t *testing.T) {
	testutil.ResetDB(t, db)

	hero := testutil.CreateUser(t, db, "Hero", "hero@test.cd", "", true)

	// original issuance far older than the refresh threshold
	staleOriat := time.Now().Add(-9 * time.Hour).Unix()
	unrefreshableToken, err := echoapi.GenerateToken(echoapi.GetUserClaims(hero, staleOriat))
	if err != nil {
		t.Fatalf("GenerateToken(): %v", err)
	}

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
		{name: "Token refreshed", token: getToken(t, hero), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/token-refresh"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			// cannot guess new token.. just check that it's not empty
			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				var respData echoapi.LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Errorf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_me(t *testing.T) {
	testutil.ResetDB(t, db)

	// second precision so the stored RFC3339 timestamp round-trips exactly
	hero := testutil.CreateUser(t, db, "Hero", "hero@test.cd", "", true, time.Now().Truncate(time.Second))

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Me", token: getToken(t, hero), wantCode: http.StatusOK, wantData: marchallObj(t, hero)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		tt.path = "/v1/users/me"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_userResetPassword(t *testing.T) {
	testutil.ResetDB(t, db)

	hero := testutil.CreateUser(t, db, "Hero", "hero@test.cd", "LolC@t123", true)
	successData := marchallObj(t, echoapi.SuccessResponse{Success: "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})

	type extraTest struct {
		emailSent bool
		to        mail.Address
	}
	tests := []httpTest{
		{name: "required fields", wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"email": "this field is required"})},
		{
			name: "invalid email", wantCode: http.StatusBadRequest, body: marchallObj(t, echoapi.EmailRequest{Email: "lol"}),
			wantData: marchallObj(t, map[string]string{"email": "email must be a valid email address"}),
		},
		{
			name: "unknown email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.EmailRequest{Email: "lol@test.com"}),
			wantData: successData, extra: extraTest{emailSent: false},
		},
		{
			name: "known email", wantCode: http.StatusOK, body: marchallObj(t, echoapi.EmailRequest{Email: hero.Email}),
			wantData: successData, extra: extraTest{emailSent: true, to: mail.Address{Name: hero.DisplayName, Address: hero.Email}},
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/password-reset"

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.SentMessages = nil // reset

			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if extra, ok := tt.extra.(extraTest); ok {
				if extra.emailSent {
					if len(emailsvc.SentMessages) != 1 {
						t.Fatalf("failed! len(SentMessages) = %d; want 1", len(emailsvc.SentMessages))
					}
					msg := emailsvc.SentMessages[0]
					if msg.To[0] != extra.to {
						t.Errorf("failed! To = %v; want %v", msg.To[0], extra.to)
					}
					if !tokenLinkRegex.MatchString(msg.TextContent) {
						t.Error("failed! text content does not contain a reset link")
					}
					// html/template escapes & in the query string
					if !strings.Contains(msg.HTMLContent, "/password-reset?uid=") {
						t.Error("failed! HTML content does not contain a reset link")
					}
				} else if len(emailsvc.SentMessages) > 0 {
					t.Errorf("failed! len(SentMessages) = %d; want 0", len(emailsvc.SentMessages))
				}
			}
		})
	}
}

func Test_userApi_userConfirmPasswordReset(t *testing.T) {
	testutil.ResetDB(t, db)
	emailsvc.SentMessages = nil // reset

	hero := testutil.CreateUser(t, db, "Hero", "hero@test.cd", "LolC@t123", true)

	// request a reset via the API so a real token is captured
	req, rec := newRequest(http.MethodPost, "/v1/users/password-reset", marchallObj(t, echoapi.EmailRequest{Email: hero.Email}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("password-reset failed! code = %v; body %s", rec.Code, rec.Body.String())
	}
	if len(emailsvc.SentMessages) != 1 {
		t.Fatalf("failed! len(SentMessages) = %d; want 1", len(emailsvc.SentMessages))
	}
	uid, token := extractUIDAndToken(t, emailsvc.SentMessages[0].TextContent)

	reqMsg := "this field is required"
	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"uid": reqMsg, "token": reqMsg, "password": reqMsg, "passwordConfirm": reqMsg}),
		},
		{
			name: "unknown uid", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.ResetUserPassword{UID: "bG9s", Token: token, Password: "NewC@t456", PasswordConfirm: "NewC@t456"}),
			wantData: marchallObj(t, map[string]string{"uid": "invalid value"}),
		},
		{
			name: "invalid token", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.ResetUserPassword{UID: uid, Token: "HE4TS-sigsig-sig", Password: "NewC@t456", PasswordConfirm: "NewC@t456"}),
			wantData: marchallObj(t, httpErr{Error: "invalid token"}),
		},
		{
			name: "password reset", wantCode: http.StatusOK,
			body:     marchallObj(t, user.ResetUserPassword{UID: uid, Token: token, Password: "NewC@t456", PasswordConfirm: "NewC@t456"}),
			wantData: marchallObj(t, echoapi.SuccessResponse{Success: "Password has been reset with the new password."}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/password-reset-confirm"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				// old password is dead, new one logs in
				req, rec = newRequest(http.MethodPost, "/v1/users/login", marchallObj(t, echoapi.LoginRequest{Email: hero.Email, Password: "LolC@t123"}))
				app.ServeHTTP(rec, req)
				if rec.Code != http.StatusBadRequest {
					t.Errorf("failed! old password still accepted; code = %v", rec.Code)
				}
				req, rec = newRequest(http.MethodPost, "/v1/users/login", marchallObj(t, echoapi.LoginRequest{Email: hero.Email, Password: "NewC@t456"}))
				app.ServeHTTP(rec, req)
				if rec.Code != http.StatusOK {
					t.Errorf("failed! new password rejected; code = %v; body %s", rec.Code, rec.Body.String())
				}
			}
		})
	}
}
