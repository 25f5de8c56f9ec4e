package user

import (
	"testing"
	"time"
)

func TestMakeVerifyToken(t *testing.T) {
	secretKey = []byte("secret")
	emailVerificationTimeoutDelta = 3 * 24 * time.Hour

	now := time.Now()
	usr := User{
		ID:          "u1",
		Email:       "t@test.test",
		DisplayName: "T",
		CreatedAt:   now,
	}
	_ = usr.SetPassword("pwd")

	validToken, err := makeToken(usr, purposeEmailVerification)
	if err != nil {
		t.Fatalf("makeToken() failed: %v", err)
	}

	// generate an expired token
	dayLate := emailVerificationTimeoutDelta + (24 * time.Hour)
	nowFunc = func() time.Time { return time.Now().Add(-dayLate) }
	expiredToken, err := makeToken(usr, purposeEmailVerification)
	if err != nil {
		t.Fatalf("makeToken() failed: %v", err)
	}
	nowFunc = time.Now // reset

	// a token minted for another purpose must not verify
	resetToken, err := makeToken(usr, purposePasswordReset)
	if err != nil {
		t.Fatalf("makeToken() failed: %v", err)
	}

	// flipping the verified flag invalidates outstanding tokens
	verifiedUsr := usr
	verifiedUsr.EmailVerified = true

	tests := []struct {
		name    string
		usr     User
		token   string
		wantErr error
	}{
		{name: "no token", usr: usr, wantErr: errInvalidToken},
		{name: "invalid parts len", usr: usr, token: "lmaooolol", wantErr: errInvalidToken},
		{name: "invalid base32", usr: usr, token: "hahaha-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid timestamp", usr: usr, token: "NRXWY-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid token", usr: usr, token: "HE4TS-sigsig-sig", wantErr: errInvalidToken},
		{name: "expired token", usr: usr, token: expiredToken, wantErr: errTokenExpired},
		{name: "wrong purpose", usr: usr, token: resetToken, wantErr: errInvalidToken},
		{name: "consumed token", usr: verifiedUsr, token: validToken, wantErr: errInvalidToken},
		{name: "valid token", usr: usr, token: validToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := verifyToken(tt.usr, tt.token, purposeEmailVerification); err != tt.wantErr {
				t.Errorf("verifyToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
