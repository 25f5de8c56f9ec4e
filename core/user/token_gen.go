package user

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Tokens are HMAC-signed over state that changes when the token is consumed:
// a verification token dies once emailVerified flips, a reset token dies once
// the password hash changes. Timestamps have day resolution.
var (
	salt    = []byte("studysync.backend.core.user.token_gen")
	nowFunc = time.Now // mockable

	secretKey                     = []byte("insecure-dev-key")
	emailVerificationTimeoutDelta = 3 * 24 * time.Hour
	passwordResetTimeoutDelta     = 3 * 24 * time.Hour

	// errors
	errInvalidToken = errors.New("invalid token")
	errTokenExpired = errors.New("token expired")
)

type tokenPurpose string

const (
	purposeEmailVerification tokenPurpose = "email-verification"
	purposePasswordReset     tokenPurpose = "password-reset"
)

func (p tokenPurpose) timeout() time.Duration {
	if p == purposeEmailVerification {
		return emailVerificationTimeoutDelta
	}
	return passwordResetTimeoutDelta
}

// EncodeUID base64 encodes given User ID
func EncodeUID(usr User) string {
	return base64.RawURLEncoding.EncodeToString([]byte(usr.ID))
}

// DecodeUID base64 decodes given UID
func DecodeUID(uid string) (string, error) {
	idBytes, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return "", err
	}
	return string(idBytes), nil
}

// makeToken generates a single-use token for a given User and purpose.
func makeToken(usr User, purpose tokenPurpose) (string, error) {
	return makeTokenWithTimestamp(usr, purpose, numDaysSince2001(nowFunc()))
}

// verifyToken checks that a token for a given User and purpose is valid.
func verifyToken(usr User, token string, purpose tokenPurpose) error {
	if token == "" {
		return errInvalidToken
	}

	parts := strings.SplitN(token, "-", 2)
	if len(parts) < 2 {
		return errInvalidToken
	}
	tsB32 := parts[0]

	data, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(tsB32)
	if err != nil {
		return errInvalidToken
	}
	ts, err := strconv.Atoi(string(data))
	if err != nil {
		return errInvalidToken
	}

	// check that token has not been tampered with
	newToken, err := makeTokenWithTimestamp(usr, purpose, ts)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(newToken), []byte(token)) == 0 {
		return errInvalidToken
	}

	// check that the timestamp is within limit
	if (numDaysSince2001(nowFunc()) - ts) > int(purpose.timeout()/(24*time.Hour)) {
		return errTokenExpired
	}
	return nil
}

func makeTokenWithTimestamp(usr User, purpose tokenPurpose, ts int) (string, error) {
	tsB32 := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString([]byte(strconv.Itoa(ts)))
	sig, err := sign(hashValue(usr, purpose, ts))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", tsB32, sig), nil
}

func numDaysSince2001(t time.Time) int {
	ref := time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
	return int(math.Ceil(t.Sub(ref).Hours() / 24))
}

func sign(val []byte) (string, error) {
	key := sha256.Sum256(append(salt, secretKey...))
	h := hmac.New(sha256.New, key[:])
	if _, err := h.Write(val); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

func hashValue(usr User, purpose tokenPurpose, ts int) []byte {
	var val bytes.Buffer
	val.WriteString(string(purpose))
	val.WriteString(usr.ID)
	switch purpose {
	case purposeEmailVerification:
		val.WriteString(usr.Email)
		val.WriteString(strconv.FormatBool(usr.EmailVerified))
	case purposePasswordReset:
		val.Write(usr.PasswordHash)
	}
	val.WriteString(strconv.Itoa(ts))
	return val.Bytes()
}
