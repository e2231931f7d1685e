package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"okxfeed/models"
)

// Signer produces the login signature for a canonical message.
type Signer interface {
	Sign(message string, creds models.Credentials) (string, error)
}

// Func adapts a plain function to Signer.
type Func func(message string, creds models.Credentials) (string, error)

func (f Func) Sign(message string, creds models.Credentials) (string, error) {
	return f(message, creds)
}

// HMAC signs with base64(HMAC-SHA256(secret, message)), the scheme OKX uses
// for both REST and websocket login.
type HMAC struct{}

func (HMAC) Sign(message string, creds models.Credentials) (string, error) {
	if creds.Secret == "" {
		return "", &models.AuthError{Err: models.ErrNoCredentials}
	}
	mac := hmac.New(sha256.New, []byte(creds.Secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
