package auth

import (
	"encoding/base64"
	"net/http"
)

// BasicAuthenticator sends http-basic credentials.
type BasicAuthenticator struct {
	username string
	password string
}

// NewBasicAuthenticator creates a basic auth authenticator.
func NewBasicAuthenticator(username, password string) *BasicAuthenticator {
	return &BasicAuthenticator{username: username, password: password}
}

// Authenticate sets Authorization: Basic. Empty credentials send nothing.
func (a *BasicAuthenticator) Authenticate(req *http.Request) error {
	if a.username == "" && a.password == "" {
		return nil
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(a.username + ":" + a.password))
	req.Header.Set("Authorization", "Basic "+encoded)
	return nil
}

// Type returns TypeHTTPBasic.
func (a *BasicAuthenticator) Type() Type {
	return TypeHTTPBasic
}
