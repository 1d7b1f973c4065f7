// Package auth applies Composer repository credentials (auth.json) to
// outgoing requests.
package auth

import (
	"net/http"
)

// Authenticator adds credentials to a request.
type Authenticator interface {
	Authenticate(req *http.Request) error
}

// Type is the auth.json section a credential came from.
type Type string

const (
	// TypeHTTPBasic is a username and password.
	TypeHTTPBasic Type = "http-basic"
	// TypeBearer is a bearer token.
	TypeBearer Type = "bearer"
	// TypeGitHubOAuth is a GitHub OAuth token.
	TypeGitHubOAuth Type = "github-oauth"
	// TypeGitLabToken is a GitLab private token.
	TypeGitLabToken Type = "gitlab-token"
)
