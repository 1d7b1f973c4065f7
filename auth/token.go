package auth

import (
	"net/http"
)

// TokenAuthenticator sends a token in a fixed header. It covers bearer,
// github-oauth and gitlab-token credentials, which differ only in the
// header they use.
type TokenAuthenticator struct {
	kind   Type
	header string
	prefix string
	token  string
}

// NewBearerAuthenticator sends Authorization: Bearer <token>.
func NewBearerAuthenticator(token string) *TokenAuthenticator {
	return &TokenAuthenticator{kind: TypeBearer, header: "Authorization", prefix: "Bearer ", token: token}
}

// NewGitHubOAuthAuthenticator sends Authorization: token <token>.
func NewGitHubOAuthAuthenticator(token string) *TokenAuthenticator {
	return &TokenAuthenticator{kind: TypeGitHubOAuth, header: "Authorization", prefix: "token ", token: token}
}

// NewGitLabTokenAuthenticator sends PRIVATE-TOKEN: <token>.
func NewGitLabTokenAuthenticator(token string) *TokenAuthenticator {
	return &TokenAuthenticator{kind: TypeGitLabToken, header: "PRIVATE-TOKEN", token: token}
}

// Authenticate sets the header unless the token is empty.
func (a *TokenAuthenticator) Authenticate(req *http.Request) error {
	if a.token != "" {
		req.Header.Set(a.header, a.prefix+a.token)
	}
	return nil
}

// Type returns the auth.json section of the token.
func (a *TokenAuthenticator) Type() Type {
	return a.kind
}
