// Package auth applies credentials to outgoing transfer requests. Model
// registries commonly gate artifact downloads behind bearer tokens or API-key
// headers.
package auth

import "net/http"

// Authenticator applies authentication to an HTTP request.
type Authenticator interface {
	Apply(req *http.Request) error
	Type() Type
}

// Type names an authentication scheme.
type Type string

const (
	// BasicAuthType is HTTP Basic Authentication.
	BasicAuthType Type = "basic"
	// BearerAuthType is an Authorization bearer token.
	BearerAuthType Type = "bearer"
	// HeaderAuthType sets arbitrary credential headers.
	HeaderAuthType Type = "header"
)

// BasicAuth holds HTTP Basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) Apply(req *http.Request) error {
	req.SetBasicAuth(b.Username, b.Password)
	return nil
}

func (b BasicAuth) Type() Type { return BasicAuthType }

// BearerAuth holds an access token, the scheme used by most model hubs.
type BearerAuth struct {
	Token string
}

func (b BearerAuth) Apply(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+b.Token)
	return nil
}

func (b BearerAuth) Type() Type { return BearerAuthType }

// HeaderAuth sets custom credential headers, for registries with proprietary
// schemes like x-api-key.
type HeaderAuth struct {
	Headers map[string]string
}

func (h HeaderAuth) Apply(req *http.Request) error {
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}
	return nil
}

func (h HeaderAuth) Type() Type { return HeaderAuthType }
