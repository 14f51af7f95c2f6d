package gateway

import "context"

// TokenSource supplies the opaque bearer credential for outbound requests.
// An empty token sends no Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed credential
type StaticToken string

// Token implements TokenSource
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// TokenFunc adapts a callback, normally the auth flow's current session
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}
