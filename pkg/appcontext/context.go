// Package appcontext carries request-scoped values through the client:
// the bearer token for the check-in service and the ID of the running
// reconciliation pass.
package appcontext

import "context"

type contextKey string

// String returns the string representation of the context key.
func (c contextKey) String() string {
	return string(c)
}

var (
	contextBearerToken = contextKey("bearerToken")
	contextPassID      = contextKey("passID")
)

// WithBearerToken returns a context carrying token. An explicit token in the
// context takes precedence over the session store.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextBearerToken, token)
}

// BearerToken retrieves the token stored by WithBearerToken.
func BearerToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(contextBearerToken).(string)
	return token, ok && token != ""
}

// WithPassID tags ctx with the reconciliation pass it belongs to.
func WithPassID(ctx context.Context, passID string) context.Context {
	return context.WithValue(ctx, contextPassID, passID)
}

// PassID returns the pass ID, or "" outside a pass.
func PassID(ctx context.Context) string {
	id, _ := ctx.Value(contextPassID).(string)
	return id
}
