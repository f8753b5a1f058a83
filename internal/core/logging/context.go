package logging

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	repoIDKey    contextKey = "repo_id"
)

// WithSessionID adds a session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithRepoID adds a repository ID to the context.
func WithRepoID(ctx context.Context, repoID string) context.Context {
	return context.WithValue(ctx, repoIDKey, repoID)
}

// GetSessionID retrieves the session ID from the context.
// Returns empty string if not present.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRepoID retrieves the repository ID from the context.
func GetRepoID(ctx context.Context) string {
	if id, ok := ctx.Value(repoIDKey).(string); ok {
		return id
	}
	return ""
}
