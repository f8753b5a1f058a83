package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextHook copies session_id and repo_id from the event context onto
// log events.
type ContextHook struct{}

func (h ContextHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil || ctx == context.Background() {
		return
	}

	if sessionID := GetSessionID(ctx); sessionID != "" {
		e.Str("session_id", sessionID)
	}
	if repoID := GetRepoID(ctx); repoID != "" {
		e.Str("repo_id", repoID)
	}
}
