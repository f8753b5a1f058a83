package executil

import (
	"context"
	"sync"
)

// RecordedCommand captures a command that was executed.
type RecordedCommand struct {
	Dir  string
	Cmd  string
	Args []string
}

// Key returns the command name joined with its first argument, e.g.
// "git diff". It is the lookup key for Outputs and Errors.
func (c RecordedCommand) Key() string {
	if len(c.Args) == 0 {
		return c.Cmd
	}
	return c.Cmd + " " + c.Args[0]
}

// RecordingExecutor captures commands for testing.
// Configure Outputs and Errors maps to control return values.
type RecordingExecutor struct {
	mu       sync.Mutex
	Commands []RecordedCommand

	// Outputs maps command keys to their output. A key is either the
	// command name ("git") or the name plus first argument ("git diff");
	// the more specific key wins.
	Outputs map[string][]byte

	// Errors maps command keys to their error, with the same lookup rules.
	Errors map[string]error
}

// Run records the command and returns configured output/error.
func (e *RecordingExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return e.record("", cmd, args...)
}

// RunDir records the command with directory and returns configured output/error.
func (e *RecordingExecutor) RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error) {
	return e.record(dir, cmd, args...)
}

// Set configures output for a command key. Safe for concurrent use.
func (e *RecordingExecutor) Set(key string, out string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Outputs == nil {
		e.Outputs = make(map[string][]byte)
	}
	e.Outputs[key] = []byte(out)
}

// Fail configures an error for a command key. A nil err clears it.
func (e *RecordingExecutor) Fail(key string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Errors == nil {
		e.Errors = make(map[string]error)
	}
	if err == nil {
		delete(e.Errors, key)
		return
	}
	e.Errors[key] = err
}

// Count returns how many recorded commands match key.
func (e *RecordingExecutor) Count(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.Commands {
		if c.Key() == key || c.Cmd == key {
			n++
		}
	}
	return n
}

func (e *RecordingExecutor) record(dir, cmd string, args ...string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rc := RecordedCommand{
		Dir:  dir,
		Cmd:  cmd,
		Args: args,
	}
	e.Commands = append(e.Commands, rc)

	var out []byte
	var err error

	if e.Outputs != nil {
		if o, ok := e.Outputs[rc.Key()]; ok {
			out = o
		} else {
			out = e.Outputs[cmd]
		}
	}
	if e.Errors != nil {
		if er, ok := e.Errors[rc.Key()]; ok {
			err = er
		} else {
			err = e.Errors[cmd]
		}
	}

	return out, err
}

// Reset clears recorded commands.
func (e *RecordingExecutor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands = nil
}
