package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CmpKey is the field carrying the component name.
const CmpKey = "cmp"

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Sub(log.Logger, name)
}

// Sub tags a child of parent with a component name. Components built from
// an injected logger use this so tests can capture their output.
func Sub(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str(CmpKey, name).Logger()
}
