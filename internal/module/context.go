package module

import (
	"github.com/charmbracelet/log"

	"github.com/kingrea/loadstone/internal/config"
	"github.com/kingrea/loadstone/internal/journal"
)

// Context carries shared runtime dependencies into every load callback. The
// manager hands the same context to each callback and never mutates it;
// treat it as read-only configuration.
type Context struct {
	Config  *config.Config
	Journal *journal.Journal
	Log     *log.Logger
	Origin  string
}

// NewContext builds a Context for the given project configuration.
func NewContext(cfg *config.Config, jr *journal.Journal, logger *log.Logger) *Context {
	return &Context{
		Config:  cfg,
		Journal: jr,
		Log:     logger,
	}
}

// WithOrigin records which entry point triggered the load.
func (ctx *Context) WithOrigin(name string) *Context {
	clone := *ctx
	clone.Origin = name
	return &clone
}
