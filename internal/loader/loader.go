package loader

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kingrea/loadstone/internal/config"
	"github.com/kingrea/loadstone/internal/journal"
	"github.com/kingrea/loadstone/internal/manager"
)

const defaultFetchTimeout = 30 * time.Second

// Option adjusts loader construction. The same options serve both loader
// kinds; ones a kind has no use for are ignored.
type Option func(*options)

type options struct {
	logger  *log.Logger
	journal *journal.Journal
	cache   *Cache
	client  *http.Client
	timeout time.Duration
}

// WithLogger routes loader diagnostics to the given logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithJournal records per-module load outcomes in the given journal.
func WithJournal(j *journal.Journal) Option {
	return func(o *options) {
		o.journal = j
	}
}

// WithCache lets the HTTP loader serve repeat fetches from local disk.
func WithCache(c *Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithHTTPClient overrides the HTTP client used to fetch module source.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.client = client
		}
	}
}

// WithTimeout bounds each source fetch.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:  log.New(io.Discard),
		client:  http.DefaultClient,
		timeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the loader the project configuration asks for. Config-derived
// settings are applied first so explicit options still win.
func New(cfg *config.Config, host Host, opts ...Option) (manager.Loader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("loader: config is required")
	}
	switch cfg.Project.Loader.Kind {
	case config.LoaderKindScript:
		return NewScriptLoader(cfg.ModulesDir(), host, opts...)
	case config.LoaderKindHTTP:
		combined := []Option{WithTimeout(cfg.Project.Loader.Timeout())}
		if cfg.Project.Loader.Cache {
			cache, err := NewCache(cfg.CacheDir())
			if err != nil {
				return nil, err
			}
			combined = append(combined, WithCache(cache))
		}
		combined = append(combined, opts...)
		return NewHTTPLoader(cfg.Project.Loader.BaseURL, host, combined...)
	default:
		return nil, fmt.Errorf("loader: unsupported kind %q", cfg.Project.Loader.Kind)
	}
}
