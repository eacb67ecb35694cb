package loader

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kingrea/loadstone/internal/journal"
	"github.com/kingrea/loadstone/internal/manager"
	"github.com/kingrea/loadstone/internal/module"
)

// HTTPLoader fetches module source over HTTP and evaluates it. A module id
// maps to <baseURL>/<id>.go unless the registry carries explicit URIs, in
// which case the first URI wins; absolute URIs are used as-is, relative
// ones are joined to the base URL. Each fetch is bounded by the configured
// timeout, and a cache, when present, short-circuits repeat fetches.
type HTTPLoader struct {
	baseURL string
	host    Host
	opts    options
}

// NewHTTPLoader builds a loader that fetches module source from baseURL.
func NewHTTPLoader(baseURL string, host Host, opts ...Option) (*HTTPLoader, error) {
	if baseURL == "" {
		return nil, errors.New("loader: base URL is required")
	}
	if host == nil {
		return nil, errors.New("loader: host is required")
	}
	return &HTTPLoader{baseURL: baseURL, host: host, opts: newOptions(opts)}, nil
}

// LoadModules fetches and evaluates each module in order on its own
// goroutine. Completion is reported through the host as each module's code
// finishes; the hooks carry the failure paths.
func (l *HTTPLoader) LoadModules(ctx context.Context, ids []string, registry *module.Registry, hooks manager.LoaderHooks) {
	go l.run(ctx, ids, registry, hooks)
}

func (l *HTTPLoader) run(ctx context.Context, ids []string, registry *module.Registry, hooks manager.LoaderHooks) {
	for _, id := range ids {
		if ctx.Err() != nil {
			l.opts.logger.Warn("load canceled", "module", id)
			return
		}
		sourceURL := l.sourceURL(id, registry)
		src, ok := l.cached(id, sourceURL)
		if !ok {
			fetched, done := l.fetch(ctx, id, sourceURL, hooks)
			if !done {
				return
			}
			src = fetched
		}
		if err := evaluate(l.host, id, src); err != nil {
			l.opts.logger.Error("module load failed", "module", id, "err", err)
			l.opts.journal.Module(journal.LevelError, id, "evaluation failed: %v", err)
			hooks.OnError(http.StatusInternalServerError)
			return
		}
		l.opts.journal.Module(journal.LevelInfo, id, "loaded from %s", sourceURL)
	}
}

// fetch retrieves one module's source. The second return is false when the
// batch must stop, either because a hook fired or the context was canceled.
func (l *HTTPLoader) fetch(ctx context.Context, id, sourceURL string, hooks manager.LoaderHooks) ([]byte, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, l.opts.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		l.opts.journal.Module(journal.LevelError, id, "bad source url %s: %v", sourceURL, err)
		hooks.OnError(http.StatusInternalServerError)
		return nil, false
	}
	resp, err := l.opts.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			l.opts.logger.Warn("load canceled", "module", id)
			return nil, false
		}
		if errors.Is(err, context.DeadlineExceeded) {
			l.opts.journal.Module(journal.LevelError, id, "fetch timed out after %s", l.opts.timeout)
			hooks.OnTimeout()
			return nil, false
		}
		l.opts.journal.Module(journal.LevelError, id, "fetch failed: %v", err)
		hooks.OnError(http.StatusInternalServerError)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		l.opts.journal.Module(journal.LevelError, id, "fetch %s returned %d", sourceURL, resp.StatusCode)
		hooks.OnError(resp.StatusCode)
		return nil, false
	}
	src, err := io.ReadAll(resp.Body)
	if err != nil {
		l.opts.journal.Module(journal.LevelError, id, "read response: %v", err)
		hooks.OnError(http.StatusInternalServerError)
		return nil, false
	}
	if l.opts.cache != nil {
		if err := l.opts.cache.Put(id, sourceURL, src); err != nil {
			l.opts.logger.Warn("cache write failed", "module", id, "err", err)
		}
	}
	return src, true
}

func (l *HTTPLoader) cached(id, sourceURL string) ([]byte, bool) {
	if l.opts.cache == nil {
		return nil, false
	}
	src, ok := l.opts.cache.Get(id, sourceURL)
	if ok {
		l.opts.journal.Module(journal.LevelInfo, id, "served from cache")
	}
	return src, ok
}

func (l *HTTPLoader) sourceURL(id string, registry *module.Registry) string {
	target := id + ".go"
	if rec, ok := registry.Record(id); ok {
		if uris := rec.URIs(); len(uris) > 0 {
			if strings.HasPrefix(uris[0], "http://") || strings.HasPrefix(uris[0], "https://") {
				return uris[0]
			}
			target = uris[0]
		}
	}
	joined, err := url.JoinPath(l.baseURL, target)
	if err != nil {
		return l.baseURL + "/" + target
	}
	return joined
}
