package loader

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/kingrea/loadstone/internal/journal"
	"github.com/kingrea/loadstone/internal/manager"
	"github.com/kingrea/loadstone/internal/module"
)

// ScriptLoader executes module code from Go source files on local disk. A
// module id maps to <dir>/<id>.go unless the registry carries explicit URIs
// for it, in which case the first URI wins, resolved against dir when
// relative. A missing file means the module is gone for good; read and
// evaluation failures are reported as transient.
type ScriptLoader struct {
	dir  string
	host Host
	opts options
}

// NewScriptLoader builds a loader that reads module source from dir.
func NewScriptLoader(dir string, host Host, opts ...Option) (*ScriptLoader, error) {
	if dir == "" {
		return nil, errors.New("loader: scripts directory is required")
	}
	if host == nil {
		return nil, errors.New("loader: host is required")
	}
	return &ScriptLoader{dir: dir, host: host, opts: newOptions(opts)}, nil
}

// LoadModules evaluates each module in order on its own goroutine.
// Completion is reported through the host as each module's code finishes;
// the hooks carry the failure paths.
func (l *ScriptLoader) LoadModules(ctx context.Context, ids []string, registry *module.Registry, hooks manager.LoaderHooks) {
	go l.run(ctx, ids, registry, hooks)
}

func (l *ScriptLoader) run(ctx context.Context, ids []string, registry *module.Registry, hooks manager.LoaderHooks) {
	for _, id := range ids {
		if ctx.Err() != nil {
			l.opts.logger.Warn("load canceled", "module", id)
			return
		}
		path := l.sourcePath(id, registry)
		src, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				l.opts.journal.Module(journal.LevelError, id, "module file missing: %s", path)
				hooks.OnError(http.StatusGone)
				return
			}
			l.opts.journal.Module(journal.LevelError, id, "read failed: %v", err)
			hooks.OnError(http.StatusInternalServerError)
			return
		}
		if err := evaluate(l.host, id, src); err != nil {
			l.opts.logger.Error("module load failed", "module", id, "err", err)
			l.opts.journal.Module(journal.LevelError, id, "evaluation failed: %v", err)
			hooks.OnError(http.StatusInternalServerError)
			return
		}
		l.opts.journal.Module(journal.LevelInfo, id, "loaded from %s", path)
	}
}

func (l *ScriptLoader) sourcePath(id string, registry *module.Registry) string {
	if rec, ok := registry.Record(id); ok {
		if uris := rec.URIs(); len(uris) > 0 {
			if filepath.IsAbs(uris[0]) {
				return uris[0]
			}
			return filepath.Join(l.dir, uris[0])
		}
	}
	return filepath.Join(l.dir, id+".go")
}
