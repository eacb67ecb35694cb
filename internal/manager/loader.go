package manager

import (
	"context"

	"github.com/kingrea/loadstone/internal/module"
)

// Loader fetches and executes module code. Implementations receive the ids
// to fetch in prerequisite order and the registry for looking up locations.
// A loader never reports success through the hooks: each module's completion
// arrives out-of-band via Manager.NotifyLoaded as its code finishes
// executing, because a batch's modules may finish at different times within
// the same response. OnError carries the transport status code (401 and 410
// receive special treatment, anything else is transient); OnTimeout marks
// the attempt as timed out.
type Loader interface {
	LoadModules(ctx context.Context, ids []string, registry *module.Registry, hooks LoaderHooks)
}

// LoaderHooks carry the failure paths for one dispatch.
type LoaderHooks struct {
	OnError   func(status int)
	OnTimeout func()
}
