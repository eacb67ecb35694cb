package loader

import (
	"fmt"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/kingrea/loadstone/internal/module"
)

// initFuncName is the optional entry point a module script may declare.
// When present it runs as an initialization callback, before any callbacks
// parked by Load or ExecOnLoad.
const initFuncName = "ModuleInit"

// evaluate runs fetched module source through a fresh interpreter inside
// the host's load bracket and reports the module loaded on success. Each
// module gets its own interpreter so scripts cannot observe one another's
// symbols.
func evaluate(host Host, id string, src []byte) error {
	if len(src) == 0 {
		return fmt.Errorf("loader: module %s: empty source", id)
	}

	i := interp.New(interp.Options{})
	i.Use(stdlib.Symbols)

	host.BeforeLoadModuleCode(id)
	_, evalErr := i.Eval(string(src))
	if evalErr == nil {
		evalErr = registerInit(host, i, id)
	}
	host.AfterLoadModuleCode(id)

	if evalErr != nil {
		return fmt.Errorf("loader: evaluate %s: %w", id, evalErr)
	}
	return host.NotifyLoaded(id)
}

// registerInit looks up the script's optional ModuleInit function and, when
// declared, registers it to run during the module's load completion. A
// script without the symbol is fine; a symbol with the wrong shape is not.
func registerInit(host Host, i *interp.Interpreter, id string) error {
	fn, err := i.Eval(initFuncName)
	if err != nil {
		return nil
	}
	if fn.Kind() != reflect.Func || fn.Type().NumIn() != 0 {
		return fmt.Errorf("%s must be a niladic function", initFuncName)
	}
	return host.RegisterInitializationCallback(func(*module.Context) {
		fn.Call(nil)
	})
}
