package loader

import (
	"errors"
	"testing"

	"github.com/kingrea/loadstone/internal/module"
)

func TestHostHandleForwardsAfterBind(t *testing.T) {
	handle := &HostHandle{}
	host := &fakeHost{}
	handle.Bind(host)

	handle.BeforeLoadModuleCode("mod.a")
	if err := handle.RegisterInitializationCallback(func(*module.Context) {}); err != nil {
		t.Fatalf("register init: %v", err)
	}
	handle.AfterLoadModuleCode("mod.a")
	if err := handle.NotifyLoaded("mod.a"); err != nil {
		t.Fatalf("notify loaded: %v", err)
	}

	assertCalls(t, host.list(), []string{"before:mod.a", "init", "after:mod.a", "loaded:mod.a"})
}

func TestHostHandleRejectsUseBeforeBind(t *testing.T) {
	handle := &HostHandle{}

	handle.BeforeLoadModuleCode("mod.a")
	handle.AfterLoadModuleCode("mod.a")
	if err := handle.NotifyLoaded("mod.a"); !errors.Is(err, errHostUnbound) {
		t.Fatalf("expected unbound error, got %v", err)
	}
	if err := handle.RegisterInitializationCallback(nil); !errors.Is(err, errHostUnbound) {
		t.Fatalf("expected unbound error, got %v", err)
	}
}
