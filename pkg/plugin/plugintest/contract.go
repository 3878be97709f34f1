// Package plugintest provides shared contract tests that verify any
// plugin.Plugin implementation behaves correctly. Every module's test file
// should call TestPluginContract.
package plugintest

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/HerbHall/upkeep/pkg/plugin"
)

// DepsFunc builds the dependencies a module is initialized with. Modules that
// need a store or bus supply their own; the default carries only a logger.
type DepsFunc func(t *testing.T, name string) plugin.Dependencies

// TestPluginContract runs behavioral contract tests against a module:
//
//	func TestContract(t *testing.T) {
//	    plugintest.TestPluginContract(t, func() plugin.Plugin { return fleet.New() }, nil)
//	}
func TestPluginContract(t *testing.T, factory func() plugin.Plugin, depsFn DepsFunc) {
	t.Helper()
	if depsFn == nil {
		depsFn = loggerOnly
	}

	t.Run("Info_returns_valid_metadata", func(t *testing.T) {
		info := factory().Info()
		if info.Name == "" {
			t.Error("Info().Name must not be empty")
		}
		if info.Version == "" {
			t.Error("Info().Version must not be empty")
		}
		if info.APIVersion < plugin.APIVersionMin || info.APIVersion > plugin.APIVersionCurrent {
			t.Errorf("Info().APIVersion = %d, want [%d, %d]", info.APIVersion, plugin.APIVersionMin, plugin.APIVersionCurrent)
		}
	})

	t.Run("Init_Start_Stop", func(t *testing.T) {
		p := factory()
		if err := p.Init(context.Background(), depsFn(t, p.Info().Name)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if err := p.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if err := p.Stop(context.Background()); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	})

	t.Run("Stop_without_Start_does_not_panic", func(t *testing.T) {
		p := factory()
		if err := p.Init(context.Background(), depsFn(t, p.Info().Name)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if err := p.Stop(context.Background()); err != nil {
			t.Fatalf("Stop() without Start error = %v", err)
		}
	})

	t.Run("Info_is_idempotent", func(t *testing.T) {
		p := factory()
		a, b := p.Info(), p.Info()
		if a.Name != b.Name || a.Version != b.Version {
			t.Error("Info() must return consistent results")
		}
	})
}

func loggerOnly(_ *testing.T, name string) plugin.Dependencies {
	return plugin.Dependencies{Logger: zap.NewNop().Named(name)}
}
