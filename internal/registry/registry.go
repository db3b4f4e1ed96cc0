// Package registry resolves the component short names a workload refers to
// into concrete implementations. A lookup failure is a fatal workload-load
// error: nothing runs with an unresolved name.
package registry

import (
	"errors"
	"fmt"
	"slices"

	"github.com/fallout-harness/fallout/internal/checkers"
	"github.com/fallout-harness/fallout/internal/module"
	"github.com/fallout-harness/fallout/internal/modules"
)

var (
	ErrUnknownComponent   = errors.New("unknown component")
	ErrDuplicateComponent = errors.New("component already registered")
)

type (
	ModuleFactory          func() module.Module
	CheckerFactory         func() checkers.Checker
	ArtifactCheckerFactory func() checkers.ArtifactChecker
)

type Registry struct {
	modules          map[string]ModuleFactory
	checkers         map[string]CheckerFactory
	artifactCheckers map[string]ArtifactCheckerFactory
}

func New() *Registry {
	return &Registry{
		modules:          make(map[string]ModuleFactory),
		checkers:         make(map[string]CheckerFactory),
		artifactCheckers: make(map[string]ArtifactCheckerFactory),
	}
}

// Default returns a registry with every built-in component registered.
func Default() *Registry {
	r := New()
	for name, f := range map[string]ModuleFactory{
		"fake":    func() module.Module { return modules.NewFake() },
		"sleep":   func() module.Module { return modules.NewSleep() },
		"text":    func() module.Module { return modules.NewText() },
		"command": func() module.Module { return modules.NewCommand() },
		"ticker":  func() module.Module { return modules.NewTicker() },
		"latency": func() module.Module { return modules.NewLatency() },
	} {
		if err := r.RegisterModule(name, f); err != nil {
			panic(err)
		}
	}
	for name, f := range map[string]CheckerFactory{
		"nofail": func() checkers.Checker { return checkers.NoFail{} },
		"regex":  func() checkers.Checker { return checkers.Regex{} },
		"count":  func() checkers.Checker { return checkers.Count{} },
	} {
		if err := r.RegisterChecker(name, f); err != nil {
			panic(err)
		}
	}
	for name, f := range map[string]ArtifactCheckerFactory{
		"regexfile":  func() checkers.ArtifactChecker { return checkers.RegexFile{} },
		"jsonschema": func() checkers.ArtifactChecker { return checkers.JSONSchema{} },
		"histogram":  func() checkers.ArtifactChecker { return checkers.Histogram{} },
	} {
		if err := r.RegisterArtifactChecker(name, f); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) RegisterModule(name string, f ModuleFactory) error {
	if _, ok := r.modules[name]; ok {
		return fmt.Errorf("module %q: %w", name, ErrDuplicateComponent)
	}
	r.modules[name] = f
	return nil
}

func (r *Registry) RegisterChecker(name string, f CheckerFactory) error {
	if _, ok := r.checkers[name]; ok {
		return fmt.Errorf("checker %q: %w", name, ErrDuplicateComponent)
	}
	r.checkers[name] = f
	return nil
}

func (r *Registry) RegisterArtifactChecker(name string, f ArtifactCheckerFactory) error {
	if _, ok := r.artifactCheckers[name]; ok {
		return fmt.Errorf("artifact checker %q: %w", name, ErrDuplicateComponent)
	}
	r.artifactCheckers[name] = f
	return nil
}

func (r *Registry) NewModule(name string) (module.Module, error) {
	f, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("module %q: %w", name, ErrUnknownComponent)
	}
	return f(), nil
}

func (r *Registry) NewChecker(name string) (checkers.Checker, error) {
	f, ok := r.checkers[name]
	if !ok {
		return nil, fmt.Errorf("checker %q: %w", name, ErrUnknownComponent)
	}
	return f(), nil
}

func (r *Registry) NewArtifactChecker(name string) (checkers.ArtifactChecker, error) {
	f, ok := r.artifactCheckers[name]
	if !ok {
		return nil, fmt.Errorf("artifact checker %q: %w", name, ErrUnknownComponent)
	}
	return f(), nil
}

func (r *Registry) ModuleNames() []string          { return sortedKeys(r.modules) }
func (r *Registry) CheckerNames() []string         { return sortedKeys(r.checkers) }
func (r *Registry) ArtifactCheckerNames() []string { return sortedKeys(r.artifactCheckers) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
