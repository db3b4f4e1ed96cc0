package harness

import (
	"errors"
	"fmt"
	"time"

	"github.com/fallout-harness/fallout/internal/checkers"
	"github.com/fallout-harness/fallout/internal/ensemble"
	"github.com/fallout-harness/fallout/internal/module"
	"github.com/fallout-harness/fallout/internal/props"
	"github.com/fallout-harness/fallout/internal/registry"
	"github.com/fallout-harness/fallout/internal/workload"
)

var (
	ErrDuplicateInstance = errors.New("instance name already used")
	ErrMissingProvider   = errors.New("required provider not available")
)

// Node is one resolved child of a phase group: either a module instance or a
// nested phase.
type Node struct {
	Name   string
	Module module.Module
	Phase  []GroupPlan
}

// GroupPlan is a set of children that launch concurrently, in document order.
type GroupPlan struct {
	Nodes []Node
}

type BoundChecker struct {
	Name       string
	Checker    checkers.Checker
	Properties props.Group
}

type BoundArtifactChecker struct {
	Name       string
	Checker    checkers.ArtifactChecker
	Properties props.Group
}

// Plan is a fully resolved workload: every name resolved, every property
// group validated, every instance constructed. Building the plan is the load
// phase; any error here is fatal and nothing has run yet.
type Plan struct {
	Phases           []GroupPlan
	Checkers         []BoundChecker
	ArtifactCheckers []BoundArtifactChecker
	PhaseTimeout     time.Duration

	modules []module.Module
}

// Modules returns every module instance of the plan, in tree order.
func (p *Plan) Modules() []module.Module {
	return p.modules
}

type builder struct {
	reg       *registry.Registry
	available map[string]struct{}
	seen      map[string]struct{}
	modules   []module.Module
}

// Build resolves a parsed workload tree against the registry and the
// provisioned ensemble.
func Build(reg *registry.Registry, wl *workload.Workload, ens *ensemble.Ensemble) (*Plan, error) {
	b := &builder{
		reg:       reg,
		available: ens.AvailableProviders(),
		seen:      make(map[string]struct{}),
	}

	plan := &Plan{PhaseTimeout: wl.PhaseTimeout}
	for i, group := range wl.Phases {
		built, err := b.buildGroup(group)
		if err != nil {
			return nil, fmt.Errorf("phase %d: %w", i, err)
		}
		plan.Phases = append(plan.Phases, built)
	}
	plan.modules = b.modules

	for _, spec := range wl.Checkers {
		checker, err := reg.NewChecker(spec.Checker)
		if err != nil {
			return nil, fmt.Errorf("checker %q: %w", spec.Name, err)
		}
		validated, err := props.Validate(checker.PropertySpecs(), spec.Properties)
		if err != nil {
			return nil, fmt.Errorf("checker %q: %w", spec.Name, err)
		}
		plan.Checkers = append(plan.Checkers, BoundChecker{
			Name:       spec.Name,
			Checker:    checker,
			Properties: validated,
		})
	}

	for _, spec := range wl.ArtifactCheckers {
		checker, err := reg.NewArtifactChecker(spec.ArtifactChecker)
		if err != nil {
			return nil, fmt.Errorf("artifact checker %q: %w", spec.Name, err)
		}
		validated, err := props.Validate(checker.PropertySpecs(), spec.Properties)
		if err != nil {
			return nil, fmt.Errorf("artifact checker %q: %w", spec.Name, err)
		}
		plan.ArtifactCheckers = append(plan.ArtifactCheckers, BoundArtifactChecker{
			Name:       spec.Name,
			Checker:    checker,
			Properties: validated,
		})
	}

	return plan, nil
}

func (b *builder) buildGroup(group workload.Group) (GroupPlan, error) {
	var plan GroupPlan
	for _, entry := range group.Entries {
		if _, dup := b.seen[entry.Name]; dup {
			return GroupPlan{}, fmt.Errorf("%q: %w", entry.Name, ErrDuplicateInstance)
		}
		b.seen[entry.Name] = struct{}{}

		node := Node{Name: entry.Name}
		switch {
		case entry.Module != nil:
			m, err := b.buildModule(entry.Name, *entry.Module)
			if err != nil {
				return GroupPlan{}, err
			}
			node.Module = m
		default:
			for i, sub := range entry.Phase {
				built, err := b.buildGroup(sub)
				if err != nil {
					return GroupPlan{}, fmt.Errorf("sub-phase %q group %d: %w", entry.Name, i, err)
				}
				node.Phase = append(node.Phase, built)
			}
		}
		plan.Nodes = append(plan.Nodes, node)
	}
	return plan, nil
}

func (b *builder) buildModule(name string, spec workload.ModuleSpec) (module.Module, error) {
	m, err := b.reg.NewModule(spec.Module)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", name, err)
	}

	validated, err := props.Validate(m.PropertySpecs(), spec.Properties)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", name, err)
	}

	for _, provider := range m.RequiredProviders() {
		if _, ok := b.available[provider]; !ok {
			return nil, fmt.Errorf("%q needs %q: %w", name, provider, ErrMissingProvider)
		}
	}

	base := module.BaseOf(m)
	base.SetInstanceName(name)
	base.SetProperties(validated)
	base.SetState(module.Created)

	b.modules = append(b.modules, m)
	return m, nil
}
