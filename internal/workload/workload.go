// Package workload loads and validates the YAML workload documents users
// submit. A document is first validated against the embedded CUE schema, then
// decoded into an ordered phase tree: YAML mapping order decides launch order,
// so decoding goes through yaml.Node rather than plain maps.
package workload

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	_ "embed"
)

//go:embed workload.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Workload"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

// Workload is the resolved tree the engine consumes.
type Workload struct {
	// PhaseTimeout bounds each concurrent group; zero means no timeout.
	PhaseTimeout     time.Duration
	Phases           []Group
	Checkers         []CheckerSpec
	ArtifactCheckers []ArtifactCheckerSpec
}

// Group maps instance names to children that run concurrently. Order follows
// the YAML document.
type Group struct {
	Entries []Entry
}

// Entry is one named child of a group: either a module spec or a nested
// phase (a sequence of groups).
type Entry struct {
	Name   string
	Module *ModuleSpec
	Phase  []Group
}

type ModuleSpec struct {
	Module     string         `yaml:"module"`
	Properties map[string]any `yaml:"properties"`
}

type CheckerSpec struct {
	Name       string
	Checker    string
	Properties map[string]any
}

type ArtifactCheckerSpec struct {
	Name            string
	ArtifactChecker string
	Properties      map[string]any
}

type document struct {
	Ensemble map[string]any `yaml:"ensemble"`
	Workload struct {
		PhaseTimeout string      `yaml:"phase_timeout"`
		Phases       []yaml.Node `yaml:"phases"`
		Checkers     map[string]struct {
			Checker    string         `yaml:"checker"`
			Properties map[string]any `yaml:"properties"`
		} `yaml:"checkers"`
		ArtifactCheckers map[string]struct {
			ArtifactChecker string         `yaml:"artifact_checker"`
			Properties      map[string]any `yaml:"properties"`
		} `yaml:"artifact_checkers"`
	} `yaml:"workload"`
}

// Load validates YAML from r against the CUE schema and decodes it. The
// second return value is the raw ensemble definition, handed over verbatim to
// the provisioner collaborator.
func Load(r io.Reader) (*Workload, map[string]any, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading workload: %w", err)
	}

	yamlFile, err := cueyaml.Extract("workload.yaml", bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing workload: %w", err)
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return nil, nil, fmt.Errorf("validating workload: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("decoding workload: %w", err)
	}

	wl := &Workload{}
	if doc.Workload.PhaseTimeout != "" {
		d, err := time.ParseDuration(doc.Workload.PhaseTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing phase_timeout: %w", err)
		}
		wl.PhaseTimeout = d
	}

	for i, node := range doc.Workload.Phases {
		group, err := parseGroup(&node)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing phase %d: %w", i, err)
		}
		wl.Phases = append(wl.Phases, group)
	}

	// map order is not document order; keep checkers deterministic by name
	for _, name := range sortedKeys(doc.Workload.Checkers) {
		spec := doc.Workload.Checkers[name]
		wl.Checkers = append(wl.Checkers, CheckerSpec{
			Name:       name,
			Checker:    spec.Checker,
			Properties: spec.Properties,
		})
	}
	for _, name := range sortedKeys(doc.Workload.ArtifactCheckers) {
		spec := doc.Workload.ArtifactCheckers[name]
		wl.ArtifactCheckers = append(wl.ArtifactCheckers, ArtifactCheckerSpec{
			Name:            name,
			ArtifactChecker: spec.ArtifactChecker,
			Properties:      spec.Properties,
		})
	}

	return wl, doc.Ensemble, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func parseGroup(node *yaml.Node) (Group, error) {
	if node.Kind != yaml.MappingNode {
		return Group{}, fmt.Errorf("expected a mapping of instance names, got %s", kindName(node.Kind))
	}

	var group Group
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		entry := Entry{Name: key.Value}

		switch value.Kind {
		case yaml.MappingNode:
			var spec ModuleSpec
			if err := value.Decode(&spec); err != nil {
				return Group{}, fmt.Errorf("decoding module %q: %w", entry.Name, err)
			}
			entry.Module = &spec
		case yaml.SequenceNode:
			for j, sub := range value.Content {
				subGroup, err := parseGroup(sub)
				if err != nil {
					return Group{}, fmt.Errorf("parsing sub-phase %q group %d: %w", entry.Name, j, err)
				}
				entry.Phase = append(entry.Phase, subGroup)
			}
		default:
			return Group{}, fmt.Errorf("entry %q: expected a module spec or a sub-phase list", entry.Name)
		}
		group.Entries = append(group.Entries, entry)
	}
	return group, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return fmt.Sprintf("kind(%d)", k)
}
