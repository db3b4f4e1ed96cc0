// Package props holds the validation metadata every workload component
// publishes for its configurable properties, and the validated property
// groups built from the workload YAML.
package props

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"time"
)

var (
	ErrMissingRequired = errors.New("missing required property")
	ErrInvalidValue    = errors.New("invalid property value")
	ErrUnknownProperty = errors.New("unknown property")
)

// Spec describes one property a component accepts.
type Spec struct {
	Name        string
	Description string
	Required    bool
	Default     any
	// Pattern validates string values when set.
	Pattern string
	// Options enumerates the accepted string values when set.
	Options []string
	// Parse converts the raw YAML value into the component's native type.
	// The parsed value replaces the raw one in the validated group.
	Parse func(any) (any, error)
}

// Group is a validated set of property values keyed by property name.
type Group map[string]any

func (g Group) Has(name string) bool {
	_, ok := g[name]
	return ok
}

// String returns the property as a string, or def when absent or not a string.
func (g Group) String(name, def string) string {
	if s, ok := g[name].(string); ok {
		return s
	}
	return def
}

// Int returns the property as an int. YAML decodes integers as int.
func (g Group) Int(name string, def int) int {
	switch v := g[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Duration returns a property previously parsed with ParseDuration, or def.
func (g Group) Duration(name string, def time.Duration) time.Duration {
	if d, ok := g[name].(time.Duration); ok {
		return d
	}
	return def
}

// Strings returns a list-valued property. A scalar string becomes a
// single-element list.
func (g Group) Strings(name string) []string {
	switch v := g[name].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ParseDuration is a Spec.Parse helper accepting Go duration strings.
func ParseDuration(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected duration string, got %T", v)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks raw against specs and returns the normalized group:
// defaults applied, parsers run, unknown keys rejected. It is called once at
// workload load time, before any component is constructed.
func Validate(specs []Spec, raw Group) (Group, error) {
	known := make(map[string]Spec, len(specs))
	for _, spec := range specs {
		known[spec.Name] = spec
	}

	for name := range raw {
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProperty, name)
		}
	}

	out := make(Group, len(specs))
	maps.Copy(out, raw)

	var errs []error
	for _, spec := range specs {
		value, present := out[spec.Name]
		if !present {
			if spec.Required {
				errs = append(errs, fmt.Errorf("%w: %q", ErrMissingRequired, spec.Name))
				continue
			}
			if spec.Default == nil {
				continue
			}
			value = spec.Default
		}

		if s, ok := value.(string); ok {
			if len(spec.Options) > 0 && !slices.Contains(spec.Options, s) {
				errs = append(errs, fmt.Errorf("%w: %q must be one of %v, got %q",
					ErrInvalidValue, spec.Name, spec.Options, s))
				continue
			}
			if spec.Pattern != "" {
				rx, err := regexp.Compile(spec.Pattern)
				if err != nil {
					errs = append(errs, fmt.Errorf("property %q has invalid pattern: %w", spec.Name, err))
					continue
				}
				if !rx.MatchString(s) {
					errs = append(errs, fmt.Errorf("%w: %q must match %q, got %q",
						ErrInvalidValue, spec.Name, spec.Pattern, s))
					continue
				}
			}
		}

		if spec.Parse != nil {
			parsed, err := spec.Parse(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %q: %v", ErrInvalidValue, spec.Name, err))
				continue
			}
			value = parsed
		}
		out[spec.Name] = value
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
