// Package checkers evaluates frozen histories and on-disk artifacts. A
// checker is a pure function of the history plus its property group: same
// inputs, same verdict.
package checkers

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/fallout-harness/fallout/internal/artifact"
	"github.com/fallout-harness/fallout/internal/history"
	"github.com/fallout-harness/fallout/internal/props"
)

// Result is one checker's verdict plus diagnostics.
type Result struct {
	Valid   bool
	Message string
}

func valid(format string, args ...any) Result {
	return Result{Valid: true, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) Result {
	return Result{Valid: false, Message: fmt.Sprintf(format, args...)}
}

// Checker inspects the in-memory history of a completed run.
type Checker interface {
	Name() string
	Description() string
	PropertySpecs() []props.Spec
	Check(ops []history.Operation, g props.Group) Result
}

// ArtifactChecker inspects the files modules wrote below the artifact root.
// Artifact checkers run after all history checkers.
type ArtifactChecker interface {
	Name() string
	Description() string
	PropertySpecs() []props.Spec
	Check(ctx context.Context, root *artifact.Root, g props.Group) Result
}

// NoFail marks the history invalid iff it contains any fail or error
// operation.
type NoFail struct{}

func (NoFail) Name() string        { return "nofail" }
func (NoFail) Description() string { return "Checks no operations of type fail or error exist" }

func (NoFail) PropertySpecs() []props.Spec { return nil }

func (NoFail) Check(ops []history.Operation, _ props.Group) Result {
	var failed int
	var first string
	for _, op := range ops {
		if op.Type == history.Fail || op.Type == history.Error {
			failed++
			if first == "" {
				first = fmt.Sprintf("%s %s: %v", op.Process, op.Type, op.Value)
			}
		}
	}
	if failed > 0 {
		return invalid("%d failed operations, first: %s", failed, first)
	}
	return valid("no failed operations in %d", len(ops))
}

// Regex concatenates all string-valued operations and matches the result
// against a pattern; invalid iff there is no match. The optional processes
// property narrows the concatenation to the named instances.
type Regex struct{}

func (Regex) Name() string { return "regex" }

func (Regex) Description() string {
	return "Concatenates all string operation values and matches them against a regex"
}

func (Regex) PropertySpecs() []props.Spec {
	return []props.Spec{
		{Name: "pattern", Description: "regular expression that must match", Required: true},
		{Name: "processes", Description: "restrict to these instance names"},
	}
}

func (Regex) Check(ops []history.Operation, g props.Group) Result {
	rx, err := regexp.Compile(g.String("pattern", ""))
	if err != nil {
		return invalid("compiling pattern: %v", err)
	}
	processes := g.Strings("processes")

	var sb strings.Builder
	for _, op := range ops {
		if len(processes) > 0 && !slices.Contains(processes, op.Process) {
			continue
		}
		if s, ok := op.StringValue(); ok {
			sb.WriteString(s)
		}
	}
	if !rx.MatchString(sb.String()) {
		return invalid("no match for %q in %q", rx, sb.String())
	}
	return valid("matched %q", rx)
}

// Count asserts that the number of operations with the given processes and
// types lies within [min, max].
type Count struct{}

func (Count) Name() string { return "count" }

func (Count) Description() string {
	return "Counts operations of given processes and types and asserts min <= count <= max"
}

func (Count) PropertySpecs() []props.Spec {
	return []props.Spec{
		{Name: "processes", Description: "instance names to count", Required: true},
		{Name: "types", Description: "operation types to count", Required: true},
		{Name: "min", Description: "minimum count", Default: 0},
		{Name: "max", Description: "maximum count", Default: math.MaxInt},
	}
}

func (Count) Check(ops []history.Operation, g props.Group) Result {
	processes := g.Strings("processes")
	var types []history.Type
	for _, t := range g.Strings("types") {
		types = append(types, history.Type(t))
	}

	var count int
	for _, op := range ops {
		if slices.Contains(processes, op.Process) && slices.Contains(types, op.Type) {
			count++
		}
	}

	minCount := g.Int("min", 0)
	maxCount := g.Int("max", math.MaxInt)
	if count < minCount || count > maxCount {
		return invalid("counted %d operations of %v for %v, want %d..%d",
			count, types, processes, minCount, maxCount)
	}
	return valid("counted %d operations", count)
}
