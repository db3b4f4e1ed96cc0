package checkers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/fallout-harness/fallout/internal/artifact"
	"github.com/fallout-harness/fallout/internal/props"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// RegexFile matches the contents of artifact files against a pattern; valid
// iff at least one matching file matches.
type RegexFile struct{}

func (RegexFile) Name() string { return "regexfile" }

func (RegexFile) Description() string {
	return "Matches artifact file contents against a regex"
}

func (RegexFile) PropertySpecs() []props.Spec {
	return []props.Spec{
		{Name: "file", Description: "glob of artifact files to inspect", Default: "*"},
		{Name: "pattern", Description: "regular expression that must match", Required: true},
	}
}

func (RegexFile) Check(ctx context.Context, root *artifact.Root, g props.Group) Result {
	rx, err := regexp.Compile(g.String("pattern", ""))
	if err != nil {
		return invalid("compiling pattern: %v", err)
	}

	var inspected int
	for entry, err := range root.Glob(ctx, g.String("file", "*")) {
		if err != nil {
			return invalid("walking artifacts: %v", err)
		}
		data, err := entry.ReadAll()
		if err != nil {
			return invalid("reading %s: %v", entry.Path, err)
		}
		inspected++
		if rx.Match(data) {
			return valid("matched %q in %s", rx, entry.Path)
		}
	}
	return invalid("no match for %q in %d files", rx, inspected)
}

// JSONSchema validates every matching JSON artifact against an inline JSON
// Schema; invalid on the first violation or when no file matches.
type JSONSchema struct{}

func (JSONSchema) Name() string { return "jsonschema" }

func (JSONSchema) Description() string {
	return "Validates JSON artifacts against a JSON Schema"
}

func (JSONSchema) PropertySpecs() []props.Spec {
	return []props.Spec{
		{Name: "file", Description: "glob of JSON artifacts to validate", Required: true},
		{Name: "schema", Description: "inline JSON Schema", Required: true},
	}
}

func (JSONSchema) Check(ctx context.Context, root *artifact.Root, g props.Group) Result {
	schema, err := jsonschema.CompileString("schema.json", g.String("schema", ""))
	if err != nil {
		return invalid("compiling schema: %v", err)
	}

	var validated int
	for entry, err := range root.Glob(ctx, g.String("file", "")) {
		if err != nil {
			return invalid("walking artifacts: %v", err)
		}
		data, err := entry.ReadAll()
		if err != nil {
			return invalid("reading %s: %v", entry.Path, err)
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return invalid("%s is not JSON: %v", entry.Path, err)
		}
		if err := schema.Validate(doc); err != nil {
			return invalid("%s: %v", entry.Path, err)
		}
		validated++
	}
	if validated == 0 {
		return invalid("no artifacts matched %q", g.String("file", ""))
	}
	return valid("validated %d artifacts", validated)
}

// Histogram builds an HDR histogram from recorded latency values (one
// nanosecond integer per line) and asserts percentile and mean bounds.
type Histogram struct{}

func (Histogram) Name() string { return "histogram" }

func (Histogram) Description() string {
	return "Builds an HDR histogram from recorded values and asserts latency bounds"
}

func (Histogram) PropertySpecs() []props.Spec {
	return []props.Spec{
		{Name: "file", Description: "glob of value files (one ns integer per line)", Required: true},
		{Name: "max_p99", Description: "upper bound for the 99th percentile", Parse: props.ParseDuration},
		{Name: "max_mean", Description: "upper bound for the mean", Parse: props.ParseDuration},
	}
}

func (Histogram) Check(ctx context.Context, root *artifact.Root, g props.Group) Result {
	hist := hdrhistogram.New(1, time.Minute.Nanoseconds(), 3)

	var recorded int
	for entry, err := range root.Glob(ctx, g.String("file", "")) {
		if err != nil {
			return invalid("walking artifacts: %v", err)
		}
		f, err := entry.Open()
		if err != nil {
			return invalid("opening %s: %v", entry.Path, err)
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			v, err := strconv.ParseInt(line, 10, 64)
			if err != nil {
				_ = f.Close()
				return invalid("%s: bad value %q: %v", entry.Path, line, err)
			}
			if err := hist.RecordValue(v); err != nil {
				_ = f.Close()
				return invalid("%s: recording %d: %v", entry.Path, v, err)
			}
			recorded++
		}
		err = scanner.Err()
		_ = f.Close()
		if err != nil {
			return invalid("reading %s: %v", entry.Path, err)
		}
	}
	if recorded == 0 {
		return invalid("no values matched %q", g.String("file", ""))
	}

	var violations []string
	if maxP99 := g.Duration("max_p99", 0); maxP99 > 0 {
		if p99 := hist.ValueAtQuantile(99); p99 > maxP99.Nanoseconds() {
			violations = append(violations,
				fmt.Sprintf("p99 %s > %s", time.Duration(p99), maxP99))
		}
	}
	if maxMean := g.Duration("max_mean", 0); maxMean > 0 {
		if mean := hist.Mean(); mean > float64(maxMean.Nanoseconds()) {
			violations = append(violations,
				fmt.Sprintf("mean %s > %s", time.Duration(int64(mean)), maxMean))
		}
	}
	if len(violations) > 0 {
		return invalid("%d values: %v", recorded, violations)
	}
	return valid("%d values, p99 %s", recorded, time.Duration(hist.ValueAtQuantile(99)))
}
