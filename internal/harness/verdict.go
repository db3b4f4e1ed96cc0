package harness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fallout-harness/fallout/internal/artifact"
	"github.com/fallout-harness/fallout/internal/history"
)

// CheckReport is one checker's contribution to the verdict.
type CheckReport struct {
	Name    string
	Kind    string // "checker" or "artifact_checker"
	Valid   bool
	Message string
}

// Verdict is the final result of a workload run. Passed is the AND over all
// checks; an aborted run always fails.
type Verdict struct {
	Passed         bool
	Aborted        bool
	Checks         []CheckReport
	OperationCount int
	Duration       time.Duration
}

func (v Verdict) String() string {
	var sb strings.Builder
	switch {
	case v.Aborted:
		sb.WriteString("ABORTED")
	case v.Passed:
		sb.WriteString("PASS")
	default:
		sb.WriteString("FAIL")
	}
	fmt.Fprintf(&sb, " (%d operations in %s)\n", v.OperationCount, v.Duration.Round(time.Millisecond))
	for _, check := range v.Checks {
		status := "valid"
		if !check.Valid {
			status = "invalid"
		}
		fmt.Fprintf(&sb, "  %s %s: %s - %s\n", check.Kind, check.Name, status, check.Message)
	}
	return sb.String()
}

// evaluate runs every checker against the frozen history and every artifact
// checker against the artifact root. Short-circuiting is not permitted: all
// checkers run so every diagnostic is surfaced.
func (r *Runner) evaluate(ctx context.Context, ops []history.Operation) Verdict {
	verdict := Verdict{Passed: true}

	for _, bound := range r.plan.Checkers {
		res := bound.Checker.Check(ops, bound.Properties)
		verdict.Checks = append(verdict.Checks, CheckReport{
			Name:    bound.Name,
			Kind:    "checker",
			Valid:   res.Valid,
			Message: res.Message,
		})
		if !res.Valid {
			verdict.Passed = false
		}
	}

	if len(r.plan.ArtifactCheckers) == 0 {
		return verdict
	}

	root, err := artifact.Open(r.ens.ArtifactDir)
	if err != nil {
		for _, bound := range r.plan.ArtifactCheckers {
			verdict.Checks = append(verdict.Checks, CheckReport{
				Name:    bound.Name,
				Kind:    "artifact_checker",
				Message: fmt.Sprintf("opening artifact directory: %v", err),
			})
		}
		verdict.Passed = false
		return verdict
	}
	defer func() {
		_ = root.Close()
	}()

	for _, bound := range r.plan.ArtifactCheckers {
		res := bound.Checker.Check(ctx, root, bound.Properties)
		verdict.Checks = append(verdict.Checks, CheckReport{
			Name:    bound.Name,
			Kind:    "artifact_checker",
			Valid:   res.Valid,
			Message: res.Message,
		})
		if !res.Valid {
			verdict.Passed = false
		}
	}
	return verdict
}
