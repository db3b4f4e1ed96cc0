package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fallout-harness/fallout/internal/ensemble"
	"github.com/fallout-harness/fallout/internal/harness"
	"github.com/fallout-harness/fallout/internal/log"
	"github.com/fallout-harness/fallout/internal/registry"
	"github.com/fallout-harness/fallout/internal/workload"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func loadPlan(ctx context.Context, path string) (*harness.Plan, *ensemble.Ensemble, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening workload: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	wl, ensembleDef, err := workload.Load(f)
	if err != nil {
		return nil, nil, err
	}

	// provisioning is an external concern; the built-in provisioner puts
	// every group on the local node
	provisioner := ensemble.Local{
		ArtifactDir: viper.GetString("artifact-dir"),
		Logger:      slog.Default(),
	}
	ens, err := provisioner.Provision(ctx, ensembleDef)
	if err != nil {
		return nil, nil, fmt.Errorf("provisioning ensemble: %w", err)
	}

	plan, err := harness.Build(registry.Default(), wl, ens)
	if err != nil {
		return nil, nil, fmt.Errorf("loading workload: %w", err)
	}
	return plan, ens, nil
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	plan, ens, err := loadPlan(ctx, args[0])
	if err != nil {
		return err
	}

	ctx = log.WithTestRun(ctx, ens.TestRunID.String())
	attrs := slog.Group("fallout",
		slog.String("cmd", "run"),
		slog.Int64("pid", int64(os.Getpid())),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	runner := harness.NewRunner(plan, ens, slog.Default(), harness.Config{
		PhaseTimeout: phaseTimeout(),
		RecordDir:    viper.GetString("record-dir"),
	})

	// an interrupt requests cooperative abort; modules finish on their own
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			slog.WarnContext(ctx, "interrupt received, aborting test run")
			runner.Abort()
		}
	}()

	verdict, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Print(verdict.String())
	if !verdict.Passed {
		return fmt.Errorf("workload failed")
	}
	return nil
}

func doValidate(cmd *cobra.Command, args []string) error {
	plan, _, err := loadPlan(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("workload ok: %d phases, %d modules, %d checkers, %d artifact checkers\n",
		len(plan.Phases), len(plan.Modules()), len(plan.Checkers), len(plan.ArtifactCheckers))
	return nil
}

func doComponents(cmd *cobra.Command, _ []string) error {
	reg := registry.Default()

	fmt.Println("modules:")
	for _, name := range reg.ModuleNames() {
		m, err := reg.NewModule(name)
		if err != nil {
			return err
		}
		fmt.Printf("  %-12s %s\n", name, m.Description())
	}

	fmt.Println("checkers:")
	for _, name := range reg.CheckerNames() {
		c, err := reg.NewChecker(name)
		if err != nil {
			return err
		}
		fmt.Printf("  %-12s %s\n", name, c.Description())
	}

	fmt.Println("artifact checkers:")
	for _, name := range reg.ArtifactCheckerNames() {
		a, err := reg.NewArtifactChecker(name)
		if err != nil {
			return err
		}
		fmt.Printf("  %-12s %s\n", name, a.Description())
	}
	return nil
}
