package modules

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fallout-harness/fallout/internal/ensemble"
	"github.com/fallout-harness/fallout/internal/module"
	"github.com/fallout-harness/fallout/internal/props"
)

// Command runs a local command on the controller. Stderr lines stream into
// the history as info operations while the command runs; the captured stdout
// and the exit status are emitted when it finishes.
type Command struct {
	module.Base
}

func NewCommand() *Command {
	return &Command{Base: module.NewBase()}
}

func (m *Command) Name() string        { return "command" }
func (m *Command) Description() string { return "Runs a local command and emits its output" }

func (m *Command) PropertySpecs() []props.Spec {
	return append(m.Base.PropertySpecs(),
		props.Spec{
			Name:        "command",
			Description: "path or name of the binary to run",
			Required:    true,
		},
		props.Spec{
			Name:        "args",
			Description: "arguments passed to the command",
		},
		props.Spec{
			Name:        "timeout",
			Description: "kill the command after this long",
			Default:     "1m",
			Parse:       props.ParseDuration,
		},
	)
}

func (m *Command) Setup(context.Context, *ensemble.Ensemble, props.Group) error { return nil }

func (m *Command) Run(ctx context.Context, _ *ensemble.Ensemble, g props.Group) error {
	ctx, cancel := context.WithTimeout(ctx, g.Duration("timeout", time.Minute))
	defer cancel()

	cmd := exec.CommandContext(ctx, g.String("command", ""), g.Strings("args")...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	stderr, err := cmd.StderrPipe()
	if err != nil {
		m.EmitError(fmt.Sprintf("attaching stderr: %v", err))
		return nil
	}

	if err := cmd.Start(); err != nil {
		m.EmitError(fmt.Sprintf("starting command: %v", err))
		return nil
	}
	m.EmitInvoke(cmd.String())

	var stderrWg sync.WaitGroup
	stderrWg.Go(func() {
		m.processStderr(stderr)
	})

	// cooperative abort: poll the flag while the command runs
	pollDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		for {
			select {
			case <-pollDone:
				return
			case <-time.After(50 * time.Millisecond):
				if m.Aborted() {
					cancel()
					return
				}
			}
		}
	})

	// Wait closes the stderr pipe, so every stderr line is read first
	stderrWg.Wait()
	err = cmd.Wait()
	close(pollDone)
	wg.Wait()

	if out := strings.TrimSpace(stdout.String()); out != "" {
		m.EmitInfo(out)
	}
	if err != nil {
		m.EmitFail(fmt.Sprintf("command failed: %v", err))
		return nil
	}
	m.EmitOk(fmt.Sprintf("exit code %d", cmd.ProcessState.ExitCode()))
	return nil
}

func (m *Command) processStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		m.EmitInfo(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		m.Logger().Error("processing stderr", "error", err)
	}
}

func (m *Command) Teardown(context.Context, *ensemble.Ensemble, props.Group) error { return nil }

var _ module.Module = (*Command)(nil)
