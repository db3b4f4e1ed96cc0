// Package ensemble models the provisioned machine groups a workload runs
// against. Provisioning itself is an external collaborator: the engine only
// consumes a fully initialized Ensemble through the Provisioner interface.
package ensemble

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Node is one provisioned machine in a group.
type Node struct {
	Name string
	Host string
}

// Group is a named set of nodes with the providers its configuration manager
// published. Modules declare required providers; validation happens at
// workload load time.
type Group struct {
	Name      string
	Nodes     []Node
	Providers []string
	Logger    *slog.Logger
}

// Ensemble is the opaque handle a workload runs against. It is read-only from
// the engine's perspective; mutating provisioned state is the collaborator's
// responsibility.
type Ensemble struct {
	TestRunID   uuid.UUID
	Server      *Group
	Client      *Group
	Controller  *Group
	Observer    *Group
	ArtifactDir string
}

func (e *Ensemble) Groups() []*Group {
	var out []*Group
	for _, g := range []*Group{e.Server, e.Client, e.Controller, e.Observer} {
		if g != nil {
			out = append(out, g)
		}
	}
	return out
}

// AvailableProviders is the union of providers over all groups.
func (e *Ensemble) AvailableProviders() map[string]struct{} {
	out := make(map[string]struct{})
	for _, g := range e.Groups() {
		for _, p := range g.Providers {
			out[p] = struct{}{}
		}
	}
	return out
}

// Provisioner turns an ensemble definition into provisioned machine groups.
// Cloud and Kubernetes provisioners live outside this repository.
type Provisioner interface {
	Provision(ctx context.Context, def map[string]any) (*Ensemble, error)
	Teardown(ctx context.Context, e *Ensemble) error
}

// Local provisions every group on the local node. It exists so the engine and
// the CLI are runnable and testable without any external collaborator.
type Local struct {
	ArtifactDir string
	Logger      *slog.Logger
}

func (l Local) Provision(_ context.Context, _ map[string]any) (*Ensemble, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	local := []Node{{Name: "local", Host: "127.0.0.1"}}
	group := func(name string) *Group {
		return &Group{
			Name:      name,
			Nodes:     local,
			Providers: []string{"local"},
			Logger:    logger.With("group", name),
		}
	}
	return &Ensemble{
		TestRunID:   uuid.New(),
		Server:      group("server"),
		Client:      group("client"),
		Controller:  group("controller"),
		Observer:    group("observer"),
		ArtifactDir: l.ArtifactDir,
	}, nil
}

func (l Local) Teardown(_ context.Context, _ *Ensemble) error {
	return nil
}
