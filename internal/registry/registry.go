// Package registry implements the Job Flavor Registry (C8): a static table
// mapping each job flavor to its queue names, ingress schema, result shape,
// and executor. Adding a flavor is entirely a matter of registering an entry
// here and supplying an Executor; the core pipeline is flavor-agnostic.
package registry

import (
	"fmt"

	"github.com/ai-infra/jobpipeline/internal/domain"
)

// FieldType enumerates the typed shapes an ingress field may declare.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldFloat  FieldType = "float"
)

// FieldDescriptor describes one typed ingress parameter for a flavor's JSON body.
type FieldDescriptor struct {
	Name     string
	Type     FieldType
	Required bool
}

// FlavorDescriptor is one entry of the registry.
type FlavorDescriptor struct {
	// Name is the registry tag, e.g. "tts".
	Name string
	// TaskQueue and ResultQueue are the two durable queue names for this flavor.
	TaskQueue   string
	ResultQueue string
	// Fields describes the JSON-body ingress schema.
	Fields []FieldDescriptor
	// ProducesArtifact reports whether completed results are a file (true) or
	// an inline payload (false). Drives both Worker Loop output and the
	// Callback Client's completed-payload shape.
	ProducesArtifact bool
	// ArtifactExt is the file extension for produced artifacts (e.g. "wav").
	ArtifactExt string
	// Executor is the opaque inference function invoked by the Worker Loop.
	Executor domain.Executor
}

// QueueNamesFor returns the conventional <flavor>.task_queue / <flavor>.result_queue pair.
func QueueNamesFor(flavor string) (task, result string) {
	return flavor + ".task_queue", flavor + ".result_queue"
}

// Registry is the static flavor table.
type Registry struct {
	entries map[string]FlavorDescriptor
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]FlavorDescriptor)}
}

// Register adds a flavor entry. It panics on a duplicate name since the
// registry is populated once at startup from a fixed set of call sites.
func (r *Registry) Register(d FlavorDescriptor) {
	if _, exists := r.entries[d.Name]; exists {
		panic(fmt.Sprintf("registry: duplicate flavor %q", d.Name))
	}
	r.entries[d.Name] = d
}

// Get looks up a flavor by name.
func (r *Registry) Get(flavor string) (FlavorDescriptor, error) {
	d, ok := r.entries[flavor]
	if !ok {
		return FlavorDescriptor{}, fmt.Errorf("%w: flavor %q", domain.ErrNotFound, flavor)
	}
	return d, nil
}

// All returns every registered flavor, for wiring queue declarations and consumers.
func (r *Registry) All() []FlavorDescriptor {
	out := make([]FlavorDescriptor, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d)
	}
	return out
}
