package registry

import (
	"context"

	"github.com/ai-infra/jobpipeline/internal/domain"
)

// notImplementedExecutor satisfies the registry contract for flavors whose
// ingress schema is defined but whose inference backend isn't wired up yet.
// SubmitService accepts these flavors (they are known to the registry), but
// the HTTP router registers no submit route for them, and a worker fails
// such a job immediately with ErrNotImplemented.
func notImplementedExecutor(ctx context.Context, job domain.Job) (string, string, error) {
	return "", "", domain.ErrNotImplemented
}

// registerStubs adds the remaining job flavors named in the shared registry
// with schemas only, no working executor. They exist so the submit service,
// queue topology, and result consumer exercise the same generic path for
// every flavor, not just tts.
func registerStubs(r *Registry) {
	r.Register(FlavorDescriptor{
		Name:        "asr",
		TaskQueue:   "asr.task_queue",
		ResultQueue: "asr.result_queue",
		Fields: []FieldDescriptor{
			{Name: "audio_path", Type: FieldString, Required: true},
		},
		ProducesArtifact: false,
		Executor:         notImplementedExecutor,
	})
	r.Register(FlavorDescriptor{
		Name:        "ocr",
		TaskQueue:   "ocr.task_queue",
		ResultQueue: "ocr.result_queue",
		Fields: []FieldDescriptor{
			{Name: "image_path", Type: FieldString, Required: true},
		},
		ProducesArtifact: false,
		Executor:         notImplementedExecutor,
	})
	r.Register(FlavorDescriptor{
		Name:        "pose",
		TaskQueue:   "pose.task_queue",
		ResultQueue: "pose.result_queue",
		Fields: []FieldDescriptor{
			{Name: "video_path", Type: FieldString, Required: true},
		},
		ProducesArtifact: true,
		ArtifactExt:      "json",
		Executor:         notImplementedExecutor,
	})
	r.Register(FlavorDescriptor{
		Name:        "face",
		TaskQueue:   "face.task_queue",
		ResultQueue: "face.result_queue",
		Fields: []FieldDescriptor{
			{Name: "image_path", Type: FieldString, Required: true},
		},
		ProducesArtifact: false,
		Executor:         notImplementedExecutor,
	})
	r.Register(FlavorDescriptor{
		Name:        "llm_analysis",
		TaskQueue:   "llm_analysis.task_queue",
		ResultQueue: "llm_analysis.result_queue",
		Fields: []FieldDescriptor{
			{Name: "prompt", Type: FieldString, Required: true},
			{Name: "model", Type: FieldString, Required: false},
		},
		ProducesArtifact: false,
		Executor:         notImplementedExecutor,
	})
}

// Default builds the registry used by both the dispatcher and worker
// processes. resultRoot is where artifact-producing flavors stage their
// output files (shared with the Janitor's sweep).
func Default(resultRoot string) *Registry {
	r := New()
	r.Register(NewTTSDescriptor(resultRoot))
	registerStubs(r)
	return r
}
