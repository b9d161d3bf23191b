// Package jobs contains the scheduled-work engine: the scheduler that turns
// eligible accounts into time-distributed jobs and the processor that claims
// and executes them.
package jobs

import (
	"context"
	"io"

	"github.com/causewatch/causewatch/internal/store/model"
)

// Runner executes one job kind. The returned metadata is persisted on the
// completed job for operators.
type Runner interface {
	Run(ctx context.Context, job *model.Job) (map[string]any, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, job *model.Job) (map[string]any, error)

func (f RunnerFunc) Run(ctx context.Context, job *model.Job) (map[string]any, error) {
	return f(ctx, job)
}

// Registry maps job kinds to their runners. Kinds without a runner belong to
// other services and are left untouched by the processor.
type Registry struct {
	runners map[model.JobKind]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[model.JobKind]Runner)}
}

func (r *Registry) Register(kind model.JobKind, runner Runner) {
	if kind == "" || runner == nil {
		return
	}
	r.runners[kind] = runner
}

func (r *Registry) Runner(kind model.JobKind) (Runner, bool) {
	runner, ok := r.runners[kind]
	return runner, ok
}

// Kinds lists the job kinds with a registered runner.
func (r *Registry) Kinds() []model.JobKind {
	kinds := make([]model.JobKind, 0, len(r.runners))
	for kind := range r.runners {
		kinds = append(kinds, kind)
	}
	return kinds
}

const CauseSyncEventKind = "causewatch.events.cause_sync"

// Events is the slice of the event producer the runners need.
type Events interface {
	Write(ctx context.Context, kind string, body io.Reader) error
}

// Archiver stores raw fetch payloads for replay. Optional.
type Archiver interface {
	Store(ctx context.Context, key string, payload []byte) error
}
