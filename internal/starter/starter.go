// Package starter launches pipeline runs on the workflow task queue.
package starter

import (
	"context"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"image-processing-flow/internal/config"
	"image-processing-flow/internal/pipeline"
	"image-processing-flow/internal/workflows"
)

type Starter struct {
	client client.Client
	queue  string
	prefix string
}

func New(c client.Client, cfg config.Temporal) *Starter {
	return &Starter{
		client: c,
		queue:  cfg.WorkflowQueue,
		prefix: cfg.WorkflowIDPrefix,
	}
}

// Start begins a run with a fresh execution id and returns without waiting.
func (s *Starter) Start(ctx context.Context, req pipeline.Request) (client.WorkflowRun, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	options := client.StartWorkflowOptions{
		ID:        s.prefix + uuid.NewString(),
		TaskQueue: s.queue,
	}
	return s.client.ExecuteWorkflow(ctx, options, workflows.WorkflowName, req)
}

// Run starts a run and waits for its terminal outcome. The returned error
// is only set when the run could not be started or awaited.
func (s *Starter) Run(ctx context.Context, req pipeline.Request) (pipeline.Outcome, error) {
	run, err := s.Start(ctx, req)
	if err != nil {
		return pipeline.Outcome{}, err
	}

	var result pipeline.Result
	err = run.Get(ctx, &result)
	if err != nil && ctx.Err() != nil {
		return pipeline.Outcome{}, ctx.Err()
	}
	return pipeline.OutcomeOf(result, err), nil
}
