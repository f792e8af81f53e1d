package activities

import (
	"context"
	"image-processing-flow/internal/pipeline"
)

type CheckAffinityInput struct {
	Token pipeline.AffinityToken
}

// AliveChecker reports whether a worker still serves token.
type AliveChecker interface {
	Alive(ctx context.Context, token pipeline.AffinityToken) (bool, error)
}

type Affinity struct {
	registry AliveChecker
}

func NewAffinity(registry AliveChecker) *Affinity {
	return &Affinity{registry: registry}
}

// CheckAffinity runs on the common queue before each sticky step. It fails
// instead of rerouting: no other worker has the run's files.
func (a *Affinity) CheckAffinity(ctx context.Context, input CheckAffinityInput) error {
	alive, err := a.registry.Alive(ctx, input.Token)
	if err != nil {
		return pipeline.NewTransientError("affinity registry lookup failed", err)
	}
	if !alive {
		return pipeline.NewAffinityUnavailableError(input.Token, nil)
	}
	return nil
}
