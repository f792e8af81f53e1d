package activities

import (
	"context"
	"go.temporal.io/sdk/activity"
	"image-processing-flow/internal/imageops"
	"image-processing-flow/internal/metrics"
	"image-processing-flow/internal/pipeline"
	"time"
)

type TransformInput struct {
	Source string
	Target string
}

// Transform holds the image activities. They only ever touch files of the
// local workspace, so they must run on the worker that downloaded them.
type Transform struct {
	ws      *Workspace
	metrics *metrics.Recorder
}

func NewTransform(ws *Workspace, m *metrics.Recorder) *Transform {
	return &Transform{ws: ws, metrics: m}
}

func (t *Transform) Grayscale(ctx context.Context, input TransformInput) (err error) {
	started := time.Now()
	defer func() { t.metrics.Observe("Grayscale", started, err) }()
	return t.apply(ctx, pipeline.Grayscale, input)
}

func (t *Transform) Sepia(ctx context.Context, input TransformInput) (err error) {
	started := time.Now()
	defer func() { t.metrics.Observe("Sepia", started, err) }()
	return t.apply(ctx, pipeline.Sepia, input)
}

func (t *Transform) apply(ctx context.Context, kind pipeline.TransformKind, input TransformInput) error {
	src, err := t.ws.Path(input.Source)
	if err != nil {
		return pipeline.NewPermanentInputError(err.Error(), err)
	}
	dst, err := t.ws.Path(input.Target)
	if err != nil {
		return pipeline.NewPermanentInputError(err.Error(), err)
	}

	if err := imageops.TransformFile(kind, src, dst); err != nil {
		if pipeline.KindOf(err) == pipeline.KindPermanentInput {
			return err
		}
		return pipeline.NewTransientError("transform failed", err)
	}

	activity.GetLogger(ctx).Info("Transformed", "Kind", kind, "Source", input.Source, "Target", input.Target)
	return nil
}
