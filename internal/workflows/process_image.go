package workflows

import (
	"errors"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
	"image-processing-flow/internal/activities"
	"image-processing-flow/internal/pipeline"
	"time"
)

// Pipeline is registered on the workflow worker. CommonQueue is where
// downloads and affinity checks are scheduled; every later step goes to the
// queue of the worker that ran the download.
type Pipeline struct {
	CommonQueue           string
	StickyScheduleToStart time.Duration
}

func (p *Pipeline) ProcessImage(ctx workflow.Context, req pipeline.Request) (pipeline.Result, error) {
	logger := workflow.GetLogger(ctx)

	if err := req.Validate(); err != nil {
		return pipeline.Result{}, err
	}

	runID := workflow.GetInfo(ctx).WorkflowExecution.RunID
	m := pipeline.NewMachine(runID, req)
	queryState := func() (pipeline.State, error) {
		return m.State(), nil
	}
	if err := workflow.SetQueryHandler(ctx, StateQuery, queryState); err != nil {
		return pipeline.Result{}, err
	}

	for m.Step() != pipeline.StepDone {
		var err error
		switch m.Step() {
		case pipeline.StepDownload:
			var token pipeline.AffinityToken
			if token, err = p.download(ctx, m); err == nil {
				err = m.Downloaded(token)
			}
		case pipeline.StepTransform:
			if err = p.transform(ctx, m); err == nil {
				err = m.Transformed()
			}
		case pipeline.StepUpload:
			var url string
			if url, err = p.upload(ctx, m); err == nil {
				err = m.Uploaded(url)
			}
		case pipeline.StepCleanup:
			p.cleanup(ctx, m)
			err = m.CleanedUp()
		}

		if err != nil {
			logger.Error("Pipeline step failed", "Step", m.Step(), "Kind", pipeline.KindOf(err), "Error", err)
			if ferr := m.Fail(err); ferr != nil {
				return pipeline.Result{}, ferr
			}
		}
	}

	return m.Result()
}

func (p *Pipeline) download(ctx workflow.Context, m *pipeline.Machine) (pipeline.AffinityToken, error) {
	opts := commonOptions(p.CommonQueue, TransferTimeout, &TransferRetryPolicy)
	opts.HeartbeatTimeout = TransferHeartbeatTimeout
	ctx = workflow.WithActivityOptions(ctx, opts)

	req := m.Request()
	input := activities.DownloadInput{
		Bucket:    req.SourceBucket,
		Key:       req.SourceKey,
		LocalName: m.Artifacts().Source,
	}
	var output activities.DownloadOutput
	if err := workflow.ExecuteActivity(ctx, DownloadActivity, input).Get(ctx, &output); err != nil {
		return "", err
	}
	return output.Affinity, nil
}

func (p *Pipeline) transform(ctx workflow.Context, m *pipeline.Machine) error {
	kind, err := pipeline.ParseTransformKind(string(m.Request().Transform))
	if err != nil {
		return err
	}
	name := GrayscaleActivity
	if kind == pipeline.Sepia {
		name = SepiaActivity
	}

	if err := p.checkAffinity(ctx, m.Affinity()); err != nil {
		return err
	}

	ctx = workflow.WithActivityOptions(ctx, p.stickyOptions(m.Affinity(), TransformTimeout, &TransformRetryPolicy))
	input := activities.TransformInput{
		Source: m.Artifacts().Source,
		Target: m.Artifacts().Target,
	}
	err = workflow.ExecuteActivity(ctx, name, input).Get(ctx, nil)
	return stickyError(m.Affinity(), err)
}

func (p *Pipeline) upload(ctx workflow.Context, m *pipeline.Machine) (string, error) {
	if err := p.checkAffinity(ctx, m.Affinity()); err != nil {
		return "", err
	}

	opts := p.stickyOptions(m.Affinity(), TransferTimeout, &TransferRetryPolicy)
	ctx = workflow.WithActivityOptions(ctx, opts)
	input := activities.UploadInput{
		Bucket:    m.Request().DestBucket,
		LocalName: m.Artifacts().Target,
		Key:       m.Artifacts().RemoteKey,
	}
	var output activities.UploadOutput
	if err := workflow.ExecuteActivity(ctx, UploadActivity, input).Get(ctx, &output); err != nil {
		return "", stickyError(m.Affinity(), err)
	}
	return output.URL, nil
}

func (p *Pipeline) checkAffinity(ctx workflow.Context, token pipeline.AffinityToken) error {
	ctx = workflow.WithActivityOptions(ctx, commonOptions(p.CommonQueue, CleanupTimeout, &AffinityRetryPolicy))
	input := activities.CheckAffinityInput{Token: token}
	return workflow.ExecuteActivity(ctx, CheckAffinityActivity, input).Get(ctx, nil)
}

// cleanup deletes both local files on the bound worker. It runs even when
// the workflow is cancelled, and its failures are only logged.
func (p *Pipeline) cleanup(ctx workflow.Context, m *pipeline.Machine) {
	logger := workflow.GetLogger(ctx)
	ctx, _ = workflow.NewDisconnectedContext(ctx)
	ctx = workflow.WithActivityOptions(ctx, p.stickyOptions(m.Affinity(), CleanupTimeout, &CleanupRetryPolicy))

	names := []string{m.Artifacts().Source, m.Artifacts().Target}
	futures := make([]workflow.Future, len(names))
	for i, name := range names {
		futures[i] = workflow.ExecuteActivity(ctx, DeleteActivity, activities.DeleteInput{LocalName: name})
	}
	for i, f := range futures {
		if err := f.Get(ctx, nil); err != nil {
			logger.Warn("Failed to delete local file", "File", names[i], "Error", stickyError(m.Affinity(), err))
		}
	}
}

// stickyError reports a schedule-to-start timeout on a bound queue as the
// bound worker being gone.
func stickyError(token pipeline.AffinityToken, err error) error {
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) && timeoutErr.TimeoutType() == enumspb.TIMEOUT_TYPE_SCHEDULE_TO_START {
		return pipeline.NewAffinityUnavailableError(token, err)
	}
	return err
}
