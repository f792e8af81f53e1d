package workflows

import (
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
	"image-processing-flow/internal/pipeline"
	"time"
)

// Registered names.
const (
	WorkflowName = "ProcessImage"
	StateQuery   = "pipeline-state"

	DownloadActivity      = "Download"
	UploadActivity        = "Upload"
	DeleteActivity        = "DeleteLocalFile"
	CheckAffinityActivity = "CheckAffinity"
	GrayscaleActivity     = "Grayscale"
	SepiaActivity         = "Sepia"
)

// Fixed-delay retries: the interval does not grow between attempts.
var TransferRetryPolicy = temporal.RetryPolicy{
	InitialInterval:        time.Second * 10,
	BackoffCoefficient:     1.0,
	MaximumAttempts:        10,
	NonRetryableErrorTypes: pipeline.NonRetryableErrorTypes,
}

var TransformRetryPolicy = temporal.RetryPolicy{
	InitialInterval:        time.Second * 10,
	BackoffCoefficient:     1.0,
	MaximumAttempts:        5,
	NonRetryableErrorTypes: pipeline.NonRetryableErrorTypes,
}

var CleanupRetryPolicy = temporal.RetryPolicy{
	InitialInterval:        time.Second,
	BackoffCoefficient:     2.0,
	MaximumAttempts:        3,
	NonRetryableErrorTypes: pipeline.NonRetryableErrorTypes,
}

var AffinityRetryPolicy = temporal.RetryPolicy{
	InitialInterval:        time.Second,
	BackoffCoefficient:     2.0,
	MaximumAttempts:        3,
	NonRetryableErrorTypes: pipeline.NonRetryableErrorTypes,
}

const (
	TransferTimeout  = time.Hour
	TransformTimeout = time.Minute * 10
	CleanupTimeout   = time.Second * 30
	// Must exceed the workers' heartbeat interval.
	TransferHeartbeatTimeout = time.Minute * 15

	DefaultStickyScheduleToStart = time.Minute
)

func commonOptions(queue string, timeout time.Duration, policy *temporal.RetryPolicy) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		TaskQueue:           queue,
		StartToCloseTimeout: timeout,
		RetryPolicy:         policy,
	}
}

// stickyOptions pins an activity to the worker behind token. The
// schedule-to-start timeout bounds how long it waits for that worker.
func (p *Pipeline) stickyOptions(token pipeline.AffinityToken, timeout time.Duration, policy *temporal.RetryPolicy) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		TaskQueue:              string(token),
		ScheduleToStartTimeout: p.scheduleToStart(),
		StartToCloseTimeout:    timeout,
		RetryPolicy:            policy,
	}
}

func (p *Pipeline) scheduleToStart() time.Duration {
	if p.StickyScheduleToStart > 0 {
		return p.StickyScheduleToStart
	}
	return DefaultStickyScheduleToStart
}
