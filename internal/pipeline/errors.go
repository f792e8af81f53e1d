package pipeline

import (
	"errors"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
)

type ErrorKind string

// Error kinds double as Temporal ApplicationError types so they survive
// serialization between activities, workflows and clients.
const (
	KindTransient           ErrorKind = "TransientRemoteError"
	KindPermanentInput      ErrorKind = "PermanentInputError"
	KindAffinityUnavailable ErrorKind = "AffinityUnavailableError"
	KindUnknown             ErrorKind = "UnknownError"
)

// NonRetryableErrorTypes is shared by every retry policy in the pipeline.
var NonRetryableErrorTypes = []string{
	string(KindPermanentInput),
	string(KindAffinityUnavailable),
}

var ErrInvalidTransition = errors.New("invalid pipeline transition")

func NewTransientError(msg string, cause error) error {
	return temporal.NewApplicationErrorWithCause(msg, string(KindTransient), cause)
}

func NewPermanentInputError(msg string, cause error) error {
	return temporal.NewNonRetryableApplicationError(msg, string(KindPermanentInput), cause)
}

func NewAffinityUnavailableError(token AffinityToken, cause error) error {
	return temporal.NewNonRetryableApplicationError(
		"worker for affinity token '"+string(token)+"' is unavailable",
		string(KindAffinityUnavailable),
		cause,
	)
}

// KindOf classifies an error chain. A schedule-to-start timeout on a sticky
// activity means nobody polls the bound queue any more, so it is reported as
// an affinity failure.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch ErrorKind(appErr.Type()) {
		case KindTransient, KindPermanentInput, KindAffinityUnavailable:
			return ErrorKind(appErr.Type())
		}
	}

	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		if timeoutErr.TimeoutType() == enumspb.TIMEOUT_TYPE_SCHEDULE_TO_START {
			return KindAffinityUnavailable
		}
		return KindTransient
	}

	return KindUnknown
}
