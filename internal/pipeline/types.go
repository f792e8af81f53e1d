package pipeline

import (
	"path"
	"strings"
)

type TransformKind string

const (
	Grayscale TransformKind = "GRAYSCALE"
	Sepia     TransformKind = "SEPIA"
)

// ParseTransformKind accepts the two supported kinds, case-insensitively.
// Anything else is a PermanentInputError.
func ParseTransformKind(s string) (TransformKind, error) {
	switch TransformKind(strings.ToUpper(strings.TrimSpace(s))) {
	case Grayscale:
		return Grayscale, nil
	case Sepia:
		return Sepia, nil
	}
	return "", NewPermanentInputError("unsupported transform: '"+s+"'", nil)
}

// Request is the input to one pipeline run. An empty DestBucket means the
// transformed file is not uploaded.
type Request struct {
	SourceBucket string        `json:"source_bucket"`
	SourceKey    string        `json:"source_key"`
	DestBucket   string        `json:"dest_bucket,omitempty"`
	Transform    TransformKind `json:"transform"`
}

func (r Request) Validate() error {
	if r.SourceBucket == "" {
		return NewPermanentInputError("source bucket is required", nil)
	}
	if r.SourceKey == "" || strings.HasSuffix(r.SourceKey, "/") {
		return NewPermanentInputError("source key must name an object: '"+r.SourceKey+"'", nil)
	}
	return nil
}

// AffinityToken names the worker-specific task queue of the worker holding
// a run's local files.
type AffinityToken string

// Artifacts are the local file names of one run plus the key the result is
// uploaded under.
type Artifacts struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	RemoteKey string `json:"remote_key"`
}

// LocalNames derives per-run file names. The run id prefix keeps concurrent
// runs sharing a worker directory from colliding.
func LocalNames(runID, sourceKey string) Artifacts {
	run := strings.ReplaceAll(runID, "/", "_")
	base := path.Base(sourceKey)
	stem := strings.TrimSuffix(base, path.Ext(base))
	target := run + "_" + stem + ".png"
	return Artifacts{
		Source:    run + "_" + base,
		Target:    target,
		RemoteKey: "converted_" + target,
	}
}

// Result is what a successful run returns. AccessURL is empty when nothing
// was uploaded.
type Result struct {
	AccessURL string    `json:"access_url,omitempty"`
	Artifacts Artifacts `json:"artifacts"`
}

// Outcome is the terminal state of a run as seen by a caller.
type Outcome struct {
	Succeeded bool      `json:"succeeded"`
	AccessURL string    `json:"access_url,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Kind      ErrorKind `json:"kind,omitempty"`
}

func OutcomeOf(result Result, err error) Outcome {
	if err != nil {
		return Outcome{Reason: err.Error(), Kind: KindOf(err)}
	}
	return Outcome{Succeeded: true, AccessURL: result.AccessURL}
}
