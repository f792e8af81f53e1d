package pipeline

import (
	"fmt"
)

type Step string

const (
	StepDownload  Step = "download"
	StepTransform Step = "transform"
	StepUpload    Step = "upload"
	StepCleanup   Step = "cleanup"
	StepDone      Step = "done"
)

// State is the serialisable snapshot of a run. Step is the marker of what
// runs next; everything else is what earlier steps reported.
type State struct {
	RunID      string        `json:"run_id"`
	Step       Step          `json:"step"`
	Request    Request       `json:"request"`
	Artifacts  Artifacts     `json:"artifacts"`
	Affinity   AffinityToken `json:"affinity,omitempty"`
	Downloaded bool          `json:"downloaded"`
	CleanedUp  bool          `json:"cleaned_up"`
	AccessURL  string        `json:"access_url,omitempty"`
	FailedAt   Step          `json:"failed_at,omitempty"`
	Failure    string        `json:"failure,omitempty"`
}

// Machine sequences a run: download, transform, optional upload, then
// cleanup whenever a download happened. It does no I/O; the driver executes
// each step and reports back.
type Machine struct {
	state State
	err   error
}

func NewMachine(runID string, req Request) *Machine {
	return &Machine{state: State{
		RunID:     runID,
		Step:      StepDownload,
		Request:   req,
		Artifacts: LocalNames(runID, req.SourceKey),
	}}
}

func (m *Machine) Step() Step { return m.state.Step }
func (m *Machine) State() State { return m.state }
func (m *Machine) Artifacts() Artifacts { return m.state.Artifacts }
func (m *Machine) Affinity() AffinityToken { return m.state.Affinity }
func (m *Machine) Request() Request { return m.state.Request }
func (m *Machine) Err() error { return m.err }

func (m *Machine) Downloaded(token AffinityToken) error {
	if err := m.expect(StepDownload); err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("%w: empty affinity token", ErrInvalidTransition)
	}
	m.state.Affinity = token
	m.state.Downloaded = true
	m.state.Step = StepTransform
	return nil
}

func (m *Machine) Transformed() error {
	if err := m.expect(StepTransform); err != nil {
		return err
	}
	if m.state.Request.DestBucket != "" {
		m.state.Step = StepUpload
	} else {
		m.state.Step = StepCleanup
	}
	return nil
}

func (m *Machine) Uploaded(url string) error {
	if err := m.expect(StepUpload); err != nil {
		return err
	}
	m.state.AccessURL = url
	m.state.Step = StepCleanup
	return nil
}

// Fail records err against the current step. Only the first failure is
// kept. Forward steps are abandoned; cleanup still runs if anything was
// downloaded.
func (m *Machine) Fail(err error) error {
	switch m.state.Step {
	case StepDownload, StepTransform, StepUpload:
	default:
		return fmt.Errorf("%w: cannot fail in step %s", ErrInvalidTransition, m.state.Step)
	}
	if m.err == nil {
		m.err = err
		m.state.FailedAt = m.state.Step
		m.state.Failure = err.Error()
	}
	if m.state.Downloaded {
		m.state.Step = StepCleanup
	} else {
		m.state.Step = StepDone
	}
	return nil
}

func (m *Machine) CleanedUp() error {
	if err := m.expect(StepCleanup); err != nil {
		return err
	}
	m.state.CleanedUp = true
	m.state.Step = StepDone
	return nil
}

// Result returns the terminal result, or the first recorded failure.
func (m *Machine) Result() (Result, error) {
	if m.state.Step != StepDone {
		return Result{}, fmt.Errorf("%w: run not finished, at %s", ErrInvalidTransition, m.state.Step)
	}
	if m.err != nil {
		return Result{}, m.err
	}
	return Result{AccessURL: m.state.AccessURL, Artifacts: m.state.Artifacts}, nil
}

func (m *Machine) expect(step Step) error {
	if m.state.Step != step {
		return fmt.Errorf("%w: expected %s, at %s", ErrInvalidTransition, step, m.state.Step)
	}
	return nil
}
