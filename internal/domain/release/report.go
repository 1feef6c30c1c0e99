package release

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Outcome is the result of checking a single distribution.
type Outcome string

const (
	// OutcomeUpdated means a new version was found and every link was downloaded.
	OutcomeUpdated Outcome = "updated"
	// OutcomeUpToDate means the latest version equals the recorded one.
	OutcomeUpToDate Outcome = "up_to_date"
	// OutcomeError means the check or one of the downloads failed.
	OutcomeError Outcome = "error"
)

// RunStatus is the overall status of an update run.
type RunStatus string

const (
	// RunOK means a distribution was updated or none failed.
	RunOK RunStatus = "ok"
	// RunNoDistros means nothing was configured to check.
	RunNoDistros RunStatus = "no_distros"
	// RunPartial means a distribution failed and none was updated.
	RunPartial RunStatus = "partial"
)

// Phase is the stage an update run is in.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseChecking    Phase = "checking"
	PhaseDownloading Phase = "downloading"
	PhaseDeploying   Phase = "deploying"
	PhaseDone        Phase = "done"
	PhaseNoDistros   Phase = "no_distros"
)

// Actor identifies the host and user that started a run.
type Actor struct {
	// Hostname is the machine name where the run was started.
	Hostname string
	// Username is the system user who started the run.
	Username string
	// Trigger tells what started the run: "cli", "startup", "schedule" or "manual".
	Trigger string
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// DistributionResult describes what happened to one distribution during a run.
type DistributionResult struct {
	// Distribution is the registry key, e.g. "fedora".
	Distribution string
	// Outcome is the classification of the result.
	Outcome Outcome
	// NewVersion is set for OutcomeUpdated.
	NewVersion string
	// Error is set for OutcomeError.
	Error string
}

// DeploymentResult describes one hand-off to the deployment target.
type DeploymentResult struct {
	// File is the artifact path or name that was deployed.
	File string
	// Success reports whether the target accepted the file.
	Success bool
	// Message is the target's message or the failure reason.
	Message string
}

// Report summarises an update run.
type Report struct {
	// Status is the overall run status.
	Status RunStatus
	// Distributions holds one entry per checked distribution, in configured order.
	Distributions []DistributionResult
	// Deployments holds one entry per deployment attempt.
	Deployments []DeploymentResult
	// StartedAt is when the run began.
	StartedAt time.Time
	// FinishedAt is when the run ended.
	FinishedAt time.Time
	// Actor is who started the run, when known.
	Actor *Actor
}

// Clone returns a deep copy of the report.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}

	return &Report{
		Status:        r.Status,
		Distributions: slices.Clone(r.Distributions),
		Deployments:   slices.Clone(r.Deployments),
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		Actor:         r.Actor.Clone(),
	}
}

// Failed reports whether any distribution or upload failed.
func (r *Report) Failed() bool {
	for _, d := range r.Distributions {
		if d.Outcome == OutcomeError {
			return true
		}
	}

	for _, d := range r.Deployments {
		if !d.Success {
			return true
		}
	}

	return false
}

// Count returns how many distributions ended with outcome.
func (r *Report) Count(outcome Outcome) int {
	n := 0

	for _, d := range r.Distributions {
		if d.Outcome == outcome {
			n++
		}
	}

	return n
}

// errMalformedReport is returned when a generic map cannot be turned back into a Report.
var errMalformedReport = errors.New("malformed report")

// Fields converts the report into a generic map made only of strings, booleans,
// slices and maps, suitable for structpb and JSON.
func (r *Report) Fields() map[string]any {
	distributions := make([]any, 0, len(r.Distributions))
	for _, d := range r.Distributions {
		distributions = append(distributions, map[string]any{
			"distribution": d.Distribution,
			"outcome":      string(d.Outcome),
			"new_version":  d.NewVersion,
			"error":        d.Error,
		})
	}

	deployments := make([]any, 0, len(r.Deployments))
	for _, d := range r.Deployments {
		deployments = append(deployments, map[string]any{
			"file":    d.File,
			"success": d.Success,
			"message": d.Message,
		})
	}

	fields := map[string]any{
		"status":        string(r.Status),
		"distributions": distributions,
		"deployments":   deployments,
		"started_at":    formatTime(r.StartedAt),
		"finished_at":   formatTime(r.FinishedAt),
	}

	if r.Actor != nil {
		fields["actor"] = map[string]any{
			"hostname": r.Actor.Hostname,
			"username": r.Actor.Username,
			"trigger":  r.Actor.Trigger,
		}
	}

	return fields
}

// ReportFromFields is the inverse of Report.Fields.
func ReportFromFields(fields map[string]any) (*Report, error) {
	status, _ := fields["status"].(string)
	if status == "" {
		return nil, fmt.Errorf("%w: status is missing", errMalformedReport)
	}

	report := &Report{
		Status: RunStatus(status),
	}

	var err error

	if report.StartedAt, err = parseTime(fields["started_at"]); err != nil {
		return nil, err
	}

	if report.FinishedAt, err = parseTime(fields["finished_at"]); err != nil {
		return nil, err
	}

	items, _ := fields["distributions"].([]any)
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: distribution entry is %T", errMalformedReport, item)
		}

		report.Distributions = append(report.Distributions, DistributionResult{
			Distribution: stringField(m, "distribution"),
			Outcome:      Outcome(stringField(m, "outcome")),
			NewVersion:   stringField(m, "new_version"),
			Error:        stringField(m, "error"),
		})
	}

	items, _ = fields["deployments"].([]any)
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: deployment entry is %T", errMalformedReport, item)
		}

		success, _ := m["success"].(bool)
		report.Deployments = append(report.Deployments, DeploymentResult{
			File:    stringField(m, "file"),
			Success: success,
			Message: stringField(m, "message"),
		})
	}

	if m, ok := fields["actor"].(map[string]any); ok {
		report.Actor = &Actor{
			Hostname: stringField(m, "hostname"),
			Username: stringField(m, "username"),
			Trigger:  stringField(m, "trigger"),
		}
	}

	return report, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)

	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v any) (time.Time, error) {
	s, _ := v.(string)
	if s == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", errMalformedReport, err)
	}

	return t, nil
}
