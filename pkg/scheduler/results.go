package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/careflow/pkg/models"
)

// SubmissionStatus is the per-job outcome of a submission.
type SubmissionStatus string

const (
	StatusSubmitted SubmissionStatus = "submitted"
	StatusFailed    SubmissionStatus = "failed"
)

// JobError identifies the job that failed so the caller can retry that
// step alone.
type JobError struct {
	WorkflowID string
	StepID     string
	StepOrder  int
	PatientID  string
	Err        error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job for workflow %s step %d (%s) patient %s failed: %v",
		e.WorkflowID, e.StepOrder, e.StepID, e.PatientID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// SubmissionResult is the result of submitting one job.
type SubmissionResult struct {
	StepID    string                `json:"step_id"`
	StepOrder int                   `json:"step_order"`
	PatientID string                `json:"patient_id"`
	Status    SubmissionStatus      `json:"status"`
	Job       *models.JobDescriptor `json:"job"`
	Err       error                 `json:"-"`
}

// Submitted reports whether the queue accepted the job.
func (r SubmissionResult) Submitted() bool {
	return r.Status == StatusSubmitted
}

// Reason returns the failure text, empty for submitted jobs.
func (r SubmissionResult) Reason() string {
	if r.Err == nil {
		return ""
	}

	return r.Err.Error()
}

// MarshalJSON adds the failure reason, since Err itself is not serialized.
func (r SubmissionResult) MarshalJSON() ([]byte, error) {
	type plain SubmissionResult

	return json.Marshal(struct {
		plain
		Reason string `json:"reason,omitempty"`
	}{plain: plain(r), Reason: r.Reason()})
}

// SubmissionResults holds one result per job, in step order then patient order.
type SubmissionResults []SubmissionResult

// Failed returns the results of rejected jobs.
func (r SubmissionResults) Failed() SubmissionResults {
	failed := SubmissionResults{}

	for _, result := range r {
		if !result.Submitted() {
			failed = append(failed, result)
		}
	}

	return failed
}

// SubmittedCount returns how many jobs the queue accepted.
func (r SubmissionResults) SubmittedCount() int {
	return len(r) - len(r.Failed())
}

// Err joins every job error, nil when all jobs were submitted.
func (r SubmissionResults) Err() error {
	var errs []error

	for _, result := range r {
		if result.Err != nil {
			errs = append(errs, result.Err)
		}
	}

	return errors.Join(errs...)
}

// ScheduleResult is the outcome of a cancel-then-resubmit cycle.
type ScheduleResult struct {
	WorkflowID            string            `json:"workflow_id"`
	CancellationSucceeded bool              `json:"cancellation_succeeded"`
	CancelErr             error             `json:"-"`
	Submissions           SubmissionResults `json:"submissions"`
}

func (r ScheduleResult) MarshalJSON() ([]byte, error) {
	type plain ScheduleResult

	var cancelError string
	if r.CancelErr != nil {
		cancelError = r.CancelErr.Error()
	}

	return json.Marshal(struct {
		plain
		CancelError string `json:"cancel_error,omitempty"`
	}{plain: plain(r), CancelError: cancelError})
}
