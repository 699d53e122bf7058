package models

import (
	"math"
	"strconv"
)

// StepType identifies the kind of clinical action a step represents.
type StepType string

const (
	StepTypeReminder     StepType = "reminder"
	StepTypeTask         StepType = "task"
	StepTypeAlert        StepType = "alert"
	StepTypeAppointment  StepType = "appointment"
	StepTypeAnalysisTest StepType = "analysis_test"
)

// TimingType selects how a step's dispatch time is expressed.
type TimingType string

const (
	TimingTypeDelay     TimingType = "delay"      // Relative duration such as "7d", "12h", "30m"
	TimingTypeFixedTime TimingType = "fixed_time" // Absolute ISO-8601 date
	TimingTypeCron      TimingType = "cron"       // Resolved by the queue, forwarded as-is
)

// ActionType identifies what the queue consumer materializes when a step runs.
type ActionType string

const (
	ActionTypeScheduleAppointment ActionType = "schedule_appointment"
	ActionTypeCreateAlert         ActionType = "create_alert"
	ActionTypeSendNotification    ActionType = "send_notification"
	ActionTypeMedicalTest         ActionType = "medical_test"
)

// Outcome is the recorded result of an executed step.
type Outcome string

const (
	OutcomeNormal         Outcome = "normal"
	OutcomeAbnormal       Outcome = "abnormal"
	OutcomeAlertTriggered Outcome = "alert_triggered"
	OutcomeCompleted      Outcome = "completed"
)

// Operator compares a lab value against a threshold.
type Operator string

const (
	OperatorGreater      Operator = ">"
	OperatorLess         Operator = "<"
	OperatorEqual        Operator = "=="
	OperatorGreaterEqual Operator = ">="
	OperatorLessEqual    Operator = "<="
)

// WorkflowStep is one timed, conditional action inside a workflow.
type WorkflowStep struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Order       int            `json:"order"                 validate:"gte=1"`
	Type        StepType       `json:"type"                  validate:"required,oneof=reminder task alert appointment analysis_test"`
	Condition   *StepCondition `json:"condition"`
	Action      *StepAction    `json:"action"`
}

// StepCondition holds when a step fires and what it is gated on.
type StepCondition struct {
	Timing     Timing      `json:"timing"`
	TestResult *TestResult `json:"testResult,omitempty"`
	DependsOn  *int        `json:"dependsOn,omitempty"`
	Outcome    Outcome     `json:"outcome,omitempty"    validate:"omitempty,oneof=normal abnormal alert_triggered completed"`
}

// Timing is the declarative dispatch time of a step.
type Timing struct {
	Type       TimingType `json:"type"                 validate:"required,oneof=delay fixed_time cron"`
	Value      string     `json:"value,omitempty"`
	Date       string     `json:"date,omitempty"`
	Expression string     `json:"expression,omitempty"`
}

// TestResult is an alerting threshold evaluated against a future lab value
// of the same analyte.
type TestResult struct {
	Type     string   `json:"type"     validate:"required"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
	Unit     string   `json:"unit"`
}

// StepAction describes what is materialized when the step runs.
type StepAction struct {
	Type           ActionType `json:"type"`
	Message        string     `json:"message"`
	Reason         string     `json:"reason"`
	TestType       string     `json:"test_type,omitempty"`
	RequiresResult bool       `json:"requires_result,omitempty"`
}

// StepKey returns a stable identifier for the step at position index:
// its persisted ID when it has one, "step-<index>" otherwise.
func StepKey(step *WorkflowStep, index int) string {
	if step != nil && step.ID != "" {
		return step.ID
	}

	return "step-" + strconv.Itoa(index)
}

// IsValidStepType reports whether t is a known step type.
func IsValidStepType(t StepType) bool {
	switch t {
	case StepTypeReminder, StepTypeTask, StepTypeAlert, StepTypeAppointment, StepTypeAnalysisTest:
		return true
	default:
		return false
	}
}

// IsValidTimingType reports whether t is a known timing type.
func IsValidTimingType(t TimingType) bool {
	switch t {
	case TimingTypeDelay, TimingTypeFixedTime, TimingTypeCron:
		return true
	default:
		return false
	}
}

// IsValidActionType reports whether t is a known action type.
func IsValidActionType(t ActionType) bool {
	switch t {
	case ActionTypeScheduleAppointment, ActionTypeCreateAlert, ActionTypeSendNotification, ActionTypeMedicalTest:
		return true
	default:
		return false
	}
}

// IsValidOutcome reports whether o is a known step outcome.
func IsValidOutcome(o Outcome) bool {
	switch o {
	case OutcomeNormal, OutcomeAbnormal, OutcomeAlertTriggered, OutcomeCompleted:
		return true
	default:
		return false
	}
}

// IsValidOperator reports whether op is a known comparison operator.
func IsValidOperator(op Operator) bool {
	switch op {
	case OperatorGreater, OperatorLess, OperatorEqual, OperatorGreaterEqual, OperatorLessEqual:
		return true
	default:
		return false
	}
}

// Evaluate reports whether a lab value crosses the threshold.
// An unknown operator or a non-finite value never matches.
func (t *TestResult) Evaluate(labValue float64) bool {
	if t == nil || math.IsNaN(labValue) || math.IsInf(labValue, 0) {
		return false
	}

	switch t.Operator {
	case OperatorGreater:
		return labValue > t.Value
	case OperatorLess:
		return labValue < t.Value
	case OperatorEqual:
		return labValue == t.Value
	case OperatorGreaterEqual:
		return labValue >= t.Value
	case OperatorLessEqual:
		return labValue <= t.Value
	default:
		return false
	}
}

// Outcome maps a lab value to the outcome recorded for the step.
func (t *TestResult) Outcome(labValue float64) Outcome {
	if t.Evaluate(labValue) {
		return OutcomeAlertTriggered
	}

	return OutcomeNormal
}

// HasDependency reports whether the step is gated on an earlier step.
func (c *StepCondition) HasDependency() bool {
	return c != nil && c.DependsOn != nil
}

// Satisfied reports whether a prerequisite outcome releases this step.
// Steps without a dependency are always released.
func (c *StepCondition) Satisfied(prerequisite Outcome) bool {
	if !c.HasDependency() {
		return true
	}

	return prerequisite == c.Outcome
}

// Clone returns a deep copy of the step.
func (s *WorkflowStep) Clone() *WorkflowStep {
	if s == nil {
		return nil
	}

	clone := *s

	if s.Condition != nil {
		condition := *s.Condition

		if s.Condition.TestResult != nil {
			testResult := *s.Condition.TestResult
			condition.TestResult = &testResult
		}

		if s.Condition.DependsOn != nil {
			dependsOn := *s.Condition.DependsOn
			condition.DependsOn = &dependsOn
		}

		clone.Condition = &condition
	}

	if s.Action != nil {
		action := *s.Action
		clone.Action = &action
	}

	return &clone
}
