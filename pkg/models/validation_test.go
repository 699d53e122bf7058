package models

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int {
	return &v
}

func validWorkflow() *Workflow {
	return &Workflow{
		ID:          "wf-1",
		Name:        "Suivi urée",
		PatientsIDs: []string{"p1"},
		Steps: []*WorkflowStep{
			{
				Order: 1,
				Type:  StepTypeAnalysisTest,
				Condition: &StepCondition{
					Timing:     Timing{Type: TimingTypeDelay, Value: "7d"},
					TestResult: &TestResult{Type: "urea", Operator: OperatorGreater, Value: 20, Unit: "mmol/L"},
				},
				Action: &StepAction{Type: ActionTypeMedicalTest, TestType: "urea", RequiresResult: true},
			},
			{
				Order: 2,
				Type:  StepTypeAppointment,
				Condition: &StepCondition{
					Timing:    Timing{Type: TimingTypeDelay, Value: "1d"},
					DependsOn: intPtr(1),
					Outcome:   OutcomeAlertTriggered,
				},
				Action: &StepAction{Type: ActionTypeScheduleAppointment, Reason: "urea above threshold"},
			},
		},
	}
}

func TestValidateWorkflow_Valid(t *testing.T) {
	errs := ValidateWorkflow(validWorkflow())

	assert.NotNil(t, errs)
	assert.Empty(t, errs)
	assert.NoError(t, errs.Err())
}

func TestValidateWorkflow_DefaultsAreValid(t *testing.T) {
	workflow := &Workflow{
		Name:  "bare",
		Steps: []*WorkflowStep{{Type: StepTypeReminder}, {Type: StepTypeTask}},
	}

	assert.Empty(t, ValidateWorkflow(workflow))
}

func TestValidateWorkflow_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(w *Workflow)
		code   string
	}{
		{
			name:   "empty name",
			mutate: func(w *Workflow) { w.Name = "  " },
			code:   CodeNameRequired,
		},
		{
			name:   "no steps",
			mutate: func(w *Workflow) { w.Steps = nil },
			code:   CodeStepsRequired,
		},
		{
			name:   "nil step",
			mutate: func(w *Workflow) { w.Steps[1] = nil },
			code:   CodeStepMissing,
		},
		{
			name:   "self dependency",
			mutate: func(w *Workflow) { w.Steps[1].Condition.DependsOn = intPtr(2) },
			code:   CodeInvalidDependency,
		},
		{
			name:   "forward dependency",
			mutate: func(w *Workflow) { w.Steps[0].Condition.DependsOn = intPtr(2); w.Steps[0].Condition.Outcome = OutcomeNormal },
			code:   CodeInvalidDependency,
		},
		{
			name:   "dependency without outcome",
			mutate: func(w *Workflow) { w.Steps[1].Condition.Outcome = "" },
			code:   CodeOutcomeRequired,
		},
		{
			name:   "unknown outcome",
			mutate: func(w *Workflow) { w.Steps[1].Condition.Outcome = "maybe" },
			code:   CodeInvalidField,
		},
		{
			name:   "infinite threshold",
			mutate: func(w *Workflow) { w.Steps[0].Condition.TestResult.Value = math.Inf(1) },
			code:   CodeInvalidThreshold,
		},
		{
			name:   "NaN threshold",
			mutate: func(w *Workflow) { w.Steps[0].Condition.TestResult.Value = math.NaN() },
			code:   CodeInvalidThreshold,
		},
		{
			name:   "unknown operator",
			mutate: func(w *Workflow) { w.Steps[0].Condition.TestResult.Operator = "!=" },
			code:   CodeInvalidOperator,
		},
		{
			name:   "fixed time without date",
			mutate: func(w *Workflow) { w.Steps[0].Condition.Timing = Timing{Type: TimingTypeFixedTime} },
			code:   CodeDateRequired,
		},
		{
			name:   "unparsable delay",
			mutate: func(w *Workflow) { w.Steps[0].Condition.Timing.Value = "abc" },
			code:   CodeInvalidTiming,
		},
		{
			name:   "bad cron",
			mutate: func(w *Workflow) { w.Steps[0].Condition.Timing = Timing{Type: TimingTypeCron, Expression: "every day"} },
			code:   CodeInvalidTiming,
		},
		{
			name:   "unknown step type",
			mutate: func(w *Workflow) { w.Steps[0].Type = "surgery" },
			code:   CodeInvalidField,
		},
		{
			name:   "unknown action type",
			mutate: func(w *Workflow) { w.Steps[0].Action.Type = "call_patient" },
			code:   CodeInvalidActionType,
		},
		{
			name:   "order out of range",
			mutate: func(w *Workflow) { w.Steps[1].Order = 7 },
			code:   CodeOrderOutOfRange,
		},
		{
			name:   "duplicate order",
			mutate: func(w *Workflow) { w.Steps[1].Order = 1 },
			code:   CodeDuplicateOrder,
		},
		{
			name:   "order not matching position",
			mutate: func(w *Workflow) { w.Steps[0].Order = 2; w.Steps[1].Order = 1 },
			code:   CodeOrderMismatch,
		},
		{
			name:   "unknown status",
			mutate: func(w *Workflow) { w.Status = "archived" },
			code:   CodeInvalidField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workflow := validWorkflow()
			tt.mutate(workflow)

			errs := ValidateWorkflow(workflow)
			require.NotEmpty(t, errs)
			assert.True(t, errs.HasCode(tt.code), "expected %s in %v", tt.code, errs)
			assert.ErrorIs(t, errs.Err(), ErrValidation)
		})
	}
}

func TestValidateWorkflow_SelfDependencyOnSingleStep(t *testing.T) {
	workflow := &Workflow{
		Name: "single",
		Steps: []*WorkflowStep{{
			Order: 1,
			Type:  StepTypeReminder,
			Condition: &StepCondition{
				Timing:    Timing{Type: TimingTypeDelay, Value: "1d"},
				DependsOn: intPtr(1),
				Outcome:   OutcomeCompleted,
			},
		}},
	}

	errs := ValidateWorkflow(workflow)
	assert.True(t, errs.HasCode(CodeInvalidDependency))
}

func TestValidateWorkflow_DanglingDependency(t *testing.T) {
	workflow := &Workflow{
		Name: "dangling",
		Steps: []*WorkflowStep{
			{Order: 1, Type: StepTypeAnalysisTest},
			{
				Order: 3,
				Type:  StepTypeAppointment,
				Condition: &StepCondition{
					Timing:    Timing{Type: TimingTypeDelay, Value: "1d"},
					DependsOn: intPtr(2),
					Outcome:   OutcomeAbnormal,
				},
			},
		},
	}

	errs := ValidateWorkflow(workflow)
	require.NotEmpty(t, errs)
	assert.True(t, errs.HasCode(CodeDanglingDependency), "%v", errs)
}

func TestValidateWorkflow_DanglingDependencyAfterRemove(t *testing.T) {
	workflow := validWorkflow()

	steps, err := RemoveStep(workflow.Steps, 0)
	require.NoError(t, err)

	workflow.Steps = steps

	errs := ValidateWorkflow(workflow)
	assert.True(t, errs.HasCode(CodeInvalidDependency), "step depending on the removed step now points at itself: %v", errs)
}

func TestValidateWorkflow_MissingPrerequisite(t *testing.T) {
	workflow := validWorkflow()
	workflow.Steps = append(workflow.Steps, &WorkflowStep{
		Order: 3,
		Type:  StepTypeAlert,
		Condition: &StepCondition{
			Timing:    Timing{Type: TimingTypeDelay, Value: "1d"},
			DependsOn: intPtr(2),
			Outcome:   OutcomeAbnormal,
		},
	})
	workflow.Steps[1] = nil

	errs := ValidateWorkflow(workflow)
	assert.True(t, errs.HasCode(CodeDanglingDependency), "%v", errs)
}

func TestValidateWorkflow_Accumulates(t *testing.T) {
	workflow := validWorkflow()
	workflow.Name = ""
	workflow.Steps[0].Condition.TestResult.Value = math.NaN()
	workflow.Steps[1].Condition.DependsOn = intPtr(5)

	errs := ValidateWorkflow(workflow)

	assert.GreaterOrEqual(t, len(errs), 3)
	assert.True(t, errs.HasCode(CodeNameRequired))
	assert.True(t, errs.HasCode(CodeInvalidThreshold))
	assert.True(t, errs.HasCode(CodeInvalidDependency))
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "name", Code: CodeNameRequired, Message: "workflow name is required"},
		{Code: CodeStepsRequired, Message: "no steps"},
	}

	assert.Equal(t, "workflow validation failed: name: workflow name is required; no steps", errs.Error())
	assert.True(t, errors.Is(errs[0], ErrValidation))
	assert.NoError(t, ValidationErrors{}.Err())
}
